package connectors

import "context"

// Connector is a long-running platform adapter. Start blocks until ctx is
// done or the adapter fails.
type Connector interface {
	Name() string
	Start(ctx context.Context) error
}
