package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dwizi/lurker/internal/chat"
	"github.com/dwizi/lurker/internal/mode"
	"github.com/dwizi/lurker/internal/store"
)

var ErrJournalFull = errors.New("audit journal queue is full")

// Writer is the persistence the journal drains into.
type Writer interface {
	RecordDecision(ctx context.Context, record store.DecisionRecord) (store.DecisionRecord, error)
	RecordModeTransition(ctx context.Context, record store.ModeTransitionRecord) (store.ModeTransitionRecord, error)
}

type entry struct {
	decision   *store.DecisionRecord
	transition *store.ModeTransitionRecord
}

type Stats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Journal buffers decisions and mode transitions and writes them from its
// own goroutine, so a slow disk never holds up a decision.
type Journal struct {
	writer    Writer
	logger    *slog.Logger
	entries   chan entry
	startOnce sync.Once

	written atomic.Int64
	dropped atomic.Int64
	failed  atomic.Int64
}

func New(writer Writer, queueSize int, logger *slog.Logger) *Journal {
	if queueSize < 1 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		writer:  writer,
		logger:  logger.With("component", "audit"),
		entries: make(chan entry, queueSize),
	}
}

func (j *Journal) Name() string {
	return "audit"
}

// ObserveDecision queues decision for writing.
func (j *Journal) ObserveDecision(decision chat.Decision, _ chat.InterestScore) {
	record := store.DecisionRecord{
		ID:             decision.ID,
		MessageID:      decision.MessageID,
		GroupID:        decision.GroupID,
		UserID:         decision.UserID,
		Kind:           string(decision.Kind),
		Mode:           string(decision.Mode),
		Reason:         decision.Reason,
		Willingness:    decision.Willingness,
		Interest:       decision.Interest,
		DelayMS:        decision.Delay.Milliseconds(),
		FatigueAllowed: decision.FatigueAllowed,
		TransitionTo:   string(decision.TransitionTo),
		DecidedAt:      decision.DecidedAt,
	}
	if record.GroupID == "" {
		return
	}
	j.enqueue(entry{decision: &record})
}

// ObserveTransition queues a mode transition for writing.
func (j *Journal) ObserveTransition(transition mode.Transition) {
	j.enqueue(entry{transition: &store.ModeTransitionRecord{
		GroupID: transition.GroupID,
		From:    string(transition.From),
		To:      string(transition.To),
		Reason:  transition.Reason,
		At:      transition.At,
	}})
}

func (j *Journal) enqueue(item entry) {
	select {
	case j.entries <- item:
	default:
		j.dropped.Add(1)
		j.logger.Warn("audit entry dropped", "error", ErrJournalFull)
	}
}

// Start drains the queue until ctx is done, then flushes what is left.
func (j *Journal) Start(ctx context.Context) error {
	started := false
	j.startOnce.Do(func() { started = true })
	if !started {
		<-ctx.Done()
		return nil
	}
	// Writes outlive cancellation so a queued entry is never half written.
	writeCtx := context.WithoutCancel(ctx)
	for {
		select {
		case <-ctx.Done():
			j.flush()
			return nil
		case item := <-j.entries:
			j.write(writeCtx, item)
		}
	}
}

func (j *Journal) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case item := <-j.entries:
			j.write(ctx, item)
		default:
			return
		}
	}
}

func (j *Journal) write(ctx context.Context, item entry) {
	var err error
	switch {
	case item.decision != nil:
		_, err = j.writer.RecordDecision(ctx, *item.decision)
	case item.transition != nil:
		_, err = j.writer.RecordModeTransition(ctx, *item.transition)
	default:
		return
	}
	if err != nil {
		j.failed.Add(1)
		j.logger.Error("audit write failed", "error", err)
		return
	}
	j.written.Add(1)
}

func (j *Journal) Stats() Stats {
	return Stats{
		Written: j.written.Load(),
		Dropped: j.dropped.Load(),
		Failed:  j.failed.Load(),
	}
}
