package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/lurker/internal/heartbeat"
)

const beatEvery = 20 * time.Second

// service is one long-running piece of the runtime. A positive beat makes
// the runtime report liveness on its behalf while run is in progress.
type service struct {
	name string
	beat time.Duration
	run  func(context.Context) error
}

func (r *Runtime) services() []service {
	items := []service{
		{name: readyComponentDispatch, beat: beatEvery, run: r.dispatcher.Start},
		{name: readyComponentAuditSink, beat: beatEvery, run: r.journal.Start},
		{name: "api", beat: beatEvery, run: r.serveHTTP},
	}
	if r.toolServers != nil {
		items = append(items, service{name: r.toolServers.Name(), beat: beatEvery, run: r.toolServers.Start})
	}
	if r.watcher != nil {
		items = append(items, service{name: r.watcher.Name(), run: r.watcher.Start})
	}
	for _, conn := range r.connectors {
		items = append(items, service{
			name: "connector:" + strings.ToLower(strings.TrimSpace(conn.Name())),
			run:  conn.Start,
		})
	}
	return items
}

func (r *Runtime) Run(ctx context.Context) error {
	r.logger.Info("lurker runtime starting",
		"addr", r.cfg.HTTPAddr,
		"db_path", r.cfg.DBPath,
		"group_list_mode", r.groups.Mode(),
		"impression_backend", r.cfg.ImpressionBackend,
	)
	r.heartbeat.Beat("runtime", "runtime loop started")

	group, groupCtx := errgroup.WithContext(ctx)
	for _, item := range r.services() {
		item := item
		group.Go(func() error {
			return runMonitored(groupCtx, r.heartbeat, item)
		})
	}
	// The scheduler and the monitor report their own state.
	group.Go(func() error {
		return r.scheduler.Start(groupCtx)
	})
	group.Go(func() error {
		return r.heartbeatMonitor.Start(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}

func (r *Runtime) serveHTTP(context.Context) error {
	if err := r.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (r *Runtime) Close() error {
	var errs []error
	for _, closer := range r.closers {
		if err := closer.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// runMonitored runs item and mirrors its lifecycle into reporter. A failure
// while ctx is still live marks the component degraded.
func runMonitored(ctx context.Context, reporter heartbeat.Reporter, item service) error {
	if item.run == nil {
		return nil
	}
	if reporter == nil {
		return item.run(ctx)
	}
	reporter.Starting(item.name, "starting")
	reporter.Beat(item.name, "running")

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	if item.beat > 0 {
		go beatUntilDone(runCtx, reporter, item.name, item.beat)
	}

	err := item.run(ctx)
	stop()
	switch {
	case err != nil && ctx.Err() == nil:
		reporter.Degrade(item.name, "component failed", err)
	default:
		reporter.Stopped(item.name, "stopped")
	}
	return err
}

func beatUntilDone(ctx context.Context, reporter heartbeat.Reporter, name string, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reporter.Beat(name, "running")
		}
	}
}
