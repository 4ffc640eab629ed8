package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/dwizi/lurker/internal/chat"
)

var (
	ErrQueueFull = errors.New("reply queue is full")
	ErrNoSender  = errors.New("no reply sender registered")
)

// Sender delivers a reply intent to a platform adapter.
type Sender interface {
	Name() string
	Send(ctx context.Context, reply chat.Reply) error
}

type Observer interface {
	ReplyQueued(reply chat.Reply)
	ReplyDelivered(reply chat.Reply, sender string)
	ReplyFailed(reply chat.Reply, err error)
}

type Config struct {
	Workers       int
	QueueSize     int
	RatePerSecond float64
	Burst         int
}

type Stats struct {
	Queued    int64 `json:"queued"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Dispatcher drains reply intents on worker goroutines. Each worker waits out
// the simulated typing delay, then the global outbound rate limit, then hands
// the reply to every registered sender.
type Dispatcher struct {
	workers   int
	replies   chan chat.Reply
	limiter   *rate.Limiter
	logger    *slog.Logger
	startOnce sync.Once

	mu        sync.RWMutex
	senders   []Sender
	observers []Observer

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

func New(cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = cfg.Workers * 50
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	return &Dispatcher{
		workers: cfg.Workers,
		replies: make(chan chat.Reply, cfg.QueueSize),
		limiter: rate.NewLimiter(limit, cfg.Burst),
		logger:  logger.With("component", "dispatch"),
	}
}

func (d *Dispatcher) Register(sender Sender) {
	if sender == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders = append(d.senders, sender)
}

func (d *Dispatcher) AddObserver(observer Observer) {
	if observer == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observers = append(d.observers, observer)
}

// SendReply queues a reply without blocking the caller.
func (d *Dispatcher) SendReply(reply chat.Reply) error {
	if reply.DecisionID == "" {
		reply.DecisionID = uuid.NewString()
	}
	select {
	case d.replies <- reply:
		d.queued.Add(1)
		d.logger.Debug("reply queued", "group_id", reply.GroupID, "decision_id", reply.DecisionID, "delay", reply.Delay)
		for _, observer := range d.observerList() {
			observer.ReplyQueued(reply)
		}
		return nil
	default:
		d.dropped.Add(1)
		return ErrQueueFull
	}
}

func (d *Dispatcher) Start(ctx context.Context) error {
	var workers sync.WaitGroup
	d.startOnce.Do(func() {
		for index := 0; index < d.workers; index++ {
			workers.Add(1)
			go func(workerID int) {
				defer workers.Done()
				d.worker(ctx, workerID)
			}(index + 1)
		}
	})

	<-ctx.Done()
	workers.Wait()
	return nil
}

func (d *Dispatcher) Stats() Stats {
	return Stats{
		Queued:    d.queued.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

func (d *Dispatcher) worker(ctx context.Context, workerID int) {
	d.logger.Info("worker started", "worker_id", workerID)
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("worker stopped", "worker_id", workerID)
			return
		case reply := <-d.replies:
			if err := d.deliver(ctx, reply); err != nil {
				d.failed.Add(1)
				d.logger.Warn("reply delivery failed", "worker_id", workerID, "group_id", reply.GroupID, "decision_id", reply.DecisionID, "error", err)
				for _, observer := range d.observerList() {
					observer.ReplyFailed(reply, err)
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, reply chat.Reply) error {
	if reply.Delay > 0 {
		timer := time.NewTimer(reply.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	d.mu.RLock()
	senders := append([]Sender{}, d.senders...)
	d.mu.RUnlock()
	if len(senders) == 0 {
		return ErrNoSender
	}

	var errs []error
	delivered := false
	for _, sender := range senders {
		if err := sender.Send(ctx, reply); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sender.Name(), err))
			continue
		}
		delivered = true
		d.delivered.Add(1)
		d.logger.Info("reply delivered", "group_id", reply.GroupID, "decision_id", reply.DecisionID, "sender", sender.Name())
		for _, observer := range d.observerList() {
			observer.ReplyDelivered(reply, sender.Name())
		}
	}
	if delivered {
		if len(errs) > 0 {
			d.logger.Debug("some senders skipped reply", "group_id", reply.GroupID, "error", errors.Join(errs...))
		}
		return nil
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) observerList() []Observer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]Observer{}, d.observers...)
}
