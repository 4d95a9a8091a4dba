package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cordum/coldgate/core/infra/logging"
	"github.com/google/uuid"
)

const (
	defaultBatchSize   = 10
	defaultPollBackoff = 10 * time.Second
)

// Notification decisions, also used as metric labels.
const (
	decisionAccepted  = "accepted"
	decisionInvalid   = "invalid"
	decisionUnmatched = "unmatched"
	decisionPending   = "pending"
	decisionFailed    = "failed"
	decisionDuplicate = "duplicate"
	decisionCapacity  = "capacity"
	decisionWithdrawn = "withdrawn"
)

// PollerConfig tunes the notification loop.
type PollerConfig struct {
	BatchSize int
	Backoff   time.Duration
	// AckUnmatched removes notifications for objects this instance never asked for.
	AckUnmatched bool
}

// launchFunc starts the download for an accepted entry on its own goroutine.
type launchFunc func(ctx context.Context, entry InFlight)

// Poller drains the notification channel and hands succeeded jobs to download workers.
type Poller struct {
	source   NotificationSource
	waiting  *WaitingSet
	registry *Registry
	launch   launchFunc
	cfg      PollerConfig
	metrics  Metrics
	now      func() time.Time
	newID    func() string
}

func NewPoller(source NotificationSource, waiting *WaitingSet, registry *Registry, launch launchFunc, cfg PollerConfig, m Metrics) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultPollBackoff
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Poller{
		source:   source,
		waiting:  waiting,
		registry: registry,
		launch:   launch,
		cfg:      cfg,
		metrics:  m,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Run polls until ctx is cancelled. Download contexts are derived from ctx.
func (p *Poller) Run(ctx context.Context) {
	logging.Info("poller", "started", "batch_size", p.cfg.BatchSize, "backoff", p.cfg.Backoff)
	defer logging.Info("poller", "stopped")
	for {
		if ctx.Err() != nil {
			return
		}
		msgs, err := p.source.Receive(ctx, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logging.Error("poller", "receive failed", "error", err)
		}
		if err != nil || len(msgs) == 0 {
			if !sleepCtx(ctx, p.cfg.Backoff) {
				return
			}
			continue
		}
		logging.Debug("poller", "batch received", "count", len(msgs))
		for _, msg := range msgs {
			p.handleSafe(ctx, msg)
		}
	}
}

func (p *Poller) handleSafe(ctx context.Context, msg Message) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("poller", "message handling panicked", "message_id", msg.ID, "panic", fmt.Sprint(r))
		}
	}()
	decision := p.handle(ctx, msg)
	p.metrics.IncNotifications(decision)
}

// handle applies the acceptance rule: the object must be waiting, the job must
// have succeeded and no download for the object may be in flight.
func (p *Poller) handle(ctx context.Context, msg Message) string {
	ev, err := ParseCompletion(msg.Body)
	if err != nil {
		logging.Error("poller", "unparseable notification left on channel", "message_id", msg.ID, "error", err)
		return decisionInvalid
	}

	if !p.waiting.Contains(ev.Object) {
		if p.cfg.AckUnmatched {
			p.ack(ctx, msg, ev)
		}
		logging.Debug("poller", "notification for unknown object", "object", ev.Object, "job_id", ev.JobID)
		return decisionUnmatched
	}

	if !ev.Succeeded() {
		if ev.StatusCode == StatusFailed {
			p.waiting.RemoveJob(ev.Object, ev.JobID)
			p.metrics.SetWaiting(p.waiting.Len())
			logging.Error("poller", "retrieval job failed", "object", ev.Object, "job_id", ev.JobID, "status_message", ev.StatusMessage)
			p.ack(ctx, msg, ev)
			return decisionFailed
		}
		logging.Debug("poller", "job not finished", "object", ev.Object, "job_id", ev.JobID, "status", ev.StatusCode)
		return decisionPending
	}

	if p.registry.Contains(ev.Object) {
		p.ack(ctx, msg, ev)
		return decisionDuplicate
	}

	workerCtx, cancel := context.WithCancel(ctx)
	entry := InFlight{
		Object:    ev.Object,
		JobID:     ev.JobID,
		WorkerID:  p.newID(),
		StartedAt: p.now(),
		cancel:    cancel,
	}
	if err := p.registry.TryRegister(entry); err != nil {
		cancel()
		if errors.Is(err, ErrAlreadyRegistered) {
			p.ack(ctx, msg, ev)
			return decisionDuplicate
		}
		logging.Info("poller", "registry full, leaving notification for redelivery", "object", ev.Object, "in_flight", p.registry.Len(), "capacity", p.registry.Cap())
		if d, ok := p.source.(Deferrer); ok {
			if err := d.Defer(ctx, msg, p.cfg.Backoff); err != nil {
				logging.Error("poller", "defer notification failed", "message_id", msg.ID, "error", err)
			}
		}
		return decisionCapacity
	}
	// Delete drops the waiting entry before it sweeps the registry, so an
	// object withdrawn since the check above is caught here.
	if !p.waiting.Contains(ev.Object) {
		p.registry.Release(ev.Object, entry.WorkerID)
		cancel()
		logging.Info("poller", "object withdrawn during accept", "object", ev.Object, "job_id", ev.JobID)
		p.ack(ctx, msg, ev)
		return decisionWithdrawn
	}
	p.metrics.SetInFlight(p.registry.Len())

	p.launch(workerCtx, entry)
	logging.Info("poller", "download accepted", "object", ev.Object, "job_id", ev.JobID, "worker_id", entry.WorkerID)
	p.ack(ctx, msg, ev)
	return decisionAccepted
}

func (p *Poller) ack(ctx context.Context, msg Message, ev CompletionEvent) {
	if err := p.source.Ack(ctx, msg); err != nil {
		logging.Error("poller", "ack failed", "message_id", msg.ID, "object", ev.Object, "error", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
