package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cordum/coldgate/core/infra/logging"
)

const callbackTimeout = 30 * time.Second

// errWithdrawn marks a download whose registry entry was removed by Delete or
// Shutdown while the object was being written.
var errWithdrawn = errors.New("download withdrawn before commit")

// downloadWorker streams one job's output into the cache. The callback chain
// runs exactly once per worker, whatever the outcome.
type downloadWorker struct {
	entry   InFlight
	archive Archive
	cache   Cache
	chain   *CallbackChain
	metrics Metrics

	// registry, when set, is consulted after the write commits.
	registry *Registry
}

func (w *downloadWorker) run(ctx context.Context) {
	start := time.Now()
	var (
		written int64
		err     error
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("download panic: %v", r)
		}
		status := "ok"
		switch {
		case err != nil && ctx.Err() != nil:
			status = "cancelled"
		case err != nil:
			status = "failed"
		}
		elapsed := time.Since(start)
		w.metrics.IncDownloadsCompleted(status)
		w.metrics.ObserveDownloadDuration(status, elapsed.Seconds())
		if err != nil {
			logging.Error("worker", "download failed", "object", w.entry.Object, "job_id", w.entry.JobID, "worker_id", w.entry.WorkerID, "status", status, "error", err)
		} else {
			logging.Info("worker", "download complete", "object", w.entry.Object, "job_id", w.entry.JobID, "bytes", written, "duration", elapsed)
		}

		cbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
		defer cancel()
		w.chain.Run(cbCtx, Completion{
			Object:   w.entry.Object,
			JobID:    w.entry.JobID,
			WorkerID: w.entry.WorkerID,
			Bytes:    written,
			Err:      err,
			Duration: elapsed,
		})
	}()

	logging.Debug("worker", "download started", "object", w.entry.Object, "job_id", w.entry.JobID, "worker_id", w.entry.WorkerID)
	body, err := w.archive.JobOutput(ctx, w.entry.Object.Vault, w.entry.JobID)
	if err != nil {
		err = fmt.Errorf("fetch job output: %w", err)
		return
	}
	defer body.Close()

	written, err = w.cache.Put(ctx, w.entry.Object, body)
	if err != nil {
		err = fmt.Errorf("write cache: %w", err)
		return
	}
	if !w.owned() {
		if delErr := w.cache.Delete(context.WithoutCancel(ctx), w.entry.Object); delErr != nil {
			logging.Error("worker", "discard withdrawn object failed", "object", w.entry.Object, "error", delErr)
		}
		written = 0
		err = errWithdrawn
	}
}

// owned reports whether the registry still holds this worker's entry.
func (w *downloadWorker) owned() bool {
	if w.registry == nil {
		return true
	}
	cur, ok := w.registry.Lookup(w.entry.Object)
	return ok && cur.WorkerID == w.entry.WorkerID
}
