package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cordum/coldgate/core/infra/logging"
)

const defaultSubmitTimeout = 30 * time.Second

// Submitter asks the archive service to stage objects for download.
type Submitter struct {
	archive Archive
	timeout time.Duration
	metrics Metrics
	now     func() time.Time
}

func NewSubmitter(archive Archive, timeout time.Duration, m Metrics) *Submitter {
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	if m == nil {
		m = noopMetrics{}
	}
	return &Submitter{archive: archive, timeout: timeout, metrics: m, now: time.Now}
}

// Submit initiates a retrieval job for obj. Every failure, including the
// per-call timeout, satisfies errors.Is(err, ErrServiceUnavailable).
func (s *Submitter) Submit(ctx context.Context, obj ObjectID) (Job, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	jobID, err := s.archive.InitiateRetrieval(callCtx, obj)
	if err == nil && jobID == "" {
		err = errors.New("empty job id")
	}
	if err != nil {
		s.metrics.IncRetrievalsSubmitted("error")
		logging.Error("submitter", "initiate retrieval failed", "object", obj, "error", err)
		return Job{}, fmt.Errorf("%w: initiate retrieval %s: %w", ErrServiceUnavailable, obj, err)
	}
	s.metrics.IncRetrievalsSubmitted("ok")
	logging.Info("submitter", "retrieval submitted", "object", obj, "job_id", jobID)
	return Job{ID: jobID, Object: obj, SubmittedAt: s.now()}, nil
}
