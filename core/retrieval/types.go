package retrieval

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"
)

// ObjectID identifies an archived object by vault name and archive id.
type ObjectID struct {
	Vault   string `json:"vault"`
	Archive string `json:"archive"`
}

// String returns the canonical "<vault>/<archive>" form, which is also the cache key.
func (o ObjectID) String() string {
	return o.Vault + "/" + o.Archive
}

// Validate rejects ids that would escape or collide in the cache key space.
func (o ObjectID) Validate() error {
	for _, part := range []string{o.Vault, o.Archive} {
		if strings.TrimSpace(part) == "" || part != strings.TrimSpace(part) {
			return fmt.Errorf("%w: %q", ErrInvalidObjectID, o.String())
		}
		if strings.ContainsAny(part, "/\\") || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidObjectID, o.String())
		}
	}
	return nil
}

// ParseObjectID parses the canonical "<vault>/<archive>" form.
func ParseObjectID(s string) (ObjectID, error) {
	vault, archive, ok := strings.Cut(s, "/")
	if !ok {
		return ObjectID{}, fmt.Errorf("%w: %q", ErrInvalidObjectID, s)
	}
	id := ObjectID{Vault: vault, Archive: archive}
	if err := id.Validate(); err != nil {
		return ObjectID{}, err
	}
	return id, nil
}

// Job is a retrieval job accepted by the archive service.
type Job struct {
	ID          string
	Object      ObjectID
	SubmittedAt time.Time
}

// InFlight is a download owned by the registry.
type InFlight struct {
	Object    ObjectID  `json:"object"`
	JobID     string    `json:"job_id"`
	WorkerID  string    `json:"worker_id"`
	StartedAt time.Time `json:"started_at"`

	cancel context.CancelFunc
}

// Cancel fires the download's cancellation handle. Safe to call more than once.
func (f InFlight) Cancel() {
	if f.cancel != nil {
		f.cancel()
	}
}

// Message is one delivery from the notification channel. Handle carries the
// transport's own token (receipt handle, JetStream message) for Ack and Defer.
type Message struct {
	ID     string
	Body   []byte
	Handle any
}

// NotificationSource is the channel the archive service reports job completion on.
type NotificationSource interface {
	Receive(ctx context.Context, max int) ([]Message, error)
	Ack(ctx context.Context, msg Message) error
}

// Deferrer is implemented by sources that can postpone redelivery of a message.
type Deferrer interface {
	Defer(ctx context.Context, msg Message, delay time.Duration) error
}

// Archive is the slice of the archive service the orchestrator needs.
type Archive interface {
	InitiateRetrieval(ctx context.Context, obj ObjectID) (string, error)
	JobOutput(ctx context.Context, vault, jobID string) (io.ReadCloser, error)
	DeleteArchive(ctx context.Context, obj ObjectID) error
}

// Cache stores materialized objects. Open returns ErrNotFound for absent objects.
type Cache interface {
	Exists(ctx context.Context, obj ObjectID) (bool, error)
	Open(ctx context.Context, obj ObjectID) (io.ReadCloser, error)
	Put(ctx context.Context, obj ObjectID, r io.Reader) (int64, error)
	Delete(ctx context.Context, obj ObjectID) error
}

// Requesters remembers who asked for an object so they can be told when it lands.
type Requesters interface {
	Add(ctx context.Context, obj ObjectID, requester string) error
	Drain(ctx context.Context, obj ObjectID) ([]string, error)
}

// Availability announces that an object has been materialized in the cache.
type Availability struct {
	Object     ObjectID
	JobID      string
	Bytes      int64
	Requesters []string
	At         time.Time
}

// Publisher emits availability announcements.
type Publisher interface {
	PublishAvailable(ctx context.Context, a Availability) error
}

// Metrics captures counters for retrieval events.
type Metrics interface {
	IncRetrievalsSubmitted(status string)
	IncLookups(outcome string)
	IncNotifications(decision string)
	IncDownloadsCompleted(status string)
	ObserveDownloadDuration(status string, durationSeconds float64)
	SetInFlight(n int)
	SetWaiting(n int)
}

type noopMetrics struct{}

func (noopMetrics) IncRetrievalsSubmitted(string)           {}
func (noopMetrics) IncLookups(string)                       {}
func (noopMetrics) IncNotifications(string)                 {}
func (noopMetrics) IncDownloadsCompleted(string)            {}
func (noopMetrics) ObserveDownloadDuration(string, float64) {}
func (noopMetrics) SetInFlight(int)                         {}
func (noopMetrics) SetWaiting(int)                          {}
