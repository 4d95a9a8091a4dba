package bus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cordum/coldgate/core/infra/logging"
	"github.com/cordum/coldgate/core/retrieval"
	"github.com/nats-io/nats.go"
)

const (
	// StreamJobs holds archive job notifications relayed onto NATS.
	StreamJobs = "COLDGATE_JOBS"

	defaultAckWait  = 10 * time.Minute
	defaultMaxAge   = 7 * 24 * time.Hour
	defaultFetchMax = 10
)

// EnsureStream creates the notification stream for subject, tolerating an
// existing one.
func (b *NatsBus) EnsureStream(subject string, maxAge time.Duration) error {
	if b == nil || b.nc == nil {
		return errNilBus
	}
	if strings.TrimSpace(subject) == "" {
		return errEmptyTopic
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}
	js, err := b.nc.JetStream()
	if err != nil {
		return fmt.Errorf("jetstream init: %w", err)
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:       StreamJobs,
		Subjects:   []string{subject},
		Retention:  nats.LimitsPolicy,
		Storage:    nats.FileStorage,
		MaxAge:     maxAge,
		Duplicates: 2 * time.Minute,
	})
	if err == nil {
		logging.Info("bus", "jetstream stream ensured", "name", StreamJobs, "subject", subject, "max_age", maxAge)
		return nil
	}
	if _, infoErr := js.StreamInfo(StreamJobs); infoErr == nil {
		return nil
	}
	return fmt.Errorf("jetstream ensure stream %s: %w", StreamJobs, err)
}

// PullSource consumes job notifications from a durable JetStream pull
// consumer. Unacked messages are redelivered after the ack wait.
type PullSource struct {
	sub  *nats.Subscription
	wait time.Duration
}

// PullSource binds a durable pull consumer on subject.
func (b *NatsBus) PullSource(subject, durable string, wait time.Duration) (*PullSource, error) {
	if b == nil || b.nc == nil {
		return nil, errNilBus
	}
	if strings.TrimSpace(subject) == "" {
		return nil, errEmptyTopic
	}
	js, err := b.nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream init: %w", err)
	}
	sub, err := js.PullSubscribe(subject, durableName(subject, durable),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(defaultAckWait),
	)
	if err != nil {
		return nil, fmt.Errorf("jetstream pull subscribe %s: %w", subject, err)
	}
	if wait <= 0 {
		wait = time.Second
	}
	return &PullSource{sub: sub, wait: wait}, nil
}

// Receive fetches up to max messages, returning an empty batch when none
// arrive within the wait.
func (s *PullSource) Receive(ctx context.Context, max int) ([]retrieval.Message, error) {
	if max <= 0 {
		max = defaultFetchMax
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.wait)
	defer cancel()
	batch, err := s.sub.Fetch(max, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, fmt.Errorf("jetstream fetch: %w", err)
	}
	out := make([]retrieval.Message, 0, len(batch))
	for _, msg := range batch {
		out = append(out, toMessage(msg))
	}
	return out, nil
}

func (s *PullSource) Ack(ctx context.Context, msg retrieval.Message) error {
	m, err := natsMsg(msg)
	if err != nil {
		return err
	}
	return m.Ack()
}

// Defer asks the server to redeliver msg after delay.
func (s *PullSource) Defer(ctx context.Context, msg retrieval.Message, delay time.Duration) error {
	m, err := natsMsg(msg)
	if err != nil {
		return err
	}
	if delay <= 0 {
		return m.Nak()
	}
	return m.NakWithDelay(delay)
}

func toMessage(msg *nats.Msg) retrieval.Message {
	id := ""
	if meta, err := msg.Metadata(); err == nil && meta != nil {
		id = fmt.Sprintf("%s:%d", meta.Stream, meta.Sequence.Stream)
	}
	if id == "" {
		id = msg.Header.Get(nats.MsgIdHdr)
	}
	return retrieval.Message{ID: id, Body: msg.Data, Handle: msg}
}

func natsMsg(msg retrieval.Message) (*nats.Msg, error) {
	m, ok := msg.Handle.(*nats.Msg)
	if !ok || m == nil {
		return nil, fmt.Errorf("message %s is not a nats message", msg.ID)
	}
	return m, nil
}

func durableName(subject, durable string) string {
	if d := sanitizeName(durable); d != "" {
		return d
	}
	name := sanitizeName(subject)
	if name == "" {
		return ""
	}
	return "dur_" + name
}

func sanitizeName(s string) string {
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "*", "STAR")
	s = strings.ReplaceAll(s, ">", "GT")
	return strings.TrimSpace(s)
}
