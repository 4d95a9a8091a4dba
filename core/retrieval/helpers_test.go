package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"
)

func (o *Orchestrator) waitWorkers() {
	o.workers.Wait()
}

var testObj = ObjectID{Vault: "photos", Archive: "arch-1"}

func notificationBody(jobID string, obj ObjectID, status string) []byte {
	inner := fmt.Sprintf(`{"Action":"ArchiveRetrieval","ArchiveId":%q,"Completed":true,"JobId":%q,"StatusCode":%q,"StatusMessage":%q,"VaultARN":"arn:aws:glacier:us-east-1:012345678901:vaults/%s"}`,
		obj.Archive, jobID, status, status, obj.Vault)
	return []byte(fmt.Sprintf(`{"Type":"Notification","MessageId":"m-%s","Message":%q}`, jobID, inner))
}

// fakeArchive serves job outputs from memory.
type fakeArchive struct {
	mu        sync.Mutex
	submitErr error
	outputErr error
	block     bool
	nextID    int
	submits   []ObjectID
	deleted   []ObjectID
	deleteErr error
	outputs   map[string][]byte
	submitted chan ObjectID
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{outputs: map[string][]byte{}, submitted: make(chan ObjectID, 16)}
}

func (f *fakeArchive) InitiateRetrieval(ctx context.Context, obj ObjectID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.nextID++
	f.submits = append(f.submits, obj)
	select {
	case f.submitted <- obj:
	default:
	}
	return fmt.Sprintf("job-%d", f.nextID), nil
}

func (f *fakeArchive) JobOutput(ctx context.Context, vault, jobID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outputErr != nil {
		return nil, f.outputErr
	}
	if f.block {
		return io.NopCloser(&blockingReader{ctx: ctx}), nil
	}
	data, ok := f.outputs[jobID]
	if !ok {
		data = []byte("payload-" + jobID)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeArchive) DeleteArchive(ctx context.Context, obj ObjectID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, obj)
	return nil
}

func (f *fakeArchive) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

// blockingReader never yields data and fails once its context ends.
type blockingReader struct {
	ctx context.Context
}

func (r *blockingReader) Read([]byte) (int, error) {
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

// memCache is a Cache that only commits fully read objects.
type memCache struct {
	mu      sync.Mutex
	objects map[ObjectID][]byte
	openErr error
	putErr  error
}

func newMemCache() *memCache {
	return &memCache{objects: map[ObjectID][]byte{}}
}

func (c *memCache) Exists(ctx context.Context, obj ObjectID) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.objects[obj]
	return ok, nil
}

func (c *memCache) Open(ctx context.Context, obj ObjectID) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.openErr != nil {
		return nil, c.openErr
	}
	data, ok := c.objects[obj]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (c *memCache) Put(ctx context.Context, obj ObjectID, r io.Reader) (int64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.putErr != nil {
		return 0, c.putErr
	}
	c.objects[obj] = data
	return int64(len(data)), nil
}

func (c *memCache) Delete(ctx context.Context, obj ObjectID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.objects, obj)
	return nil
}

func (c *memCache) get(obj ObjectID) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.objects[obj]
	return data, ok
}

func (c *memCache) set(obj ObjectID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.objects[obj] = data
}

// fakeSource hands out queued batches and records acks and defers.
type fakeSource struct {
	mu         sync.Mutex
	batches    [][]Message
	receiveErr error
	receives   int
	acked      []string
	ackErr     error
}

func (s *fakeSource) push(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, msgs)
}

func (s *fakeSource) Receive(ctx context.Context, max int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receives++
	if s.receiveErr != nil {
		return nil, s.receiveErr
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	if len(batch) > max {
		s.batches = append([][]Message{batch[max:]}, s.batches...)
		batch = batch[:max]
	}
	return batch, nil
}

func (s *fakeSource) Ack(ctx context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ackErr != nil {
		return s.ackErr
	}
	s.acked = append(s.acked, msg.ID)
	return nil
}

func (s *fakeSource) ackedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

func (s *fakeSource) receiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.receives
}

// deferringSource also supports Defer.
type deferringSource struct {
	fakeSource
	deferred []string
	delays   []time.Duration
}

func (s *deferringSource) Defer(ctx context.Context, msg Message, delay time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deferred = append(s.deferred, msg.ID)
	s.delays = append(s.delays, delay)
	return nil
}

type fakeRequesters struct {
	mu   sync.Mutex
	sets map[ObjectID][]string
	err  error
}

func newFakeRequesters() *fakeRequesters {
	return &fakeRequesters{sets: map[ObjectID][]string{}}
}

func (s *deferringSource) deferredIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.deferred...)
}

func (r *fakeRequesters) Add(ctx context.Context, obj ObjectID, requester string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets[obj] = append(r.sets[obj], requester)
	return nil
}

func (r *fakeRequesters) Drain(ctx context.Context, obj ObjectID) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := r.sets[obj]
	delete(r.sets, obj)
	return out, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []Availability
	err    error
	ch     chan Availability
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{ch: make(chan Availability, 16)}
}

func (p *fakePublisher) PublishAvailable(ctx context.Context, a Availability) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, a)
	select {
	case p.ch <- a:
	default:
	}
	return nil
}

// recMetrics counts notification decisions and lookup outcomes.
type recMetrics struct {
	noopMetrics
	mu            sync.Mutex
	notifications map[string]int
	lookups       map[string]int
	downloads     map[string]int
}

func newRecMetrics() *recMetrics {
	return &recMetrics{
		notifications: map[string]int{},
		lookups:       map[string]int{},
		downloads:     map[string]int{},
	}
}

func (m *recMetrics) IncNotifications(decision string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[decision]++
}

func (m *recMetrics) IncLookups(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups[outcome]++
}

func (m *recMetrics) IncDownloadsCompleted(status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads[status]++
}

func (m *recMetrics) notification(decision string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.notifications[decision]
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func (m *recMetrics) download(status string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.downloads[status]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

var errBoom = errors.New("boom")
