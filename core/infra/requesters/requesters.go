package requesters

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cordum/coldgate/core/retrieval"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "coldgate:requesters:"
	defaultTTL = 7 * 24 * time.Hour
)

// Store keeps, per object, the set of parties waiting to hear it is available.
// Sets expire so an object that never arrives does not pin memory forever.
type Store struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func New(client redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Store{client: client, ttl: ttl}
}

func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func requestersKey(obj retrieval.ObjectID) string {
	return keyPrefix + obj.String()
}

func (s *Store) Add(ctx context.Context, obj retrieval.ObjectID, requester string) error {
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return nil
	}
	key := requestersKey(obj)
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, requester)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add requester %s: %w", obj, err)
	}
	return nil
}

// Drain returns and forgets every requester recorded for obj, sorted.
func (s *Store) Drain(ctx context.Context, obj retrieval.ObjectID) ([]string, error) {
	key := requestersKey(obj)
	var members *redis.StringSliceCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members = pipe.SMembers(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain requesters %s: %w", obj, err)
	}
	out := members.Val()
	sort.Strings(out)
	return out, nil
}
