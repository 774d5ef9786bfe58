package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrAlreadyReserved = errors.New("slot already reserved")

// Store is the source of truth for which of a provider's time slots are
// taken. Reserve must be a single atomic check-and-insert: two concurrent
// callers for the same (provider, date, time) must never both succeed.
type Store interface {
	IsReserved(ctx context.Context, providerID uuid.UUID, date, timeLabel string) (bool, error)
	Reserve(ctx context.Context, providerID uuid.UUID, date, timeLabel string) error
	Release(ctx context.Context, providerID uuid.UUID, date, timeLabel string) error
	ReservedTimes(ctx context.Context, providerID uuid.UUID, date string) ([]string, error)
}

type redisStore struct {
	client *redis.Client
}

// NewRedisStore keeps one Redis set per provider per calendar date, with the
// reserved time labels as members. SADD reports whether the member was newly
// inserted, which gives the atomic conditional insert without a read-then-
// write window.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func slotKey(providerID uuid.UUID, date string) string {
	return fmt.Sprintf("avail:%s:%s", providerID.String(), date)
}

func (s *redisStore) IsReserved(ctx context.Context, providerID uuid.UUID, date, timeLabel string) (bool, error) {
	taken, err := s.client.SIsMember(ctx, slotKey(providerID, date), timeLabel).Result()
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return taken, nil
}

func (s *redisStore) Reserve(ctx context.Context, providerID uuid.UUID, date, timeLabel string) error {
	added, err := s.client.SAdd(ctx, slotKey(providerID, date), timeLabel).Result()
	if err != nil {
		return fmt.Errorf("reserve slot: %w", err)
	}
	if added == 0 {
		return ErrAlreadyReserved
	}
	return nil
}

// Release is idempotent: removing a slot that is not reserved is a no-op, so
// retried cancellations never fail here.
func (s *redisStore) Release(ctx context.Context, providerID uuid.UUID, date, timeLabel string) error {
	if err := s.client.SRem(ctx, slotKey(providerID, date), timeLabel).Err(); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

func (s *redisStore) ReservedTimes(ctx context.Context, providerID uuid.UUID, date string) ([]string, error) {
	members, err := s.client.SMembers(ctx, slotKey(providerID, date)).Result()
	if err != nil {
		return nil, fmt.Errorf("list reserved slots: %w", err)
	}
	sort.Strings(members)
	return members, nil
}
