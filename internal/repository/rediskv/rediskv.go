// Package rediskv stores wheels in Redis: one JSON roster key and one
// winners list per wheel.
package rediskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"

	"spinwheel/internal/repository"
	"spinwheel/internal/wheel"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// maxAwardAttempts bounds optimistic retries when another writer touches the roster.
const maxAwardAttempts = 50

type repo struct {
	client *redis.Client
	prefix string
	owned  bool
}

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// New connects to Redis and pings it.
func New(ctx context.Context, opts Options) (repository.Repository, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	r := NewWithClient(client, opts.Prefix).(*repo)
	r.owned = true
	return r, nil
}

// NewWithClient wraps an existing client; Close leaves the client open.
func NewWithClient(client *redis.Client, prefix string) repository.Repository {
	if prefix == "" {
		prefix = "spinwheel"
	}
	return &repo{client: client, prefix: prefix}
}

func (r *repo) rosterKey(wheelID string) string {
	return r.prefix + ":" + wheelID + ":roster"
}

func (r *repo) winnersKey(wheelID string) string {
	return r.prefix + ":" + wheelID + ":winners"
}

func (r *repo) Roster(ctx context.Context, wheelID string) ([]wheel.Prize, error) {
	return loadRoster(ctx, r.client, r.rosterKey(wheelID))
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func loadRoster(ctx context.Context, c getter, key string) ([]wheel.Prize, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	var roster []wheel.Prize
	if err := json.Unmarshal(raw, &roster); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return roster, nil
}

func (r *repo) Winners(ctx context.Context, wheelID string) ([]wheel.WinnerRecord, error) {
	n, err := r.client.Exists(ctx, r.rosterKey(wheelID)).Result()
	if err != nil {
		return nil, fmt.Errorf("exists: %w", err)
	}
	if n == 0 {
		return nil, repository.ErrNotFound
	}
	items, err := r.client.LRange(ctx, r.winnersKey(wheelID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange: %w", err)
	}
	out := make([]wheel.WinnerRecord, 0, len(items))
	for _, item := range items {
		var rec wheel.WinnerRecord
		if err := json.UnmarshalFromString(item, &rec); err != nil {
			return nil, fmt.Errorf("decode winner: %w", err)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *repo) Award(ctx context.Context, wheelID string, prizeID int, winner repository.Winner, at time.Time) (wheel.WinnerRecord, error) {
	rosterKey := r.rosterKey(wheelID)
	winnersKey := r.winnersKey(wheelID)

	var record wheel.WinnerRecord
	txf := func(tx *redis.Tx) error {
		roster, err := loadRoster(ctx, tx, rosterKey)
		if err != nil {
			return err
		}
		i := wheel.IndexOf(roster, prizeID)
		if i < 0 {
			return fmt.Errorf("prize %d: %w", prizeID, repository.ErrUnknownPrize)
		}
		if !roster[i].InStock() {
			return fmt.Errorf("prize %d: %w", prizeID, repository.ErrStaleStock)
		}
		record = wheel.WinnerRecord{
			ID:        uuid.NewString(),
			PlayerID:  winner.ID,
			Name:      winner.Name,
			Prize:     roster[i],
			Timestamp: at,
		}
		roster[i].Stock--
		rosterJSON, err := json.Marshal(roster)
		if err != nil {
			return err
		}
		recordJSON, err := json.Marshal(record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rosterKey, rosterJSON, 0)
			pipe.LPush(ctx, winnersKey, recordJSON)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxAwardAttempts; attempt++ {
		err := r.client.Watch(ctx, txf, rosterKey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return wheel.WinnerRecord{}, err
		}
		return record, nil
	}
	return wheel.WinnerRecord{}, fmt.Errorf("award prize %d: too much contention", prizeID)
}

func (r *repo) Reset(ctx context.Context, wheelID string, initial []wheel.Prize) error {
	rosterJSON, err := json.Marshal(initial)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.rosterKey(wheelID), rosterJSON, 0)
		pipe.Del(ctx, r.winnersKey(wheelID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("reset %s: %w", wheelID, err)
	}
	return nil
}

func (r *repo) Close() error {
	if !r.owned {
		return nil
	}
	return r.client.Close()
}
