package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-bloodbank/internal/bloodbank"
)

// RequestCache holds decided requests only. A terminal request never
// changes again, so a cached copy can never be stale.
type RequestCache struct {
	RDB *redis.Client
}

func (c *RequestCache) Get(ctx context.Context, id string) (bloodbank.BloodRequest, bool, error) {
	b, err := c.RDB.Get(ctx, fmt.Sprintf(KeyRequest, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return bloodbank.BloodRequest{}, false, nil
	}
	if err != nil {
		return bloodbank.BloodRequest{}, false, err
	}
	var r bloodbank.BloodRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return bloodbank.BloodRequest{}, false, err
	}
	return r, true, nil
}

// Put ignores pending requests.
func (c *RequestCache) Put(ctx context.Context, r bloodbank.BloodRequest) error {
	if !r.Status.Terminal() {
		return nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, fmt.Sprintf(KeyRequest, r.ID), b, TTLRequest).Err()
}

// Dedup remembers event ids a consumer service has fully processed.
type Dedup struct {
	RDB     *redis.Client
	Service string
}

func (d *Dedup) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := d.RDB.Exists(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID)).Result()
	return n > 0, err
}

// Mark must only be called after the event's effect is durable.
func (d *Dedup) Mark(ctx context.Context, eventID string) error {
	return d.RDB.Set(ctx, fmt.Sprintf(KeyDedup, d.Service, eventID), "1", TTLDedup).Err()
}
