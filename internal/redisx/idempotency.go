package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

// ErrInFlight means another call with the same key has claimed it and not
// finished yet.
var ErrInFlight = errors.New("idempotency key in flight")

// Idempotency guards creation endpoints against double submission.
type Idempotency struct {
	RDB  *redis.Client
	Kind string // "donation", "request"
}

// Begin claims key. It returns the result stored by an earlier completed
// call, ErrInFlight if a call holding the key is still running, or "" with
// a nil error when the caller now owns the key and must call Complete or
// Abort.
func (i *Idempotency) Begin(ctx context.Context, key string) (string, error) {
	k := fmt.Sprintf(KeyIdem, i.Kind, key)
	ok, err := i.RDB.SetNX(ctx, k, pendingMarker, TTLIdempotency).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	v, err := i.RDB.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SetNX and Get; let the caller retry
		return "", ErrInFlight
	}
	if err != nil {
		return "", err
	}
	if v == pendingMarker {
		return "", ErrInFlight
	}
	return v, nil
}

// Complete stores the result replayed to later calls with the same key.
func (i *Idempotency) Complete(ctx context.Context, key, result string) error {
	return i.RDB.Set(ctx, fmt.Sprintf(KeyIdem, i.Kind, key), result, TTLIdempotency).Err()
}

// Abort releases a claim after a failed call so the client may retry.
func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.RDB.Del(ctx, fmt.Sprintf(KeyIdem, i.Kind, key)).Err()
}
