package redisx

import "time"

const (
	// Idempotent creation: idem:{kind}:{key} -> response body, or "pending" while in flight
	KeyIdem = "idem:%s:%s"

	// Cache of decided requests: request:{id} -> JSON of the request
	KeyRequest = "request:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLRequest     = 10 * time.Minute
	TTLDedup       = 48 * time.Hour
)
