package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func (r *Repo) Append(ctx context.Context, rec Record) (bool, error) {
	ct, err := r.DB.Exec(ctx, `
		INSERT INTO audit_log(event_id, event_type, event_version, correlation_id, producer, trace_id, occurred_at, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.EventType, rec.EventVersion, rec.CorrelationID, rec.Producer,
		rec.TraceID, rec.OccurredAt, []byte(rec.Payload), rec.ReceivedAt)
	if err != nil {
		return false, fmt.Errorf("insert audit record: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *Repo) ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT event_id, event_type, event_version, correlation_id, producer, trace_id, occurred_at, payload, received_at
		FROM audit_log WHERE correlation_id=$1
		ORDER BY occurred_at, received_at`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			payload []byte
		)
		if err := rows.Scan(&rec.EventID, &rec.EventType, &rec.EventVersion, &rec.CorrelationID,
			&rec.Producer, &rec.TraceID, &rec.OccurredAt, &payload, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Payload = payload
		out = append(out, rec)
	}
	return out, rows.Err()
}
