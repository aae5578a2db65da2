package bloodbank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the Postgres Store. Per-group exclusivity is the row lock on
// blood_inventory (SELECT ... FOR UPDATE); the CHECK (units >= 0)
// constraint backs the non-negativity rule at the storage level.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const requestColumns = `id, hospital_id, blood_group, quantity, status, created_at, decided_at, COALESCE(decided_by, '')`

func (r *Repo) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin tx", err)
	}
	// once fn succeeded the commit runs to completion even if ctx is cancelled
	bg := context.WithoutCancel(ctx)
	defer func() { _ = tx.Rollback(bg) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(bg); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

func (r *Repo) CreateRequest(ctx context.Context, req BloodRequest) (BloodRequest, error) {
	_, err := r.DB.Exec(ctx, `
		INSERT INTO blood_requests(id, hospital_id, blood_group, quantity, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		req.ID, req.HospitalID, string(req.Group), req.Quantity, string(req.Status), req.CreatedAt)
	if err != nil {
		return BloodRequest{}, storageErr("insert request", err)
	}
	return req, nil
}

func (r *Repo) GetRequest(ctx context.Context, id string) (BloodRequest, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+requestColumns+` FROM blood_requests WHERE id=$1`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return BloodRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return BloodRequest{}, storageErr("get request", err)
	}
	return req, nil
}

func (r *Repo) ListRequests(ctx context.Context, f RequestFilter) ([]BloodRequest, error) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v string) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.Status != "" {
		add("status", string(f.Status))
	}
	if f.HospitalID != "" {
		add("hospital_id", f.HospitalID)
	}
	if f.Group != "" {
		add("blood_group", string(f.Group))
	}
	q := `SELECT ` + requestColumns + ` FROM blood_requests`
	if len(conds) > 0 {
		q += ` WHERE ` + strings.Join(conds, " AND ")
	}
	q += ` ORDER BY created_at DESC`

	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, storageErr("list requests", err)
	}
	defer rows.Close()

	var out []BloodRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, storageErr("scan request", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list requests", err)
	}
	return out, nil
}

func (r *Repo) Balance(ctx context.Context, g BloodGroup) (int, error) {
	var units int
	err := r.DB.QueryRow(ctx, `SELECT units FROM blood_inventory WHERE blood_group=$1`, string(g)).Scan(&units)
	if err != nil {
		return 0, storageErr("balance", err)
	}
	return units, nil
}

func (r *Repo) Inventory(ctx context.Context) ([]InventoryEntry, error) {
	rows, err := r.DB.Query(ctx, `SELECT blood_group, units, updated_at FROM blood_inventory`)
	if err != nil {
		return nil, storageErr("inventory", err)
	}
	defer rows.Close()

	var out []InventoryEntry
	for rows.Next() {
		var (
			e InventoryEntry
			g string
		)
		if err := rows.Scan(&g, &e.Units, &e.UpdatedAt); err != nil {
			return nil, storageErr("scan inventory", err)
		}
		e.Group = BloodGroup(g)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("inventory", err)
	}
	return out, nil
}

func (r *Repo) ListDonations(ctx context.Context, donorID string) ([]DonationEvent, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, donor_id, blood_group, quantity, recorded_at
		FROM donations WHERE donor_id=$1
		ORDER BY recorded_at DESC`, donorID)
	if err != nil {
		return nil, storageErr("list donations", err)
	}
	defer rows.Close()

	var out []DonationEvent
	for rows.Next() {
		var (
			ev DonationEvent
			g  string
		)
		if err := rows.Scan(&ev.ID, &ev.DonorID, &g, &ev.Quantity, &ev.RecordedAt); err != nil {
			return nil, storageErr("scan donation", err)
		}
		ev.Group = BloodGroup(g)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list donations", err)
	}
	return out, nil
}

type pgTx struct{ tx pgx.Tx }

func (t *pgTx) LockBalance(ctx context.Context, g BloodGroup) (int, error) {
	var units int
	err := t.tx.QueryRow(ctx, `SELECT units FROM blood_inventory WHERE blood_group=$1 FOR UPDATE`, string(g)).Scan(&units)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidBloodGroup, g)
	}
	if err != nil {
		return 0, storageErr("lock balance", err)
	}
	return units, nil
}

func (t *pgTx) SetBalance(ctx context.Context, g BloodGroup, units int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE blood_inventory SET units=$2, updated_at=now() WHERE blood_group=$1`, string(g), units)
	if err != nil {
		return storageErr("set balance", err)
	}
	if ct.RowsAffected() != 1 {
		return storageErr("set balance", fmt.Errorf("no inventory row for %s", g))
	}
	return nil
}

func (t *pgTx) AppendDonation(ctx context.Context, ev DonationEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO donations(id, donor_id, blood_group, quantity, recorded_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.DonorID, string(ev.Group), ev.Quantity, ev.RecordedAt)
	if err != nil {
		return storageErr("append donation", err)
	}
	return nil
}

func (t *pgTx) LockRequest(ctx context.Context, id string) (BloodRequest, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM blood_requests WHERE id=$1 FOR UPDATE`, id)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return BloodRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return BloodRequest{}, storageErr("lock request", err)
	}
	return req, nil
}

func (t *pgTx) UpdateRequest(ctx context.Context, req BloodRequest) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE blood_requests SET status=$2, decided_at=$3, decided_by=NULLIF($4, '')
		WHERE id=$1`,
		req.ID, string(req.Status), req.DecidedAt, req.DecidedBy)
	if err != nil {
		return storageErr("update request", err)
	}
	if ct.RowsAffected() != 1 {
		return storageErr("update request", fmt.Errorf("no row for request %s", req.ID))
	}
	return nil
}

func scanRequest(row pgx.Row) (BloodRequest, error) {
	var (
		req       BloodRequest
		g, status string
		decidedAt *time.Time
	)
	if err := row.Scan(&req.ID, &req.HospitalID, &g, &req.Quantity, &status, &req.CreatedAt, &decidedAt, &req.DecidedBy); err != nil {
		return BloodRequest{}, err
	}
	req.Group = BloodGroup(g)
	req.Status = Status(status)
	req.DecidedAt = decidedAt
	return req, nil
}
