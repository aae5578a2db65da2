package bloodbank

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DirectoryRepo resolves donors and hospitals from the users table that the
// identity service owns. The engine only reads it.
type DirectoryRepo struct{ DB *pgxpool.Pool }

var _ Directory = (*DirectoryRepo)(nil)

func (d *DirectoryRepo) ResolveDonor(ctx context.Context, id string) (Donor, error) {
	var (
		donor Donor
		g     string
	)
	err := d.DB.QueryRow(ctx, `
		SELECT id, name, COALESCE(blood_group, '')
		FROM users WHERE id=$1 AND role='donor'`, id).Scan(&donor.ID, &donor.Name, &g)
	if errors.Is(err, pgx.ErrNoRows) {
		return Donor{}, fmt.Errorf("%w: %s", ErrUnknownDonor, id)
	}
	if err != nil {
		return Donor{}, storageErr("resolve donor", err)
	}
	donor.Group = BloodGroup(g)
	return donor, nil
}

func (d *DirectoryRepo) ResolveHospital(ctx context.Context, id string) (Hospital, error) {
	var h Hospital
	err := d.DB.QueryRow(ctx, `SELECT id, name FROM users WHERE id=$1 AND role='hospital'`, id).Scan(&h.ID, &h.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Hospital{}, fmt.Errorf("%w: %s", ErrUnknownHospital, id)
	}
	if err != nil {
		return Hospital{}, storageErr("resolve hospital", err)
	}
	return h, nil
}
