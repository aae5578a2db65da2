package bloodbank

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidQuantity       = errors.New("quantity must be positive")
	ErrInvalidBloodGroup     = errors.New("invalid blood group")
	ErrInvalidOutcome        = errors.New("outcome must be approve or reject")
	ErrUnknownDonor          = errors.New("unknown donor")
	ErrUnknownHospital       = errors.New("unknown hospital")
	ErrRequestNotFound       = errors.New("request not found")
	ErrRequestAlreadyDecided = errors.New("request already decided")
	ErrInsufficientStock     = errors.New("insufficient stock")

	// ErrStorage marks a failure of the storage layer itself, as opposed to a
	// business outcome. Callers should treat it as an unrecoverable operation.
	ErrStorage = errors.New("storage failure")
)

type InsufficientStockError struct {
	Group     BloodGroup
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, requested %d", e.Group, e.Available, e.Requested)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type AlreadyDecidedError struct {
	ID     string
	Status Status
}

func (e *AlreadyDecidedError) Error() string {
	return fmt.Sprintf("request %s already %s", e.ID, e.Status)
}

func (e *AlreadyDecidedError) Is(target error) bool { return target == ErrRequestAlreadyDecided }

func storageErr(op string, err error) error {
	if err == nil || errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// IsDomainError reports whether err is an expected business outcome.
func IsDomainError(err error) bool {
	for _, target := range []error{
		ErrInvalidQuantity, ErrInvalidBloodGroup, ErrInvalidOutcome,
		ErrUnknownDonor, ErrUnknownHospital, ErrRequestNotFound,
		ErrRequestAlreadyDecided, ErrInsufficientStock,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
