package bloodbank

import "time"

type InventoryEntry struct {
	Group     BloodGroup `json:"blood_group"`
	Units     int        `json:"units"`
	UpdatedAt time.Time  `json:"updated_at,omitempty"`
}

type Donor struct {
	ID    string
	Name  string
	Group BloodGroup // empty when the donor never declared one
}

type Hospital struct {
	ID   string
	Name string
}

type BloodRequest struct {
	ID         string     `json:"id"`
	HospitalID string     `json:"hospital_id"`
	Group      BloodGroup `json:"blood_group"`
	Quantity   int        `json:"quantity"`
	Status     Status     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	DecidedAt  *time.Time `json:"decided_at,omitempty"`
	DecidedBy  string     `json:"decided_by,omitempty"`
}

// DonationEvent is append-only history; one per recorded donation.
type DonationEvent struct {
	ID         string     `json:"id"`
	DonorID    string     `json:"donor_id"`
	Group      BloodGroup `json:"blood_group"`
	Quantity   int        `json:"quantity"`
	RecordedAt time.Time  `json:"recorded_at"`
}

type RequestFilter struct {
	Status     Status
	HospitalID string
	Group      BloodGroup
}

func (f RequestFilter) Match(r BloodRequest) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.HospitalID != "" && r.HospitalID != f.HospitalID {
		return false
	}
	if f.Group != "" && r.Group != f.Group {
		return false
	}
	return true
}
