package bloodbank

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:  {StatusApproved: true, StatusRejected: true},
	StatusApproved: {},
	StatusRejected: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

type Outcome string

const (
	OutcomeApprove Outcome = "approve"
	OutcomeReject  Outcome = "reject"
)
