package bloodbank

import (
	"fmt"
	"strings"
)

type BloodGroup string

const (
	GroupAPos  BloodGroup = "A+"
	GroupANeg  BloodGroup = "A-"
	GroupBPos  BloodGroup = "B+"
	GroupBNeg  BloodGroup = "B-"
	GroupOPos  BloodGroup = "O+"
	GroupONeg  BloodGroup = "O-"
	GroupABPos BloodGroup = "AB+"
	GroupABNeg BloodGroup = "AB-"
)

// Groups is the canonical order used for inventory listings.
var Groups = []BloodGroup{
	GroupAPos, GroupANeg, GroupBPos, GroupBNeg,
	GroupOPos, GroupONeg, GroupABPos, GroupABNeg,
}

func (g BloodGroup) Valid() bool {
	for _, x := range Groups {
		if g == x {
			return true
		}
	}
	return false
}

func (g BloodGroup) String() string { return string(g) }

// ParseBloodGroup accepts "ab+", " O- " and so on.
func ParseBloodGroup(s string) (BloodGroup, error) {
	g := BloodGroup(strings.ToUpper(strings.TrimSpace(s)))
	if !g.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBloodGroup, s)
	}
	return g, nil
}
