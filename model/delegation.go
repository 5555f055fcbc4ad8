package model

import "time"

// DelegationRule is an operator-entered, time-bounded redirection of
// approval authority. Rules are read-only input to delegation
// resolution; the most recently created rule wins among overlapping
// windows.
type DelegationRule struct {
	Id        string    `json:"id"`
	Delegator string    `json:"delegator"`
	Delegate  string    `json:"delegate"`
	From      time.Time `json:"from"`
	Until     time.Time `json:"until"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func (r *DelegationRule) ActiveAt(at time.Time) bool {
	return !at.Before(r.From) && at.Before(r.Until)
}
