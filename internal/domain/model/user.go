package model

import "time"

// User is the minimal projection of a tenant account owner that payments need.
type User struct {
	ID             string
	Email          string
	Name           string
	ReferredBy     *string
	PlanID         *string
	PlanExpireDate *time.Time
	PlanIsActive   bool
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// HasActivePlan reports whether the user currently holds an unexpired plan.
func (u *User) HasActivePlan(now time.Time) bool {
	if u.IsZero() || !u.PlanIsActive || u.PlanID == nil {
		return false
	}
	return u.PlanExpireDate == nil || now.Before(*u.PlanExpireDate)
}
