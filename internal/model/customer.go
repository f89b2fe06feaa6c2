package model

import "strings"

// CustomerRef identifies who is checking out. Guests only have an email.
type CustomerRef struct {
	ID    string
	Email string
}

func (c CustomerRef) IsGuest() bool {
	return c.ID == ""
}

// IsAnonymous reports that there is nothing to key per-customer limits on.
func (c CustomerRef) IsAnonymous() bool {
	return c.ID == "" && c.NormalizedEmail() == ""
}

func (c CustomerRef) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(c.Email))
}

// Key is the identity used for per-customer limits.
func (c CustomerRef) Key() string {
	if !c.IsGuest() {
		return "id:" + c.ID
	}
	return "email:" + c.NormalizedEmail()
}

func (c CustomerRef) String() string {
	if !c.IsGuest() {
		return c.ID
	}
	return c.NormalizedEmail()
}
