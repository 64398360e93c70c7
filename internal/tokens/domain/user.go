package domain

import "time"

type User struct {
	ID        string
	Email     string
	Username  string
	Provider  string     // upstream identity provider (e.g. "github")
	LockedAt  *time.Time // Timestamp when the account was locked (nullable)
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLocked returns true if the account has been administratively locked.
func (u *User) IsLocked() bool {
	return u.LockedAt != nil
}
