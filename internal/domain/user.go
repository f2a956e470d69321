package domain

import "time"

// User is the account record consulted by the login flow.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Tier         Tier
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
