package model

import "time"

// Category is a user-defined sender category such as "Newsletter" or "Investor".
type Category struct {
	CreatedAt   time.Time
	ID          string
	UserID      string
	Name        string
	Description string
}

// Sender maps a normalized sender address to the category the user assigned it.
type Sender struct {
	LastUpdated time.Time
	CategoryID  *string
	Email       string
	UserID      string
}
