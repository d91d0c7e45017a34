package model

import "time"

// User owns rules, categories and decisions. The AI fields optionally override the
// configured model provider for this user.
type User struct {
	CreatedAt  time.Time
	ID         string
	Email      string
	About      string
	AIProvider string
	AIModel    string
	AIAPIKey   string
}

// HasAIOverride reports whether the user brings their own model credentials.
func (u User) HasAIOverride() bool {
	return u.AIProvider != "" && u.AIAPIKey != ""
}
