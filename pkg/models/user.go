package models

import (
	"time"
)

// Tier represents a user's entitlement level
type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

// User represents a chat user and their quota state
type User struct {
	ID             int64      `json:"id" db:"id"` // chat transport user ID
	Username       string     `json:"username" db:"username"`
	FirstName      string     `json:"first_name" db:"first_name"`
	LastName       string     `json:"last_name" db:"last_name"`
	Tier           Tier       `json:"tier" db:"tier"`
	RequestsLeft   int        `json:"requests_left" db:"requests_left"`
	TargetCredits  int        `json:"target_credits" db:"target_credits"`
	AwaitingTarget bool       `json:"awaiting_target" db:"awaiting_target"`
	SelectedTarget string     `json:"selected_target" db:"selected_target"` // preset ID or uploaded object name
	CustomTarget   bool       `json:"custom_target" db:"custom_target"`
	PremiumExpires *time.Time `json:"premium_expires,omitempty" db:"premium_expires"`
	LastActionAt   time.Time  `json:"last_action_at" db:"last_action_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

// IsPremium reports whether the user currently holds the premium tier
func (u *User) IsPremium() bool {
	return u.Tier == TierPremium
}

// Message represents a logged text message from a user
type Message struct {
	ID        int64     `json:"id" db:"id"`
	UserID    int64     `json:"user_id" db:"user_id"`
	Text      string    `json:"text" db:"text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
