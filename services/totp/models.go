package totp

import "time"

// Enrollment is a user's two-step login secret. It stays unconfirmed until
// the user proves possession of the authenticator with a first valid code.
type Enrollment struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    string    `json:"user_id" gorm:"uniqueIndex;size:64;not null"`
	Secret    string    `json:"-" gorm:"not null"`
	Enabled   bool      `json:"enabled" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Enrollment) TableName() string {
	return "auth_totp_secrets"
}
