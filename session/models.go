package session

import (
	"time"
)

// Session is the durable record of one login: which refresh token is
// currently honored for that device, until when, and whether the session has
// been deactivated. The raw refresh token is kept alongside its hash so
// logout can hand the exact credential to the revocation store; it never
// serializes.
type Session struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UserID       string    `json:"user_id" gorm:"size:64;not null;index"`
	TokenHash    string    `json:"-" gorm:"uniqueIndex;size:64;not null"`
	RefreshToken string    `json:"-" gorm:"size:1000"`
	DeviceID     string    `json:"device_id" gorm:"size:32;index"`
	DeviceInfo   string    `json:"device_info" gorm:"size:1000"`
	IPAddress    string    `json:"ip_address" gorm:"size:45"`
	UserAgent    string    `json:"user_agent" gorm:"size:500"`
	Remembered   bool      `json:"remembered"`
	IsActive     bool      `json:"is_active" gorm:"not null;default:true;index"`
	Current      bool      `json:"current" gorm:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (Session) TableName() string {
	return "auth_sessions"
}
