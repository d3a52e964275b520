package identity

import (
	"time"
)

// Identity is the claims bundle handed to the token lifecycle. The lifecycle
// trusts it as already authenticated; Active is re-checked on every token
// rotation through the Directory.
type Identity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// User is the credential row behind LocalService. Embedders with their own
// user store implement Source and Directory instead.
type User struct {
	ID           string    `json:"id" gorm:"primaryKey;size:36"`
	Email        string    `json:"email" gorm:"uniqueIndex;size:255;not null"`
	PasswordHash string    `json:"-" gorm:"size:255;not null"`
	Role         string    `json:"role" gorm:"size:32;not null;default:GUEST"`
	Active       bool      `json:"active" gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "auth_users"
}

func (u *User) Identity() *Identity {
	return &Identity{
		UserID: u.ID,
		Email:  u.Email,
		Role:   u.Role,
		Active: u.Active,
	}
}
