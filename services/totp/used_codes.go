package totp

// UsedCode records an accepted code so it cannot pass twice inside its
// validity window.
type UsedCode struct {
	ID     uint   `gorm:"primaryKey"`
	UserID string `gorm:"index:idx_totp_user_code,priority:1;size:64;not null"`
	Code   string `gorm:"index:idx_totp_user_code,priority:2;size:16;not null"`
	UsedAt int64  `gorm:"index:idx_totp_used_at;not null"`
}

func (UsedCode) TableName() string {
	return "auth_totp_used_codes"
}
