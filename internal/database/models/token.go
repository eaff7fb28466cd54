package models

import "time"

// TokenType mirrors token.Purpose at the storage layer.
type TokenType string

const (
	TokenTypeAccess       TokenType = "ACCESS"
	TokenTypeRefresh      TokenType = "REFRESH"
	TokenTypeVerification TokenType = "VERIFICATION"
	TokenTypeTwoFactor    TokenType = "TWO_FACTOR"
)

// Token records one issued credential. The flags form the revocation list
// and are checked in addition to the signed expiry.
type Token struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Token     string    `gorm:"uniqueIndex;not null" json:"-"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Type      TokenType `gorm:"not null;index" json:"type"`
	Expired   bool      `gorm:"not null" json:"expired"`
	Revoked   bool      `gorm:"not null" json:"revoked"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      User      `gorm:"foreignKey:UserID" json:"-"`
}

// TableName overrides the table name
func (Token) TableName() string {
	return "tokens"
}

// IsActive reports whether the record is neither expired nor revoked.
func (t *Token) IsActive() bool {
	return !t.Expired && !t.Revoked
}
