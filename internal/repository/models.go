package repository

import (
	"errors"
	"time"
)

// Sentinel errors surfaced by the repositories. Handlers map these to HTTP
// statuses at the boundary.
var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateEmail    = errors.New("email or username already in use")
	ErrDuplicateIdentity = errors.New("identity already bound to another account")
)

// User represents a durable, verified account.
type User struct {
	ID           string    `gorm:"primaryKey;column:id;size:64"`
	Email        string    `gorm:"column:email;uniqueIndex;size:255"`
	Username     string    `gorm:"column:username;uniqueIndex;size:150"`
	PasswordHash string    `gorm:"column:password_hash;size:200"`
	FullName     string    `gorm:"column:full_name;size:255"`
	IdentityCode *string   `gorm:"column:identity_code;uniqueIndex;size:16"`
	PhoneNumber  *string   `gorm:"column:phone_number;uniqueIndex;size:10"`
	Staff        bool      `gorm:"column:staff"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// PendingUser holds an unverified signup until its one-time code is
// confirmed. It is consumed and deleted exactly once on successful
// verification.
type PendingUser struct {
	ID           string    `gorm:"primaryKey;column:id;size:64"`
	Email        string    `gorm:"column:email;uniqueIndex;size:255"`
	Username     string    `gorm:"column:username;uniqueIndex;size:150"`
	PasswordHash string    `gorm:"column:password_hash;size:200"`
	OTP          string    `gorm:"column:otp;size:6"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (PendingUser) TableName() string {
	return "pending_users"
}

// Prediction is one persisted classification request. Records are
// append-only: they are never updated in place and are removed only by
// cascade when the owning account is deleted.
type Prediction struct {
	ID           uint      `gorm:"primaryKey"`
	RecordID     string    `gorm:"column:record_id;uniqueIndex;size:64"`
	OwnerID      string    `gorm:"column:owner_id;index;size:64;not null"`
	Owner        User      `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE"`
	ImageName    string    `gorm:"column:image_name;size:255"`
	PatientName  string    `gorm:"column:patient_name;size:255"`
	PatientEmail string    `gorm:"column:patient_email;size:255"`
	Label        string    `gorm:"column:label;size:32"`
	Probability  float32   `gorm:"column:probability"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (Prediction) TableName() string {
	return "predictions"
}
