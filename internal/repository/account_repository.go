package repository

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AccountRepository provides persistence APIs for accounts and pending
// registrations.
type AccountRepository struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewAccountRepository creates a new repository instance.
func NewAccountRepository(db *gorm.DB, logger *zap.Logger) *AccountRepository {
	return &AccountRepository{db: db, logger: logger.Named("account_repository")}
}

// AutoMigrate ensures the account schema is available.
func (r *AccountRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&User{}, &PendingUser{})
}

// CreatePending stores an unverified signup. It fails with ErrDuplicateEmail
// when the email or username is already taken by an account or by another
// pending registration.
func (r *AccountRepository) CreatePending(ctx context.Context, pending *PendingUser) error {
	db := r.db.WithContext(ctx)

	var count int64
	if err := db.Model(&User{}).
		Where("email = ? OR username = ?", pending.Email, pending.Username).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateEmail
	}

	if err := db.Model(&PendingUser{}).
		Where("email = ? OR username = ?", pending.Email, pending.Username).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateEmail
	}

	return db.Create(pending).Error
}

// FindPendingByID retrieves a pending registration.
func (r *AccountRepository) FindPendingByID(ctx context.Context, id string) (*PendingUser, error) {
	var pending PendingUser
	err := r.db.WithContext(ctx).First(&pending, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &pending, nil
}

// Promote turns a verified pending registration into a durable account and
// deletes the pending row in one transaction, so there is no partial state.
// It fails with ErrDuplicateIdentity when the identity code or phone number
// is already bound to another account.
func (r *AccountRepository) Promote(ctx context.Context, user *User, pendingID string) (*User, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if user.IdentityCode != nil {
			var count int64
			if err := tx.Model(&User{}).
				Where("identity_code = ?", *user.IdentityCode).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrDuplicateIdentity
			}
		}
		if user.PhoneNumber != nil {
			var count int64
			if err := tx.Model(&User{}).
				Where("phone_number = ?", *user.PhoneNumber).
				Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return ErrDuplicateIdentity
			}
		}

		if err := tx.Create(user).Error; err != nil {
			return err
		}
		return tx.Delete(&PendingUser{}, "id = ?", pendingID).Error
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// FindUserByUsername retrieves an account by username.
func (r *AccountRepository) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// FindUserByID retrieves an account by its identifier.
func (r *AccountRepository) FindUserByID(ctx context.Context, id string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// DeleteUser removes an account. The prediction table's foreign key cascades,
// deleting all of the owner's records and nobody else's.
func (r *AccountRepository) DeleteUser(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&User{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
