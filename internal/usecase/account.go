package usecase

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/example/chestscan/internal/auth"
	"github.com/example/chestscan/internal/notify"
	"github.com/example/chestscan/internal/repository"
)

const (
	identityCodeLength = 16
	phoneNumberLength  = 10
)

// AccountStore defines the persistence operations needed by account
// provisioning.
type AccountStore interface {
	CreatePending(ctx context.Context, pending *repository.PendingUser) error
	FindPendingByID(ctx context.Context, id string) (*repository.PendingUser, error)
	Promote(ctx context.Context, user *repository.User, pendingID string) (*repository.User, error)
	FindUserByUsername(ctx context.Context, username string) (*repository.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// AccountUseCase implements signup, one-time-code verification and login.
type AccountUseCase struct {
	store     AccountStore
	sender    notify.Sender
	logger    *zap.Logger
	jwtSecret string
	tokenTTL  time.Duration
}

// NewAccountUseCase constructs a new use case instance.
func NewAccountUseCase(store AccountStore, sender notify.Sender, jwtSecret string, tokenTTL time.Duration, logger *zap.Logger) *AccountUseCase {
	return &AccountUseCase{
		store:     store,
		sender:    sender,
		logger:    logger.Named("account_usecase"),
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

// RequestSignup records an unverified registration with a hashed password and
// a fresh one-time code, then attempts (best-effort) to deliver the code.
func (uc *AccountUseCase) RequestSignup(ctx context.Context, email, username, password string) (*repository.PendingUser, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	code, err := generateOTP()
	if err != nil {
		return nil, fmt.Errorf("generate one-time code: %w", err)
	}

	pending := &repository.PendingUser{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
		OTP:          code,
		CreatedAt:    time.Now().UTC(),
	}
	if err := uc.store.CreatePending(ctx, pending); err != nil {
		return nil, err
	}

	msg := notify.BuildOTPMessage(email, username, code)
	if err := uc.sender.Send(ctx, msg); err != nil {
		uc.logger.Warn("one-time code delivery failed",
			zap.String("pending_id", pending.ID), zap.Error(err))
	}

	return pending, nil
}

// Verify checks the one-time code and promotes the pending registration into
// a durable account. A mismatched code leaves the pending registration
// intact; a duplicate identity code or phone number creates no account.
func (uc *AccountUseCase) Verify(ctx context.Context, pendingID, code, identityCode, phoneNumber string) (*repository.User, error) {
	pending, err := uc.store.FindPendingByID(ctx, pendingID)
	if err != nil {
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(pending.OTP), []byte(code)) != 1 {
		return nil, ErrInvalidCode
	}

	user := &repository.User{
		ID:           uuid.NewString(),
		Email:        pending.Email,
		Username:     pending.Username,
		PasswordHash: pending.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}
	if identityCode != "" {
		if len(identityCode) != identityCodeLength {
			return nil, ErrInvalidIdentity
		}
		user.IdentityCode = &identityCode
	}
	if phoneNumber != "" {
		if len(phoneNumber) != phoneNumberLength {
			return nil, ErrInvalidIdentity
		}
		user.PhoneNumber = &phoneNumber
	}

	return uc.store.Promote(ctx, user, pendingID)
}

// Login verifies credentials and issues a signed bearer token.
func (uc *AccountUseCase) Login(ctx context.Context, username, password string) (string, *repository.User, error) {
	user, err := uc.store.FindUserByUsername(ctx, username)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := auth.NewToken(uc.jwtSecret, user.ID, user.Staff, uc.tokenTTL)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, user, nil
}

// DeleteAccount removes the caller's account. The predictions table cascades
// on the owner foreign key, so all of the caller's records go with it and
// nobody else's are touched.
func (uc *AccountUseCase) DeleteAccount(ctx context.Context, userID string) error {
	if err := uc.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	uc.logger.Info("account deleted", zap.String("user_id", userID))
	return nil
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
