// Package identity verifies chat credentials and issues session tokens.
//
// Usernames are mapped into a synthetic login namespace (username@domain)
// so the account table never depends on the chat profile table.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateHandle is returned when an account already exists for the handle.
	ErrDuplicateHandle = errors.New("an account with this username already exists")
	// ErrInvalidCredentials is returned for an unknown handle or a wrong secret.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidToken is returned when a session token cannot be resolved.
	ErrInvalidToken = errors.New("invalid or expired session token")
	// ErrPasswordTooLong is returned for a secret bcrypt cannot hash.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

// Account is a credential record.
type Account struct {
	ID           string `gorm:"primarykey;size:36"`
	Login        string `gorm:"size:255;not null;uniqueIndex"`
	PasswordHash string `gorm:"not null"`
	CreatedAt    time.Time
}

// TableName returns the table name for Account.
func (Account) TableName() string {
	return "accounts"
}

// Config holds identity provider settings.
type Config struct {
	Domain     string
	BcryptCost int
	Token      TokenConfig
}

// Provider creates accounts, verifies credentials, and resolves session tokens.
type Provider struct {
	db     *gorm.DB
	hasher *PasswordHasher
	tokens *TokenManager
	domain string
}

// NewProvider migrates the accounts table and returns a Provider.
func NewProvider(db *gorm.DB, config Config) (*Provider, error) {
	if err := db.AutoMigrate(&Account{}); err != nil {
		return nil, fmt.Errorf("failed to migrate accounts: %w", err)
	}
	domain := config.Domain
	if domain == "" {
		domain = "relaychat.local"
	}
	return &Provider{
		db:     db,
		hasher: NewPasswordHasher(config.BcryptCost),
		tokens: NewTokenManager(config.Token),
		domain: domain,
	}, nil
}

// loginFor derives the provider-internal login identifier for a handle.
func (p *Provider) loginFor(handle string) string {
	return handle + "@" + p.domain
}

// CreateAccount registers handle with secret and returns the new user id.
func (p *Provider) CreateAccount(ctx context.Context, handle, secret string) (string, error) {
	hash, err := p.hasher.Hash(secret)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	account := Account{
		ID:           uuid.NewString(),
		Login:        p.loginFor(handle),
		PasswordHash: hash,
	}

	err = p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&Account{}).Where("login = ?", account.Login).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check login: %w", err)
		}
		if count > 0 {
			return ErrDuplicateHandle
		}
		if err := tx.Create(&account).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateHandle
			}
			return fmt.Errorf("failed to create account: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return account.ID, nil
}

// VerifyCredentials checks handle and secret and issues a session token.
func (p *Provider) VerifyCredentials(ctx context.Context, handle, secret string) (token, userID string, err error) {
	var account Account
	if err := p.db.WithContext(ctx).First(&account, "login = ?", p.loginFor(handle)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", ErrInvalidCredentials
		}
		return "", "", fmt.Errorf("failed to find account: %w", err)
	}

	if !p.hasher.Verify(secret, account.PasswordHash) {
		return "", "", ErrInvalidCredentials
	}

	token, err = p.tokens.Issue(account.ID)
	if err != nil {
		return "", "", fmt.Errorf("failed to issue session token: %w", err)
	}
	return token, account.ID, nil
}

// ResolveToken returns the user id a valid session token was issued for.
func (p *Provider) ResolveToken(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	userID, err := p.tokens.Validate(token)
	if err != nil {
		return "", err
	}

	var count int64
	if err := p.db.WithContext(ctx).Model(&Account{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to check account: %w", err)
	}
	if count == 0 {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// DeleteAccount removes an account. Deleting a missing account is not an error.
func (p *Provider) DeleteAccount(ctx context.Context, userID string) error {
	if err := p.db.WithContext(ctx).Delete(&Account{}, "id = ?", userID).Error; err != nil {
		return fmt.Errorf("failed to delete account: %w", err)
	}
	return nil
}
