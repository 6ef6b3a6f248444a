//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/panyam/authgate"
)

// AutoMigrate runs database migrations for all authgate tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&LinkedAccountModel{},
		&ChallengeModel{},
	)
}

// translate maps gorm and driver errors onto the authgate sentinels
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return authgate.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %w", authgate.ErrAlreadyExists, err)
	}
	// unique_violation from postgres when TranslateError is off
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", authgate.ErrAlreadyExists, err)
	}
	return err
}

// =============================================================================
// Directory
// =============================================================================

// Directory implements authgate.UserDirectory using GORM
type Directory struct {
	db *gorm.DB
}

func NewDirectory(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

func (s *Directory) CreateUser(ctx context.Context, in authgate.NewUser) (*authgate.User, error) {
	model := &UserModel{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(in.Email),
		Name:         in.Name,
		Picture:      in.Picture,
		PasswordHash: in.PasswordHash,
		IsVerified:   in.IsVerified,
		Method:       string(in.Method),
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, translate(err)
	}
	return model.ToUser(), nil
}

func (s *Directory) FindByID(ctx context.Context, userId string) (*authgate.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", userId).Error; err != nil {
		return nil, translate(err)
	}
	return model.ToUser(), nil
}

func (s *Directory) FindByEmail(ctx context.Context, email string) (*authgate.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "email = ?", strings.ToLower(email)).Error; err != nil {
		return nil, translate(err)
	}
	return model.ToUser(), nil
}

func (s *Directory) MarkVerified(ctx context.Context, email string) error {
	result := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("email = ?", strings.ToLower(email)).
		Update("is_verified", true)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return authgate.ErrNotFound
	}
	return nil
}

func (s *Directory) SetTwoFactor(ctx context.Context, userId string, enabled bool) error {
	result := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", userId).
		Update("is_two_factor_enabled", enabled)
	if result.Error != nil {
		return translate(result.Error)
	}
	if result.RowsAffected == 0 {
		return authgate.ErrNotFound
	}
	return nil
}

// ClaimUnverified only touches rows still unverified so a concurrent
// email confirmation keeps the password.
func (s *Directory) ClaimUnverified(ctx context.Context, userId string, profile authgate.NewUser) (*authgate.User, error) {
	result := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ? AND is_verified = ?", userId, false).
		Updates(map[string]any{
			"name":          profile.Name,
			"picture":       profile.Picture,
			"method":        string(profile.Method),
			"password_hash": "",
			"is_verified":   true,
		})
	if result.Error != nil {
		return nil, translate(result.Error)
	}
	return s.FindByID(ctx, userId)
}

func (s *Directory) LinkAccount(ctx context.Context, in authgate.NewLinkedAccount) (*authgate.LinkedAccount, error) {
	if _, err := s.FindByID(ctx, in.UserID); err != nil {
		return nil, fmt.Errorf("owner %s: %w", in.UserID, err)
	}
	model := &LinkedAccountModel{
		ID:                uuid.NewString(),
		UserID:            in.UserID,
		Type:              authgate.LinkedAccountTypeOAuth,
		Provider:          string(in.Provider),
		ProviderAccountID: in.ProviderAccountID,
		AccessToken:       in.AccessToken,
		RefreshToken:      in.RefreshToken,
		ExpiresAt:         in.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(model).Error; err != nil {
		return nil, translate(err)
	}
	return model.ToLinkedAccount(), nil
}

func (s *Directory) FindLinkedAccount(ctx context.Context, provider authgate.ProviderName, subject string) (*authgate.LinkedAccount, error) {
	var model LinkedAccountModel
	err := s.db.WithContext(ctx).
		First(&model, "provider = ? AND provider_account_id = ?", string(provider), subject).Error
	if err != nil {
		return nil, translate(err)
	}
	return model.ToLinkedAccount(), nil
}

// =============================================================================
// ChallengeStore
// =============================================================================

// ChallengeStore implements authgate.ChallengeStore using GORM
type ChallengeStore struct {
	db *gorm.DB
}

func NewChallengeStore(db *gorm.DB) *ChallengeStore {
	return &ChallengeStore{db: db}
}

func (s *ChallengeStore) Put(ctx context.Context, c *authgate.Challenge) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("kind = ? AND subject = ? AND identifier <> ?", string(c.Kind), c.Subject, c.Identifier).
			Delete(&ChallengeModel{}).Error; err != nil {
			return err
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(ChallengeToModel(c)).Error
	})
}

// Take deletes the challenge and returns it. Concurrent takers may both
// read the row but only the one whose delete removes it wins.
func (s *ChallengeStore) Take(ctx context.Context, kind authgate.ChallengeKind, identifier string) (*authgate.Challenge, error) {
	var model ChallengeModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "kind = ? AND identifier = ?", string(kind), identifier).Error; err != nil {
			return translate(err)
		}
		result := tx.Where("kind = ? AND identifier = ?", string(kind), identifier).Delete(&ChallengeModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return authgate.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return model.ToChallenge(), nil
}
