package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
)

// TokenRepository is the durable record of issued credentials.
type TokenRepository interface {
	Save(ctx context.Context, userID uint, token string, tokenType models.TokenType) (*models.Token, error)
	FindByToken(ctx context.Context, token string) (*models.Token, error)
	RevokeAllForUser(ctx context.Context, userID uint) error
	RevokeAllForUserExcept(ctx context.Context, userID uint, keep string) error
	Revoke(ctx context.Context, token *models.Token) error
	DeleteByToken(ctx context.Context, token string) error
}

type tokenRepository struct {
	db *gorm.DB
}

// NewTokenRepository creates a new token repository instance
func NewTokenRepository(db *gorm.DB) TokenRepository {
	return &tokenRepository{db: db}
}

func (r *tokenRepository) Save(ctx context.Context, userID uint, token string, tokenType models.TokenType) (*models.Token, error) {
	record := &models.Token{
		UserID: userID,
		Token:  token,
		Type:   tokenType,
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	return record, nil
}

func (r *tokenRepository) FindByToken(ctx context.Context, token string) (*models.Token, error) {
	var record models.Token
	err := r.db.WithContext(ctx).Where("token = ?", token).First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return &record, nil
}

// RevokeAllForUser flags every still-valid token of the user, all purposes.
func (r *tokenRepository) RevokeAllForUser(ctx context.Context, userID uint) error {
	return r.RevokeAllForUserExcept(ctx, userID, "")
}

// RevokeAllForUserExcept is RevokeAllForUser sparing one token string.
func (r *tokenRepository) RevokeAllForUserExcept(ctx context.Context, userID uint, keep string) error {
	q := r.db.WithContext(ctx).Model(&models.Token{}).
		Where("user_id = ? AND (expired = ? OR revoked = ?)", userID, false, false)
	if keep != "" {
		q = q.Where("token <> ?", keep)
	}
	return q.Updates(map[string]any{"expired": true, "revoked": true}).Error
}

func (r *tokenRepository) Revoke(ctx context.Context, token *models.Token) error {
	err := r.db.WithContext(ctx).Model(token).
		Updates(map[string]any{"expired": true, "revoked": true}).Error
	if err != nil {
		return err
	}
	token.Expired = true
	token.Revoked = true
	return nil
}

func (r *tokenRepository) DeleteByToken(ctx context.Context, token string) error {
	result := r.db.WithContext(ctx).Where("token = ?", token).Delete(&models.Token{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTokenNotFound
	}
	return nil
}

// Repository errors
var (
	ErrTokenNotFound = errors.New("token not found")
)
