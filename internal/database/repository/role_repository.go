package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
)

// RoleRepository reads the built-in roles.
type RoleRepository interface {
	FindByTitle(ctx context.Context, title string) (*models.Role, error)
	FindByTitles(ctx context.Context, titles []string) ([]models.Role, error)
	List(ctx context.Context) ([]models.Role, error)
}

type roleRepository struct {
	db *gorm.DB
}

// NewRoleRepository creates a new role repository instance
func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) FindByTitle(ctx context.Context, title string) (*models.Role, error) {
	var role models.Role
	err := r.db.WithContext(ctx).Where("title = ?", title).First(&role).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	return &role, nil
}

// FindByTitles returns ErrRoleNotFound unless every title exists.
func (r *roleRepository) FindByTitles(ctx context.Context, titles []string) ([]models.Role, error) {
	unique := make(map[string]struct{}, len(titles))
	for _, t := range titles {
		unique[t] = struct{}{}
	}

	var roles []models.Role
	if err := r.db.WithContext(ctx).Where("title IN ?", titles).Order("id ASC").Find(&roles).Error; err != nil {
		return nil, err
	}
	if len(roles) != len(unique) {
		return nil, ErrRoleNotFound
	}
	return roles, nil
}

func (r *roleRepository) List(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// Repository errors
var (
	ErrRoleNotFound = errors.New("role not found")
)
