package repository

import (
	"context"

	"gorm.io/gorm"
)

// Stores bundles the repositories one unit of work writes through.
type Stores struct {
	Users  UserRepository
	Roles  RoleRepository
	Tokens TokenRepository
}

// Transactor runs a unit of work against stores bound to a single
// transaction. A non-nil error from fn rolls every write back.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(stores Stores) error) error
}

type gormTransactor struct {
	db *gorm.DB
}

// NewTransactor creates a transactor over db
func NewTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

func (t *gormTransactor) WithinTransaction(ctx context.Context, fn func(stores Stores) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(Stores{
			Users:  NewUserRepository(tx),
			Roles:  NewRoleRepository(tx),
			Tokens: NewTokenRepository(tx),
		})
	})
}

type inlineTransactor struct {
	stores Stores
}

// Inline runs units of work directly against stores with no transaction.
// It serves stores that are not gorm-backed, such as test doubles.
func Inline(stores Stores) Transactor {
	return &inlineTransactor{stores: stores}
}

func (t *inlineTransactor) WithinTransaction(_ context.Context, fn func(stores Stores) error) error {
	return fn(t.stores)
}
