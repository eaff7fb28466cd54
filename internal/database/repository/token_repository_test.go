package repository_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/models"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/database/repository"
	"github.com/EgehanKilicarslan/schoolms/backend-go/internal/testutil"
)

func createUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	user := &models.User{Email: email, Password: "hash", FirstName: "Test", LastName: "User", Active: true, Enabled: true}
	require.NoError(t, db.Create(user).Error)
	return user
}

func TestTokenRepository_SaveAndFind(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewTokenRepository(db)
	ctx := context.Background()
	user := createUser(t, db, "a@school.test")

	saved, err := repo.Save(ctx, user.ID, "tok-1", models.TokenTypeAccess)
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)
	assert.True(t, saved.IsActive())

	found, err := repo.FindByToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.UserID)
	assert.Equal(t, models.TokenTypeAccess, found.Type)
	assert.False(t, found.Expired)
	assert.False(t, found.Revoked)

	_, err = repo.FindByToken(ctx, "missing")
	assert.ErrorIs(t, err, repository.ErrTokenNotFound)
}

func TestTokenRepository_SaveRejectsDuplicateString(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewTokenRepository(db)
	ctx := context.Background()
	user := createUser(t, db, "a@school.test")

	_, err := repo.Save(ctx, user.ID, "same", models.TokenTypeAccess)
	require.NoError(t, err)
	_, err = repo.Save(ctx, user.ID, "same", models.TokenTypeRefresh)
	assert.Error(t, err)
}

func TestTokenRepository_RevokeAllForUser(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewTokenRepository(db)
	ctx := context.Background()
	alice := createUser(t, db, "alice@school.test")
	bob := createUser(t, db, "bob@school.test")

	for _, tok := range []struct {
		value string
		typ   models.TokenType
	}{
		{"alice-access", models.TokenTypeAccess},
		{"alice-refresh", models.TokenTypeRefresh},
		{"alice-verify", models.TokenTypeVerification},
	} {
		_, err := repo.Save(ctx, alice.ID, tok.value, tok.typ)
		require.NoError(t, err)
	}
	_, err := repo.Save(ctx, bob.ID, "bob-access", models.TokenTypeAccess)
	require.NoError(t, err)

	require.NoError(t, repo.RevokeAllForUser(ctx, alice.ID))

	for _, value := range []string{"alice-access", "alice-refresh", "alice-verify"} {
		record, err := repo.FindByToken(ctx, value)
		require.NoError(t, err)
		assert.True(t, record.Expired, value)
		assert.True(t, record.Revoked, value)
	}

	other, err := repo.FindByToken(ctx, "bob-access")
	require.NoError(t, err)
	assert.True(t, other.IsActive())

	// A user without tokens is not an error.
	assert.NoError(t, repo.RevokeAllForUser(ctx, 9999))
}

func TestTokenRepository_RevokeAllForUserExcept(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewTokenRepository(db)
	ctx := context.Background()
	user := createUser(t, db, "a@school.test")

	_, err := repo.Save(ctx, user.ID, "access", models.TokenTypeAccess)
	require.NoError(t, err)
	_, err = repo.Save(ctx, user.ID, "refresh", models.TokenTypeRefresh)
	require.NoError(t, err)

	require.NoError(t, repo.RevokeAllForUserExcept(ctx, user.ID, "refresh"))

	access, err := repo.FindByToken(ctx, "access")
	require.NoError(t, err)
	assert.False(t, access.IsActive())

	refresh, err := repo.FindByToken(ctx, "refresh")
	require.NoError(t, err)
	assert.True(t, refresh.IsActive())
}

func TestTokenRepository_RevokeSingle(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewTokenRepository(db)
	ctx := context.Background()
	user := createUser(t, db, "a@school.test")

	first, err := repo.Save(ctx, user.ID, "first", models.TokenTypeAccess)
	require.NoError(t, err)
	_, err = repo.Save(ctx, user.ID, "second", models.TokenTypeRefresh)
	require.NoError(t, err)

	require.NoError(t, repo.Revoke(ctx, first))
	assert.True(t, first.Expired)
	assert.True(t, first.Revoked)

	stored, err := repo.FindByToken(ctx, "first")
	require.NoError(t, err)
	assert.False(t, stored.IsActive())

	untouched, err := repo.FindByToken(ctx, "second")
	require.NoError(t, err)
	assert.True(t, untouched.IsActive())
}

func TestTokenRepository_DeleteByToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	repo := repository.NewTokenRepository(db)
	ctx := context.Background()
	user := createUser(t, db, "a@school.test")

	_, err := repo.Save(ctx, user.ID, "one-shot", models.TokenTypeVerification)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByToken(ctx, "one-shot"))
	_, err = repo.FindByToken(ctx, "one-shot")
	assert.ErrorIs(t, err, repository.ErrTokenNotFound)

	assert.ErrorIs(t, repo.DeleteByToken(ctx, "one-shot"), repository.ErrTokenNotFound)
}
