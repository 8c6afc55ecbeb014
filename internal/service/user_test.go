package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getconvive/convive/internal/domain"
)

func TestSignup_CreatesUser(t *testing.T) {
	repo := newFakeQuerier()
	svc := NewUserService(repo, nil)

	user, err := svc.Signup(context.Background(), "diner@example.com", "Diner", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "diner@example.com", user.Email)
	assert.Equal(t, "Diner", user.Name)
	assert.NotEqual(t, "correct horse battery", user.PasswordHash, "password must be stored hashed")
}

func TestSignup_DuplicateEmail(t *testing.T) {
	repo := newFakeQuerier()
	svc := NewUserService(repo, nil)

	_, err := svc.Signup(context.Background(), "diner@example.com", "Diner", "correct horse battery")
	require.NoError(t, err)

	_, err = svc.Signup(context.Background(), "diner@example.com", "Other Diner", "another password")
	require.Error(t, err)
	assert.Equal(t, domain.ECONFLICT, domain.ErrorCode(err))
}

func TestSignup_ShortPassword(t *testing.T) {
	repo := newFakeQuerier()
	svc := NewUserService(repo, nil)

	_, err := svc.Signup(context.Background(), "diner@example.com", "Diner", "short")
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestLogin_Success(t *testing.T) {
	repo := newFakeQuerier()
	svc := NewUserService(repo, nil)

	_, err := svc.Signup(context.Background(), "diner@example.com", "Diner", "correct horse battery")
	require.NoError(t, err)

	user, session, err := svc.Login(context.Background(), "diner@example.com", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "diner@example.com", user.Email)
	assert.Len(t, session.Token, 64, "token is 32 random bytes, hex encoded")
	assert.WithinDuration(t, time.Now().Add(SessionDuration), session.ExpiresAt, time.Minute)

	// The session resolves back to the user
	resolved, err := svc.GetUserBySessionToken(context.Background(), session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)
}

func TestLogin_WrongPassword(t *testing.T) {
	repo := newFakeQuerier()
	svc := NewUserService(repo, nil)

	_, err := svc.Signup(context.Background(), "diner@example.com", "Diner", "correct horse battery")
	require.NoError(t, err)

	_, _, err = svc.Login(context.Background(), "diner@example.com", "wrong password")
	require.Error(t, err)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}

func TestLogin_UnknownEmail(t *testing.T) {
	repo := newFakeQuerier()
	svc := NewUserService(repo, nil)

	_, _, err := svc.Login(context.Background(), "nobody@example.com", "whatever password")
	require.Error(t, err)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err),
		"unknown email and wrong password must be indistinguishable")
}

func TestLogout_RevokesSession(t *testing.T) {
	repo := newFakeQuerier()
	svc := NewUserService(repo, nil)

	_, err := svc.Signup(context.Background(), "diner@example.com", "Diner", "correct horse battery")
	require.NoError(t, err)
	_, session, err := svc.Login(context.Background(), "diner@example.com", "correct horse battery")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(context.Background(), session.Token))

	_, err = svc.GetUserBySessionToken(context.Background(), session.Token)
	require.Error(t, err)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}

func TestGetUserBySessionToken_Expired(t *testing.T) {
	repo := newFakeQuerier()
	svc := NewUserService(repo, nil)

	_, err := svc.Signup(context.Background(), "diner@example.com", "Diner", "correct horse battery")
	require.NoError(t, err)
	_, session, err := svc.Login(context.Background(), "diner@example.com", "correct horse battery")
	require.NoError(t, err)

	// Force the session past its expiry
	row := repo.sessions[session.Token]
	row.ExpiresAt = pgTimestamptz(time.Now().Add(-time.Minute))
	repo.sessions[session.Token] = row

	_, err = svc.GetUserBySessionToken(context.Background(), session.Token)
	require.Error(t, err)
	assert.Equal(t, domain.EUNAUTHORIZED, domain.ErrorCode(err))
}

func TestGetEntitlementForUser_NotFound(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "")
	svc := NewEntitlementService(repo, nil)

	_, err := svc.GetEntitlementForUser(context.Background(), userID)
	require.Error(t, err)
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestGetEntitlementForUser_ReturnsLatest(t *testing.T) {
	repo := newFakeQuerier()
	userID := repo.addUser("diner@example.com", "Diner", "hash", "cus_1")
	repo.addEntitlement(userID, "sub_1", "supper-club", domain.EntitlementActive, time.Now())
	svc := NewEntitlementService(repo, nil)

	ent, err := svc.GetEntitlementForUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "supper-club", ent.PlanID)
	assert.True(t, ent.Active())
}
