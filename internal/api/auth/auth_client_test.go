package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/supabase/supabasetest"
	"github.com/FACorreiaa/person-registry/internal/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupAuthClientTest(t *testing.T) (*ClientImpl, *supabasetest.Server) {
	t.Helper()
	srv := supabasetest.New(t)
	sb, err := supabase.New(supabase.Config{URL: srv.URL, AnonKey: supabasetest.AnonKey}, discardLogger())
	require.NoError(t, err)
	return NewClientImpl(sb, discardLogger()), srv
}

func TestClientImpl_Login(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		client, srv := setupAuthClientTest(t)
		id := srv.AddUser("ana@example.com", "secret123", "admin")

		res, err := client.Login(ctx, "ana@example.com", "secret123")
		require.NoError(t, err)
		assert.Equal(t, types.User{ID: id, Email: "ana@example.com", Role: "admin"}, res.User)
		assert.NotEmpty(t, res.Session.AccessToken)
		assert.NotEmpty(t, res.Session.RefreshToken)
	})

	t.Run("missing role defaults to authenticated", func(t *testing.T) {
		client, srv := setupAuthClientTest(t)
		srv.OmitRole = true
		srv.AddUser("ana@example.com", "secret123", "admin")

		res, err := client.Login(ctx, "ana@example.com", "secret123")
		require.NoError(t, err)
		assert.Equal(t, types.DefaultRole, res.User.Role)
	})

	t.Run("wrong credentials", func(t *testing.T) {
		client, srv := setupAuthClientTest(t)
		srv.AddUser("ana@example.com", "secret123", "admin")

		res, err := client.Login(ctx, "ana@example.com", "nope")
		assert.Nil(t, res)
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrAuth)
		var apiErr *supabase.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "Invalid login credentials", apiErr.Message)
	})

	t.Run("response without access token", func(t *testing.T) {
		client, srv := setupAuthClientTest(t)
		srv.OmitAccessToken = true
		srv.AddUser("ana@example.com", "secret123", "admin")

		res, err := client.Login(ctx, "ana@example.com", "secret123")
		assert.Nil(t, res)
		assert.ErrorIs(t, err, types.ErrAuth)
	})
}

func TestClientImpl_Signup(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the new user", func(t *testing.T) {
		client, _ := setupAuthClientTest(t)

		res, err := client.Signup(ctx, "new@example.com", "secret123")
		require.NoError(t, err)
		assert.False(t, res.ConfirmationPending())
		assert.Equal(t, "new@example.com", res.User.Email)
		assert.Equal(t, types.DefaultRole, res.User.Role)
	})

	t.Run("confirmation pending", func(t *testing.T) {
		client, srv := setupAuthClientTest(t)
		srv.RequireConfirmation = true

		res, err := client.Signup(ctx, "new@example.com", "secret123")
		require.NoError(t, err)
		assert.True(t, res.ConfirmationPending())
	})

	t.Run("already registered", func(t *testing.T) {
		client, srv := setupAuthClientTest(t)
		srv.AddUser("ana@example.com", "secret123", "")

		_, err := client.Signup(ctx, "ana@example.com", "secret123")
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrAuth)
		var apiErr *supabase.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "User already registered", apiErr.Message)
	})
}

func TestClientImpl_Logout(t *testing.T) {
	ctx := context.Background()
	client, srv := setupAuthClientTest(t)
	srv.AddUser("ana@example.com", "secret123", "")
	token := srv.IssueToken("ana@example.com")

	require.NoError(t, client.Logout(ctx, token))

	user, err := client.VerifySession(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, user, "token is revoked after logout")

	err = client.Logout(ctx, token)
	assert.ErrorIs(t, err, types.ErrAuth)
}

func TestClientImpl_VerifySession(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		client, srv := setupAuthClientTest(t)
		id := srv.AddUser("ana@example.com", "secret123", "admin")
		token := srv.IssueToken("ana@example.com")

		user, err := client.VerifySession(ctx, token)
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, id, user.ID)
		assert.Equal(t, "admin", user.Role)
	})

	t.Run("rejected token is not an error", func(t *testing.T) {
		client, _ := setupAuthClientTest(t)

		user, err := client.VerifySession(ctx, "garbage")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("unusable payload", func(t *testing.T) {
		client, srv := setupAuthClientTest(t)
		srv.Fail(supabasetest.PathHasPrefix("/auth/v1/user"), http.StatusOK, `{"id":""}`)

		user, err := client.VerifySession(ctx, "anything")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	t.Run("transport failure is an error", func(t *testing.T) {
		client, srv := setupAuthClientTest(t)
		srv.Close()

		user, err := client.VerifySession(ctx, "anything")
		assert.Error(t, err)
		assert.Nil(t, user)
	})
}
