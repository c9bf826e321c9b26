package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/person-registry/internal/session/kv"
	"github.com/FACorreiaa/person-registry/internal/types"
)

func initializedSession(t *testing.T, user *types.User) *Session {
	t.Helper()
	ctx := context.Background()
	auth := new(MockAuthenticator)
	store := NewStore(kv.NewMemory(time.Hour), "sid", discardLogger())
	if user != nil {
		require.NoError(t, store.Save(ctx, "tok", user))
		auth.On("VerifySession", mock.Anything, "tok").Return(user, nil).Once()
	}
	sess := New("sid", store, auth, "admin", discardLogger())
	sess.Init(ctx)
	return sess
}

func TestRequireAuth(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	tests := []struct {
		name         string
		adminOnly    bool
		user         *types.User
		noSession    bool
		wantStatus   int
		wantLocation string
	}{
		{name: "no session", noSession: true, wantStatus: http.StatusFound, wantLocation: LoginPath},
		{name: "anonymous", wantStatus: http.StatusFound, wantLocation: LoginPath},
		{name: "authenticated", user: &plainUser, wantStatus: http.StatusTeapot},
		{name: "anonymous on admin route", adminOnly: true, wantStatus: http.StatusFound, wantLocation: LoginPath},
		{name: "non-admin on admin route", adminOnly: true, user: &plainUser, wantStatus: http.StatusFound, wantLocation: HomePath},
		{name: "admin on admin route", adminOnly: true, user: &adminUser, wantStatus: http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/persons", nil)
			if !tt.noSession {
				req = req.WithContext(WithSession(req.Context(), initializedSession(t, tt.user)))
			}
			rec := httptest.NewRecorder()

			RequireAuth(tt.adminOnly, discardLogger())(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantLocation, rec.Header().Get("Location"))
		})
	}
}

func TestRequireAuth_WaitsForInit(t *testing.T) {
	ctx := context.Background()
	auth := new(MockAuthenticator)
	store := NewStore(kv.NewMemory(time.Hour), "sid", discardLogger())
	require.NoError(t, store.Save(ctx, "tok", &plainUser))
	release := make(chan time.Time)
	auth.On("VerifySession", mock.Anything, "tok").
		WaitUntil(release).
		Return(&plainUser, nil).Once()
	sess := New("sid", store, auth, "admin", discardLogger())

	go sess.Init(ctx)

	served := make(chan int, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(WithSession(ctx, sess))
		rec := httptest.NewRecorder()
		RequireAuth(false, discardLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		})).ServeHTTP(rec, req)
		served <- rec.Code
	}()

	select {
	case <-served:
		t.Fatal("gate decided before initialization finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	assert.Equal(t, http.StatusNoContent, <-served)
}

func TestRequireAuth_RequestCancelled(t *testing.T) {
	sess := New("sid", NewStore(kv.NewMemory(time.Hour), "sid", discardLogger()), new(MockAuthenticator), "admin", discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(WithSession(ctx, sess))
	rec := httptest.NewRecorder()
	called := false
	RequireAuth(false, discardLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true })).ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Empty(t, rec.Header().Get("Location"))
}
