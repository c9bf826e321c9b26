// Package session holds the per-browser authentication state of the gateway:
// the persisted token and user, their verification against the auth backend,
// and the route gate built on top of it.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/FACorreiaa/person-registry/app/observability/metrics"
	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/types"
)

const (
	SignupMessage    = "Signup successful! Check your email to confirm your registration."
	VerifyFailureMsg = "Failed to verify authentication"
)

// Authenticator is the subset of the auth client a session needs.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*types.LoginResult, error)
	Signup(ctx context.Context, email, password string) (*types.SignupResult, error)
	Logout(ctx context.Context, token string) error
	VerifySession(ctx context.Context, token string) (*types.User, error)
}

// Session is the authentication state of one browser session.
type Session struct {
	id        string
	store     *Store
	auth      Authenticator
	adminRole string
	logger    *slog.Logger

	once sync.Once
	done chan struct{}

	mu    sync.RWMutex
	state types.SessionState
	token string
}

// New returns a session that reports Loading until Init completes.
func New(id string, store *Store, auth Authenticator, adminRole string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        id,
		store:     store,
		auth:      auth,
		adminRole: adminRole,
		logger:    logger.With(slog.String("session", id)),
		done:      make(chan struct{}),
		state:     types.SessionState{Loading: true},
	}
}

// ID returns the browser session identifier.
func (s *Session) ID() string { return s.id }

// Init restores the session from the store. Only the first call does any
// work; later calls return the current state. Restoration outlives the
// cancellation of the request that triggered it, since other requests of the
// same browser wait on Done.
func (s *Session) Init(ctx context.Context) types.SessionState {
	s.once.Do(func() {
		defer close(s.done)
		s.restore(context.WithoutCancel(ctx))
	})
	return s.State()
}

// Done is closed once Init has completed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Ready reports whether Init has completed.
func (s *Session) Ready() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) restore(ctx context.Context) {
	ctx, span := otel.Tracer("Session").Start(ctx, "Init")
	defer span.End()
	l := s.logger.With(slog.String("method", "Init"))

	token, _, err := s.store.Load(ctx)
	if err != nil {
		l.ErrorContext(ctx, "Failed to read session store", slog.Any("error", err))
		span.RecordError(err)
		s.reset(ctx, VerifyFailureMsg)
		return
	}
	if token == "" {
		s.setState(types.SessionState{}, "")
		return
	}

	user, err := s.auth.VerifySession(ctx, token)
	if err != nil {
		l.ErrorContext(ctx, "Failed to verify stored token", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Verification failed")
		s.reset(ctx, VerifyFailureMsg)
		return
	}
	if user == nil {
		l.InfoContext(ctx, "Stored token is no longer valid")
		s.reset(ctx, "")
		s.event(ctx, "invalidated")
		return
	}

	if err := s.store.SaveUser(ctx, user); err != nil {
		l.WarnContext(ctx, "Failed to refresh cached user", slog.Any("error", err))
	}
	span.SetAttributes(attribute.String("user.id", user.ID))
	s.setState(types.SessionState{User: user}, token)
}

// reset clears the store and the state, keeping errMsg as the recorded error.
func (s *Session) reset(ctx context.Context, errMsg string) {
	if err := s.store.Clear(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to clear session store", slog.Any("error", err))
	}
	s.setState(types.SessionState{Error: errMsg}, "")
}

func (s *Session) setState(st types.SessionState, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	s.token = token
}

func (s *Session) update(fn func(st *types.SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Login authenticates and persists the token and user on success. Failures
// are recorded in the state and returned.
func (s *Session) Login(ctx context.Context, email, password string) error {
	ctx, span := otel.Tracer("Session").Start(ctx, "Login")
	defer span.End()
	l := s.logger.With(slog.String("method", "Login"))

	s.update(func(st *types.SessionState) { st.Loading = true; st.Error = ""; st.Message = "" })

	res, err := s.auth.Login(ctx, email, password)
	if err == nil {
		if err = s.store.Save(ctx, res.Session.AccessToken, &res.User); err != nil {
			if clearErr := s.store.Clear(ctx); clearErr != nil {
				l.WarnContext(ctx, "Failed to clear partial session", slog.Any("error", clearErr))
			}
		}
	}
	if err != nil {
		l.WarnContext(ctx, "Login failed", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Login failed")
		msg := errorText(err)
		s.update(func(st *types.SessionState) { st.Loading = false; st.Error = msg })
		return err
	}

	user := res.User
	s.setState(types.SessionState{User: &user}, res.Session.AccessToken)
	s.event(ctx, "login")
	span.SetStatus(codes.Ok, "")
	return nil
}

// Signup registers an account without logging in and returns the
// confirmation message.
func (s *Session) Signup(ctx context.Context, email, password string) (string, error) {
	ctx, span := otel.Tracer("Session").Start(ctx, "Signup")
	defer span.End()

	s.update(func(st *types.SessionState) { st.Loading = true; st.Error = ""; st.Message = "" })

	if _, err := s.auth.Signup(ctx, email, password); err != nil {
		s.logger.WarnContext(ctx, "Signup failed", slog.String("method", "Signup"), slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Signup failed")
		msg := errorText(err)
		s.update(func(st *types.SessionState) { st.Loading = false; st.Error = msg })
		return "", err
	}

	s.update(func(st *types.SessionState) { st.Loading = false; st.Message = SignupMessage })
	s.event(ctx, "signup")
	return SignupMessage, nil
}

// Logout invalidates the token remotely when possible and always clears the
// local session.
func (s *Session) Logout(ctx context.Context) {
	ctx, span := otel.Tracer("Session").Start(ctx, "Logout")
	defer span.End()
	l := s.logger.With(slog.String("method", "Logout"))

	token := s.Token()
	if token == "" {
		stored, _, err := s.store.Load(ctx)
		if err == nil {
			token = stored
		}
	}

	var errMsg string
	if token != "" {
		if err := s.auth.Logout(ctx, token); err != nil {
			l.WarnContext(ctx, "Remote logout failed", slog.Any("error", err))
			span.RecordError(err)
			errMsg = errorText(err)
		}
	}
	s.reset(ctx, errMsg)
	s.event(ctx, "logout")
}

// Stale reports whether the stored token differs from the one held in
// memory, which happens when another instance sharing the store logged the
// browser in or out. A store read error is not treated as stale.
func (s *Session) Stale(ctx context.Context) bool {
	if !s.Ready() {
		return false
	}
	stored, err := s.store.Token(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to check stored token", slog.Any("error", err))
		return false
	}
	return stored != s.Token()
}

// Invalidate drops a session whose token the backend no longer accepts.
func (s *Session) Invalidate(ctx context.Context) {
	s.logger.InfoContext(ctx, "Invalidating session after rejected token")
	s.reset(ctx, "")
	s.event(ctx, "invalidated")
}

// IsAdmin reports whether the current user holds the admin role.
func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.User.HasRole(s.adminRole)
}

// State returns a copy of the current state.
func (s *Session) State() types.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state
	if st.User != nil {
		u := *st.User
		st.User = &u
	}
	return st
}

// User returns the authenticated user or nil.
func (s *Session) User() *types.User {
	return s.State().User
}

// Token returns the access token of the authenticated user.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) event(ctx context.Context, name string) {
	metrics.Get().SessionEventsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("event", name)))
}

// errorText prefers the backend message over the wrapped error chain.
func errorText(err error) string {
	var apiErr *supabase.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
