package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

var ErrInvalidCookie = errors.New("invalid session cookie")

type contextKey string

const sessionKey contextKey = "session"

// WithSession returns ctx carrying sess.
func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// FromContext returns the session installed by Manager.Middleware.
func FromContext(ctx context.Context) (*Session, bool) {
	sess, ok := ctx.Value(sessionKey).(*Session)
	return sess, ok && sess != nil
}

// CookieCodec signs browser session ids as HS256 tokens.
type CookieCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCookieCodec(secret string, ttl time.Duration) *CookieCodec {
	return &CookieCodec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Encode returns a signed value carrying sid.
func (c *CookieCodec) Encode(sid string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		ID:        sid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies value and returns the session id it carries.
func (c *CookieCodec) Decode(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCookie, err)
	}
	if _, err := uuid.Parse(claims.ID); err != nil {
		return "", fmt.Errorf("%w: malformed session id", ErrInvalidCookie)
	}
	return claims.ID, nil
}

// ManagerConfig configures cookies and roles.
type ManagerConfig struct {
	CookieName string
	Secret     string
	TTL        time.Duration
	Secure     bool
	AdminRole  string
}

// Manager maps browser cookies to sessions backed by a shared KV.
type Manager struct {
	kv       KV
	auth     Authenticator
	codec    *CookieCodec
	cfg      ManagerConfig
	sessions *cache.Cache
	logger   *slog.Logger
}

func NewManager(kv KV, auth Authenticator, cfg ManagerConfig, logger *slog.Logger) (*Manager, error) {
	if cfg.Secret == "" {
		return nil, errors.New("session: cookie secret is required")
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "registry_session"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.AdminRole == "" {
		cfg.AdminRole = "admin"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		kv:       kv,
		auth:     auth,
		codec:    NewCookieCodec(cfg.Secret, cfg.TTL),
		cfg:      cfg,
		sessions: cache.New(cfg.TTL, 10*time.Minute),
		logger:   logger,
	}, nil
}

// Middleware resolves the browser session, initializes it and stores it in
// the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		l := m.logger.With(slog.String("middleware", "Session"))

		sid, err := m.sessionID(r)
		if err != nil {
			if !errors.Is(err, http.ErrNoCookie) {
				l.DebugContext(ctx, "Discarding session cookie", slog.Any("error", err))
			}
			sid = uuid.NewString()
			if err := m.issueCookie(w, sid); err != nil {
				l.ErrorContext(ctx, "Failed to issue session cookie", slog.Any("error", err))
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
		}

		sess := m.Session(sid)
		sess.Init(ctx)
		if sess.Stale(ctx) {
			l.DebugContext(ctx, "Reloading session changed in the shared store")
			sess = m.reload(sid)
			sess.Init(ctx)
		}
		next.ServeHTTP(w, r.WithContext(WithSession(ctx, sess)))
	})
}

// Session returns the session for sid, creating it on first use.
func (m *Manager) Session(sid string) *Session {
	if cached, ok := m.sessions.Get(sid); ok {
		return cached.(*Session)
	}
	sess := New(sid, NewStore(m.kv, sid, m.logger), m.auth, m.cfg.AdminRole, m.logger)
	if err := m.sessions.Add(sid, sess, cache.DefaultExpiration); err != nil {
		// Lost a race with a concurrent request of the same browser.
		if cached, ok := m.sessions.Get(sid); ok {
			return cached.(*Session)
		}
	}
	return sess
}

// reload replaces the cached session for sid with a fresh one that restores
// from the store on Init.
func (m *Manager) reload(sid string) *Session {
	sess := New(sid, NewStore(m.kv, sid, m.logger), m.auth, m.cfg.AdminRole, m.logger)
	m.sessions.Set(sid, sess, cache.DefaultExpiration)
	return sess
}

func (m *Manager) sessionID(r *http.Request) (string, error) {
	c, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return "", err
	}
	return m.codec.Decode(c.Value)
}

func (m *Manager) issueCookie(w http.ResponseWriter, sid string) error {
	value, err := m.codec.Encode(sid)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
