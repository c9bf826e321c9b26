package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/FACorreiaa/person-registry/internal/types"
)

const (
	TokenKey = "auth_token"
	UserKey  = "auth_user"
)

// KV is a string key-value backend shared by all browser sessions.
type KV interface {
	// Get returns the value and whether it was found. A missing key is not an error.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	// Clear removes keys. Missing keys are ignored.
	Clear(ctx context.Context, keys ...string) error
}

// Store persists the token and cached user of one browser session.
type Store struct {
	kv        KV
	namespace string
	logger    *slog.Logger
}

// NewStore scopes kv to the browser session sid.
func NewStore(kv KV, sid string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{kv: kv, namespace: "session:" + sid + ":", logger: logger}
}

func (s *Store) key(name string) string { return s.namespace + name }

// Save writes the token and the user.
func (s *Store) Save(ctx context.Context, token string, user *types.User) error {
	if err := s.kv.Set(ctx, s.key(TokenKey), token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return s.SaveUser(ctx, user)
}

// SaveUser refreshes the cached user only.
func (s *Store) SaveUser(ctx context.Context, user *types.User) error {
	b, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	if err := s.kv.Set(ctx, s.key(UserKey), string(b)); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// Load returns the stored token and user. Both are empty when absent; a
// corrupt user entry is treated as absent.
func (s *Store) Load(ctx context.Context) (string, *types.User, error) {
	token, _, err := s.kv.Get(ctx, s.key(TokenKey))
	if err != nil {
		return "", nil, fmt.Errorf("load token: %w", err)
	}
	raw, found, err := s.kv.Get(ctx, s.key(UserKey))
	if err != nil {
		return "", nil, fmt.Errorf("load user: %w", err)
	}
	if !found {
		return token, nil, nil
	}
	var user types.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil || user.ID == "" {
		s.logger.WarnContext(ctx, "Discarding unreadable cached user", slog.String("namespace", s.namespace))
		return token, nil, nil
	}
	return token, &user, nil
}

// Token returns the stored token, empty when absent.
func (s *Store) Token(ctx context.Context) (string, error) {
	token, _, err := s.kv.Get(ctx, s.key(TokenKey))
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return token, nil
}

// Clear removes both entries.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.kv.Clear(ctx, s.key(TokenKey), s.key(UserKey)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
