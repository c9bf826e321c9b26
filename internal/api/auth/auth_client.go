package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/types"
)

var _ Client = (*ClientImpl)(nil)

// Client talks to the hosted backend's auth endpoints.
type Client interface {
	Login(ctx context.Context, email, password string) (*types.LoginResult, error)
	Signup(ctx context.Context, email, password string) (*types.SignupResult, error)
	Logout(ctx context.Context, token string) error
	// VerifySession resolves the user behind token. A rejected or unusable
	// token yields (nil, nil); only transport failures return an error.
	VerifySession(ctx context.Context, token string) (*types.User, error)
}

type ClientImpl struct {
	sb     *supabase.Client
	logger *slog.Logger
}

func NewClientImpl(sb *supabase.Client, logger *slog.Logger) *ClientImpl {
	return &ClientImpl{sb: sb, logger: logger}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (u authUser) toUser() types.User {
	role := u.Role
	if role == "" {
		role = types.DefaultRole
	}
	return types.User{ID: u.ID, Email: u.Email, Role: role}
}

type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	User         *authUser `json:"user"`
}

func (c *ClientImpl) Login(ctx context.Context, email, password string) (*types.LoginResult, error) {
	ctx, span := otel.Tracer("AuthClient").Start(ctx, "Login")
	defer span.End()
	l := c.logger.With(slog.String("method", "Login"))

	resp, err := c.sb.Do(ctx, supabase.Request{
		Method: http.MethodPost,
		Path:   "/auth/v1/token",
		Query:  url.Values{"grant_type": {"password"}},
		JSON:   credentials{Email: email, Password: password},
	})
	if err != nil {
		l.WarnContext(ctx, "Login rejected", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Login failed")
		return nil, authError(err)
	}

	var body tokenResponse
	if err := resp.Decode(&body); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %w", types.ErrAuth, err)
	}
	if body.User == nil || body.User.ID == "" || body.AccessToken == "" || body.RefreshToken == "" {
		span.SetStatus(codes.Error, "Incomplete login response")
		return nil, fmt.Errorf("%w: login response is missing user or session", types.ErrAuth)
	}

	user := body.User.toUser()
	span.SetAttributes(attribute.String("user.id", user.ID))
	span.SetStatus(codes.Ok, "")
	l.InfoContext(ctx, "User logged in", slog.String("userID", user.ID))
	return &types.LoginResult{
		User:    user,
		Session: types.Session{AccessToken: body.AccessToken, RefreshToken: body.RefreshToken},
	}, nil
}

func (c *ClientImpl) Signup(ctx context.Context, email, password string) (*types.SignupResult, error) {
	ctx, span := otel.Tracer("AuthClient").Start(ctx, "Signup")
	defer span.End()
	l := c.logger.With(slog.String("method", "Signup"))

	resp, err := c.sb.Do(ctx, supabase.Request{
		Method: http.MethodPost,
		Path:   "/auth/v1/signup",
		JSON:   credentials{Email: email, Password: password},
	})
	if err != nil {
		l.WarnContext(ctx, "Signup rejected", slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "Signup failed")
		return nil, authError(err)
	}

	// The backend either wraps the user or returns it at the top level. With
	// email confirmation enabled it may return neither.
	var body struct {
		User *authUser `json:"user"`
		authUser
	}
	if len(resp.Body) > 0 {
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			return nil, fmt.Errorf("%w: decode signup response: %w", types.ErrAuth, err)
		}
	}
	result := &types.SignupResult{}
	switch {
	case body.User != nil && body.User.ID != "":
		result.User = body.User.toUser()
	case body.ID != "":
		result.User = body.authUser.toUser()
	}

	l.InfoContext(ctx, "Signup accepted", slog.Bool("confirmation_pending", result.ConfirmationPending()))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (c *ClientImpl) Logout(ctx context.Context, token string) error {
	ctx, span := otel.Tracer("AuthClient").Start(ctx, "Logout")
	defer span.End()

	_, err := c.sb.Do(ctx, supabase.Request{
		Method: http.MethodPost,
		Path:   "/auth/v1/logout",
		Token:  token,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Logout failed")
		return authError(err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *ClientImpl) VerifySession(ctx context.Context, token string) (*types.User, error) {
	ctx, span := otel.Tracer("AuthClient").Start(ctx, "VerifySession")
	defer span.End()
	l := c.logger.With(slog.String("method", "VerifySession"))

	resp, err := c.sb.Do(ctx, supabase.Request{
		Method: http.MethodGet,
		Path:   "/auth/v1/user",
		Token:  token,
	})
	if err != nil {
		var apiErr *supabase.APIError
		if errors.As(err, &apiErr) {
			l.DebugContext(ctx, "Token rejected", slog.Int("status", apiErr.StatusCode))
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "Session verification failed")
		return nil, err
	}

	var u authUser
	if err := resp.Decode(&u); err != nil || u.ID == "" || u.Email == "" {
		l.DebugContext(ctx, "Unusable user payload")
		return nil, nil
	}
	user := u.toUser()
	span.SetStatus(codes.Ok, "")
	return &user, nil
}

// authError tags remote rejections with ErrAuth and keeps transport errors as is.
func authError(err error) error {
	if errors.Is(err, types.ErrAuth) {
		return err
	}
	var apiErr *supabase.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %w", types.ErrAuth, err)
	}
	return err
}
