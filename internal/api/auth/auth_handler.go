package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/person-registry/internal/api"
	"github.com/FACorreiaa/person-registry/internal/session"
	"github.com/FACorreiaa/person-registry/internal/types"
)

type HandlerImpl struct {
	logger *slog.Logger
}

func NewHandlerImpl(logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{logger: logger}
}

// PublicRoutes mounts login, signup and session state.
func (h *HandlerImpl) PublicRoutes(r chi.Router) {
	r.Post("/login", h.Login)
	r.Post("/signup", h.Signup)
	r.Get("/session", h.GetSession)
}

func (h *HandlerImpl) span(r *http.Request, name, route string) (*http.Request, trace.Span) {
	ctx, span := otel.Tracer("AuthHandler").Start(r.Context(), name, trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String(route),
	))
	return r.WithContext(ctx), span
}

func readCredentials(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	var req types.LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.RespondError(w, r, err)
		return "", "", false
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Email and password are required")
		return "", "", false
	}
	return email, req.Password, true
}

func currentSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusInternalServerError, "Session unavailable")
	}
	return sess, ok
}

// Login godoc
// @Summary      User Login
// @Description  Authenticates with email and password and binds the token to the browser session.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        credentials body types.LoginRequest true "User Credentials"
// @Success      200 {object} types.SessionState "Authenticated session"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      401 {object} types.Response "Authentication Failed"
// @Router       /auth/login [post]
func (h *HandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "Login", "/auth/login")
	defer span.End()

	email, password, ok := readCredentials(w, r)
	if !ok {
		return
	}
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	if err := sess.Login(r.Context(), email, password); err != nil {
		api.RespondError(w, r, err)
		return
	}
	h.logger.InfoContext(r.Context(), "Session authenticated", slog.String("session", sess.ID()))
	api.WriteJSONResponse(w, r, http.StatusOK, sess.State())
}

// Signup godoc
// @Summary      User Registration
// @Description  Registers an account. The user must confirm the email before logging in.
// @Tags         Auth
// @Accept       json
// @Produce      json
// @Param        credentials body types.SignupRequest true "User Credentials"
// @Success      201 {object} types.Response "Signup accepted"
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      401 {object} types.Response "Signup rejected"
// @Router       /auth/signup [post]
func (h *HandlerImpl) Signup(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "Signup", "/auth/signup")
	defer span.End()

	email, password, ok := readCredentials(w, r)
	if !ok {
		return
	}
	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	msg, err := sess.Signup(r.Context(), email, password)
	if err != nil {
		api.RespondError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusCreated, types.Response{Success: true, Message: msg})
}

// GetSession godoc
// @Summary      Session state
// @Description  Returns the user bound to the browser session, or a null user.
// @Tags         Auth
// @Produce      json
// @Success      200 {object} types.SessionState
// @Router       /auth/session [get]
func (h *HandlerImpl) GetSession(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "GetSession", "/auth/session")
	defer span.End()

	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	<-sess.Done()
	api.WriteJSONResponse(w, r, http.StatusOK, sess.State())
}

// Logout godoc
// @Summary      Logout
// @Description  Invalidates the token at the auth backend when possible and always clears the browser session.
// @Tags         Auth
// @Produce      json
// @Success      200 {object} types.SessionState
// @Router       /auth/logout [post]
func (h *HandlerImpl) Logout(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "Logout", "/auth/logout")
	defer span.End()

	sess, ok := currentSession(w, r)
	if !ok {
		return
	}
	sess.Logout(r.Context())
	api.WriteJSONResponse(w, r, http.StatusOK, sess.State())
}
