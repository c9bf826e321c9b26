package dashboard

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/person-registry/internal/api"
	"github.com/FACorreiaa/person-registry/internal/session"
	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/types"
)

// Service is the read side of the registry used by the dashboard.
type Service interface {
	Stats(ctx context.Context, token string) (*types.Stats, error)
	MapData(ctx context.Context, token string) ([]types.LocationAggregate, error)
	Birthdays(ctx context.Context, token string, month int) ([]types.Person, error)
	Dashboard(ctx context.Context, token string, month int) types.Dashboard
}

type HandlerImpl struct {
	service Service
	logger  *slog.Logger
}

func NewHandlerImpl(service Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{service: service, logger: logger}
}

func (h *HandlerImpl) Routes(r chi.Router) {
	r.Get("/", h.GetDashboard)
	r.Get("/stats", h.GetStats)
	r.Get("/map", h.GetMap)
	r.Get("/birthdays", h.GetBirthdays)
}

func (h *HandlerImpl) start(r *http.Request, name, route string) (*http.Request, trace.Span, *session.Session, bool) {
	ctx, span := otel.Tracer("DashboardHandler").Start(r.Context(), name, trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String(route),
	))
	sess, ok := session.FromContext(ctx)
	if !ok || sess.User() == nil {
		return r.WithContext(ctx), span, nil, false
	}
	return r.WithContext(ctx), span, sess, true
}

// fail writes err and drops the session when the backend rejected its token.
func (h *HandlerImpl) fail(w http.ResponseWriter, r *http.Request, sess *session.Session, err error) {
	if supabase.StatusCode(err) == http.StatusUnauthorized {
		sess.Invalidate(r.Context())
	}
	api.RespondError(w, r, err)
}

// month reads ?mes=1..12; absent means the current month.
func month(r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("mes")
	if raw == "" {
		return 0, true
	}
	m, err := strconv.Atoi(raw)
	if err != nil || m < 1 || m > 12 {
		return 0, false
	}
	return m, true
}

// GetDashboard godoc
// @Summary      Dashboard
// @Description  Stats, map and birthdays in one response. A failing section carries its own error and leaves the others intact.
// @Tags         Dashboard
// @Produce      json
// @Param        mes query int false "Birthday month (1-12), defaults to the current month"
// @Success      200 {object} types.Dashboard
// @Router       /dashboard [get]
func (h *HandlerImpl) GetDashboard(w http.ResponseWriter, r *http.Request) {
	r, span, sess, ok := h.start(r, "GetDashboard", "/dashboard")
	defer span.End()
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	m, valid := month(r)
	if !valid {
		api.ErrorResponse(w, r, http.StatusBadRequest, "mes must be between 1 and 12")
		return
	}
	d := h.service.Dashboard(r.Context(), sess.Token(), m)
	if d.StatsError != "" || d.MapError != "" || d.BirthdaysError != "" {
		h.logger.WarnContext(r.Context(), "Dashboard served with failed sections",
			slog.String("stats_error", d.StatsError),
			slog.String("map_error", d.MapError),
			slog.String("birthdays_error", d.BirthdaysError))
	}
	api.WriteJSONResponse(w, r, http.StatusOK, d)
}

// GetStats godoc
// @Summary      Registry counters
// @Tags         Dashboard
// @Produce      json
// @Success      200 {object} types.Stats
// @Router       /dashboard/stats [get]
func (h *HandlerImpl) GetStats(w http.ResponseWriter, r *http.Request) {
	r, span, sess, ok := h.start(r, "GetStats", "/dashboard/stats")
	defer span.End()
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	stats, err := h.service.Stats(r.Context(), sess.Token())
	if err != nil {
		h.fail(w, r, sess, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, stats)
}

// GetMap godoc
// @Summary      Approved persons per location
// @Tags         Dashboard
// @Produce      json
// @Success      200 {array} types.LocationAggregate
// @Router       /dashboard/map [get]
func (h *HandlerImpl) GetMap(w http.ResponseWriter, r *http.Request) {
	r, span, sess, ok := h.start(r, "GetMap", "/dashboard/map")
	defer span.End()
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	locations, err := h.service.MapData(r.Context(), sess.Token())
	if err != nil {
		h.fail(w, r, sess, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, locations)
}

// GetBirthdays godoc
// @Summary      Birthdays of the month
// @Tags         Dashboard
// @Produce      json
// @Param        mes query int false "Month (1-12), defaults to the current month"
// @Success      200 {array} types.Person
// @Router       /dashboard/birthdays [get]
func (h *HandlerImpl) GetBirthdays(w http.ResponseWriter, r *http.Request) {
	r, span, sess, ok := h.start(r, "GetBirthdays", "/dashboard/birthdays")
	defer span.End()
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	m, valid := month(r)
	if !valid {
		api.ErrorResponse(w, r, http.StatusBadRequest, "mes must be between 1 and 12")
		return
	}
	persons, err := h.service.Birthdays(r.Context(), sess.Token(), m)
	if err != nil {
		h.fail(w, r, sess, err)
		return
	}
	if persons == nil {
		persons = []types.Person{}
	}
	api.WriteJSONResponse(w, r, http.StatusOK, persons)
}
