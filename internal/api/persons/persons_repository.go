package persons

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/types"
)

const (
	personsPath   = "/rest/v1/pessoas"
	birthdaysPath = "/rest/v1/rpc/obter_aniversariantes_mes"
)

var _ Repository = (*RepositoryImpl)(nil)

// Repository is the data access of the 'pessoas' collection. token is the
// caller's access token.
type Repository interface {
	List(ctx context.Context, token string, filters types.PersonFilters) ([]types.Person, error)
	GetByID(ctx context.Context, token, id string) (*types.Person, error)
	Create(ctx context.Context, token string, p types.NewPerson) (*types.Person, error)
	Update(ctx context.Context, token, id string, u *types.PersonUpdate) (*types.Person, error)
	Delete(ctx context.Context, token, id string) (*types.Person, error)
	// SetApproval runs with the service role and never with a user token.
	SetApproval(ctx context.Context, id string, change types.ApprovalChange) (*types.Person, error)
	Count(ctx context.Context, token, column, value string) (int64, error)
	ApprovedCoordinates(ctx context.Context, token string) ([]types.GeoPoint, error)
	BirthdaysOfMonth(ctx context.Context, token string, month int) ([]types.Person, error)
}

type RepositoryImpl struct {
	sb     *supabase.Client
	logger *slog.Logger
}

func NewRepositoryImpl(sb *supabase.Client, logger *slog.Logger) *RepositoryImpl {
	return &RepositoryImpl{sb: sb, logger: logger}
}

func representation() http.Header {
	return http.Header{"Prefer": {"return=representation"}}
}

func byID(id string) url.Values {
	return url.Values{"id": {"eq." + id}}
}

func (r *RepositoryImpl) start(ctx context.Context, method string, attrs ...attribute.KeyValue) (context.Context, trace.Span, *slog.Logger) {
	ctx, span := otel.Tracer("PersonsRepository").Start(ctx, method, trace.WithAttributes(attrs...))
	return ctx, span, r.logger.With(slog.String("method", method))
}

func (r *RepositoryImpl) List(ctx context.Context, token string, filters types.PersonFilters) ([]types.Person, error) {
	ctx, span, l := r.start(ctx, "List")
	defer span.End()

	q := url.Values{"select": {"*"}, "order": {"nome_completo.asc"}}
	if filters.Name != "" {
		q.Set("nome_completo", "ilike.%"+filters.Name+"%")
	}
	if filters.Status != "" {
		q.Set("status", "eq."+string(filters.Status))
	}
	if filters.JobTitle != "" {
		q.Set("cargo_funcao", "ilike.%"+filters.JobTitle+"%")
	}
	if filters.ApprovalStatus != "" {
		q.Set("status_aprovacao", "eq."+string(filters.ApprovalStatus))
	}

	var persons []types.Person
	if err := r.fetch(ctx, token, q, &persons); err != nil {
		l.ErrorContext(ctx, "Failed to list persons", slog.Any("error", err))
		return nil, fail(span, err, "List failed")
	}
	span.SetAttributes(attribute.Int("persons.count", len(persons)))
	span.SetStatus(codes.Ok, "")
	return persons, nil
}

func (r *RepositoryImpl) GetByID(ctx context.Context, token, id string) (*types.Person, error) {
	ctx, span, _ := r.start(ctx, "GetByID", attribute.String("person.id", id))
	defer span.End()

	q := byID(id)
	q.Set("select", "*")
	var persons []types.Person
	if err := r.fetch(ctx, token, q, &persons); err != nil {
		return nil, fail(span, err, "Get failed")
	}
	return single(span, persons, id)
}

func (r *RepositoryImpl) Create(ctx context.Context, token string, p types.NewPerson) (*types.Person, error) {
	ctx, span, l := r.start(ctx, "Create")
	defer span.End()

	if err := p.Validate(); err != nil {
		return nil, fail(span, err, "Invalid person")
	}
	resp, err := r.sb.Do(ctx, supabase.Request{
		Method: http.MethodPost,
		Path:   personsPath,
		Header: representation(),
		JSON:   p.WithDefaults(),
		Token:  token,
	})
	if err != nil {
		l.ErrorContext(ctx, "Failed to create person", slog.Any("error", err))
		return nil, fail(span, classify(err), "Create failed")
	}
	var persons []types.Person
	if err := resp.Decode(&persons); err != nil {
		return nil, fail(span, err, "Decode failed")
	}
	if len(persons) == 0 {
		return nil, fail(span, errors.New("create returned no row"), "Create failed")
	}
	l.InfoContext(ctx, "Person created", slog.String("personID", persons[0].ID))
	span.SetStatus(codes.Ok, "")
	return &persons[0], nil
}

func (r *RepositoryImpl) Update(ctx context.Context, token, id string, u *types.PersonUpdate) (*types.Person, error) {
	ctx, span, _ := r.start(ctx, "Update", attribute.String("person.id", id))
	defer span.End()

	if err := u.Validate(); err != nil {
		return nil, fail(span, err, "Invalid update")
	}
	return r.patch(ctx, span, supabase.Request{
		Method: http.MethodPatch,
		Path:   personsPath,
		Query:  byID(id),
		Header: representation(),
		JSON:   u,
		Token:  token,
	}, id)
}

func (r *RepositoryImpl) Delete(ctx context.Context, token, id string) (*types.Person, error) {
	ctx, span, _ := r.start(ctx, "Delete", attribute.String("person.id", id))
	defer span.End()

	return r.patch(ctx, span, supabase.Request{
		Method: http.MethodDelete,
		Path:   personsPath,
		Query:  byID(id),
		Header: representation(),
		Token:  token,
	}, id)
}

func (r *RepositoryImpl) SetApproval(ctx context.Context, id string, change types.ApprovalChange) (*types.Person, error) {
	ctx, span, l := r.start(ctx, "SetApproval",
		attribute.String("person.id", id),
		attribute.String("approval.status", string(change.Status)))
	defer span.End()

	if !change.Status.IsDecision() {
		return nil, fail(span, fmt.Errorf("%w: approval decision must be %s or %s",
			types.ErrValidation, types.ApprovalApproved, types.ApprovalRejected), "Invalid decision")
	}
	if change.ApproverID == "" {
		return nil, fail(span, fmt.Errorf("%w: approver is required", types.ErrValidation), "Invalid decision")
	}
	if change.ApprovedAt.IsZero() {
		change.ApprovedAt = time.Now().UTC()
	}

	p, err := r.patch(ctx, span, supabase.Request{
		Method:     http.MethodPatch,
		Path:       personsPath,
		Query:      byID(id),
		Header:     representation(),
		JSON:       change,
		Privileged: true,
	}, id)
	if err != nil {
		return nil, err
	}
	l.InfoContext(ctx, "Approval decision recorded",
		slog.String("personID", id),
		slog.String("decision", string(change.Status)),
		slog.String("approverID", change.ApproverID))
	return p, nil
}

func (r *RepositoryImpl) Count(ctx context.Context, token, column, value string) (int64, error) {
	ctx, span, _ := r.start(ctx, "Count", attribute.String("count.column", column))
	defer span.End()

	q := url.Values{"select": {"id"}}
	if column != "" {
		q.Set(column, "eq."+value)
	}
	resp, err := r.sb.Do(ctx, supabase.Request{
		Method: http.MethodHead,
		Path:   personsPath,
		Query:  q,
		Header: http.Header{"Prefer": {"count=exact"}},
		Token:  token,
	})
	if err != nil {
		return 0, fail(span, classify(err), "Count failed")
	}
	n, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return 0, fail(span, err, "Count failed")
	}
	return n, nil
}

func (r *RepositoryImpl) ApprovedCoordinates(ctx context.Context, token string) ([]types.GeoPoint, error) {
	ctx, span, _ := r.start(ctx, "ApprovedCoordinates")
	defer span.End()

	q := url.Values{
		"select":           {"latitude,longitude"},
		"status_aprovacao": {"eq." + string(types.ApprovalApproved)},
		"latitude":         {"not.is.null"},
		"longitude":        {"not.is.null"},
	}
	var rows []struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := r.fetch(ctx, token, q, &rows); err != nil {
		return nil, fail(span, err, "Coordinates failed")
	}
	points := make([]types.GeoPoint, 0, len(rows))
	for _, row := range rows {
		if row.Latitude == nil || row.Longitude == nil {
			continue
		}
		points = append(points, types.GeoPoint{Latitude: *row.Latitude, Longitude: *row.Longitude})
	}
	return points, nil
}

func (r *RepositoryImpl) BirthdaysOfMonth(ctx context.Context, token string, month int) ([]types.Person, error) {
	ctx, span, _ := r.start(ctx, "BirthdaysOfMonth", attribute.Int("month", month))
	defer span.End()

	if month < 1 || month > 12 {
		return nil, fail(span, fmt.Errorf("%w: month must be between 1 and 12", types.ErrValidation), "Invalid month")
	}
	resp, err := r.sb.Do(ctx, supabase.Request{
		Method: http.MethodPost,
		Path:   birthdaysPath,
		JSON:   map[string]int{"p_mes": month},
		Token:  token,
	})
	if err != nil {
		return nil, fail(span, classify(err), "Birthdays failed")
	}
	var persons []types.Person
	if err := resp.Decode(&persons); err != nil {
		return nil, fail(span, err, "Decode failed")
	}
	return persons, nil
}

func (r *RepositoryImpl) fetch(ctx context.Context, token string, q url.Values, dst any) error {
	resp, err := r.sb.Do(ctx, supabase.Request{
		Method: http.MethodGet,
		Path:   personsPath,
		Query:  q,
		Token:  token,
	})
	if err != nil {
		return classify(err)
	}
	return resp.Decode(dst)
}

// patch sends a row-returning write and expects exactly the row id.
func (r *RepositoryImpl) patch(ctx context.Context, span trace.Span, req supabase.Request, id string) (*types.Person, error) {
	resp, err := r.sb.Do(ctx, req)
	if err != nil {
		return nil, fail(span, classify(err), req.Method+" failed")
	}
	var persons []types.Person
	if err := resp.Decode(&persons); err != nil {
		return nil, fail(span, err, "Decode failed")
	}
	return single(span, persons, id)
}

func single(span trace.Span, persons []types.Person, id string) (*types.Person, error) {
	if len(persons) == 0 {
		return nil, fail(span, fmt.Errorf("%w: person %s", types.ErrNotFound, id), "Not found")
	}
	span.SetStatus(codes.Ok, "")
	return &persons[0], nil
}

func fail(span trace.Span, err error, msg string) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)
	return err
}

// classify tags rejected credentials with ErrAuth.
func classify(err error) error {
	switch supabase.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %w", types.ErrAuth, err)
	default:
		return err
	}
}

// parseContentRange reads the total of "0-9/42" or "*/0".
func parseContentRange(header string) (int64, error) {
	_, total, ok := strings.Cut(header, "/")
	if !ok || total == "*" {
		return 0, fmt.Errorf("missing count in Content-Range %q", header)
	}
	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid Content-Range %q: %w", header, err)
	}
	return n, nil
}
