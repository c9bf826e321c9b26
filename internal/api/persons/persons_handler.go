package persons

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/person-registry/internal/api"
	"github.com/FACorreiaa/person-registry/internal/session"
	"github.com/FACorreiaa/person-registry/internal/supabase"
	"github.com/FACorreiaa/person-registry/internal/types"
)

const (
	maxPhotoBytes = 5 << 20
	// maxFormBytes leaves room for the other form fields.
	maxFormBytes = maxPhotoBytes + 1<<20
)

type HandlerImpl struct {
	service Service
	logger  *slog.Logger
}

func NewHandlerImpl(service Service, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{service: service, logger: logger}
}

// Routes mounts the person endpoints available to any authenticated user.
func (h *HandlerImpl) Routes(r chi.Router) {
	r.Get("/", h.ListPersons)
	r.Post("/", h.CreatePerson)
	r.Get("/{id}", h.GetPerson)
	r.Patch("/{id}", h.UpdatePerson)
	r.Delete("/{id}", h.DeletePerson)
	r.Put("/{id}/photo", h.ReplacePhoto)
	r.Delete("/{id}/photo", h.RemovePhoto)
}

// AdminRoutes mounts the approval transitions.
func (h *HandlerImpl) AdminRoutes(r chi.Router) {
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/reject", h.Reject)
}

// caller returns the session installed by the session middleware.
func (h *HandlerImpl) caller(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok || sess.User() == nil {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return sess, true
}

// fail writes err and drops the session when the backend rejected its token.
func (h *HandlerImpl) fail(w http.ResponseWriter, r *http.Request, sess *session.Session, err error) {
	if supabase.StatusCode(err) == http.StatusUnauthorized && sess != nil {
		sess.Invalidate(r.Context())
	}
	api.RespondError(w, r, err)
}

func (h *HandlerImpl) span(r *http.Request, name, route string) (*http.Request, trace.Span) {
	ctx, span := otel.Tracer("PersonsHandler").Start(r.Context(), name, trace.WithAttributes(
		semconv.HTTPRequestMethodKey.String(r.Method),
		semconv.HTTPRouteKey.String(route),
	))
	return r.WithContext(ctx), span
}

// ListPersons godoc
// @Summary      List persons
// @Description  Lists registered persons ordered by name. All filters are optional and combined.
// @Tags         Persons
// @Produce      json
// @Param        nome              query string false "Name contains (case-insensitive)"
// @Param        status            query string false "Lifecycle status" Enums(Ativo, Inativo)
// @Param        cargo             query string false "Job title contains (case-insensitive)"
// @Param        status_aprovacao  query string false "Approval status" Enums(Pendente, Aprovado, Rejeitado)
// @Success      200 {array}  types.Person
// @Failure      401 {object} types.Response "Unauthorized"
// @Failure      500 {object} types.Response "Internal Server Error"
// @Router       /persons [get]
func (h *HandlerImpl) ListPersons(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "ListPersons", "/persons")
	defer span.End()

	sess, ok := h.caller(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	filters := types.PersonFilters{
		Name:           strings.TrimSpace(q.Get("nome")),
		Status:         types.LifecycleStatus(q.Get("status")),
		JobTitle:       strings.TrimSpace(q.Get("cargo")),
		ApprovalStatus: types.ApprovalStatus(q.Get("status_aprovacao")),
	}
	if filters.Status != "" && !filters.Status.Valid() {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid status filter")
		return
	}
	if filters.ApprovalStatus != "" && !filters.ApprovalStatus.Valid() {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Invalid approval status filter")
		return
	}

	persons, err := h.service.List(r.Context(), sess.Token(), filters)
	if err != nil {
		h.fail(w, r, sess, err)
		return
	}
	if persons == nil {
		persons = []types.Person{}
	}
	api.WriteJSONResponse(w, r, http.StatusOK, persons)
}

// GetPerson godoc
// @Summary      Get person
// @Tags         Persons
// @Produce      json
// @Param        id  path string true "Person ID"
// @Success      200 {object} types.Person
// @Failure      404 {object} types.Response "Not Found"
// @Router       /persons/{id} [get]
func (h *HandlerImpl) GetPerson(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "GetPerson", "/persons/{id}")
	defer span.End()

	sess, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), sess.Token(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, sess, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, p)
}

// CreatePerson godoc
// @Summary      Create person
// @Description  Creates a person pending approval. Accepts JSON, or multipart/form-data with a "person" JSON field and an optional "photo" file.
// @Tags         Persons
// @Accept       json,mpfd
// @Produce      json
// @Param        person body types.NewPerson true "Person"
// @Success      201 {object} types.CreatePersonResponse
// @Failure      400 {object} types.Response "Invalid Input"
// @Router       /persons [post]
func (h *HandlerImpl) CreatePerson(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "CreatePerson", "/persons")
	defer span.End()
	l := h.logger.With(slog.String("handler", "CreatePerson"))

	sess, ok := h.caller(w, r)
	if !ok {
		return
	}

	var (
		input types.NewPerson
		photo *types.PhotoFile
	)
	if isMultipart(r) {
		var err error
		input, photo, err = readPersonForm(w, r)
		if err != nil {
			l.WarnContext(r.Context(), "Invalid multipart body", slog.Any("error", err))
			api.RespondError(w, r, err)
			return
		}
	} else if err := api.DecodeJSONBody(w, r, &input); err != nil {
		api.RespondError(w, r, err)
		return
	}
	input.CreatorID = sess.User().ID

	created, err := h.service.CreateWithPhoto(r.Context(), sess.Token(), input, photo)
	var partial *PartialFailureError
	switch {
	case errors.As(err, &partial) && created != nil:
		api.WriteJSONResponse(w, r, http.StatusCreated, types.CreatePersonResponse{Person: created, Warning: partial.Error()})
	case err != nil:
		h.fail(w, r, sess, err)
	default:
		api.WriteJSONResponse(w, r, http.StatusCreated, types.CreatePersonResponse{Person: created})
	}
}

// UpdatePerson godoc
// @Summary      Update person
// @Description  Partially updates the editable columns. Approval, identity and audit columns are rejected.
// @Tags         Persons
// @Accept       json
// @Produce      json
// @Param        id     path string true "Person ID"
// @Param        update body types.NewPerson true "Columns to change"
// @Success      200 {object} types.Person
// @Failure      400 {object} types.Response "Invalid Input"
// @Failure      404 {object} types.Response "Not Found"
// @Router       /persons/{id} [patch]
func (h *HandlerImpl) UpdatePerson(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "UpdatePerson", "/persons/{id}")
	defer span.End()

	sess, ok := h.caller(w, r)
	if !ok {
		return
	}
	update := types.NewPersonUpdate()
	if err := api.DecodeJSONBody(w, r, update); err != nil {
		api.RespondError(w, r, err)
		return
	}
	p, err := h.service.Update(r.Context(), sess.Token(), chi.URLParam(r, "id"), update)
	if err != nil {
		h.fail(w, r, sess, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, p)
}

// DeletePerson godoc
// @Summary      Delete person
// @Tags         Persons
// @Param        id path string true "Person ID"
// @Success      204
// @Failure      404 {object} types.Response "Not Found"
// @Router       /persons/{id} [delete]
func (h *HandlerImpl) DeletePerson(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "DeletePerson", "/persons/{id}")
	defer span.End()

	sess, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), sess.Token(), chi.URLParam(r, "id")); err != nil {
		h.fail(w, r, sess, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusNoContent, nil)
}

// ReplacePhoto godoc
// @Summary      Replace profile photo
// @Tags         Persons
// @Accept       mpfd
// @Produce      json
// @Param        id    path     string true "Person ID"
// @Param        photo formData file   true "Photo"
// @Success      200 {object} types.Person
// @Failure      502 {object} types.Response "Storage failure"
// @Router       /persons/{id}/photo [put]
func (h *HandlerImpl) ReplacePhoto(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "ReplacePhoto", "/persons/{id}/photo")
	defer span.End()

	sess, ok := h.caller(w, r)
	if !ok {
		return
	}
	if err := parsePhotoForm(w, r); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			api.ErrorResponse(w, r, http.StatusRequestEntityTooLarge, "Photo is too large")
			return
		}
		api.ErrorResponse(w, r, http.StatusBadRequest, "Expected a multipart form with a photo")
		return
	}
	photo, err := readPhoto(r)
	if err != nil || photo == nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, "Photo is required")
		return
	}
	p, err := h.service.ReplacePhoto(r.Context(), sess.Token(), chi.URLParam(r, "id"), *photo)
	if err != nil {
		h.fail(w, r, sess, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, p)
}

// RemovePhoto godoc
// @Summary      Remove profile photo
// @Tags         Persons
// @Produce      json
// @Param        id path string true "Person ID"
// @Success      200 {object} types.Person
// @Router       /persons/{id}/photo [delete]
func (h *HandlerImpl) RemovePhoto(w http.ResponseWriter, r *http.Request) {
	r, span := h.span(r, "RemovePhoto", "/persons/{id}/photo")
	defer span.End()

	sess, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.service.RemovePhoto(r.Context(), sess.Token(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, sess, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, p)
}

// Approve godoc
// @Summary      Approve registration
// @Description  Admin only. Records the decision, the approver and the decision time.
// @Tags         Approval
// @Produce      json
// @Param        id path string true "Person ID"
// @Success      200 {object} types.Person
// @Failure      401 {object} types.Response "Service credentials missing"
// @Router       /admin/persons/{id}/approve [post]
func (h *HandlerImpl) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, types.ApprovalApproved, "/admin/persons/{id}/approve")
}

// Reject godoc
// @Summary      Reject registration
// @Description  Admin only. Records the decision, the approver and the decision time.
// @Tags         Approval
// @Produce      json
// @Param        id path string true "Person ID"
// @Success      200 {object} types.Person
// @Router       /admin/persons/{id}/reject [post]
func (h *HandlerImpl) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, types.ApprovalRejected, "/admin/persons/{id}/reject")
}

func (h *HandlerImpl) decide(w http.ResponseWriter, r *http.Request, decision types.ApprovalStatus, route string) {
	r, span := h.span(r, "SetApproval", route)
	defer span.End()

	sess, ok := h.caller(w, r)
	if !ok {
		return
	}
	p, err := h.service.SetApproval(r.Context(), chi.URLParam(r, "id"), decision, sess.User().ID)
	if err != nil {
		api.RespondError(w, r, err)
		return
	}
	api.WriteJSONResponse(w, r, http.StatusOK, p)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

// parsePhotoForm caps the body at maxFormBytes before parsing the form.
func parsePhotoForm(w http.ResponseWriter, r *http.Request) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	return r.ParseMultipartForm(maxPhotoBytes)
}

// readPersonForm reads the "person" JSON field and the optional "photo" file.
func readPersonForm(w http.ResponseWriter, r *http.Request) (types.NewPerson, *types.PhotoFile, error) {
	var input types.NewPerson
	if err := parsePhotoForm(w, r); err != nil {
		return input, nil, fmt.Errorf("%w: invalid multipart form: %v", types.ErrValidation, err)
	}
	dec := json.NewDecoder(strings.NewReader(r.FormValue("person")))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&input); err != nil {
		return input, nil, fmt.Errorf("%w: invalid person field: %v", types.ErrValidation, err)
	}
	photo, err := readPhoto(r)
	if err != nil {
		return input, nil, err
	}
	return input, photo, nil
}

// readPhoto returns the "photo" file of a parsed multipart form, or nil.
func readPhoto(r *http.Request) (*types.PhotoFile, error) {
	file, header, err := r.FormFile("photo")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: invalid photo: %v", types.ErrValidation, err)
	}
	defer file.Close()

	body, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read photo: %v", types.ErrValidation, err)
	}
	if len(body) > maxPhotoBytes {
		return nil, fmt.Errorf("%w: photo must not be larger than %d bytes", types.ErrValidation, maxPhotoBytes)
	}
	return &types.PhotoFile{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        int64(len(body)),
		Body:        body,
	}, nil
}
