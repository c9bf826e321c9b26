// Package supabasetest provides an in-memory stand-in for the hosted backend
// (auth, PostgREST 'pessoas' table, RPC and object storage) for tests.
package supabasetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/person-registry/internal/types"
)

const (
	AnonKey    = "anon-key"
	ServiceKey = "service-role-key"
)

// RecordedRequest is a request as seen by the fake.
type RecordedRequest struct {
	Method        string
	Path          string
	RawQuery      string
	APIKey        string
	Authorization string
	Prefer        string
}

type fakeUser struct {
	ID       string
	Email    string
	Password string
	Role     string
}

type failure struct {
	match  func(*http.Request) bool
	status int
	body   string
}

// Server is a fake hosted backend bound to an httptest.Server.
type Server struct {
	*httptest.Server

	// OmitAccessToken makes logins succeed without an access token.
	OmitAccessToken bool
	// RequireConfirmation makes signups answer without user details.
	RequireConfirmation bool
	// OmitRole makes auth responses omit the user role.
	OmitRole bool
	// Clock stamps created_at/updated_at.
	Clock func() time.Time

	mu       sync.Mutex
	users    map[string]*fakeUser // by email
	tokens   map[string]string    // access token -> user id
	rows     []map[string]any
	objects  map[string][]byte
	requests []RecordedRequest
	failures []failure
}

// New starts a fake backend closed at the end of the test.
func New(t testing.TB) *Server {
	s := &Server{
		Clock:   time.Now,
		users:   make(map[string]*fakeUser),
		tokens:  make(map[string]string),
		objects: make(map[string][]byte),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddUser registers a confirmed account and returns its id.
func (s *Server) AddUser(email, password, role string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &fakeUser{ID: uuid.NewString(), Email: email, Password: password, Role: role}
	s.users[email] = u
	return u.ID
}

// IssueToken returns a valid access token for the account.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		panic("supabasetest: unknown user " + email)
	}
	token := "access-" + uuid.NewString()
	s.tokens[token] = u.ID
	return token
}

// RevokeToken invalidates an access token.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// SeedPerson inserts a row bypassing the REST layer and returns it.
func (s *Server) SeedPerson(p types.Person) types.Person {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := s.Clock().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = now
	}
	if p.Status == "" {
		p.Status = types.StatusActive
	}
	if p.ApprovalStatus == "" {
		p.ApprovalStatus = types.ApprovalPending
	}
	row := toRow(p)
	s.rows = append(s.rows, row)
	return fromRow(row)
}

// Person returns the stored row for id.
func (s *Server) Person(id string) (types.Person, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row["id"] == id {
			return fromRow(row), true
		}
	}
	return types.Person{}, false
}

// PersonCount returns the number of stored rows.
func (s *Server) PersonCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Object returns a stored blob by "bucket/path".
func (s *Server) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[path]
	return b, ok
}

// ObjectCount returns the number of stored blobs.
func (s *Server) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Requests returns the requests received so far.
func (s *Server) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// Fail answers every request accepted by match with status and body.
func (s *Server) Fail(match func(*http.Request) bool, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{match: match, status: status, body: body})
}

// PathHasPrefix matches requests whose path starts with prefix.
func PathHasPrefix(prefix string) func(*http.Request) bool {
	return func(r *http.Request) bool { return strings.HasPrefix(r.URL.Path, prefix) }
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		RawQuery:      r.URL.RawQuery,
		APIKey:        r.Header.Get("apikey"),
		Authorization: r.Header.Get("Authorization"),
		Prefer:        r.Header.Get("Prefer"),
	})

	for _, f := range s.failures {
		if f.match(r) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.status)
			_, _ = io.WriteString(w, f.body)
			return
		}
	}

	// Public objects are plain URLs and carry no key.
	if strings.HasPrefix(r.URL.Path, "/storage/v1/object/public/") {
		s.handlePublicObject(w, r)
		return
	}

	apiKey := r.Header.Get("apikey")
	if apiKey != AnonKey && apiKey != ServiceKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Invalid API key"})
		return
	}

	switch {
	case r.URL.Path == "/auth/v1/token":
		s.handleToken(w, r)
	case r.URL.Path == "/auth/v1/signup":
		s.handleSignup(w, r)
	case r.URL.Path == "/auth/v1/logout":
		s.handleLogout(w, r)
	case r.URL.Path == "/auth/v1/user":
		s.handleUser(w, r)
	case r.URL.Path == "/rest/v1/pessoas":
		s.handlePersons(w, r)
	case r.URL.Path == "/rest/v1/rpc/obter_aniversariantes_mes":
		s.handleBirthdays(w, r)
	case strings.HasPrefix(r.URL.Path, "/storage/v1/object/"):
		s.handleObject(w, r)
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "not found"})
	}
}

// --- auth ---

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || r.URL.Query().Get("grant_type") != "password" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unsupported_grant_type"})
		return
	}
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	u, ok := s.users[body.Email]
	if !ok || u.Password != body.Password {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
		return
	}
	token := "access-" + uuid.NewString()
	s.tokens[token] = u.ID
	resp := map[string]any{
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": "refresh-" + uuid.NewString(),
		"user":          s.userJSON(u),
	}
	if !s.OmitAccessToken {
		resp["access_token"] = token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Email == "" || len(body.Password) < 6 {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"msg": "Password should be at least 6 characters"})
		return
	}
	if _, exists := s.users[body.Email]; exists {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"msg": "User already registered"})
		return
	}
	u := &fakeUser{ID: uuid.NewString(), Email: body.Email, Password: body.Password, Role: types.DefaultRole}
	s.users[body.Email] = u
	if s.RequireConfirmation {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": s.userJSON(u)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := bearer(r)
	if _, ok := s.tokens[token]; !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "invalid JWT"})
		return
	}
	delete(s.tokens, token)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	u := s.userByToken(bearer(r))
	if u == nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "invalid JWT"})
		return
	}
	writeJSON(w, http.StatusOK, s.userJSON(u))
}

func (s *Server) userJSON(u *fakeUser) map[string]any {
	out := map[string]any{"id": u.ID, "email": u.Email, "aud": "authenticated"}
	if !s.OmitRole {
		out["role"] = u.Role
	}
	return out
}

func (s *Server) userByToken(token string) *fakeUser {
	id, ok := s.tokens[token]
	if !ok {
		return nil
	}
	for _, u := range s.users {
		if u.ID == id {
			return u
		}
	}
	return nil
}

// caller classifies the bearer credential: "service", "user" or "".
func (s *Server) caller(r *http.Request) string {
	token := bearer(r)
	switch {
	case token == ServiceKey && r.Header.Get("apikey") == ServiceKey:
		return "service"
	case s.userByToken(token) != nil:
		return "user"
	default:
		return ""
	}
}

// --- rest ---

var approvalColumns = []string{"status_aprovacao", "aprovador_id", "data_aprovacao"}

func (s *Server) handlePersons(w http.ResponseWriter, r *http.Request) {
	caller := s.caller(r)
	if caller == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"code": "42501", "message": "permission denied for table pessoas"})
		return
	}
	q := r.URL.Query()
	representation := strings.Contains(r.Header.Get("Prefer"), "return=representation")

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		matched, err := s.filter(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		if strings.Contains(r.Header.Get("Prefer"), "count=exact") {
			if len(matched) == 0 {
				w.Header().Set("Content-Range", "*/0")
			} else {
				w.Header().Set("Content-Range", fmt.Sprintf("0-%d/%d", len(matched)-1, len(matched)))
			}
		}
		if order := q.Get("order"); order != "" {
			column := strings.SplitN(order, ".", 2)[0]
			sort.SliceStable(matched, func(i, j int) bool {
				return fmt.Sprint(matched[i][column]) < fmt.Sprint(matched[j][column])
			})
		}
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		writeJSON(w, http.StatusOK, project(matched, q.Get("select")))

	case http.MethodPost:
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid json"})
			return
		}
		for _, column := range []string{"nome_completo", "email"} {
			if v, _ := in[column].(string); v == "" {
				writeJSON(w, http.StatusBadRequest, map[string]any{
					"code":    "23502",
					"message": fmt.Sprintf("null value in column %q violates not-null constraint", column),
				})
				return
			}
		}
		if caller != "service" && in["status_aprovacao"] != nil && in["status_aprovacao"] != string(types.ApprovalPending) {
			writeJSON(w, http.StatusForbidden, map[string]any{"code": "42501", "message": "new row violates row-level security policy"})
			return
		}
		now := s.Clock().UTC().Format(time.RFC3339Nano)
		row := map[string]any{"status": string(types.StatusActive), "status_aprovacao": string(types.ApprovalPending)}
		for k, v := range in {
			row[k] = v
		}
		row["id"] = uuid.NewString()
		row["created_at"] = now
		row["updated_at"] = now
		s.rows = append(s.rows, row)
		if representation {
			writeJSON(w, http.StatusCreated, []map[string]any{row})
			return
		}
		w.WriteHeader(http.StatusCreated)

	case http.MethodPatch:
		var in map[string]any
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid json"})
			return
		}
		if caller != "service" {
			for _, column := range approvalColumns {
				if _, ok := in[column]; ok {
					writeJSON(w, http.StatusForbidden, map[string]any{"code": "42501", "message": "permission denied for column " + column})
					return
				}
			}
		}
		for _, column := range []string{"id", "created_at", "updated_at"} {
			delete(in, column)
		}
		matched, err := s.filter(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		now := s.Clock().UTC().Format(time.RFC3339Nano)
		for _, row := range matched {
			for k, v := range in {
				row[k] = v
			}
			row["updated_at"] = now
		}
		if representation {
			writeJSON(w, http.StatusOK, matched)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		matched, err := s.filter(q)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": err.Error()})
			return
		}
		kept := s.rows[:0]
		for _, row := range s.rows {
			if !containsRow(matched, row) {
				kept = append(kept, row)
			}
		}
		s.rows = kept
		if representation {
			writeJSON(w, http.StatusOK, matched)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBirthdays(w http.ResponseWriter, r *http.Request) {
	if s.caller(r) == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "permission denied"})
		return
	}
	var body struct {
		Month int `json:"p_mes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Month < 1 || body.Month > 12 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"message": "invalid p_mes"})
		return
	}
	out := []map[string]any{}
	for _, row := range s.rows {
		birth, _ := row["data_nascimento"].(string)
		if len(birth) < 7 {
			continue
		}
		if m, err := strconv.Atoi(birth[5:7]); err == nil && m == body.Month {
			out = append(out, row)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// filter applies the PostgREST operators used by the gateway.
func (s *Server) filter(q map[string][]string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(s.rows))
	for _, row := range s.rows {
		ok := true
		for column, values := range q {
			if column == "select" || column == "order" {
				continue
			}
			for _, expr := range values {
				match, err := evaluate(row[column], expr)
				if err != nil {
					return nil, err
				}
				ok = ok && match
			}
		}
		if ok {
			out = append(out, row)
		}
	}
	return out, nil
}

func evaluate(value any, expr string) (bool, error) {
	switch {
	case strings.HasPrefix(expr, "eq."):
		return value != nil && fmt.Sprint(value) == strings.TrimPrefix(expr, "eq."), nil
	case strings.HasPrefix(expr, "ilike."):
		pattern := strings.Trim(strings.TrimPrefix(expr, "ilike."), "%*")
		s, _ := value.(string)
		return value != nil && strings.Contains(strings.ToLower(s), strings.ToLower(pattern)), nil
	case expr == "is.null":
		return value == nil, nil
	case expr == "not.is.null":
		return value != nil, nil
	default:
		return false, fmt.Errorf("unsupported filter %q", expr)
	}
}

func project(rows []map[string]any, sel string) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	if sel == "" || sel == "*" {
		return append(out, rows...)
	}
	columns := strings.Split(sel, ",")
	for _, row := range rows {
		p := make(map[string]any, len(columns))
		for _, c := range columns {
			p[c] = row[c]
		}
		out = append(out, p)
	}
	return out
}

func containsRow(rows []map[string]any, row map[string]any) bool {
	for _, r := range rows {
		if r["id"] == row["id"] {
			return true
		}
	}
	return false
}

// --- storage ---

func (s *Server) handleObject(w http.ResponseWriter, r *http.Request) {
	if s.caller(r) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"statusCode": "403", "error": "Unauthorized", "message": "invalid signature"})
		return
	}
	path := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/")
	switch r.Method {
	case http.MethodPost:
		b, _ := io.ReadAll(r.Body)
		if len(b) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "empty body"})
			return
		}
		if _, exists := s.objects[path]; exists && r.Header.Get("x-upsert") != "true" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"statusCode": "409", "error": "Duplicate", "message": "The resource already exists"})
			return
		}
		s.objects[path] = b
		writeJSON(w, http.StatusOK, map[string]any{"Key": path})
	case http.MethodDelete:
		if _, ok := s.objects[path]; !ok {
			writeJSON(w, http.StatusBadRequest, map[string]any{"statusCode": "404", "error": "not_found", "message": "Object not found"})
			return
		}
		delete(s.objects, path)
		writeJSON(w, http.StatusOK, map[string]any{"message": "Successfully deleted"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePublicObject(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/storage/v1/object/public/")
	b, ok := s.objects[path]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "Object not found"})
		return
	}
	_, _ = w.Write(b)
}

// --- helpers ---

func bearer(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func toRow(p types.Person) map[string]any {
	b, _ := json.Marshal(p)
	var row map[string]any
	_ = json.Unmarshal(b, &row)
	return row
}

func fromRow(row map[string]any) types.Person {
	b, _ := json.Marshal(row)
	var p types.Person
	_ = json.Unmarshal(b, &p)
	return p
}
