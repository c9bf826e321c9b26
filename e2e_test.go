package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/FACorreiaa/person-registry/config"
	"github.com/FACorreiaa/person-registry/internal/container"
	"github.com/FACorreiaa/person-registry/internal/router"
	"github.com/FACorreiaa/person-registry/internal/session"
	"github.com/FACorreiaa/person-registry/internal/supabase/supabasetest"
	"github.com/FACorreiaa/person-registry/internal/types"
)

// testStack is the whole application wired against the in-memory backend.
type testStack struct {
	fake   *supabasetest.Server
	server *httptest.Server
}

func newTestStack(tb testing.TB) *testStack {
	tb.Helper()
	fake := supabasetest.New(tb)

	var cfg config.Config
	cfg.Mode = "development"
	cfg.Upstream.Timeout = 5 * time.Second
	cfg.Upstream.Bucket = "fotos_perfil"
	cfg.Upstream.Folder = "fotos_perfil"
	cfg.Upstream.AdminRole = "admin"
	cfg.Session.Backend = "memory"
	cfg.Session.TTL = time.Hour
	cfg.Storage.Backend = "supabase"
	cfg.Secrets.SupabaseURL = fake.URL
	cfg.Secrets.SupabaseAnonKey = supabasetest.AnonKey
	cfg.Secrets.SupabaseServiceRoleKey = supabasetest.ServiceKey

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := container.NewContainer(context.Background(), &cfg, logger)
	require.NoError(tb, err)
	tb.Cleanup(c.Close)

	handler := router.SetupRouter(&router.Config{
		AuthHandler:      c.AuthHandler,
		PersonsHandler:   c.PersonsHandler,
		DashboardHandler: c.DashboardHandler,
		Sessions:         c.Sessions,
		Logger:           logger,
	})
	srv := httptest.NewServer(handler)
	tb.Cleanup(srv.Close)
	return &testStack{fake: fake, server: srv}
}

// browser is a cookie-keeping client that does not follow redirects.
type browser struct {
	tb     testing.TB
	base   string
	client *http.Client
}

func (s *testStack) browser(tb testing.TB) *browser {
	jar, err := cookiejar.New(nil)
	require.NoError(tb, err)
	return &browser{
		tb:   tb,
		base: s.server.URL + "/api/v1",
		client: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (b *browser) do(method, path, contentType string, body io.Reader) *http.Response {
	b.tb.Helper()
	req, err := http.NewRequest(method, b.base+path, body)
	require.NoError(b.tb, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := b.client.Do(req)
	require.NoError(b.tb, err)
	return resp
}

// send is do with the body closed at the end of the test.
func (b *browser) send(method, path, contentType string, body io.Reader) *http.Response {
	b.tb.Helper()
	resp := b.do(method, path, contentType, body)
	b.tb.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (b *browser) json(method, path string, in, out any) int {
	b.tb.Helper()
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		require.NoError(b.tb, err)
		body = bytes.NewReader(raw)
	}
	resp := b.do(method, path, "application/json", body)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(b.tb, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (b *browser) login(email, password string) {
	b.tb.Helper()
	status := b.json(http.MethodPost, "/auth/login", types.LoginRequest{Email: email, Password: password}, nil)
	require.Equal(b.tb, http.StatusOK, status)
}

// E2ETestSuite drives the registry workflows through the HTTP surface.
type E2ETestSuite struct {
	suite.Suite
	stack *testStack
	admin *browser
	clerk *browser
}

func (s *E2ETestSuite) SetupTest() {
	s.stack = newTestStack(s.T())
	s.stack.fake.AddUser("admin@example.com", "admin-pass", "admin")
	s.stack.fake.AddUser("clerk@example.com", "clerk-pass", types.DefaultRole)
	s.admin = s.stack.browser(s.T())
	s.clerk = s.stack.browser(s.T())
}

func TestE2ETestSuite(t *testing.T) {
	suite.Run(t, new(E2ETestSuite))
}

func (s *E2ETestSuite) TestAnonymousIsSentToLogin() {
	resp := s.clerk.send(http.MethodGet, "/persons", "", nil)
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal(session.LoginPath, resp.Header.Get("Location"))
	s.Equal("no-store", resp.Header.Get("Cache-Control"))
}

func (s *E2ETestSuite) TestRegistrationApprovalWorkflow() {
	s.clerk.login("clerk@example.com", "clerk-pass")

	// Create with a photo.
	var form bytes.Buffer
	mw := multipart.NewWriter(&form)
	s.Require().NoError(mw.WriteField("person", `{"nome_completo":"Maria da Silva","email":"maria@example.com","cargo_funcao":"Engenheira","latitude":-23.5512,"longitude":-46.6331,"data_nascimento":"1990-`+fmt.Sprintf("%02d", int(time.Now().Month()))+`-15"}`))
	fw, err := mw.CreateFormFile("photo", "maria.png")
	s.Require().NoError(err)
	_, _ = fw.Write([]byte("png-bytes"))
	s.Require().NoError(mw.Close())

	resp := s.clerk.send(http.MethodPost, "/persons", mw.FormDataContentType(), &form)
	s.Require().Equal(http.StatusCreated, resp.StatusCode)
	var created types.CreatePersonResponse
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&created))
	s.Empty(created.Warning)
	p := created.Person
	s.Equal(types.ApprovalPending, p.ApprovalStatus)
	s.Equal(types.StatusActive, p.Status)
	s.Require().NotNil(p.PhotoURL)
	s.Require().NotNil(p.CreatorID)

	photo, err := http.Get(*p.PhotoURL)
	s.Require().NoError(err)
	defer photo.Body.Close()
	got, _ := io.ReadAll(photo.Body)
	s.Equal("png-bytes", string(got))

	// Listing and filtering.
	var listed []types.Person
	s.Equal(http.StatusOK, s.clerk.json(http.MethodGet, "/persons?nome=silva&status_aprovacao=Pendente", nil, &listed))
	s.Len(listed, 1)

	// Clerks cannot decide.
	resp = s.clerk.send(http.MethodPost, "/admin/persons/"+p.ID+"/approve", "", nil)
	s.Equal(http.StatusFound, resp.StatusCode)
	s.Equal(session.HomePath, resp.Header.Get("Location"))

	// Nor smuggle approval columns into an update.
	s.Equal(http.StatusBadRequest, s.clerk.json(http.MethodPatch, "/persons/"+p.ID, map[string]any{"status_aprovacao": "Aprovado"}, nil))

	// Admin approves.
	s.admin.login("admin@example.com", "admin-pass")
	var approved types.Person
	s.Require().Equal(http.StatusOK, s.admin.json(http.MethodPost, "/admin/persons/"+p.ID+"/approve", nil, &approved))
	s.Equal(types.ApprovalApproved, approved.ApprovalStatus)
	s.Require().NotNil(approved.ApproverID)
	s.Require().NotNil(approved.ApprovedAt)

	// Dashboard reflects the decision.
	var d types.Dashboard
	s.Require().Equal(http.StatusOK, s.clerk.json(http.MethodGet, "/dashboard", nil, &d))
	s.Require().NotNil(d.Stats)
	s.EqualValues(1, d.Stats.Total)
	s.EqualValues(1, d.Stats.Approved)
	s.EqualValues(0, d.Stats.Pending)
	s.Equal([]types.LocationAggregate{{Latitude: -23.55, Longitude: -46.63, Quantity: 1}}, d.Locations)
	s.Len(d.Birthdays, 1)

	// Edit, then delete.
	var updated types.Person
	s.Require().Equal(http.StatusOK, s.clerk.json(http.MethodPatch, "/persons/"+p.ID, map[string]any{"status": "Inativo"}, &updated))
	s.Equal(types.StatusInactive, updated.Status)
	s.Equal(types.ApprovalApproved, updated.ApprovalStatus)

	s.Equal(http.StatusNoContent, s.clerk.json(http.MethodDelete, "/persons/"+p.ID, nil, nil))
	s.Equal(http.StatusNotFound, s.clerk.json(http.MethodGet, "/persons/"+p.ID, nil, nil))
	s.Equal(1, s.stack.fake.ObjectCount(), "photos of deleted persons are kept")
}

func (s *E2ETestSuite) TestPhotoReplacement() {
	s.clerk.login("clerk@example.com", "clerk-pass")
	var created types.CreatePersonResponse
	s.Require().Equal(http.StatusCreated, s.clerk.json(http.MethodPost, "/persons",
		map[string]any{"nome_completo": "Ana", "email": "ana@example.com"}, &created))
	id := created.Person.ID

	upload := func(content string) types.Person {
		var form bytes.Buffer
		mw := multipart.NewWriter(&form)
		fw, err := mw.CreateFormFile("photo", "ana.jpg")
		s.Require().NoError(err)
		_, _ = fw.Write([]byte(content))
		s.Require().NoError(mw.Close())
		resp := s.clerk.send(http.MethodPut, "/persons/"+id+"/photo", mw.FormDataContentType(), &form)
		s.Require().Equal(http.StatusOK, resp.StatusCode)
		var p types.Person
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&p))
		return p
	}

	first := upload("first")
	s.Require().NotNil(first.PhotoURL)
	time.Sleep(2 * time.Millisecond) // object names carry a millisecond timestamp
	second := upload("second")
	s.Require().NotNil(second.PhotoURL)
	s.NotEqual(*first.PhotoURL, *second.PhotoURL)
	s.Equal(1, s.stack.fake.ObjectCount(), "the previous photo is removed")

	var cleared types.Person
	s.Require().Equal(http.StatusOK, s.clerk.json(http.MethodDelete, "/persons/"+id+"/photo", nil, &cleared))
	s.Nil(cleared.PhotoURL)
	s.Equal(0, s.stack.fake.ObjectCount())
}

func (s *E2ETestSuite) TestRevokedTokenEndsTheSession() {
	s.clerk.login("clerk@example.com", "clerk-pass")
	s.stack.fake.Fail(supabasetest.PathHasPrefix("/rest/v1/pessoas"), http.StatusUnauthorized, `{"message":"JWT expired"}`)

	var body types.Response
	resp := s.clerk.send(http.MethodGet, "/persons", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Equal("JWT expired", body.Error)

	var state types.SessionState
	s.Equal(http.StatusOK, s.clerk.json(http.MethodGet, "/auth/session", nil, &state))
	s.Nil(state.User)

	resp = s.clerk.send(http.MethodGet, "/persons", "", nil)
	s.Equal(http.StatusFound, resp.StatusCode)
}

func (s *E2ETestSuite) TestLogout() {
	s.clerk.login("clerk@example.com", "clerk-pass")
	s.Equal(http.StatusOK, s.clerk.json(http.MethodPost, "/auth/logout", nil, nil))

	resp := s.clerk.send(http.MethodGet, "/dashboard/stats", "", nil)
	s.Equal(http.StatusFound, resp.StatusCode)
	s.True(strings.HasSuffix(resp.Header.Get("Location"), session.LoginPath))
}

func (s *E2ETestSuite) TestRejectedDecisionKeepsBackendMessage() {
	s.admin.login("admin@example.com", "admin-pass")
	var created types.CreatePersonResponse
	s.Require().Equal(http.StatusCreated, s.admin.json(http.MethodPost, "/persons",
		map[string]any{"nome_completo": "Ana", "email": "ana@example.com"}, &created))

	s.stack.fake.Fail(func(r *http.Request) bool {
		return r.Method == http.MethodPatch && r.Header.Get("apikey") == supabasetest.ServiceKey
	}, http.StatusForbidden, `{"message":"permission denied for column status_aprovacao"}`)

	var body types.Response
	resp := s.admin.send(http.MethodPost, "/admin/persons/"+created.Person.ID+"/reject", "", nil)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(&body))
	s.Equal("permission denied for column status_aprovacao", body.Error)
}
