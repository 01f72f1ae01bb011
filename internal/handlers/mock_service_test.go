package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"powercal/internal/models"
	"powercal/internal/service"

	"github.com/gin-gonic/gin"
)

// ---- Service Mocks ----

type mockAuth struct {
	signUpID  int
	signUpErr error
	session   service.Session
	signInErr error
	identity  models.Identity
	parseErr  error

	lastUsername   string
	lastPassword   string
	lastParseToken string
}

func (m *mockAuth) SignUp(_ context.Context, username, password string) (int, error) {
	m.lastUsername, m.lastPassword = username, password
	return m.signUpID, m.signUpErr
}
func (m *mockAuth) SignIn(_ context.Context, username, password string) (service.Session, error) {
	m.lastUsername, m.lastPassword = username, password
	return m.session, m.signInErr
}
func (m *mockAuth) ParseToken(token string) (models.Identity, error) {
	m.lastParseToken = token
	return m.identity, m.parseErr
}
func (m *mockAuth) EnsureOperator(context.Context, string, string) (int, error) {
	return m.signUpID, m.signUpErr
}

type mockRegistry struct {
	mu   sync.Mutex
	rows []models.DeviceRow
}

func (m *mockRegistry) Observe(string) bool { return false }
func (m *mockRegistry) ApplyResult(string, string, string) (service.ResultChange, error) {
	return service.ResultChange{}, nil
}
func (m *mockRegistry) Devices() []models.DeviceRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.DeviceRow(nil), m.rows...)
}
func (m *mockRegistry) Device(id string) (models.DeviceRow, bool) {
	for _, r := range m.Devices() {
		if r.ID == id {
			return r, true
		}
	}
	return models.DeviceRow{}, false
}
func (m *mockRegistry) ResolveName(string) (string, bool) { return "", false }

type mockSuggestions struct {
	suggestion string
	found      bool
	navigated  string
	topics     []string

	lastText string
	lastDir  service.Direction
}

func (m *mockSuggestions) AddCategory(string) {}
func (m *mockSuggestions) AddAction(string, string) {}
func (m *mockSuggestions) AddAdHocTopic(string) {}
func (m *mockSuggestions) RemoveAdHocTopic(string) bool { return false }
func (m *mockSuggestions) Categories() []string { return nil }
func (m *mockSuggestions) Actions(string) []string { return nil }
func (m *mockSuggestions) AdHocTopics() []string { return m.topics }
func (m *mockSuggestions) Suggest(text string) (string, bool) {
	m.lastText = text
	return m.suggestion, m.found
}
func (m *mockSuggestions) Navigate(text string, dir service.Direction) string {
	m.lastText = text
	m.lastDir = dir
	return m.navigated
}

type mockCommands struct {
	res      service.CommandResult
	err      error
	lastText string
	lastCtx  context.Context
}

func (m *mockCommands) Submit(ctx context.Context, text string) (service.CommandResult, error) {
	m.lastText = text
	m.lastCtx = ctx
	return m.res, m.err
}

type mockEventLog struct {
	resp      []models.LogEvent
	err       error
	lastFrom  time.Time
	lastTo    time.Time
	lastType  string
	lastLimit int
}

func (m *mockEventLog) List(ctx context.Context, f service.LogFilter) ([]models.LogEvent, error) {
	m.lastFrom = f.From
	m.lastTo = f.To
	m.lastType = f.Type
	m.lastLimit = f.Limit
	return m.resp, m.err
}

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	h := NewHandler(s, nil, nil)
	gin.SetMode(gin.TestMode)
	return h.InitRoutes()
}

func authHeader(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}

func withAuth(req *http.Request) *http.Request {
	for k, vv := range authHeader("valid") {
		for _, v := range vv {
			req.Header.Add(k, v)
		}
	}
	return req
}
