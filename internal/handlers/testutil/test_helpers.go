package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/sponsor/internal/api"
	"github.com/charlesng35/sponsor/internal/app"
	iauth "github.com/charlesng35/sponsor/internal/auth"
	sharedtestutil "github.com/charlesng35/sponsor/internal/database/testutil"
	"github.com/charlesng35/sponsor/internal/models"
	"github.com/charlesng35/sponsor/internal/permissions"
	"github.com/charlesng35/sponsor/internal/security"
	"github.com/charlesng35/sponsor/internal/services"
	"github.com/charlesng35/sponsor/pkg/response"
)

const (
	// Controller is the administrator principal every Env recognises.
	Controller = "root-admin"
	// JWTSecret signs every token minted by an Env.
	JWTSecret = "test-suite-super-secret-key-32-bytes!!"
	// JWTIssuer is the issuer shared by Env tokens.
	JWTIssuer = "test-suite"
)

// Clock is a settable time source for the registry under test.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock to t, backwards included.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Env encapsulates a fully-wired registry API backed by an in-memory database for handler tests.
type Env struct {
	T        *testing.T
	DB       *gorm.DB
	Router   *gin.Engine
	JWT      *iauth.JWTService
	Registry *services.Registry
	Clock    *Clock
	Config   *app.Config
}

// NewEnv provisions a fresh handler test environment with migrations applied.
func NewEnv(t *testing.T) *Env {
	t.Helper()

	gin.SetMode(gin.TestMode)

	db := sharedtestutil.MustOpenTestDB(t, sharedtestutil.WithAutoMigrate())

	jwtSvc, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:   JWTSecret,
		Issuer:   JWTIssuer,
		TokenTTL: time.Hour,
	})
	require.NoError(t, err)

	cfg := &app.Config{
		Auth: app.AuthConfig{
			JWT: app.JWTSettings{Secret: JWTSecret, Issuer: JWTIssuer, TTL: time.Hour},
		},
		Sponsor: app.SponsorConfig{Controllers: []string{Controller}},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
		},
	}

	params, err := services.NewGormParamStore(db)
	require.NoError(t, err)
	state, err := services.NewSettingsAdminStateStore(db, cfg.Sponsor.AdminStateDefaults())
	require.NoError(t, err)
	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	authority := permissions.NewStaticAuthority(cfg.Sponsor.ControllerPrincipals())
	guard, err := permissions.NewGuard(authority)
	require.NoError(t, err)

	clock := &Clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	registry, err := services.NewRegistry(params, state, guard,
		services.WithClock(clock.Now),
		services.WithAuditService(audit),
		services.WithControllerLister(authority.Controllers),
	)
	require.NoError(t, err)

	router, err := api.NewRouter(db, jwtSvc, registry, security.NewAuditor(state, cfg), cfg)
	require.NoError(t, err)

	return &Env{
		T:        t,
		DB:       db,
		Router:   router,
		JWT:      jwtSvc,
		Registry: registry,
		Clock:    clock,
		Config:   cfg,
	}
}

// Token mints an identity token for principal.
func (e *Env) Token(principal string) string {
	e.T.Helper()
	token, err := e.JWT.IssueIdentityToken(iauth.IdentityTokenInput{Principal: principal})
	require.NoError(e.T, err)
	return token
}

// APIResponse represents the canonical API envelope returned by handlers.
type APIResponse struct {
	Success bool                `json:"success"`
	Data    json.RawMessage     `json:"data"`
	Error   *response.ErrorInfo `json:"error"`
	Meta    *response.Meta      `json:"meta"`
}

// DecodeResponse parses the standard API response object from a recorder.
func DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

// DecodeInto unmarshals the data payload into the provided destination.
func DecodeInto[T any](t *testing.T, raw json.RawMessage, dest *T) {
	t.Helper()
	if dest == nil {
		t.Fatal("destination must not be nil")
	}
	require.NoError(t, json.Unmarshal(raw, dest))
}

// ParamPayload mirrors {"param": ParamRecord|null}.
type ParamPayload struct {
	Param *models.ParamRecord `json:"param"`
}

// Request executes an HTTP request against the test router, applying JSON encoding and auth headers automatically.
// An empty token sends the request anonymously.
func (e *Env) Request(method, path string, body any, token string) *httptest.ResponseRecorder {
	e.T.Helper()

	var buf *bytes.Buffer
	switch v := body.(type) {
	case nil:
		buf = bytes.NewBuffer(nil)
	case string:
		buf = bytes.NewBufferString(v)
	default:
		data, err := json.Marshal(body)
		require.NoError(e.T, err)
		buf = bytes.NewBuffer(data)
	}

	req, err := http.NewRequest(method, path, buf)
	require.NoError(e.T, err)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.Router.ServeHTTP(w, req)
	return w
}

// As is a shorthand for a request made by principal.
func (e *Env) As(principal, method, path string, body any) *httptest.ResponseRecorder {
	e.T.Helper()
	return e.Request(method, path, body, e.Token(principal))
}
