package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/sponsor/internal/api"
	"github.com/charlesng35/sponsor/internal/app"
	iauth "github.com/charlesng35/sponsor/internal/auth"
	"github.com/charlesng35/sponsor/internal/handlers/testutil"
	"github.com/charlesng35/sponsor/internal/models"
	"github.com/charlesng35/sponsor/internal/relay"
)

type relayFixture struct {
	registry *testutil.Env
	relay    http.Handler
	server   *httptest.Server
}

// relayCaller is the authenticated principal driving the relay in tests.
const relayCaller = "ops"

func newRelayFixture(t *testing.T, principal string, allowed ...string) *relayFixture {
	t.Helper()

	env := testutil.NewEnv(t)
	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	cfg := &app.Config{Relay: app.RelayConfig{
		Principal:      principal,
		AllowedCallers: allowed,
		Targets: map[string]string{
			"primary": srv.URL,
			"offline": deadURL,
		},
	}}

	client, err := relay.NewClient(env.JWT, principal, relay.WithTimeout(2*time.Second))
	require.NoError(t, err)

	router, err := api.NewRelayRouter(env.JWT, client, cfg)
	require.NoError(t, err)

	return &relayFixture{registry: env, relay: router, server: srv}
}

func (f *relayFixture) post(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	return f.postAs(t, relayCaller, path)
}

// postAs calls the relay as principal; an empty principal sends no token.
func (f *relayFixture) postAs(t *testing.T, principal, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, nil)
	if principal != "" {
		req.Header.Set("Authorization", "Bearer "+f.registry.Token(principal))
	}
	w := httptest.NewRecorder()
	f.relay.ServeHTTP(w, req)
	return w
}

func TestRelay_VerifyRemoteControl(t *testing.T) {
	anon := newRelayFixture(t, "svc-A")
	w := anon.post(t, "/api/relay/primary/verify")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `{"target":"primary","controller":false}`, string(testutil.DecodeResponse(t, w).Data))

	admin := newRelayFixture(t, testutil.Controller)
	w = admin.post(t, "/api/relay/primary/verify")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.JSONEq(t, `{"target":"primary","controller":true}`, string(testutil.DecodeResponse(t, w).Data))
}

func TestRelay_TransportFailureIsSurfaced(t *testing.T) {
	f := newRelayFixture(t, "svc-A")

	for _, path := range []string{"/api/relay/offline/verify", "/api/relay/offline/usage/gpu-quota"} {
		w := f.post(t, path)
		require.Equal(t, http.StatusBadGateway, w.Code, path)
		require.Equal(t, "TRANSPORT_FAILURE", testutil.DecodeResponse(t, w).Error.Code)
	}

	w := f.post(t, "/api/relay/elsewhere/verify")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRelay_UsageLogOnBehalfOfManager(t *testing.T) {
	f := newRelayFixture(t, "svc-A")
	env := f.registry
	ctx := context.Background()

	_, err := env.Registry.WhitelistParam(ctx, testutil.Controller, "team/gpu", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)

	// not yet trusted: the refusal is observed and discarded
	w := f.post(t, "/api/relay/primary/usage/team%2Fgpu")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	rec, err := env.Registry.GetParam(ctx, "team/gpu")
	require.NoError(t, err)
	require.Zero(t, rec.Count)

	require.NoError(t, env.Registry.EditManagerCanister(ctx, testutil.Controller, "svc-A", true))

	for i := 0; i < 2; i++ {
		env.Clock.Advance(time.Second)
		w = f.post(t, "/api/relay/primary/usage/team%2Fgpu")
		require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	}

	rec, err = env.Registry.GetParam(ctx, "team/gpu")
	require.NoError(t, err)
	require.Equal(t, uint32(2), rec.Count)
	require.Equal(t, uint64(env.Clock.Now().UnixNano()), rec.LastUse)
}

func TestRelay_RejectsAnonymousCallers(t *testing.T) {
	f := newRelayFixture(t, "svc-A")
	env := f.registry
	ctx := context.Background()

	_, err := env.Registry.WhitelistParam(ctx, testutil.Controller, "gpu-quota", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)
	require.NoError(t, env.Registry.EditManagerCanister(ctx, testutil.Controller, "svc-A", true))

	for _, path := range []string{"/api/relay/primary/verify", "/api/relay/primary/usage/gpu-quota"} {
		w := f.postAs(t, "", path)
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
		require.Equal(t, "UNAUTHORIZED", testutil.DecodeResponse(t, w).Error.Code)
	}

	rec, err := env.Registry.GetParam(ctx, "gpu-quota")
	require.NoError(t, err)
	require.Zero(t, rec.Count)
}

func TestRelay_AllowedCallers(t *testing.T) {
	f := newRelayFixture(t, "svc-A", relayCaller)
	env := f.registry
	ctx := context.Background()

	_, err := env.Registry.WhitelistParam(ctx, testutil.Controller, "gpu-quota", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)
	require.NoError(t, env.Registry.EditManagerCanister(ctx, testutil.Controller, "svc-A", true))

	w := f.postAs(t, "intruder", "/api/relay/primary/usage/gpu-quota")
	require.Equal(t, http.StatusForbidden, w.Code)
	require.Equal(t, "ACCESS_DENIED", testutil.DecodeResponse(t, w).Error.Code)

	w = f.post(t, "/api/relay/primary/usage/gpu-quota")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	rec, err := env.Registry.GetParam(ctx, "gpu-quota")
	require.NoError(t, err)
	require.Equal(t, uint32(1), rec.Count)
}

func TestRelay_MismatchedSecretIsTransportFailure(t *testing.T) {
	env := testutil.NewEnv(t)
	srv := httptest.NewServer(env.Router)
	t.Cleanup(srv.Close)

	ctx := context.Background()
	_, err := env.Registry.WhitelistParam(ctx, testutil.Controller, "gpu-quota", models.ParamRecord{IsWhitelisted: true})
	require.NoError(t, err)
	require.NoError(t, env.Registry.EditManagerCanister(ctx, testutil.Controller, "svc-A", true))

	wrong, err := iauth.NewJWTService(iauth.JWTConfig{Secret: "not-the-registry-secret", Issuer: testutil.JWTIssuer})
	require.NoError(t, err)
	client, err := relay.NewClient(wrong, "svc-A", relay.WithTimeout(2*time.Second))
	require.NoError(t, err)

	err = client.RelayUsageLog(ctx, srv.URL, "gpu-quota")
	require.ErrorIs(t, err, relay.ErrTransportFailure)
	_, err = client.VerifyRemoteControl(ctx, srv.URL)
	require.ErrorIs(t, err, relay.ErrTransportFailure)

	cfg := &app.Config{Relay: app.RelayConfig{Principal: "svc-A", Targets: map[string]string{"primary": srv.URL}}}
	router, err := api.NewRelayRouter(env.JWT, client, cfg)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/relay/primary/usage/gpu-quota", nil)
	req.Header.Set("Authorization", "Bearer "+env.Token(relayCaller))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	require.Equal(t, "TRANSPORT_FAILURE", testutil.DecodeResponse(t, w).Error.Code)

	rec, err := env.Registry.GetParam(ctx, "gpu-quota")
	require.NoError(t, err)
	require.Zero(t, rec.Count)
}

func TestRelay_GreetAndWhoAmI(t *testing.T) {
	f := newRelayFixture(t, "svc-A")

	w := httptest.NewRecorder()
	f.relay.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/greet?name=sponsor", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"message":"Hello, sponsor!"}`, string(testutil.DecodeResponse(t, w).Data))

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+f.registry.Token("ops"))
	w = httptest.NewRecorder()
	f.relay.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"principal":"ops","relay":"svc-A"}`, string(testutil.DecodeResponse(t, w).Data))

	w = httptest.NewRecorder()
	f.relay.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/targets", nil))
	require.JSONEq(t, `{"targets":["offline","primary"]}`, string(testutil.DecodeResponse(t, w).Data))
}
