package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roelfdiedericks/wabridge/internal/activity"
	"github.com/roelfdiedericks/wabridge/internal/automation"
	"github.com/roelfdiedericks/wabridge/internal/browser/browsertest"
	"github.com/roelfdiedericks/wabridge/internal/sessions"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testKey = "s3cret"

type fixture struct {
	handler  http.Handler
	registry *sessions.Registry
	factory  *browsertest.Factory
}

func newFixture(t *testing.T, inbox browsertest.InboxOptions, tweak func(*ServerConfig)) *fixture {
	t.Helper()
	factory := browsertest.NewFactory(t.TempDir(), func(string) *browsertest.Page {
		return browsertest.NewInbox(inbox).Page
	})
	promReg := prometheus.NewRegistry()
	reg, err := sessions.New(sessions.Options{
		Factory: factory,
		Engine: automation.NewEngine(automation.Timeouts{
			ClickAttempt:          200 * time.Millisecond,
			Poll:                  10 * time.Millisecond,
			OpenCompose:           300 * time.Millisecond,
			SelectNewConversation: 300 * time.Millisecond,
			ChooseCountryCode:     300 * time.Millisecond,
			FillPhoneNumber:       300 * time.Millisecond,
			FillMessage:           300 * time.Millisecond,
			Submit:                300 * time.Millisecond,
		}),
		Activity:       activity.NewScheduler(nil),
		RemoveProfiles: true,
		Registerer:     promReg,
	})
	require.NoError(t, err)

	hash, err := HashKey(testKey)
	require.NoError(t, err)
	cfg := &ServerConfig{APIKeys: []string{hash}, Gatherer: promReg}
	if tweak != nil {
		tweak(cfg)
	}
	srv, err := NewServer(cfg, reg)
	require.NoError(t, err)
	return &fixture{handler: srv.Handler(), registry: reg, factory: factory}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(APIKeyHeader, testKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/sessions", `{"cookie":"c_user=123;xs=abc;"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	id := decodeBody[createResponse](t, rec).SessionID
	require.NotEmpty(t, id)
	return id
}

const helloBody = `{"extension":"62","phoneNumber":"87769691301","message":"hello"}`

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, browsertest.InboxOptions{}, nil)
	id := f.create(t)

	rec := f.do(t, http.MethodGet, "/api/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]sessions.Info](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].SessionID)

	rec = f.do(t, http.MethodGet, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decodeBody[sessions.Detail](t, rec)
	assert.Equal(t, id, detail.SessionID)
	assert.NoError(t, detail.Fingerprint.Validate())

	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", helloBody)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[sendResponse](t, rec).Success)

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	del := decodeBody[destroyResponse](t, rec)
	assert.True(t, del.Removed)
	assert.Empty(t, del.ReleaseErrors)

	rec = f.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decodeBody[errorBody](t, rec).Kind)
}

func TestAutomationFailureResponse(t *testing.T) {
	f := newFixture(t, browsertest.InboxOptions{NewConversationText: "Email"}, nil)
	id := f.create(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", helloBody)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, "automation_failure", body.Kind)
	assert.Equal(t, 2, body.Step)
	assert.Equal(t, automation.StepSelectNewConversation, body.Name)
	require.NotNil(t, body.Diagnostics)
	assert.True(t, body.Diagnostics.DialogPresent)
}

func TestCrashResponse(t *testing.T) {
	f := newFixture(t, browsertest.InboxOptions{}, nil)
	id := f.create(t)
	f.factory.Handles(id).FakePage().Close()

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", helloBody)
	require.Equal(t, http.StatusGone, rec.Code)
	assert.Equal(t, "browser_crash", decodeBody[errorBody](t, rec).Kind)

	rec = f.do(t, http.MethodGet, "/api/sessions", "")
	assert.Empty(t, decodeBody[[]sessions.Info](t, rec))
}

func TestBadRequests(t *testing.T) {
	f := newFixture(t, browsertest.InboxOptions{}, nil)
	id := f.create(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   string
	}{
		{"malformed json", http.MethodPost, "/api/sessions", `{`, http.StatusBadRequest, "invalid_input"},
		{"missing cookie", http.MethodPost, "/api/sessions", `{}`, http.StatusBadRequest, "invalid_input"},
		{"cookie without pairs", http.MethodPost, "/api/sessions", `{"cookie":"garbage"}`, http.StatusBadRequest, "invalid_input"},
		{"missing message", http.MethodPost, "/api/sessions/" + id + "/messages", `{"extension":"62","phoneNumber":"1"}`, http.StatusBadRequest, "invalid_input"},
		{"unknown session", http.MethodPost, "/api/sessions/nope/messages", helloBody, http.StatusNotFound, "not_found"},
		{"unknown get", http.MethodGet, "/api/sessions/nope", "", http.StatusNotFound, "not_found"},
		{"unknown route", http.MethodGet, "/api/nothing", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decodeBody[errorBody](t, rec).Kind)
		})
	}
}

func TestCreateFailureIsBadGateway(t *testing.T) {
	f := newFixture(t, browsertest.InboxOptions{}, nil)
	f.factory.FailWith(errors.New("navigation timed out"))
	rec := f.do(t, http.MethodPost, "/api/sessions", `{"cookie":"a=1"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "create_failed", decodeBody[errorBody](t, rec).Kind)
}

func TestAPIKeyAuth(t *testing.T) {
	f := newFixture(t, browsertest.InboxOptions{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	req.Header.Set(APIKeyHeader, "wrong")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// the failure blocks the client, even with the right key
	rec = f.do(t, http.MethodGet, "/api/sessions", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// health stays open
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPlaintextKeyAndDisabledAuth(t *testing.T) {
	f := newFixture(t, browsertest.InboxOptions{}, func(c *ServerConfig) { c.APIKeys = []string{testKey} })
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/sessions", "").Code)

	f = newFixture(t, browsertest.InboxOptions{}, func(c *ServerConfig) { c.APIKeys = nil; c.AuthDisabled = true })
	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := NewServer(&ServerConfig{}, f.registry)
	assert.Error(t, err)
}

func TestSendThrottle(t *testing.T) {
	f := newFixture(t, browsertest.InboxOptions{}, func(c *ServerConfig) { c.SendRate = 0.001; c.SendBurst = 1 })
	id := f.create(t)

	rec := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", helloBody)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", helloBody)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "rate_limited", decodeBody[errorBody](t, rec).Kind)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, browsertest.InboxOptions{}, nil)
	f.create(t)
	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "wabridge_sessions_active 1")
}

func TestStatusMapping(t *testing.T) {
	step := &automation.StepError{Step: 3, Name: automation.StepChooseCountryCode, Reason: "x"}
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: empty", sessions.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: x", sessions.ErrSessionNotFound), http.StatusNotFound},
		{step, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: s1: %w", sessions.ErrBrowserCrash, step), http.StatusGone},
		{sessions.ErrCapacity, http.StatusTooManyRequests},
		{sessions.ErrSessionExists, http.StatusConflict},
		{sessions.ErrRegistryClosed, http.StatusServiceUnavailable},
		{fmt.Errorf("%w: launch", sessions.ErrCreateFailed), http.StatusBadGateway},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		status, _ := statusFor(tt.err)
		assert.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()
	unlock, err := k.Lock(context.Background(), "a")
	require.NoError(t, err)

	// other keys are independent
	unlockB, err := k.Lock(context.Background(), "b")
	require.NoError(t, err)
	unlockB()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = k.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()
	assert.Zero(t, k.Len())

	unlock, err = k.Lock(context.Background(), "a")
	require.NoError(t, err)
	unlock()
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", getClientIP(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(r))
}
