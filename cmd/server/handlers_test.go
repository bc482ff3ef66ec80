package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panel-gateway/internal/audit"
	"github.com/panel-gateway/internal/auth"
	"github.com/panel-gateway/internal/cache"
	"github.com/panel-gateway/internal/config"
	"github.com/panel-gateway/internal/models"
	"github.com/panel-gateway/internal/panel"
	"github.com/panel-gateway/internal/register"
)

// ========================================
// Mock Objects
// ========================================

type mockSites struct {
	cfg models.SiteConfig
	err error
}

func (m *mockSites) Get(context.Context) (models.SiteConfig, error) {
	return m.cfg, m.err
}

type mockPanel struct {
	mu       sync.Mutex
	payloads []models.RegisterPayload
	auth     *models.AuthData
	err      error
	info     *models.SubscriptionInfo
	subErr   error
	authSeen string
}

func (m *mockPanel) Register(ctx context.Context, payload models.RegisterPayload) (*models.AuthData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payloads = append(m.payloads, payload)
	return m.auth, m.err
}

func (m *mockPanel) GetUserSubscription(ctx context.Context, authData string) (*models.SubscriptionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authSeen = authData
	return m.info, m.subErr
}

type mockCodes struct {
	notice models.Notification
	err    error
}

func (m *mockCodes) Send(context.Context, string) (models.Notification, error) {
	return m.notice, m.err
}

type memoryAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memoryAudit) Record(_ context.Context, e audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

func (m *memoryAudit) Recent(_ context.Context, email string, limit int) ([]audit.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Event
	for _, e := range m.events {
		if e.Email == email {
			out = append(out, e)
		}
	}
	return out, nil
}

type testEnv struct {
	router *gin.Engine
	gw     *gateway
	sites  *mockSites
	panel  *mockPanel
	codes  *mockCodes
	audit  *memoryAudit
	store  *cache.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := &config.Config{
		Session: config.SessionConfig{Secret: "test", Expiry: time.Hour, Issuer: "test", CookieName: "panel_session"},
		Cache:   config.CacheConfig{SubmitLockTTL: time.Minute},
		Routes: config.RoutesConfig{
			Landing:        "/dashboard",
			TermsOfService: "/terms-of-service",
			PrivacyPolicy:  "/privacy-policy",
		},
	}

	sessions, err := auth.NewService(cfg.Session)
	require.NoError(t, err)

	store := cache.NewMemoryStore(0)
	t.Cleanup(func() { store.Close() })

	env := &testEnv{
		sites: &mockSites{},
		panel: &mockPanel{auth: &models.AuthData{AuthData: "upstream-auth"}},
		codes: &mockCodes{notice: models.Notification{Key: register.NoticeSendEmailCodeSuccess, Variant: models.VariantSuccess}},
		audit: &memoryAudit{},
		store: store,
	}
	env.gw = &gateway{
		sites:     env.sites,
		registrar: env.panel,
		codes:     env.codes,
		subs:      env.panel,
		store:     store,
		sessions:  sessions,
		audit:     env.audit,
		attempts:  env.audit,
		cfg:       cfg,
		logger:    logger,
	}
	env.router = newRouter(env.gw)
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

func validBody() gin.H {
	return gin.H{
		"form_id":  "form-1",
		"email":    "user@example.com",
		"password": "Secret123!",
		"agree":    true,
	}
}

// ========================================
// Tests
// ========================================

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGuestConfig(t *testing.T) {
	env := newTestEnv(t)
	env.sites.cfg = models.SiteConfig{IsEmailVerify: true}

	w := env.do(t, http.MethodGet, "/api/guest/config", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"is_invite_force":false,"is_email_verify":true}`, w.Body.String())

	env.sites.err = errors.New("down")
	w = env.do(t, http.MethodGet, "/api/guest/config", nil, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestRegisterForm(t *testing.T) {
	env := newTestEnv(t)
	env.sites.cfg = models.SiteConfig{IsEmailVerify: true}

	w := env.do(t, http.MethodGet, "/api/register/form", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		FormID     string              `json:"form_id"`
		Descriptor register.Descriptor `json:"descriptor"`
	}
	decode(t, w, &resp)
	assert.NotEmpty(t, resp.FormID)
	assert.True(t, resp.Descriptor.SendCodeAction)
	assert.Equal(t, "Poor", resp.Descriptor.Strength.Label)
}

func TestPasswordStrength(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/register/strength", gin.H{"password": "Abcdef1!"}, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Strength register.StrengthLevel `json:"strength"`
		Context  string                 `json:"context"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 4, resp.Strength.Score)
	assert.Equal(t, "strong", resp.Context)
}

func TestValidate_OnlyTouchedFields(t *testing.T) {
	env := newTestEnv(t)

	body := gin.H{
		"email":   "bad",
		"touched": gin.H{"email": true},
	}
	w := env.do(t, http.MethodPost, "/api/register/validate", body, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Errors map[string]string `json:"errors"`
	}
	decode(t, w, &resp)
	assert.Equal(t, map[string]string{"email": register.MsgEmailInvalid}, resp.Errors)
}

func TestRegister_Success(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/register", validBody(), "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp formResponse
	decode(t, w, &resp)
	assert.Equal(t, register.OutcomeSucceeded, resp.Outcome)
	require.NotNil(t, resp.Redirect)
	assert.Equal(t, models.Redirect{To: "/dashboard", Replace: true}, *resp.Redirect)
	assert.Equal(t, []models.Notification{{Key: register.NoticeRegisterSuccess, Variant: models.VariantSuccess}}, resp.Notifications)
	assert.NotEmpty(t, resp.Token)
	assert.Empty(t, resp.State.Values.Password)
	assert.False(t, resp.State.Submitting)
	assert.NotEmpty(t, w.Result().Cookies())

	require.Len(t, env.audit.events, 1)
	assert.Equal(t, "succeeded", env.audit.events[0].Outcome)

	// 会话可用于访问订阅信息
	env.panel.info = &models.SubscriptionInfo{
		Plan:           models.Plan{Name: "Pro"},
		U:              1073741824,
		TransferEnable: 2147483648,
	}
	w = env.do(t, http.MethodGet, "/api/dashboard/subscription", nil, resp.Token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "upstream-auth", env.panel.authSeen)

	var card struct {
		PlanName string  `json:"plan_name"`
		Progress float64 `json:"progress"`
		Traffic  struct {
			Line string `json:"line"`
		} `json:"traffic"`
		Expiration struct {
			Context string `json:"context"`
		} `json:"expiration"`
	}
	decode(t, w, &card)
	assert.Equal(t, "Pro", card.PlanName)
	assert.Equal(t, 0.5, card.Progress)
	assert.Equal(t, "1 / 2", card.Traffic.Line)
	assert.Equal(t, "forever", card.Expiration.Context)
}

func TestRegister_InviteForced(t *testing.T) {
	env := newTestEnv(t)
	env.sites.cfg = models.SiteConfig{IsInviteForce: true}

	w := env.do(t, http.MethodPost, "/api/register", validBody(), "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp formResponse
	decode(t, w, &resp)
	assert.Equal(t, register.OutcomeInvalid, resp.Outcome)
	assert.Equal(t, register.MsgInviteCodeRequired, resp.State.Errors["invite_code"])
	assert.Empty(t, env.panel.payloads)
}

func TestRegister_EmailCodeBlanked(t *testing.T) {
	env := newTestEnv(t)
	body := validBody()
	body["email_code"] = "123456"

	w := env.do(t, http.MethodPost, "/api/register", body, "")
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, env.panel.payloads, 1)
	assert.Equal(t, "", env.panel.payloads[0].EmailCode)
}

func TestRegister_AgreementRequired(t *testing.T) {
	env := newTestEnv(t)
	body := validBody()
	body["agree"] = false

	w := env.do(t, http.MethodPost, "/api/register", body, "")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp formResponse
	decode(t, w, &resp)
	assert.Equal(t, register.OutcomeAgreementRequired, resp.Outcome)
	assert.Equal(t, register.FieldErrors{"submit": register.MsgAgreeRequired}, resp.State.Errors)
	assert.Empty(t, env.panel.payloads)
}

func TestRegister_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.panel.err = &panel.APIError{Status: 500, Message: "邀请码无效"}

	w := env.do(t, http.MethodPost, "/api/register", validBody(), "")
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp formResponse
	decode(t, w, &resp)
	assert.Equal(t, register.OutcomeRejected, resp.Outcome)
	assert.Equal(t, "邀请码无效", resp.State.Errors["submit"])
	assert.Equal(t, "user@example.com", resp.State.Values.Email)
	assert.False(t, resp.State.Submitting)
	assert.Nil(t, resp.Redirect)
	assert.Empty(t, resp.Token)

	require.Len(t, env.audit.events, 1)
	assert.Equal(t, "邀请码无效", env.audit.events[0].Message)

	// 锁已释放，可立即重试
	env.panel.err = nil
	w = env.do(t, http.MethodPost, "/api/register", validBody(), "")
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestRegister_InFlightLock(t *testing.T) {
	env := newTestEnv(t)

	ok, err := env.store.SetNX(context.Background(), "register:inflight:form-1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	w := env.do(t, http.MethodPost, "/api/register", validBody(), "")
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Empty(t, env.panel.payloads)
}

func TestSendEmailCode(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/register/email-code", gin.H{"email": "user@example.com"}, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), register.NoticeSendEmailCodeSuccess)

	env.codes.notice = models.Notification{Key: register.NoticeSendEmailCodeFail, Variant: models.VariantError}
	env.codes.err = register.ErrCooldown
	w = env.do(t, http.MethodPost, "/api/register/email-code", gin.H{"email": "user@example.com"}, "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	env.codes.err = errors.New("upstream down")
	w = env.do(t, http.MethodPost, "/api/register/email-code", gin.H{"email": "user@example.com"}, "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), register.NoticeSendEmailCodeFail)
}

func TestSubscription_RequiresSession(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, http.MethodGet, "/api/dashboard/subscription", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSubscription_UpstreamErrors(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.gw.sessions.Issue("user@example.com", &models.AuthData{AuthData: "upstream-auth"})
	require.NoError(t, err)

	env.panel.subErr = &panel.APIError{Status: http.StatusForbidden, Message: "未登录或登陆已过期"}
	w := env.do(t, http.MethodGet, "/api/dashboard/subscription", nil, token)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	env.panel.subErr = errors.New("timeout")
	w = env.do(t, http.MethodGet, "/api/dashboard/subscription", nil, token)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	env.panel.subErr = nil
	env.panel.info = &models.SubscriptionInfo{Plan: models.Plan{Name: "Pro"}}
	w = env.do(t, http.MethodGet, "/api/dashboard/subscription?tz=Not/AZone", nil, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegistrationAttempts_AdminOnly(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/register", validBody(), "")

	user, err := env.gw.sessions.Issue("user@example.com", &models.AuthData{AuthData: "x"})
	require.NoError(t, err)
	admin, err := env.gw.sessions.Issue("admin@example.com", &models.AuthData{AuthData: "y", IsAdmin: true})
	require.NoError(t, err)

	w := env.do(t, http.MethodGet, "/api/admin/registration-attempts?email=user@example.com", nil, user)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodGet, "/api/admin/registration-attempts?email=user@example.com", nil, admin)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Attempts []audit.Event `json:"attempts"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Attempts, 1)
	assert.Equal(t, "succeeded", resp.Attempts[0].Outcome)

	w = env.do(t, http.MethodGet, "/api/admin/registration-attempts", nil, admin)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_TransportFailure(t *testing.T) {
	env := newTestEnv(t)
	env.panel.err = errors.New("dial tcp 127.0.0.1:8000: connect: connection refused")

	w := env.do(t, http.MethodPost, "/api/register", validBody(), "")
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp formResponse
	decode(t, w, &resp)
	assert.Equal(t, register.OutcomeRejected, resp.Outcome)
	assert.Contains(t, resp.State.Errors["submit"], "connection refused")
	assert.Nil(t, resp.Redirect)
}

func TestRegister_SessionUnavailable(t *testing.T) {
	env := newTestEnv(t)
	// 上游未返回 auth_data，无法签发会话
	env.panel.auth = &models.AuthData{}

	w := env.do(t, http.MethodPost, "/api/register", validBody(), "")
	require.Equal(t, http.StatusCreated, w.Code)

	var resp formResponse
	decode(t, w, &resp)
	assert.Equal(t, register.OutcomeSucceeded, resp.Outcome)
	assert.Nil(t, resp.Redirect, "没有会话时不跳转到需要登录的页面")
	assert.Empty(t, resp.Token)
	assert.Empty(t, w.Result().Cookies())
	assert.Equal(t, []models.Notification{{Key: register.NoticeRegisterSuccess, Variant: models.VariantSuccess}}, resp.Notifications)
}

func TestSubscription_RendersInRequestedZone(t *testing.T) {
	env := newTestEnv(t)
	token, err := env.gw.sessions.Issue("user@example.com", &models.AuthData{AuthData: "upstream-auth"})
	require.NoError(t, err)

	// 2024-01-01 20:00 UTC，即上海时间 2024-01-02 04:00
	expiredAt := int64(1704139200)
	env.panel.info = &models.SubscriptionInfo{
		Plan:           models.Plan{Name: "Pro"},
		ExpiredAt:      &expiredAt,
		U:              1073741824,
		TransferEnable: 2147483648,
	}

	tests := []struct {
		name     string
		query    string
		expected string
	}{
		{name: "默认UTC", query: "", expected: "2024/01/01"},
		{name: "指定时区", query: "?tz=Asia/Shanghai", expected: "2024/01/02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodGet, "/api/dashboard/subscription"+tt.query, nil, token)
			require.Equal(t, http.StatusOK, w.Code)
			assert.Contains(t, w.Body.String(), `"line":"1 / 2"`)

			var card struct {
				Expiration struct {
					Context string `json:"context"`
					Date    string `json:"date"`
					Count   *int   `json:"count"`
				} `json:"expiration"`
			}
			decode(t, w, &card)
			assert.Equal(t, "limited", card.Expiration.Context)
			assert.Equal(t, tt.expected, card.Expiration.Date)
			require.NotNil(t, card.Expiration.Count)
			assert.Equal(t, 0, *card.Expiration.Count)
		})
	}
}
