package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/golang/mock/gomock"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/api/middleware"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/mocks"
	"github.com/ledgerkit/bank-sync/internal/providers"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
	"github.com/ledgerkit/bank-sync/internal/token"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

const (
	testAPIKey   = "test-api-key"
	testRedirect = "https://app.example.com/connected"
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: true}); err != nil {
		panic(err)
	}
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type handlerFixture struct {
	store     *mocks.MockStore
	provider  *mocks.MockProvider
	publisher *mocks.MockPublisher
	states    *StateSigner
	router    *gin.Engine
	now       time.Time
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	ctrl := gomock.NewController(t)
	f := &handlerFixture{
		store:     mocks.NewMockStore(ctrl),
		provider:  mocks.NewMockProvider(ctrl),
		publisher: mocks.NewMockPublisher(ctrl),
		now:       time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC),
	}

	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(f.now).AnyTimes()

	f.provider.EXPECT().Name().Return(domain.ProviderStarling).AnyTimes()
	registry := providers.NewRegistry()
	registry.Register(f.provider)

	f.states = NewStateSigner("state-secret", 15*time.Minute, clock)

	providersCfg := config.ProvidersConfig{
		Starling: config.ProviderCredentials{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURI:  "https://api.example.com/api/v1/callback/starling",
		},
	}

	h := NewHandler(
		f.store,
		registry,
		token.NewManager(f.store, clock, adapter.NewJSON()),
		f.publisher,
		clock,
		f.states,
		providersCfg,
		testRedirect,
	)

	f.router = gin.New()
	SetupRoutes(f.router, h, middleware.AuthConfig{APIKeys: []string{testAPIKey}})
	return f
}

func (f *handlerFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "ApiKey "+testAPIKey)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func testConnection(f *handlerFixture) *schema.Connection {
	return &schema.Connection{
		ID:          "33333333-3333-3333-3333-333333333333",
		TenantID:    "tenant-1",
		ProviderID:  domain.ProviderStarling,
		Status:      schema.ConnectionStatusActive,
		HealthScore: 1.0,
	}
}

func TestTriggerSync_EnqueuesJob(t *testing.T) {
	f := newHandlerFixture(t)
	conn := testConnection(f)

	f.store.EXPECT().GetConnection(gomock.Any(), conn.ID).Return(conn, nil)

	var job *schema.IngestionJob
	f.store.EXPECT().
		CreateIngestionJob(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, j *schema.IngestionJob) error {
			job = j
			return nil
		})

	var event webhook.SyncRequestEvent
	f.publisher.EXPECT().
		PublishSyncRequest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, e webhook.SyncRequestEvent) error {
			event = e
			return nil
		})

	rec := f.do(http.MethodPost, "/api/v1/connections/starling/sync", SyncRequest{
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
	})

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.JobID)

	require.NotNil(t, job)
	assert.Equal(t, schema.JobStatusPending, job.Status)
	assert.Equal(t, domain.SyncTriggerManual, job.Trigger)
	assert.Equal(t, f.now, job.StartedAt)

	assert.Equal(t, job.ID, event.JobID)
	assert.Equal(t, conn.ID, event.ConnectionID)
	assert.Equal(t, string(domain.ProviderStarling), event.Provider)
}

func TestTriggerSync_UnknownProvider(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodPost, "/api/v1/connections/monzo/sync", SyncRequest{
		ConnectionID: "33333333-3333-3333-3333-333333333333",
		TenantID:     "tenant-1",
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSync_TenantMismatch(t *testing.T) {
	f := newHandlerFixture(t)
	conn := testConnection(f)

	f.store.EXPECT().GetConnection(gomock.Any(), conn.ID).Return(conn, nil)

	rec := f.do(http.MethodPost, "/api/v1/connections/starling/sync", SyncRequest{
		ConnectionID: conn.ID,
		TenantID:     "tenant-2",
	})

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriggerSync_DisabledConnection(t *testing.T) {
	f := newHandlerFixture(t)
	conn := testConnection(f)
	conn.Status = schema.ConnectionStatusDisabled

	f.store.EXPECT().GetConnection(gomock.Any(), conn.ID).Return(conn, nil)

	rec := f.do(http.MethodPost, "/api/v1/connections/starling/sync", SyncRequest{
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
	})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerSync_Unauthenticated(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/connections/starling/sync", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListConnections(t *testing.T) {
	f := newHandlerFixture(t)
	conn := testConnection(f)

	f.store.EXPECT().
		ListConnectionsByTenant(gomock.Any(), "tenant-1").
		Return([]*schema.Connection{conn}, nil)

	rec := f.do(http.MethodGet, "/api/v1/connections?tenant_id=tenant-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Connections []ConnectionResponse `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Connections, 1)
	assert.Equal(t, conn.ID, resp.Connections[0].ID)
}

func TestListConnections_MissingTenant(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/connections", nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetConnection_TenantScoped(t *testing.T) {
	f := newHandlerFixture(t)
	conn := testConnection(f)

	f.store.EXPECT().GetConnection(gomock.Any(), conn.ID).Return(conn, nil).Times(2)

	rec := f.do(http.MethodGet, "/api/v1/connections/"+conn.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/connections/"+conn.ID+"?tenant_id=tenant-2", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetConnectionHealth(t *testing.T) {
	f := newHandlerFixture(t)
	conn := testConnection(f)
	conn.HealthScore = 0.85
	conn.ConsecutiveFailures = 1

	f.store.EXPECT().GetConnection(gomock.Any(), conn.ID).Return(conn, nil)
	f.store.EXPECT().
		ListJobsSince(gomock.Any(), conn.ID, f.now.Add(-30*24*time.Hour)).
		Return([]*schema.IngestionJob{
			{Status: schema.JobStatusCompleted},
			{Status: schema.JobStatusCompletedWithErrors},
			{Status: schema.JobStatusFailed},
			{Status: schema.JobStatusRunning},
		}, nil)

	rec := f.do(http.MethodGet, "/api/v1/connections/"+conn.ID+"/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConnectionHealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 0.85, resp.HealthScore)
	assert.Equal(t, 1, resp.ConsecutiveFailures)
	assert.Equal(t, 3, resp.JobsTotal)
	assert.Equal(t, 2, resp.JobsCompleted)
	assert.Equal(t, 1, resp.JobsFailed)
}

func TestConnect_ReturnsAuthorizationURL(t *testing.T) {
	f := newHandlerFixture(t)

	f.provider.EXPECT().
		AuthorizationURL(gomock.Any()).
		DoAndReturn(func(state string) string {
			return "https://oauth.starlingbank.com/?state=" + state
		})

	rec := f.do(http.MethodGet, "/api/v1/connect/starling?tenant_id=tenant-1", nil)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConnectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Contains(t, resp.URL, resp.State)

	tenantID, err := f.states.Verify(resp.State)
	require.NoError(t, err)
	assert.Equal(t, "tenant-1", tenantID)
}

func TestConnect_UnconfiguredProvider(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/connect/plaid?tenant_id=tenant-1", nil)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCallback_CreatesConnection(t *testing.T) {
	f := newHandlerFixture(t)
	state := f.states.Sign("tenant-1")

	tok := &domain.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresAt:    f.now.Add(time.Hour),
		Metadata:     map[string]string{"account_holder_uid": "org-9"},
	}
	f.provider.EXPECT().
		ExchangeCode(gomock.Any(), "auth-code", gomock.Any()).
		Return(tok, nil)
	f.provider.EXPECT().ExternalOrgID(tok).Return("org-9")

	f.store.EXPECT().
		GetConnectionByExternalOrg(gomock.Any(), domain.ProviderStarling, "org-9").
		Return(nil, nil)

	var created *schema.Connection
	f.store.EXPECT().
		CreateConnection(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, conn *schema.Connection) error {
			created = conn
			return nil
		})

	var storedToken *schema.OAuthToken
	f.store.EXPECT().
		UpsertToken(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, row *schema.OAuthToken) error {
			storedToken = row
			return nil
		})

	path := fmt.Sprintf("/api/v1/callback/starling?code=auth-code&state=%s", url.QueryEscape(state))
	rec := f.do(http.MethodGet, path, nil)

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Empty(t, location.Query().Get("error"))

	require.NotNil(t, created)
	assert.Equal(t, "tenant-1", created.TenantID)
	assert.Equal(t, domain.ProviderStarling, created.ProviderID)
	require.NotNil(t, created.ExternalOrgID)
	assert.Equal(t, "org-9", *created.ExternalOrgID)
	assert.Equal(t, created.ID, location.Query().Get("connection_id"))

	require.NotNil(t, storedToken)
	assert.Equal(t, created.ID, storedToken.ConnectionID)
}

func TestCallback_ReusesExistingConnection(t *testing.T) {
	f := newHandlerFixture(t)
	state := f.states.Sign("tenant-1")

	conn := testConnection(f)
	conn.Status = schema.ConnectionStatusError
	conn.ConsecutiveFailures = 4

	tok := &domain.Token{AccessToken: "access", ExpiresAt: f.now.Add(time.Hour)}
	f.provider.EXPECT().ExchangeCode(gomock.Any(), "auth-code", gomock.Any()).Return(tok, nil)
	f.provider.EXPECT().ExternalOrgID(tok).Return("org-9")

	f.store.EXPECT().
		GetConnectionByExternalOrg(gomock.Any(), domain.ProviderStarling, "org-9").
		Return(conn, nil)
	f.store.EXPECT().
		UpdateConnection(gomock.Any(), conn).
		DoAndReturn(func(_ any, c *schema.Connection) error {
			assert.Equal(t, schema.ConnectionStatusActive, c.Status)
			assert.Zero(t, c.ConsecutiveFailures)
			return nil
		})
	f.store.EXPECT().UpsertToken(gomock.Any(), gomock.Any()).Return(nil)

	path := fmt.Sprintf("/api/v1/callback/starling?code=auth-code&state=%s", url.QueryEscape(state))
	rec := f.do(http.MethodGet, path, nil)

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, conn.ID, location.Query().Get("connection_id"))
}

func TestCallback_InvalidState(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(http.MethodGet, "/api/v1/callback/starling?code=auth-code&state=garbage", nil)

	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "invalid_state", location.Query().Get("error"))
}

func TestWebhook_EnqueuesSync(t *testing.T) {
	f := newHandlerFixture(t)
	conn := testConnection(f)

	eventTime := f.now.Add(-10 * time.Minute)
	body := []byte(`{"webhookNotificationUid":"n-1"}`)

	f.provider.EXPECT().VerifyWebhookSignature("sha256=abc", body).Return(nil)
	f.provider.EXPECT().ParseWebhookEvent(body).Return(&domain.WebhookEvent{
		ExternalOrgID: "org-9",
		EventTime:     eventTime,
	}, nil)
	f.store.EXPECT().
		GetConnectionByExternalOrg(gomock.Any(), domain.ProviderStarling, "org-9").
		Return(conn, nil)

	var event webhook.SyncRequestEvent
	f.publisher.EXPECT().
		PublishSyncRequest(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ any, e webhook.SyncRequestEvent) error {
			event = e
			return nil
		})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/starling", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "sha256=abc")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, conn.ID, event.ConnectionID)
	assert.Equal(t, domain.SyncTriggerWebhook, event.Options.Trigger)
	require.NotNil(t, event.Options.ModifiedSince)
	assert.Equal(t, eventTime, *event.Options.ModifiedSince)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	f := newHandlerFixture(t)

	body := []byte(`{}`)
	f.provider.EXPECT().
		VerifyWebhookSignature(gomock.Any(), body).
		Return(webhook.ErrInvalidSignature)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/starling", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "sha256=forged")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_UnknownOrgAcknowledged(t *testing.T) {
	f := newHandlerFixture(t)

	body := []byte(`{"webhookNotificationUid":"n-1"}`)
	f.provider.EXPECT().VerifyWebhookSignature(gomock.Any(), body).Return(nil)
	f.provider.EXPECT().ParseWebhookEvent(body).Return(&domain.WebhookEvent{
		ExternalOrgID: "org-unknown",
	}, nil)
	f.store.EXPECT().
		GetConnectionByExternalOrg(gomock.Any(), domain.ProviderStarling, "org-unknown").
		Return(nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/starling", bytes.NewReader(body))
	req.Header.Set(signatureHeader, "sha256=abc")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}
