package rest

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerkit/bank-sync/internal/adapter"
	"github.com/ledgerkit/bank-sync/internal/config"
	"github.com/ledgerkit/bank-sync/internal/domain"
	"github.com/ledgerkit/bank-sync/internal/logger"
	"github.com/ledgerkit/bank-sync/internal/messaging"
	"github.com/ledgerkit/bank-sync/internal/providers"
	"github.com/ledgerkit/bank-sync/internal/store"
	"github.com/ledgerkit/bank-sync/internal/store/schema"
	"github.com/ledgerkit/bank-sync/internal/token"
	"github.com/ledgerkit/bank-sync/internal/webhook"
)

// signatureHeader carries the webhook HMAC signature on ingress requests
const signatureHeader = "X-Webhook-Signature"

// Handler defines the interface for REST API handlers
//
//go:generate mockgen -source=handler.go -destination=../../mocks/api_handler.go -package=mocks -mock_names=Handler=MockAPIHandler
type Handler interface {
	// TriggerSync enqueues a sync attempt for a connection
	// POST /api/v1/connections/:provider/sync
	TriggerSync(c *gin.Context)

	// ListConnections retrieves a tenant's connections
	// GET /api/v1/connections?tenant_id=<id>
	ListConnections(c *gin.Context)

	// GetConnection retrieves a single connection
	// GET /api/v1/connections/:id
	GetConnection(c *gin.Context)

	// GetConnectionHealth retrieves a connection's health summary
	// GET /api/v1/connections/:id/health
	GetConnectionHealth(c *gin.Context)

	// GetJob retrieves an ingestion job
	// GET /api/v1/jobs/:id
	GetJob(c *gin.Context)

	// Connect starts the OAuth authorization flow for a provider
	// GET /api/v1/connect/:provider?tenant_id=<id>
	Connect(c *gin.Context)

	// Callback finishes the OAuth authorization flow. Errors redirect with an
	// error/message query pair instead of a raw status.
	// GET /api/v1/callback/:provider
	Callback(c *gin.Context)

	// Webhook receives provider change notifications, acknowledges fast and
	// enqueues the actual sync
	// POST /api/v1/webhooks/:provider
	Webhook(c *gin.Context)

	// HealthCheck returns the health status of the API
	// GET /health
	HealthCheck(c *gin.Context)
}

// handler implements the Handler interface
type handler struct {
	store        store.Store
	registry     *providers.Registry
	tokens       *token.Manager
	publisher    messaging.Publisher
	clock        adapter.Clock
	states       *StateSigner
	providersCfg config.ProvidersConfig
	redirectURL  string
}

// NewHandler creates a new REST API handler
func NewHandler(
	s store.Store,
	registry *providers.Registry,
	tokens *token.Manager,
	publisher messaging.Publisher,
	clock adapter.Clock,
	states *StateSigner,
	providersCfg config.ProvidersConfig,
	redirectURL string,
) Handler {
	return &handler{
		store:        s,
		registry:     registry,
		tokens:       tokens,
		publisher:    publisher,
		clock:        clock,
		states:       states,
		providersCfg: providersCfg,
		redirectURL:  redirectURL,
	}
}

// TriggerSync enqueues a sync attempt: the job row is created up front so the
// caller can poll it, the work itself happens in a sync worker.
func (h *handler) TriggerSync(c *gin.Context) {
	// the route shares the :id segment with the connection lookups; on this
	// route it carries the provider name
	providerID := domain.ProviderID(c.Param("id"))
	if !domain.IsValidProvider(providerID) {
		respondBadRequest(c, "Unknown provider", string(providerID))
		return
	}

	var req SyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err.Error())
		return
	}

	conn, err := h.store.GetConnection(c.Request.Context(), req.ConnectionID)
	if err != nil {
		respondInternalError(c, err, "Failed to load connection")
		return
	}
	if conn == nil || conn.TenantID != req.TenantID || conn.ProviderID != providerID {
		respondNotFound(c, "Connection not found")
		return
	}
	if conn.Status == schema.ConnectionStatusDisabled {
		respondBadRequest(c, "Connection is disabled")
		return
	}

	opts := req.Options()
	job := &schema.IngestionJob{
		ID:           uuid.NewString(),
		ConnectionID: conn.ID,
		TenantID:     conn.TenantID,
		Trigger:      opts.Trigger,
		Status:       schema.JobStatusPending,
		StartedAt:    h.clock.Now(),
	}
	if err := h.store.CreateIngestionJob(c.Request.Context(), job); err != nil {
		respondInternalError(c, err, "Failed to create sync job")
		return
	}

	event := webhook.NewSyncRequestEvent(conn.ID, conn.TenantID, conn.ProviderID, opts)
	event.JobID = job.ID
	if err := h.publisher.PublishSyncRequest(c.Request.Context(), event); err != nil {
		respondInternalError(c, err, "Failed to enqueue sync request",
			zap.String("jobID", job.ID))
		return
	}

	c.JSON(http.StatusAccepted, SyncResponse{
		Success: true,
		JobID:   job.ID,
		Summary: domain.SyncSummary{StartedAt: job.StartedAt},
	})
}

// ListConnections retrieves all connections of a tenant
func (h *handler) ListConnections(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		respondBadRequest(c, "tenant_id is required")
		return
	}

	conns, err := h.store.ListConnectionsByTenant(c.Request.Context(), tenantID)
	if err != nil {
		respondInternalError(c, err, "Failed to list connections")
		return
	}

	out := make([]ConnectionResponse, 0, len(conns))
	for _, conn := range conns {
		out = append(out, toConnectionResponse(conn))
	}
	c.JSON(http.StatusOK, gin.H{"connections": out})
}

// GetConnection retrieves a single connection by id
func (h *handler) GetConnection(c *gin.Context) {
	conn := h.loadConnection(c)
	if conn == nil {
		return
	}
	c.JSON(http.StatusOK, toConnectionResponse(conn))
}

// GetConnectionHealth retrieves a connection's health summary together with
// its last-30-days job counts
func (h *handler) GetConnectionHealth(c *gin.Context) {
	conn := h.loadConnection(c)
	if conn == nil {
		return
	}

	jobs, err := h.store.ListJobsSince(c.Request.Context(), conn.ID, h.clock.Now().Add(-30*24*time.Hour))
	if err != nil {
		respondInternalError(c, err, "Failed to load job history")
		return
	}

	health := ConnectionHealthResponse{
		ConnectionID:        conn.ID,
		Status:              string(conn.Status),
		HealthScore:         conn.HealthScore,
		ConsecutiveFailures: conn.ConsecutiveFailures,
		LastError:           conn.LastError,
	}
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			continue
		}
		health.JobsTotal++
		switch job.Status {
		case schema.JobStatusFailed:
			health.JobsFailed++
		default:
			health.JobsCompleted++
		}
	}

	c.JSON(http.StatusOK, health)
}

// GetJob retrieves an ingestion job by id
func (h *handler) GetJob(c *gin.Context) {
	id := c.Param("id")
	job, err := h.store.GetIngestionJob(c.Request.Context(), id)
	if err != nil {
		respondInternalError(c, err, "Failed to load job")
		return
	}
	if job == nil {
		respondNotFound(c, "Job not found")
		return
	}
	if tenantID := c.Query("tenant_id"); tenantID != "" && job.TenantID != tenantID {
		respondNotFound(c, "Job not found")
		return
	}
	c.JSON(http.StatusOK, toJobResponse(job))
}

// Connect returns the provider authorization URL carrying a signed state
func (h *handler) Connect(c *gin.Context) {
	providerID := domain.ProviderID(c.Param("provider"))
	if !domain.IsValidProvider(providerID) {
		respondBadRequest(c, "Unknown provider", string(providerID))
		return
	}
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		respondBadRequest(c, "tenant_id is required")
		return
	}

	creds, err := h.providersCfg.Credentials(string(providerID))
	if err != nil {
		respondServiceUnavailable(c, "Provider not configured", err.Error())
		return
	}
	if err := creds.Validate(); err != nil {
		respondServiceUnavailable(c, "Provider not configured", err.Error())
		return
	}

	adapterClient, err := h.registry.Get(providerID)
	if err != nil {
		respondServiceUnavailable(c, "Provider not configured", err.Error())
		return
	}

	state := h.states.Sign(tenantID)
	c.JSON(http.StatusOK, ConnectResponse{
		Success: true,
		URL:     adapterClient.AuthorizationURL(state),
		State:   state,
	})
}

// Callback exchanges the authorization code, stores the token and redirects
func (h *handler) Callback(c *gin.Context) {
	providerID := domain.ProviderID(c.Param("provider"))
	if !domain.IsValidProvider(providerID) {
		h.redirectError(c, "unknown_provider", string(providerID))
		return
	}

	code := c.Query("code")
	state := c.Query("state")
	if code == "" || state == "" {
		h.redirectError(c, "invalid_request", "missing code or state")
		return
	}

	tenantID, err := h.states.Verify(state)
	if err != nil {
		h.redirectError(c, "invalid_state", err.Error())
		return
	}

	adapterClient, err := h.registry.Get(providerID)
	if err != nil {
		h.redirectError(c, "provider_not_configured", err.Error())
		return
	}

	callbackParams := make(map[string]string)
	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			callbackParams[key] = values[0]
		}
	}

	tok, err := adapterClient.ExchangeCode(c.Request.Context(), code, callbackParams)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), fmt.Errorf("code exchange failed: %w", err),
			zap.String("provider", string(providerID)))
		h.redirectError(c, "exchange_failed", adapterClient.ErrorMessage(err))
		return
	}

	conn, err := h.resolveConnection(c, providerID, tenantID, adapterClient.ExternalOrgID(tok))
	if err != nil {
		h.redirectError(c, "connection_failed", "could not store the connection")
		return
	}

	if err := h.tokens.StoreToken(c.Request.Context(), conn.ID, providerID, tok); err != nil {
		logger.ErrorCtx(c.Request.Context(), fmt.Errorf("failed to store token: %w", err),
			zap.String("connectionID", conn.ID))
		h.redirectError(c, "token_store_failed", "could not store the token")
		return
	}

	redirect := fmt.Sprintf("%s?%s", h.redirectURL, url.Values{
		"connection_id": {conn.ID},
		"provider":      {string(providerID)},
	}.Encode())
	c.Redirect(http.StatusFound, redirect)
}

// resolveConnection reuses an existing connection when the provider-side
// organization is already linked (re-authorization), otherwise creates one
func (h *handler) resolveConnection(c *gin.Context, providerID domain.ProviderID, tenantID, externalOrgID string) (*schema.Connection, error) {
	ctx := c.Request.Context()

	if externalOrgID != "" {
		existing, err := h.store.GetConnectionByExternalOrg(ctx, providerID, externalOrgID)
		if err != nil {
			return nil, err
		}
		if existing != nil && existing.TenantID == tenantID {
			existing.Status = schema.ConnectionStatusActive
			existing.ConsecutiveFailures = 0
			existing.LastError = nil
			if err := h.store.UpdateConnection(ctx, existing); err != nil {
				return nil, err
			}
			logger.InfoCtx(ctx, "connection re-authorized",
				zap.String("connectionID", existing.ID),
				zap.String("provider", string(providerID)))
			return existing, nil
		}
	}

	conn := &schema.Connection{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		ProviderID:  providerID,
		Status:      schema.ConnectionStatusActive,
		HealthScore: 1.0,
	}
	if externalOrgID != "" {
		conn.ExternalOrgID = &externalOrgID
	}
	if err := h.store.CreateConnection(ctx, conn); err != nil {
		return nil, err
	}

	logger.InfoCtx(ctx, "connection authorized",
		zap.String("connectionID", conn.ID),
		zap.String("tenantID", tenantID),
		zap.String("provider", string(providerID)))
	return conn, nil
}

// Webhook validates the signature, maps the event to a connection and
// enqueues a sync with a modified-since hint. The heavy work happens in the
// workers so the provider gets its acknowledgment fast.
func (h *handler) Webhook(c *gin.Context) {
	providerID := domain.ProviderID(c.Param("provider"))
	if !domain.IsValidProvider(providerID) {
		respondNotFound(c, "Unknown provider")
		return
	}

	adapterClient, err := h.registry.Get(providerID)
	if err != nil {
		respondServiceUnavailable(c, "Provider not configured")
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		respondBadRequest(c, "Failed to read body")
		return
	}

	if err := adapterClient.VerifyWebhookSignature(c.GetHeader(signatureHeader), body); err != nil {
		logger.Warn("webhook signature rejected",
			zap.String("provider", string(providerID)),
			zap.String("client_ip", c.ClientIP()))
		respondUnauthorized(c, "Invalid signature")
		return
	}

	event, err := adapterClient.ParseWebhookEvent(body)
	if err != nil {
		respondBadRequest(c, "Invalid webhook payload", adapterClient.ErrorMessage(err))
		return
	}

	conn, err := h.store.GetConnectionByExternalOrg(c.Request.Context(), providerID, event.ExternalOrgID)
	if err != nil {
		respondInternalError(c, err, "Failed to resolve connection")
		return
	}
	if conn == nil {
		// unknown orgs are acknowledged so the provider stops retrying
		logger.Warn("webhook for unknown organization",
			zap.String("provider", string(providerID)),
			zap.String("externalOrgID", event.ExternalOrgID))
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	opts := domain.DefaultSyncOptions()
	opts.Trigger = domain.SyncTriggerWebhook
	if !event.EventTime.IsZero() {
		opts.ModifiedSince = &event.EventTime
	}

	syncEvent := webhook.NewSyncRequestEvent(conn.ID, conn.TenantID, providerID, opts)
	if err := h.publisher.PublishSyncRequest(c.Request.Context(), syncEvent); err != nil {
		// a 5xx makes the provider redeliver the webhook
		respondInternalError(c, err, "Failed to enqueue sync request",
			zap.String("connectionID", conn.ID))
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// HealthCheck returns the health status of the API
func (h *handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   h.clock.Now().UTC().Format(time.RFC3339),
	})
}

// loadConnection resolves the :id path param, enforcing the optional
// tenant_id scope. A nil return means the response was already written.
func (h *handler) loadConnection(c *gin.Context) *schema.Connection {
	id := c.Param("id")
	conn, err := h.store.GetConnection(c.Request.Context(), id)
	if err != nil {
		respondInternalError(c, err, "Failed to load connection")
		return nil
	}
	if conn == nil {
		respondNotFound(c, "Connection not found")
		return nil
	}
	if tenantID := c.Query("tenant_id"); tenantID != "" && conn.TenantID != tenantID {
		respondNotFound(c, "Connection not found")
		return nil
	}
	return conn
}

func (h *handler) redirectError(c *gin.Context, code, message string) {
	redirect := fmt.Sprintf("%s?%s", h.redirectURL, url.Values{
		"error":   {code},
		"message": {message},
	}.Encode())
	c.Redirect(http.StatusFound, redirect)
}
