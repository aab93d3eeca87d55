package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"callcenter-platform/internal/auth"
	"callcenter-platform/internal/calllog"
	"callcenter-platform/internal/dialer"
	"callcenter-platform/internal/leads"
	"callcenter-platform/internal/reporting"
	"callcenter-platform/internal/usage"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

// LeadLister pages a campaign's lead pool for the control API.
type LeadLister interface {
	ListByCampaign(ctx context.Context, campaignID string, limit, offset int) ([]leads.Lead, error)
}

type Handlers struct {
	Auth      *auth.Manager
	Dialer    *dialer.Registry
	Usage     *usage.Service
	CallLog   *calllog.Service
	Reporting *reporting.Service
	Leads     LeadLister
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Campaign dialer control ---

func (h Handlers) campaignID(c *gin.Context) (string, bool) {
	id := c.Param("campaign_id")
	if id == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "campaign_id required"})
		return "", false
	}
	return id, true
}

// StartCampaign boots the campaign's dialer engine.
func (h Handlers) StartCampaign(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}
	if err := h.Dialer.Engine(id).Start(c.Request.Context()); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dialer.ErrAlreadyRunning) {
			status = http.StatusConflict
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Dialer.Engine(id).Status())
}

func (h Handlers) PauseCampaign(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}
	eng, found := h.Dialer.Lookup(id)
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not running"})
		return
	}
	if err := eng.Pause(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, eng.Status())
}

func (h Handlers) ResumeCampaign(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}
	eng, found := h.Dialer.Lookup(id)
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not running"})
		return
	}
	if err := eng.Resume(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, eng.Status())
}

// StopCampaign drains active calls (bounded) and stops the engine.
func (h Handlers) StopCampaign(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}
	eng, found := h.Dialer.Lookup(id)
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not running"})
		return
	}
	if err := eng.Stop(c.Request.Context()); err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, eng.Status())
}

// CampaignStatus returns the engine's live snapshot; never blocks.
func (h Handlers) CampaignStatus(c *gin.Context) {
	id, ok := h.campaignID(c)
	if !ok {
		return
	}
	eng, found := h.Dialer.Lookup(id)
	if !found {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "campaign not running"})
		return
	}
	c.JSON(http.StatusOK, eng.Status())
}

// GetCampaignLeads pages the campaign's lead pool.
func (h Handlers) GetCampaignLeads(c *gin.Context) {
	if h.Leads == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "leads not configured"})
		return
	}
	id, ok := h.campaignID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rows, err := h.Leads.ListByCampaign(c.Request.Context(), id, limit, offset)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lead listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"leads": rows})
}

// --- Usage ---

func (h Handlers) GetUsageBalance(c *gin.Context) {
	if h.Usage == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "usage not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	bal, err := h.Usage.GetBalance(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, usage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no usage account"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "balance lookup failed"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

type adminCreditRequest struct {
	UserID         string `json:"user_id"`
	Minutes        int64  `json:"minutes"`
	IdempotencyKey string `json:"idempotency_key"`
}

// AdminCreditMinutes grants minutes to an account. RBAC: admin only.
func (h Handlers) AdminCreditMinutes(c *gin.Context) {
	if h.Usage == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "usage not configured"})
		return
	}
	var req adminCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	_, bal, err := h.Usage.CreditMinutes(c.Request.Context(), req.UserID, req.Minutes, req.IdempotencyKey)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, bal)
}

// --- Call log ---

func (h Handlers) GetCallEvents(c *gin.Context) {
	if h.CallLog == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call log not configured"})
		return
	}
	callSID := c.Param("call_sid")
	if callSID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call_sid required"})
		return
	}
	evs, err := h.CallLog.ByCall(c.Request.Context(), callSID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call log lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": evs})
}

// --- Reporting ---

// reportRange parses optional from/to query params, defaulting to the
// trailing 24 hours.
func reportRange(c *gin.Context) (reporting.TimeRange, bool) {
	now := time.Now().UTC()
	r := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return r, false
		}
		r.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return r, false
		}
		r.To = t
	}
	return r, true
}

// GetCampaignReport aggregates lead and call outcomes for one campaign.
func (h Handlers) GetCampaignReport(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	id, ok := h.campaignID(c)
	if !ok {
		return
	}
	rng, ok := reportRange(c)
	if !ok {
		return
	}
	rep, err := h.Reporting.CampaignReport(c.Request.Context(), reporting.CampaignReportRequest{CampaignID: id, Range: rng})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid report request"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// GetUsageSummary aggregates the caller's minute ledger.
func (h Handlers) GetUsageSummary(c *gin.Context) {
	if h.Reporting == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reporting not configured"})
		return
	}
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	rng, ok := reportRange(c)
	if !ok {
		return
	}
	sum, err := h.Reporting.UsageSummary(c.Request.Context(), reporting.UsageSummaryRequest{UserID: userID, Range: rng})
	if err != nil {
		if errors.Is(err, reporting.ErrInvalidRequest) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid report request"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}
