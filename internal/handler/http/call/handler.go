package call

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"vidlink-backend/internal/domain"
	callsvc "vidlink-backend/internal/service/call"
	"vidlink-backend/pkg/response"
)

// Handler handles call management HTTP requests
type Handler struct {
	callService *callsvc.Service
}

// NewHandler creates a new call handler
func NewHandler(callService *callsvc.Service) *Handler {
	return &Handler{
		callService: callService,
	}
}

// currentUserID pulls the authenticated user from the request context
func currentUserID(c *gin.Context) (uuid.UUID, bool) {
	val, exists := c.Get("user_id")
	if !exists {
		response.Unauthorized(c, "Not authenticated")
		return uuid.Nil, false
	}
	userID, ok := val.(uuid.UUID)
	if !ok {
		response.InternalError(c, "Invalid user ID")
		return uuid.Nil, false
	}
	return userID, true
}

// callIDParam parses the :id path parameter
func callIDParam(c *gin.Context) (uuid.UUID, bool) {
	callID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid call ID")
		return uuid.Nil, false
	}
	return callID, true
}

// StartCallRequest represents call creation request
type StartCallRequest struct {
	CallType  string   `json:"call_type" binding:"required,oneof=audio video screen_share"`
	CalleeIDs []string `json:"callee_ids"`
}

// StartCall creates a new call and rings the callees
// POST /v1/calls
func (h *Handler) StartCall(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	calleeIDs := make([]uuid.UUID, len(req.CalleeIDs))
	for i, idStr := range req.CalleeIDs {
		id, err := uuid.Parse(idStr)
		if err != nil {
			response.ValidationError(c, "Invalid callee ID: "+idStr)
			return
		}
		calleeIDs[i] = id
	}

	username, _ := c.Get("username")
	name, _ := username.(string)

	call, err := h.callService.StartCall(c.Request.Context(), callsvc.StartCallInput{
		InitiatorID:   userID,
		InitiatorName: name,
		Kind:          domain.CallKind(req.CallType),
		CalleeIDs:     calleeIDs,
	})
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, call)
}

// JoinCall joins an ongoing call
// POST /v1/calls/:id/join
func (h *Handler) JoinCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	call, err := h.callService.JoinCall(c.Request.Context(), callID, userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, call)
}

// LeaveCall records the user leaving a call
// POST /v1/calls/:id/leave
func (h *Handler) LeaveCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.callService.LeaveCall(c.Request.Context(), callID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Left call",
		"call_id": callID,
	})
}

// EndCall terminates a call for everyone
// POST /v1/calls/:id/end
func (h *Handler) EndCall(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.callService.EndCall(c.Request.Context(), callID, userID); err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"message": "Call ended",
		"call_id": callID,
	})
}

// GetCallStatus retrieves a call and its participants
// GET /v1/calls/:id
func (h *Handler) GetCallStatus(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	snapshot, err := h.callService.Status(c.Request.Context(), callID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, snapshot)
}

// GetActiveCalls lists the authenticated user's active calls
// GET /v1/calls/active
func (h *Handler) GetActiveCalls(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	calls, err := h.callService.ActiveCalls(c.Request.Context(), userID)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"calls": calls,
		"count": len(calls),
	})
}

// QualityMetricsRequest represents a client-reported quality sample
type QualityMetricsRequest struct {
	BandwidthKbps int     `json:"bandwidth_kbps" binding:"required,min=0"`
	LatencyMs     int     `json:"latency_ms" binding:"min=0"`
	PacketLossPct float64 `json:"packet_loss_percent" binding:"min=0,max=100"`
	CPUUsagePct   float64 `json:"cpu_usage_percent" binding:"min=0,max=100"`
	VideoQuality  string  `json:"video_quality"`
	AudioQuality  string  `json:"audio_quality"`
}

// ReportQualityMetrics stores a quality sample and returns the recommended
// quality tier with its capture constraints
// POST /v1/calls/:id/metrics
func (h *Handler) ReportQualityMetrics(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req QualityMetricsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	sample := &domain.QualityMetricsSample{
		CallID:        callID,
		UserID:        userID,
		BandwidthKbps: req.BandwidthKbps,
		LatencyMs:     req.LatencyMs,
		PacketLossPct: req.PacketLossPct,
		VideoQuality:  req.VideoQuality,
		AudioQuality:  req.AudioQuality,
	}

	tier, constraints, err := h.callService.RecordQualitySample(c.Request.Context(), sample, req.CPUUsagePct)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"recommended_tier": tier,
		"constraints":      constraints,
	})
}

// GetQualityMetrics returns recent quality samples reported for a call
// GET /v1/calls/:id/metrics
func (h *Handler) GetQualityMetrics(c *gin.Context) {
	callID, ok := callIDParam(c)
	if !ok {
		return
	}

	limit := 100
	if val := c.Query("limit"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			limit = n
		}
	}

	samples, err := h.callService.RecentQualitySamples(c.Request.Context(), callID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"samples": samples,
		"count":   len(samples),
	})
}
