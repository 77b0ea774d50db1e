package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"warp2api-go/internal/apierrors"
	"warp2api-go/internal/config"
	"warp2api-go/internal/stats"
	"warp2api-go/internal/tokenpool"
	"warp2api-go/internal/upstream"
)

// maxPayloadBytes bounds the passthrough request body.
const maxPayloadBytes = 8 << 20

type handler struct {
	cfg  *config.Config
	deps Dependencies
}

func (h *handler) healthz(c *gin.Context) {
	s := h.deps.Pool.Stats()
	status := http.StatusOK
	if s.Active == 0 {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":             statusLabel(s.Active > 0),
		"active_credentials": s.Active,
		"total_credentials":  s.Total,
	})
}

func statusLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "degraded"
}

// warpSend drives an opaque protobuf payload through the retry machinery
// and relays the upstream response, SSE stream included, back to the caller.
func (h *handler) warpSend(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPayloadBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope("failed to read request body", "invalid_request", nil))
		return
	}
	if len(payload) == 0 {
		c.JSON(http.StatusBadRequest, errorEnvelope("empty payload", "invalid_request", nil))
		return
	}

	ctx := c.Request.Context()
	if overrides := clientHeaderOverrides(c.Request.Header); overrides != nil {
		ctx = upstream.WithHeaderOverrides(ctx, overrides)
	}

	result, err := h.deps.Orchestrator.Execute(ctx, payload)
	if err != nil {
		h.writeTerminal(c, err)
		return
	}
	defer result.Resp.Body.Close()

	h.deps.Facade.ReportOutcome(c.Request.Context(), result.CredentialID, stats.OutcomeSuccess)

	contentType := result.Resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Header("X-Warp-Attempts", strconv.Itoa(result.Attempts))
	c.Status(result.Resp.StatusCode)
	if err := relayStream(c.Writer, result.Resp.Body); err != nil {
		log.WithError(err).Debug("client disconnected during relay")
	}
}

// forwardedWarpHeaders are the client identity headers a caller may override
// per request; everything else on the inbound request stays local.
var forwardedWarpHeaders = []string{
	"x-warp-client-version",
	"x-warp-os-category",
	"x-warp-os-name",
	"x-warp-os-version",
}

func clientHeaderOverrides(in http.Header) http.Header {
	var out http.Header
	for _, key := range forwardedWarpHeaders {
		if v := in.Get(key); v != "" {
			if out == nil {
				out = http.Header{}
			}
			out.Set(key, v)
		}
	}
	return out
}

// relayStream copies the upstream body to the client, flushing after every
// chunk so SSE events arrive as the upstream emits them instead of sitting
// in the write buffer.
func relayStream(w gin.ResponseWriter, body io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32<<10)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// writeTerminal maps a terminal failure onto an HTTP response.
func (h *handler) writeTerminal(c *gin.Context, err error) {
	term, ok := apierrors.AsTerminal(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, errorEnvelope(err.Error(), "internal_error", nil))
		return
	}

	status := http.StatusBadGateway
	switch term.Kind {
	case apierrors.KindMalformedRequest:
		status = http.StatusBadRequest
	case apierrors.KindQuotaExhausted, apierrors.KindProvisioningRateLimited:
		status = http.StatusTooManyRequests
	case apierrors.KindPoolExhausted:
		status = http.StatusServiceUnavailable
	}

	detail := gin.H{
		"kind":            string(term.Kind),
		"attempts":        term.Attempts,
		"last_tier":       term.LastTier,
		"upstream_status": term.Status,
	}
	if term.Body != "" {
		detail["upstream_body"] = term.Body
	}
	c.JSON(status, errorEnvelope(term.Error(), string(term.Kind), detail))
}

func (h *handler) poolStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.deps.Pool.Stats())
}

func (h *handler) poolHealth(c *gin.Context) {
	snapshots := h.deps.Pool.Snapshots()
	s := h.deps.Pool.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":      statusLabel(s.Active > 0),
		"total":       s.Total,
		"active":      s.Active,
		"credentials": snapshots,
	})
}

func (h *handler) poolUsage(c *gin.Context) {
	records, err := h.deps.Usage.All(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorEnvelope(err.Error(), "usage_backend_error", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage": records})
}

func (h *handler) poolRecover(c *gin.Context) {
	recovered := h.deps.Pool.RecoverFailed()
	log.WithField("recovered", recovered).Info("manual pool recovery")
	c.JSON(http.StatusOK, gin.H{"recovered": recovered, "stats": h.deps.Pool.Stats()})
}

type addTokenRequest struct {
	Token string `json:"token" binding:"required"`
	Tier  string `json:"tier" binding:"required"`
}

func (h *handler) addToken(c *gin.Context) {
	var req addTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope(err.Error(), "invalid_request", nil))
		return
	}
	tier, err := tokenpool.ParseTier(req.Tier)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope(err.Error(), "invalid_tier", nil))
		return
	}
	cred := h.deps.Pool.Add(req.Token, tier)
	c.JSON(http.StatusOK, gin.H{
		"credential": cred.Snapshot(time.Now()),
		"stats":      h.deps.Pool.Stats(),
	})
}

func (h *handler) reactivateToken(c *gin.Context) {
	id := c.Param("id")
	if !h.deps.Pool.Reactivate(id) {
		c.JSON(http.StatusNotFound, errorEnvelope("credential not found or already active", "not_found", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{"reactivated": id})
}

func (h *handler) provision(c *gin.Context) {
	if h.deps.Provisioner == nil {
		c.JSON(http.StatusServiceUnavailable, errorEnvelope("provisioning disabled", "provisioning_disabled", nil))
		return
	}
	cred, err := h.deps.Provisioner.Provision(c.Request.Context(), h.deps.Pool)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, apierrors.ErrProvisioningRateLimited) {
			status = http.StatusTooManyRequests
		}
		c.JSON(status, errorEnvelope(err.Error(), "provisioning_failed", nil))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"credential": cred.Snapshot(time.Now()),
		"stats":      h.deps.Pool.Stats(),
	})
}

type outcomeRequest struct {
	CredentialID string `json:"credential_id"`
	Outcome      string `json:"outcome" binding:"required"`
}

// reportOutcome lets external relays feed results back into accounting.
func (h *handler) reportOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope(err.Error(), "invalid_request", nil))
		return
	}
	outcome, ok := stats.ParseOutcome(req.Outcome)
	if !ok {
		c.JSON(http.StatusBadRequest, errorEnvelope("unknown outcome "+req.Outcome, "invalid_outcome", nil))
		return
	}
	h.deps.Facade.ReportOutcome(c.Request.Context(), req.CredentialID, outcome)
	c.JSON(http.StatusOK, gin.H{"recorded": true})
}

func errorEnvelope(message, code string, detail gin.H) gin.H {
	errBody := gin.H{
		"message": message,
		"type":    "api_error",
		"code":    code,
	}
	if detail != nil {
		errBody["detail"] = detail
	}
	return gin.H{"error": errBody}
}

