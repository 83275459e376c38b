package relay

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jengzang/dining-presence-go/internal/fanout"
	"github.com/jengzang/dining-presence-go/internal/middleware"
	"github.com/jengzang/dining-presence-go/pkg/response"
)

// Handler serves the presence endpoints
type Handler struct {
	inbox    Inbox
	logger   *zap.Logger
	now      func() time.Time
	freshFor time.Duration
}

// NewHandler creates the handlers over inbox
func NewHandler(inbox Inbox, logger *zap.Logger) *Handler {
	return &Handler{
		inbox:    inbox,
		logger:   logger,
		now:      time.Now,
		freshFor: fanout.UpdateLimit,
	}
}

// Update handles POST /api/update. The body is null to withdraw presence or
// a map of friend id to ciphertext.
func (h *Handler) Update(c *gin.Context) {
	sender := c.GetString(middleware.UserIDKey)

	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		response.BadRequest(c, "missing body")
		return
	}
	var payload map[string]string
	if err := json.Unmarshal(body, &payload); err != nil {
		response.BadRequest(c, "body must be null or an object of ciphertexts")
		return
	}
	delete(payload, sender)

	if err := h.inbox.Publish(c.Request.Context(), sender, payload, h.now().UTC()); err != nil {
		h.logger.Error("publish failed", zap.String("sender", sender), zap.Error(err))
		response.InternalError(c, "could not store update")
		return
	}

	h.logger.Debug("published presence",
		zap.String("sender", sender),
		zap.Int("recipients", len(payload)),
		zap.Bool("cleared", payload == nil),
	)
	response.Success(c, gin.H{"recipients": len(payload)})
}

// Where handles GET /api/where: every fresh ciphertext addressed to the caller
func (h *Handler) Where(c *gin.Context) {
	recipient := c.GetString(middleware.UserIDKey)

	all, err := h.inbox.Fetch(c.Request.Context(), recipient)
	if err != nil {
		h.logger.Error("fetch failed", zap.String("recipient", recipient), zap.Error(err))
		response.InternalError(c, "could not load inbox")
		return
	}

	now := h.now()
	fresh := make(map[string]Envelope, len(all))
	for sender, env := range all {
		if now.Sub(env.At) <= h.freshFor {
			fresh[sender] = env
		}
	}
	response.Success(c, fresh)
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "presence relay is running",
	})
}
