package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rfalcfilho/disparazap/internal/dispatch"
	"github.com/rfalcfilho/disparazap/internal/whatsapp"
)

// Session is the WhatsApp connection the handlers drive.
type Session interface {
	Connect(ctx context.Context) (whatsapp.Status, error)
	Disconnect() whatsapp.Status
	Status() whatsapp.Status
	SendMessage(ctx context.Context, to, body string) error
}

type SessionHandler struct {
	Client Session
}

func NewSessionHandler(client Session) *SessionHandler {
	return &SessionHandler{Client: client}
}

func (h *SessionHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Client.Status())
}

func (h *SessionHandler) Connect(c *gin.Context) {
	status, err := h.Client.Connect(c.Request.Context())
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, whatsapp.ErrMissingCredentials) {
			code = http.StatusBadRequest
		}
		c.JSON(code, gin.H{"error": "Failed to connect: " + err.Error(), "status": status})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *SessionHandler) Disconnect(c *gin.Context) {
	c.JSON(http.StatusOK, h.Client.Disconnect())
}

type SendMessageRequest struct {
	Phone   string `json:"phone" binding:"required"`
	Message string `json:"message" binding:"required"`
}

// SendMessage delivers a single message outside of any dispatch run.
func (h *SessionHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	phone := dispatch.NormalizePhone(req.Phone)
	if phone == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid phone number"})
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is empty"})
		return
	}

	if err := h.Client.SendMessage(c.Request.Context(), phone, req.Message); err != nil {
		log.Warn().Err(err).Str("phone", phone).Msg("single send failed")
		var sf *dispatch.SendFailure
		switch {
		case errors.Is(err, dispatch.ErrNotConnected):
			writeError(c, err)
		case errors.As(err, &sf):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": sf.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to send message: " + err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Message sent", "phone": phone})
}
