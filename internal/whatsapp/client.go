package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rfalcfilho/disparazap/internal/config"
	"github.com/rfalcfilho/disparazap/internal/dispatch"
	"github.com/rfalcfilho/disparazap/internal/models"
)

var ErrMissingCredentials = errors.New("WHATSAPP_TOKEN and PHONE_NUMBER_ID must be set")

// MessageLogger persists outgoing messages. Implemented by store.Store.
type MessageLogger interface {
	LogMessage(ctx context.Context, msg *models.Message) error
}

// Status is the session state reported to the UI.
type Status struct {
	Connected    bool       `json:"connected"`
	PhoneNumber  string     `json:"phone_number,omitempty"`
	VerifiedName string     `json:"verified_name,omitempty"`
	ConnectedAt  *time.Time `json:"connected_at,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Client is a WhatsApp Cloud API session. It satisfies dispatch.Sender.
type Client struct {
	Config *config.Config

	http   *http.Client
	logger MessageLogger

	mu       sync.RWMutex
	status   Status
	onChange func(Status)
}

func NewClient(cfg *config.Config) *Client {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		Config: cfg,
		http:   &http.Client{Timeout: timeout},
	}
}

// SetMessageLogger attaches a store that records every outgoing message.
func (c *Client) SetMessageLogger(l MessageLogger) {
	c.logger = l
}

// OnStatusChange registers fn to be called after every session transition.
func (c *Client) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type,omitempty"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             *TextObj `json:"text,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type phoneNumberResponse struct {
	ID                 string `json:"id"`
	DisplayPhoneNumber string `json:"display_phone_number"`
	VerifiedName       string `json:"verified_name"`
}

// APIError is the error envelope returned by the Graph API.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API error: %d", e.StatusCode)
	}
	return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
}

// --- Helper Functions ---

func (c *Client) endpoint(path string) string {
	base := strings.TrimRight(c.Config.GraphAPIURL, "/")
	return fmt.Sprintf("%s/%s/%s", base, c.Config.GraphAPIVersion, strings.TrimLeft(path, "/"))
}

func (c *Client) sendRequest(ctx context.Context, method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.Config.WhatsAppToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return respBody, parseAPIError(resp.StatusCode, respBody)
	}

	return respBody, nil
}

func parseAPIError(statusCode int, body []byte) *APIError {
	var envelope struct {
		Error APIError `json:"error"`
	}
	apiErr := &APIError{StatusCode: statusCode}
	if err := json.Unmarshal(body, &envelope); err == nil {
		apiErr.Message = envelope.Error.Message
		apiErr.Type = envelope.Error.Type
		apiErr.Code = envelope.Error.Code
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(http.StatusText(statusCode))
	}
	return apiErr
}

// --- Session Methods ---

// Connect verifies the credentials by reading the phone number object.
func (c *Client) Connect(ctx context.Context) (Status, error) {
	if c.Config.WhatsAppToken == "" || c.Config.PhoneNumberID == "" {
		c.setStatus(Status{Error: ErrMissingCredentials.Error()})
		return c.Status(), ErrMissingCredentials
	}

	url := c.endpoint(c.Config.PhoneNumberID) + "?fields=id,display_phone_number,verified_name"
	resp, err := c.sendRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Error().Err(err).Msg("whatsapp connect failed")
		c.setStatus(Status{Error: err.Error()})
		return c.Status(), err
	}

	var phone phoneNumberResponse
	if err := json.Unmarshal(resp, &phone); err != nil {
		c.setStatus(Status{Error: err.Error()})
		return c.Status(), fmt.Errorf("decode phone number: %w", err)
	}

	now := time.Now()
	c.setStatus(Status{
		Connected:    true,
		PhoneNumber:  phone.DisplayPhoneNumber,
		VerifiedName: phone.VerifiedName,
		ConnectedAt:  &now,
	})
	log.Info().Str("phone", phone.DisplayPhoneNumber).Str("name", phone.VerifiedName).Msg("whatsapp session connected")
	return c.Status(), nil
}

func (c *Client) Disconnect() Status {
	c.setStatus(Status{})
	log.Info().Msg("whatsapp session disconnected")
	return c.Status()
}

func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status.Connected
}

func (c *Client) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// --- Messaging Methods ---

func (c *Client) SendRawMessage(ctx context.Context, msg GenericMessage) (string, error) {
	resp, err := c.sendRequest(ctx, http.MethodPost, c.endpoint(c.Config.PhoneNumberID+"/messages"), msg)

	waID := ""
	if err == nil {
		var sr sendResponse
		if jsonErr := json.Unmarshal(resp, &sr); jsonErr == nil && len(sr.Messages) > 0 {
			waID = sr.Messages[0].ID
		}
	}

	content := fmt.Sprintf("%s message", msg.Type)
	if msg.Text != nil {
		content = msg.Text.Body
	}
	c.logMessage(ctx, msg.To, content, msg.Type, waID, err)

	return waID, err
}

// SendMessage sends a text message to a digits-only phone number.
// Rejections by the API for this recipient come back as *dispatch.SendFailure.
func (c *Client) SendMessage(ctx context.Context, to, body string) error {
	if !c.IsConnected() {
		return dispatch.ErrNotConnected
	}

	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text: &TextObj{
			Body: body,
		},
	}
	_, err := c.SendRawMessage(ctx, msg)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
		if apiErr.StatusCode == http.StatusUnauthorized {
			c.setStatus(Status{Error: apiErr.Message})
			log.Warn().Msg("whatsapp token rejected, session marked disconnected")
		}
		return &dispatch.SendFailure{Reason: apiErr.Message, Err: apiErr}
	}
	return err
}

// Send implements dispatch.Sender.
func (c *Client) Send(ctx context.Context, phone, text string) error {
	return c.SendMessage(ctx, phone, text)
}

func (c *Client) logMessage(ctx context.Context, to, content, msgType, waID string, sendErr error) {
	if c.logger == nil {
		return
	}
	m := &models.Message{
		WaID:      waID,
		Recipient: to,
		Content:   content,
		Type:      msgType,
		Status:    "sent",
	}
	if sendErr != nil {
		m.Status = "failed"
		m.Error = sendErr.Error()
	}
	if err := c.logger.LogMessage(context.WithoutCancel(ctx), m); err != nil {
		log.Warn().Err(err).Str("to", to).Msg("failed to log outgoing message")
	}
}
