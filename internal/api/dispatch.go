package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rfalcfilho/disparazap/internal/config"
	"github.com/rfalcfilho/disparazap/internal/dispatch"
	"github.com/rfalcfilho/disparazap/internal/ingest"
	"github.com/rfalcfilho/disparazap/internal/template"
)

const previewRows = 5

// DispatchHandler exposes the dispatch queue. Runs are bound to ctx, the
// server's lifetime, never to the request that started them.
type DispatchHandler struct {
	Controller *dispatch.Controller
	Config     *config.Config

	ctx      context.Context
	mu       sync.Mutex
	uploaded *dispatch.Dataset
}

func NewDispatchHandler(ctx context.Context, controller *dispatch.Controller, cfg *config.Config) *DispatchHandler {
	return &DispatchHandler{Controller: controller, Config: cfg, ctx: ctx}
}

func (h *DispatchHandler) dataset() (dispatch.Dataset, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.uploaded == nil {
		return dispatch.Dataset{}, errNoDataset
	}
	return *h.uploaded, nil
}

// UploadDataset parses the multipart "file" field into the working dataset.
func (h *DispatchHandler) UploadDataset(c *gin.Context) {
	if h.Config.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.Config.MaxUploadBytes)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field: " + err.Error()})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	ds, err := ingest.Parse(fh.Filename, f)
	if err != nil {
		writeError(c, err)
		return
	}

	h.mu.Lock()
	h.uploaded = &ds
	h.mu.Unlock()
	log.Info().Str("file", ds.FileName).Int("rows", len(ds.Rows)).Strs("columns", ds.Columns).Msg("contact file loaded")

	sample := ds.Rows
	if len(sample) > previewRows {
		sample = sample[:previewRows]
	}
	c.JSON(http.StatusOK, gin.H{
		"file_name":                ds.FileName,
		"columns":                  ds.Columns,
		"row_count":                len(ds.Rows),
		"rows":                     sample,
		"suggested_phone_column":   ingest.GuessPhoneColumn(ds.Columns),
		"default_interval_seconds": h.Config.DefaultIntervalSeconds,
	})
}

func (h *DispatchHandler) bindConfig(c *gin.Context) (dispatch.Config, bool) {
	var cfg dispatch.Config
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return cfg, false
	}
	if cfg.IntervalSeconds == 0 {
		cfg.IntervalSeconds = h.Config.DefaultIntervalSeconds
	}
	return cfg, true
}

// Configure derives the contact list from the uploaded file.
func (h *DispatchHandler) Configure(c *gin.Context) {
	cfg, ok := h.bindConfig(c)
	if !ok {
		return
	}
	ds, err := h.dataset()
	if err != nil {
		writeError(c, err)
		return
	}
	contacts, err := h.Controller.Configure(ds, cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts, "config": cfg})
}

type PreviewRequest struct {
	MessageTemplate string `json:"message_template"`
	Row             int    `json:"row"`
}

func (h *DispatchHandler) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ds, err := h.dataset()
	if err != nil {
		writeError(c, err)
		return
	}
	text, row, err := dispatch.Preview(ds, req.Row, req.MessageTemplate)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"text":    text,
		"row":     row,
		"fields":  template.Fields(req.MessageTemplate),
		"unbound": template.Unbound(req.MessageTemplate, row),
	})
}

// PreviewContact renders the message the configured run sends to the
// contact at :index.
func (h *DispatchHandler) PreviewContact(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "index must be a number"})
		return
	}
	snap := h.Controller.Snapshot()
	text, row, err := h.Controller.Preview(index, snap.Config.MessageTemplate)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{
		"text":    text,
		"row":     row,
		"unbound": template.Unbound(snap.Config.MessageTemplate, row),
	}
	if index < len(snap.Contacts) {
		resp["contact"] = snap.Contacts[index]
	}
	c.JSON(http.StatusOK, resp)
}

// Start configures the queue from the uploaded file and begins a run.
func (h *DispatchHandler) Start(c *gin.Context) {
	cfg, ok := h.bindConfig(c)
	if !ok {
		return
	}
	ds, err := h.dataset()
	if err != nil {
		writeError(c, err)
		return
	}
	contacts, err := h.Controller.Configure(ds, cfg)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := h.Controller.Start(h.ctx, contacts, cfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snapshotResponse(h.Controller.Snapshot()))
}

// Retry resets failed contacts and runs the same list again. Contacts left
// pending by a cancelled run are sent too.
func (h *DispatchHandler) Retry(c *gin.Context) {
	contacts, err := h.Controller.ResetFailed()
	if err != nil {
		writeError(c, err)
		return
	}
	pending := 0
	for _, ct := range contacts {
		if ct.Status == dispatch.StatusPending {
			pending++
		}
	}
	if pending == 0 {
		writeError(c, errNothingToRetry)
		return
	}
	cfg := h.Controller.Snapshot().Config
	if err := h.Controller.Start(h.ctx, contacts, cfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, snapshotResponse(h.Controller.Snapshot()))
}

func (h *DispatchHandler) Cancel(c *gin.Context) {
	if !h.Controller.Cancel() {
		writeError(c, dispatch.ErrNotRunning)
		return
	}
	c.JSON(http.StatusOK, snapshotResponse(h.Controller.Snapshot()))
}

func (h *DispatchHandler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, snapshotResponse(h.Controller.Snapshot()))
}

func snapshotResponse(snap dispatch.Snapshot) gin.H {
	stats := snap.Stats()
	return gin.H{
		"snapshot": snap,
		"stats":    stats,
		"progress": stats.Progress(),
	}
}
