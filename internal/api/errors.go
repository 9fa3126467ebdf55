package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/rfalcfilho/disparazap/internal/dispatch"
	"github.com/rfalcfilho/disparazap/internal/ingest"
)

var (
	errNoDataset      = errors.New("no contact file uploaded")
	errNothingToRetry = errors.New("no failed or pending contacts to retry")
)

func statusFor(err error) int {
	var cfgErr *dispatch.ConfigurationError
	var ingErr *ingest.IngestionError
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &ingErr), errors.Is(err, errNoDataset):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrRunInProgress),
		errors.Is(err, dispatch.ErrNotRunning),
		errors.Is(err, dispatch.ErrNotConfigured),
		errors.Is(err, errNothingToRetry):
		return http.StatusConflict
	case errors.Is(err, dispatch.ErrNotConnected):
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	body := gin.H{"error": err.Error()}
	var cfgErr *dispatch.ConfigurationError
	if errors.As(err, &cfgErr) && cfgErr.Field != "" {
		body["field"] = cfgErr.Field
	}
	c.JSON(code, body)
}
