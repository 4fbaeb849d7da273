package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/tracklet/tracklet/internal/errors"
	"github.com/tracklet/tracklet/internal/ingest"
	"github.com/tracklet/tracklet/internal/platform/logger"
)

const maxTrackBodyBytes = 1 << 20

// Tracker persists decoded payloads.
type Tracker interface {
	Track(ctx context.Context, p *ingest.Payload) (*ingest.Result, error)
}

// TrackResponse is the success body of POST /track.
type TrackResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
}

// TrackHandler handles POST /track.
type TrackHandler struct {
	tracker Tracker
	log     *logger.Logger
}

func NewTrackHandler(tracker Tracker, log *logger.Logger) *TrackHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &TrackHandler{
		tracker: tracker,
		log:     log.With("handler", "TrackHandler"),
	}
}

// Track accepts a JSON body regardless of Content-Type; browsers using
// sendBeacon post it as text/plain.
func (h *TrackHandler) Track(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxTrackBodyBytes))
	if err != nil {
		respondError(c, apperrors.NewValidationError(apperrors.CodeInvalidJSON, "invalid json"))
		return
	}

	payload, err := ingest.Decode(body)
	if err != nil {
		h.log.Debug("Rejected payload", "code", apperrors.GetCode(err), "request_id", GetRequestID(c.Request.Context()))
		respondError(c, err)
		return
	}

	if _, err := h.tracker.Track(c.Request.Context(), payload); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, TrackResponse{
		Status:    "success",
		RequestID: GetRequestID(c.Request.Context()),
	})
}

// respondError maps validation errors to 400 with their message and
// everything else to a generic 500.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	requestID := GetRequestID(c.Request.Context())

	var te *apperrors.TrackletError
	if apperrors.IsValidation(err) && errors.As(err, &te) {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: te.Message, RequestID: requestID})
		return
	}
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error", RequestID: requestID})
}
