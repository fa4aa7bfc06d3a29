package server

import (
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v5"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/vertextoedge/resumable-downloader/internal/domain"
	"github.com/vertextoedge/resumable-downloader/internal/service/coordinator"
)

// startBody is the JSON body of POST /api/transfers. A missing id is generated.
type startBody struct {
	ID                 string            `json:"id"`
	URL                string            `json:"url"`
	Destination        string            `json:"destination"`
	Headers            map[string]string `json:"headers"`
	Metadata           string            `json:"metadata"`
	StartByte          int64             `json:"start_byte"`
	TotalHint          int64             `json:"total_hint"`
	MaxRedirects       int               `json:"max_redirects"`
	Bulk               bool              `json:"bulk"`
	ProgressIntervalMs int64             `json:"progress_interval_ms"`
	ProgressMinBytes   int64             `json:"progress_min_bytes"`
}

type progressBody struct {
	IntervalMs int64 `json:"interval_ms"`
	MinBytes   int64 `json:"min_bytes"`
}

type stateResponse struct {
	ID    string               `json:"id"`
	State domain.TransferState `json:"state"`
}

type statsResponse struct {
	Transfers  int    `json:"transfers"`
	Running    int    `json:"running"`
	Paused     int    `json:"paused"`
	Downloaded string `json:"downloaded"`
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

type transferHandler struct {
	engine Engine
	logger *zap.Logger
}

func (h *transferHandler) list(c *echo.Context) error {
	transfers := h.engine.ListActive()
	if transfers == nil {
		transfers = []domain.ActiveTransfer{}
	}
	return c.JSON(http.StatusOK, transfers)
}

func (h *transferHandler) start(c *echo.Context) error {
	var body startBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("malformed request body"))
	}
	if body.ID == "" {
		body.ID = ksuid.New().String()
	}

	req := coordinator.StartRequest{
		ID:               body.ID,
		URL:              body.URL,
		Destination:      body.Destination,
		Headers:          body.Headers,
		Metadata:         body.Metadata,
		StartByte:        body.StartByte,
		TotalHint:        body.TotalHint,
		MaxRedirects:     body.MaxRedirects,
		Bulk:             body.Bulk,
		ProgressInterval: time.Duration(body.ProgressIntervalMs) * time.Millisecond,
		ProgressMinBytes: body.ProgressMinBytes,
	}
	if err := h.engine.Start(c.Request().Context(), req); err != nil {
		if domain.IsKind(err, domain.KindInvalidRequest) {
			return c.JSON(http.StatusBadRequest, errorBody(err.Error()))
		}
		h.logger.Error("failed to start transfer", zap.String("id", req.ID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to start transfer"))
	}

	if t, ok := h.engine.Get(req.ID); ok {
		return c.JSON(http.StatusAccepted, t)
	}
	// Finished before we could look it up
	return c.JSON(http.StatusAccepted, stateResponse{ID: req.ID, State: h.engine.State(req.ID)})
}

func (h *transferHandler) get(c *echo.Context) error {
	t, ok := h.engine.Get(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody("transfer not found"))
	}
	return c.JSON(http.StatusOK, t)
}

func (h *transferHandler) pause(c *echo.Context) error {
	return h.control(c, h.engine.Pause, "transfer is not running")
}

func (h *transferHandler) resume(c *echo.Context) error {
	return h.control(c, h.engine.Resume, "transfer is not paused")
}

func (h *transferHandler) cancel(c *echo.Context) error {
	id := c.Param("id")
	if !h.engine.Cancel(id) {
		return c.JSON(http.StatusNotFound, errorBody("transfer not found"))
	}
	return c.NoContent(http.StatusNoContent)
}

// control applies op and reports 404 for unknown ids, 409 when op was a no-op
func (h *transferHandler) control(c *echo.Context, op func(string) bool, conflict string) error {
	id := c.Param("id")
	if _, ok := h.engine.Get(id); !ok {
		return c.JSON(http.StatusNotFound, errorBody("transfer not found"))
	}
	if !op(id) {
		return c.JSON(http.StatusConflict, errorBody(conflict))
	}
	return c.JSON(http.StatusOK, stateResponse{ID: id, State: h.engine.State(id)})
}

func (h *transferHandler) configureProgress(c *echo.Context) error {
	var body progressBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("malformed request body"))
	}
	if body.IntervalMs < 0 || body.MinBytes < 0 {
		return c.JSON(http.StatusBadRequest, errorBody("interval and min bytes must not be negative"))
	}

	interval := time.Duration(body.IntervalMs) * time.Millisecond
	if err := h.engine.ConfigureProgress(c.Request().Context(), interval, body.MinBytes); err != nil {
		h.logger.Error("failed to save progress configuration", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorBody("failed to save progress configuration"))
	}
	return c.JSON(http.StatusOK, body)
}

func (h *transferHandler) stats(c *echo.Context) error {
	var resp statsResponse
	var downloaded int64
	for _, t := range h.engine.ListActive() {
		resp.Transfers++
		if t.Paused {
			resp.Paused++
		} else if t.State == domain.StateRunning {
			resp.Running++
		}
		downloaded += t.BytesDownloaded
	}
	resp.Downloaded = humanize.Bytes(uint64(downloaded))
	return c.JSON(http.StatusOK, resp)
}
