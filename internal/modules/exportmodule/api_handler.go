package exportmodule

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	experrors "github.com/mantonx/exportra/internal/modules/exportmodule/errors"
	"github.com/mantonx/exportra/internal/timeline"
)

// wsProgressInterval is how often the websocket pushes progress while a
// session is running.
const wsProgressInterval = 500 * time.Millisecond

// APIHandler handles HTTP requests for the export module
type APIHandler struct {
	manager *Manager
	cleanup *CleanupService
	logger  hclog.Logger

	upgrader websocket.Upgrader
}

// NewAPIHandler creates a new API handler
func NewAPIHandler(manager *Manager, cleanup *CleanupService, logger hclog.Logger) *APIHandler {
	return &APIHandler{
		manager: manager,
		cleanup: cleanup,
		logger:  logger.Named("export-api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// HandleStartExport accepts a timeline snapshot and starts an export
// session for it.
func (h *APIHandler) HandleStartExport(c *gin.Context) {
	var request struct {
		Timeline   timeline.Snapshot `json:"timeline" binding:"required"`
		OutputPath string            `json:"output_path"`
		Preset     string            `json:"preset"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if request.Preset != "" {
		if _, ok := PresetByName(request.Preset); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown output preset: " + request.Preset})
			return
		}
	}

	// The export must outlive this request: net/http cancels the request
	// context as soon as the handler returns, and the session carries its
	// own cancel for DELETE.
	session, err := h.manager.StartExport(context.Background(), &request.Timeline, ExportOptions{
		OutputPath: request.OutputPath,
		Preset:     request.Preset,
	})
	if err != nil {
		h.logger.Error("failed to start export", "error", err)
		status := http.StatusInternalServerError
		var ee *experrors.ExportError
		if errors.As(err, &ee) && ee.Type == experrors.ErrorTypeAnalysis {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	h.logger.Info("export session created", "session_id", session.ID)
	c.JSON(http.StatusOK, gin.H{
		"id":           session.ID,
		"status":       session.State(),
		"progress_url": "/api/export/session/" + session.ID + "/ws",
	})
}

// HandleGetSession returns the state of one session. Finished sessions
// that already left memory are served from the database.
func (h *APIHandler) HandleGetSession(c *gin.Context) {
	sessionID := c.Param("sessionId")

	session, err := h.manager.GetSession(sessionID)
	if err == nil {
		c.JSON(http.StatusOK, sessionResponse(session))
		return
	}

	record, dbErr := h.manager.Store().GetRecord(sessionID)
	if dbErr != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, record)
}

// HandleListSessions lists recent sessions from the database.
func (h *APIHandler) HandleListSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	records, err := h.manager.Store().ListRecords(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": records, "count": len(records)})
}

// HandleCancelSession cancels a running session.
func (h *APIHandler) HandleCancelSession(c *gin.Context) {
	sessionID := c.Param("sessionId")
	if err := h.manager.CancelSession(sessionID); err != nil {
		status := http.StatusConflict
		if errors.Is(err, experrors.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": sessionID, "status": "cancelling"})
}

// HandleDownload serves the finished output file.
func (h *APIHandler) HandleDownload(c *gin.Context) {
	sessionID := c.Param("sessionId")

	outputPath := ""
	if session, err := h.manager.GetSession(sessionID); err == nil {
		if result := session.Result(); result != nil && result.Output != nil {
			outputPath = result.Output.Path
		}
	}
	if outputPath == "" {
		record, err := h.manager.Store().GetRecord(sessionID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		outputPath = record.OutputPath
	}
	if outputPath == "" {
		c.JSON(http.StatusConflict, gin.H{"error": "export not completed"})
		return
	}
	if _, err := os.Stat(outputPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "output file no longer exists"})
		return
	}

	c.FileAttachment(outputPath, sessionID+".mp4")
}

// HandleProgressSocket streams progress reports over a websocket until
// the session reaches a terminal state.
func (h *APIHandler) HandleProgressSocket(c *gin.Context) {
	sessionID := c.Param("sessionId")
	session, err := h.manager.GetSession(sessionID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(wsProgressInterval)
	defer ticker.Stop()

	send := func() bool {
		report := ProgressReport{
			SessionID: session.ID,
			State:     session.State(),
			Percent:   session.Progress(),
		}
		if err := session.Err(); err != nil {
			report.Message = err.Error()
		}
		return conn.WriteJSON(report) == nil
	}

	if !send() {
		return
	}
	for {
		select {
		case <-session.Done():
			send()
			return
		case <-ticker.C:
			if !send() {
				return
			}
		case <-c.Request.Context().Done():
			return
		}
	}
}

// HandleListPresets returns the available output presets.
func (h *APIHandler) HandleListPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"presets": Presets()})
}

// HandleHealthCheck reports encoder availability.
func (h *APIHandler) HandleHealthCheck(c *gin.Context) {
	if err := h.manager.encoder.CheckAvailability(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// HandleCleanupStats returns cumulative cleanup statistics.
func (h *APIHandler) HandleCleanupStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cleanup.GetStats())
}

// HandleManualCleanup triggers an immediate cleanup sweep.
func (h *APIHandler) HandleManualCleanup(c *gin.Context) {
	run := h.cleanup.Sweep()
	c.JSON(http.StatusOK, run)
}

func sessionResponse(session *ExportSession) gin.H {
	resp := gin.H{
		"id":       session.ID,
		"status":   session.State(),
		"progress": session.Progress(),
	}
	if plan := session.Plan(); plan != nil {
		resp["plan"] = plan
	}
	if result := session.Result(); result != nil {
		resp["result"] = result
	}
	if err := session.Err(); err != nil {
		resp["error"] = err.Error()
	}
	return resp
}
