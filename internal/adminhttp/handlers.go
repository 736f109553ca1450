package adminhttp

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/emerick42/kairoi/internal/health"
)

type handlerSet struct {
	eng     EngineReader
	checker *health.Checker
	hub     *hub
	logger  *slog.Logger
}

func (h *handlerSet) liveness(c *gin.Context) {
	result := h.checker.Liveness(c.Request.Context())
	c.JSON(http.StatusOK, result)
}

func (h *handlerSet) readiness(c *gin.Context) {
	result := h.checker.Readiness(c.Request.Context())
	status := http.StatusOK
	if result.Status != "up" {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

func (h *handlerSet) listJobs(c *gin.Context) {
	snap, err := h.eng.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("snapshot jobs", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": snap.Jobs})
}

func (h *handlerSet) getJob(c *gin.Context) {
	id := c.Param("id")
	snap, err := h.eng.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("snapshot job", "id", id, "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	for _, j := range snap.Jobs {
		if j.Identifier == id {
			c.JSON(http.StatusOK, j)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
}

func (h *handlerSet) listRules(c *gin.Context) {
	snap, err := h.eng.Snapshot(c.Request.Context())
	if err != nil {
		h.logger.Error("snapshot rules", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rules": snap.Rules})
}

// events streams job status transitions as Server-Sent Events until the
// client disconnects. A slow client is dropped from the hub's broadcast
// rather than allowed to block the Engine.
func (h *handlerSet) events(c *gin.Context) {
	sub := h.hub.subscribe()
	defer h.hub.unsubscribe(sub)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-sub:
			if !ok {
				return false
			}
			payload := eventPayload{
				JobIdentifier: ev.JobIdentifier,
				Status:        ev.Status.String(),
				At:            ev.At.Format(time.RFC3339),
			}
			_ = sse.Encode(w, sse.Event{Event: "job_transition", Data: payload})
			return true
		case <-ctx.Done():
			return false
		}
	})
}

type eventPayload struct {
	JobIdentifier string `json:"job_identifier"`
	Status        string `json:"status"`
	At            string `json:"at"`
}
