package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/crowdcount/internal/analysis"
	"github.com/your-org/crowdcount/pkg/dto"
)

type Controller interface {
	Start(ctx context.Context, feedPath string) (analysis.StartResult, error)
	Stop() analysis.StopResult
	Status() analysis.Status
}

type CountsReader interface {
	Counts() []int
	Snapshot() analysis.Snapshot
}

type AnalysisHandler struct {
	ctrl   Controller
	counts CountsReader
	feed   http.Handler
}

// NewAnalysisHandler wires the lifecycle endpoints. feed serves the annotated
// MJPEG stream and may be nil.
func NewAnalysisHandler(ctrl Controller, counts CountsReader, feed http.Handler) *AnalysisHandler {
	return &AnalysisHandler{ctrl: ctrl, counts: counts, feed: feed}
}

func (h *AnalysisHandler) Start(c *gin.Context) {
	var req dto.StartAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.ctrl.Start(c.Request.Context(), req.FeedPath)
	if err != nil {
		if errors.Is(err, analysis.ErrInvalidSource) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("start analysis", "feed", req.FeedPath, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.AnalysisResponse{Status: res.Status.String(), SessionID: res.SessionID})
}

func (h *AnalysisHandler) Stop(c *gin.Context) {
	c.JSON(http.StatusOK, dto.AnalysisResponse{Status: h.ctrl.Stop().String()})
}

func (h *AnalysisHandler) LiveCounts(c *gin.Context) {
	counts := h.counts.Counts()
	if counts == nil {
		counts = []int{}
	}
	c.JSON(http.StatusOK, dto.LiveCountsResponse{Counts: counts})
}

func (h *AnalysisHandler) Status(c *gin.Context) {
	st := h.ctrl.Status()
	snap := h.counts.Snapshot()

	resp := dto.StatusResponse{
		Running:   st.Running,
		SessionID: st.SessionID,
		FeedPath:  st.FeedPath,
		Frames:    st.Frames,
		LastError: st.LastError,
		Counts:    snap.Counts,
		Labels:    snap.Labels,
	}
	if !st.StartedAt.IsZero() {
		resp.StartedAt = &st.StartedAt
	}
	if !snap.Time.IsZero() {
		resp.UpdatedAt = &snap.Time
	}
	if resp.Counts == nil {
		resp.Counts = []int{}
	}
	if resp.Labels == nil {
		resp.Labels = []string{}
	}
	c.JSON(http.StatusOK, resp)
}

// VideoFeed streams annotated frames. A path query parameter starts analysis
// of that feed first unless a session is already running.
func (h *AnalysisHandler) VideoFeed(c *gin.Context) {
	if h.feed == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "video feed disabled"})
		return
	}

	if path := c.Query("path"); path != "" {
		if _, err := h.ctrl.Start(c.Request.Context(), path); err != nil {
			if errors.Is(err, analysis.ErrInvalidSource) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Video path invalid"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}

	h.feed.ServeHTTP(c.Writer, c.Request)
}
