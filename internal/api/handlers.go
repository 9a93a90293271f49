package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Subthedev/QuantumX-sub000/internal/selector"
)

func (s *Server) handleHealth(c *gin.Context) {
	st := s.deps.Aggregator.Stats()

	status := "healthy"
	code := http.StatusOK
	if !st.Healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":         status,
		"uptime_sec":     int(time.Since(s.startedAt).Seconds()),
		"sources":        st.SourceStatus,
		"active_sources": st.ActiveSources,
		"last_tick_age":  st.LastTickAgeSec,
		"ws_clients":     s.hub.ClientCount(),
	})
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"engine":          s.deps.Engine.Counters(),
		"feed":            s.deps.Aggregator.Stats(),
		"indicator_cache": s.deps.Cache.Stats(),
		"pending_outcomes": s.deps.Reputation.Pending(),
	})
}

func (s *Server) handleTiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": s.deps.Tiers.Snapshot()})
}

func (s *Server) handleRecentSignals(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	// The in-memory ring answers instantly; the database covers restarts
	signals := s.deps.Engine.RecentSignals(limit)
	if len(signals) == 0 && s.deps.Repo != nil {
		fromDB, err := s.deps.Repo.RecentSignals(c.Request.Context(), limit)
		if err != nil {
			s.logger.Warn("Recent signals query failed", "error", err)
		} else {
			signals = fromDB
		}
	}

	c.JSON(http.StatusOK, gin.H{"signals": signals, "count": len(signals)})
}

// outcomeRequest is the barrier monitor's callback payload
type outcomeRequest struct {
	SignalID  string  `json:"signal_id" binding:"required"`
	Outcome   string  `json:"outcome" binding:"required"`
	ReturnPct float64 `json:"return_pct"`
}

func (s *Server) handleOutcome(c *gin.Context) {
	var req outcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	outcome := selector.Outcome(req.Outcome)
	if !outcome.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown outcome label"})
		return
	}

	if err := s.deps.Reputation.ReportOutcome(req.SignalID, outcome, req.ReturnPct); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	if s.deps.Repo != nil {
		if err := s.deps.Repo.RecordOutcome(c.Request.Context(), req.SignalID, req.Outcome, req.ReturnPct); err != nil {
			s.logger.Warn("Outcome persistence failed",
				"signal_id", req.SignalID,
				"error", err)
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}
