package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/termpanel/termpanel/internal/connstatus"
	"github.com/termpanel/termpanel/internal/panel"
	"github.com/termpanel/termpanel/internal/panetree"
	"github.com/termpanel/termpanel/internal/session"
	"github.com/termpanel/termpanel/internal/shared/id"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) layout(c *gin.Context) {
	c.JSON(http.StatusOK, s.panel.Layout())
}

func (s *Server) setMode(c *gin.Context) {
	var req struct {
		Mode panel.Mode `json:"mode" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.panel.SetMode(req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": req.Mode})
}

func (s *Server) setConnectivity(c *gin.Context) {
	var req struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	status, ok := connstatus.Parse(req.Status)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown connectivity status"})
		return
	}
	s.tracker.Set(status)
	c.JSON(http.StatusOK, gin.H{"status": status.String()})
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.registry.List()})
}

func (s *Server) createSession(c *gin.Context) {
	var req struct {
		Cwd     string `json:"cwd"`
		Title   string `json:"title"`
		AgentID string `json:"agent_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		rec *session.Record
		tab *panel.Tab
	)
	if req.AgentID != "" {
		rec, tab = s.panel.NewAgentTab(id.AgentID(req.AgentID), req.Title)
	} else {
		rec, tab = s.panel.NewTab(req.Cwd, req.Title)
	}
	c.JSON(http.StatusCreated, gin.H{"session": rec, "tab_id": tab.ID})
}

func (s *Server) closeSession(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	if err := s.panel.CloseSession(sid); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": sid})
}

func (s *Server) split(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	var req struct {
		Direction panetree.Direction `json:"direction" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Direction != panetree.Horizontal && req.Direction != panetree.Vertical {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be horizontal or vertical"})
		return
	}

	rec, err := s.panel.Split(sid, req.Direction)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": rec})
}

func (s *Server) resize(c *gin.Context) {
	var req struct {
		PaneID      string  `json:"pane_id" binding:"required"`
		ChildIndex  int     `json:"child_index"`
		PixelDelta  float64 `json:"pixel_delta"`
		ContainerPx float64 `json:"container_px"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.panel.Resize(id.PaneID(req.PaneID), req.ChildIndex, req.PixelDelta, req.ContainerPx)
	c.JSON(http.StatusOK, s.panel.Layout())
}

func (s *Server) retry(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	if !s.panel.Retry(sid) {
		c.JSON(http.StatusConflict, gin.H{"error": "session is not retryable"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"retrying": sid})
}

func (s *Server) retarget(c *gin.Context) {
	sid := id.SessionID(c.Param("id"))
	var req struct {
		AgentID string `json:"agent_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.bridge.RetargetSession(sid, id.AgentID(req.AgentID)); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sid, "agent_id": req.AgentID})
}

// bindAgentPty records which PTY session an agent's process runs in, so
// agent panes can find and observe it.
func (s *Server) bindAgentPty(c *gin.Context) {
	agentID := id.AgentID(c.Param("id"))
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.agents.BindPty(agentID, id.SessionID(req.SessionID))
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "session_id": req.SessionID})
}

func (s *Server) activateTab(c *gin.Context) {
	s.panel.SetActive(id.PaneID(c.Param("id")))
	c.JSON(http.StatusOK, s.panel.Layout())
}

func (s *Server) closeTab(c *gin.Context) {
	if err := s.panel.CloseTab(id.PaneID(c.Param("id"))); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.panel.Layout())
}
