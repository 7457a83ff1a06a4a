package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"scenehub/internal/notify"
	"scenehub/internal/observability"
	"scenehub/internal/scene"
)

// handleUpdateScenes applies a filtered bulk action across the scene
// directory. Per-scene failures are logged inside the broadcaster and do not
// fail the request; only a malformed body or an unknown action is a 400.
func (s *Server) handleUpdateScenes(c *gin.Context) {
	var req UpdateScenesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Status: "error",
			Error:  fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	action, err := scene.ParseAction(req.Action)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Status: "error",
			Error:  err.Error(),
		})
		return
	}

	filter := scene.Filter{
		SceneName: req.SceneName,
		PageName:  req.PageName,
		DataKey:   req.DataKey,
		DataValue: req.DataValue,
		UserIDs:   req.UserIDs,
	}

	ctx, span := s.tracer.StartSpan(c.Request.Context(), observability.SpanBroadcastApply,
		observability.BroadcastAttrs(string(action), req.SceneName)...)
	total, updated := s.broadcaster.Apply(ctx, filter, action)
	span.End()

	s.hub.Publish(StreamEvent{
		Type: "scenes_broadcast",
		At:   time.Now(),
		Payload: gin.H{
			"action":  string(action),
			"total":   total,
			"updated": updated,
		},
	})

	c.JSON(http.StatusOK, UpdateScenesResponse{
		Status:            "ok",
		TotalActiveScenes: total,
		UpdatedScenes:     updated,
	})
}

// handleNotify delivers one user notification. Suppression and delivery
// failure are reported in the body with HTTP 200; only missing required
// fields are a 400.
func (s *Server) handleNotify(c *gin.Context) {
	var req NotifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Status: "error",
			Error:  fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	if req.UserID == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Error: "user_id is required"})
		return
	}
	if req.Message == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Error: "message is required"})
		return
	}

	ctx := observability.ContextWithUserID(c.Request.Context(), req.UserID)
	ctx, span := s.tracer.StartSpan(ctx, observability.SpanNotifyDispatch)
	result := s.dispatcher.Notify(ctx, notify.Request{
		UserID:     req.UserID,
		Message:    req.Message,
		SkipIfPage: req.SkipIfPage,
		ReplyTo:    req.ReplyTo,
		ParseMode:  req.ParseMode,
	})
	span.SetAttributes(observability.NotifyAttrs(req.UserID, result.Channel)...)
	span.SetAttributes(observability.StatusAttrs(result.Status)...)
	span.SetAttributes(observability.ErrorAttrs(result.Error)...)
	span.End()

	s.hub.Publish(StreamEvent{
		Type: "notification",
		At:   time.Now(),
		Payload: gin.H{
			"user_id": req.UserID,
			"status":  result.Status,
			"sent":    result.Sent,
		},
	})

	c.JSON(http.StatusOK, NotifyResponse{
		Status: result.Status,
		Sent:   result.Sent,
		Reason: result.Reason,
		Error:  result.Error,
	})
}

// handleGetPresence lists the live viewers of one item, optionally hiding
// the requesting user.
func (s *Server) handleGetPresence(c *gin.Context) {
	itemID := c.Param("item_id")

	var excludeUserID int64
	if raw := c.Query("exclude_user_id"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Status: "error",
				Error:  "exclude_user_id must be an integer",
			})
			return
		}
		excludeUserID = parsed
	}

	viewers := s.tracker.Viewers(itemID, excludeUserID)
	if viewers == nil {
		viewers = []string{}
	}

	c.JSON(http.StatusOK, PresenceResponse{Status: "ok", Viewers: viewers})
}

// handleTouchPresence records one viewer heartbeat.
func (s *Server) handleTouchPresence(c *gin.Context) {
	itemID := c.Param("item_id")

	var req TouchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Status: "error",
			Error:  fmt.Sprintf("invalid request: %v", err),
		})
		return
	}
	if req.UserID == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Status: "error", Error: "user_id is required"})
		return
	}

	s.tracker.Touch(itemID, req.UserID, req.DisplayName)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleHealth reports liveness plus a few cheap gauges.
func (s *Server) handleHealth(c *gin.Context) {
	var channels []string
	if s.executors != nil {
		channels = s.executors.Names()
	}
	if channels == nil {
		channels = []string{}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:       "ok",
		Timestamp:    time.Now(),
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		ActiveScenes: s.directory.Len(),
		Channels:     channels,
	})
}

// handleEventStream upgrades to a websocket and streams hub events until the
// client disconnects.
func (s *Server) handleEventStream(c *gin.Context) {
	conn, err := s.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.logger.Warn("event stream: upgrade failed: %v", err)
		return
	}
	s.hub.Attach(conn)
}
