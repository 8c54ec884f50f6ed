package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/gnb-webdashboard/gnbdash/internal/devconfig"
	"github.com/gnb-webdashboard/gnbdash/internal/supervisor"
	"github.com/gnb-webdashboard/gnbdash/internal/telemetry"
	"github.com/gnb-webdashboard/gnbdash/internal/util"
)

type setupRequest struct {
	Action  string `json:"action"`
	Timeout string `json:"timeout,omitempty"`
}

func (s *Server) handleSetupScript(c *gin.Context) {
	var req setupRequest
	// A missing or malformed body is treated as an empty action.
	_ = c.ShouldBindJSON(&req)

	sreq := supervisor.Request{Action: req.Action}
	if req.Timeout != "" {
		d, err := util.ParseDuration(req.Timeout)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid timeout '%s'", req.Timeout)})
			return
		}
		sreq.Deadline = d
	}

	ctx, done := s.detach(c)
	defer done()
	out, err := s.actions.Run(ctx, sreq)
	switch {
	case errors.Is(err, supervisor.ErrUnknownAction):
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown action '%s'", req.Action)})
		return
	case errors.Is(err, supervisor.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{
			"action": req.Action,
			"status": "busy",
			"error":  "another run of this kind is in progress",
		})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"action": req.Action, "error": err.Error()})
		return
	}

	c.JSON(out.HTTPStatus(), out.Response())
}

func (s *Server) handleNodeStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.probe.NodeStatus(c.Request.Context()))
}

// attributes is the flat document served by GET /api/attributes.
type attributes struct {
	devconfig.Radio
	devconfig.Core
	telemetry.HostStats
	CoreConnection telemetry.Connection `json:"core_connection"`
}

func (s *Server) ensureConfig(c *gin.Context) (devconfig.Document, error) {
	ctx, done := s.detach(c)
	defer done()
	s.ensureMu.Lock()
	_, err := s.ensurer.EnsureConfig(ctx, s.opts.Generator)
	s.ensureMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("creating or accessing config file: %w", err)
	}
	return devconfig.Read(s.opts.ConfigPath)
}

func (s *Server) handleAttributes(c *gin.Context) {
	ctx := c.Request.Context()
	doc, err := s.ensureConfig(c)
	if err != nil {
		s.logger.Error("attributes: device config unavailable", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get attributes: %v", err)})
		return
	}

	host, err := s.probe.Host(ctx)
	if err != nil {
		s.logger.Error("attributes: host statistics", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to get attributes: %v", err)})
		return
	}

	core := devconfig.CoreOf(doc)
	c.JSON(http.StatusOK, attributes{
		Radio:          devconfig.RadioOf(doc),
		Core:           core,
		HostStats:      host,
		CoreConnection: s.probe.Ping(ctx, core.NgcIP),
	})
}

type configRequest struct {
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// rawValue renders a JSON scalar as the text devconfig.Set expects.
func rawValue(raw json.RawMessage) (string, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 || string(raw) == "null" {
		return "", errors.New("missing value")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	if raw[0] == '{' || raw[0] == '[' {
		return "", errors.New("value must be a string or number")
	}
	return string(raw), nil
}

func (s *Server) handleSetConfig(c *gin.Context) {
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": fmt.Sprintf("Invalid request: %v", err)})
		return
	}
	value, err := rawValue(req.Value)
	if req.Field == "" || err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Expected {\"field\": ..., \"value\": ...}"})
		return
	}

	if _, err := s.ensureConfig(c); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": fmt.Sprintf("Failed to set config: %v", err)})
		return
	}

	change, err := devconfig.Set(s.opts.ConfigPath, req.Field, value)
	switch {
	case errors.Is(err, devconfig.ErrUnknownField):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": fmt.Sprintf("Failed to update %s to %s", req.Field, value)})
		return
	case err != nil:
		s.logger.Error("config edit failed", "field", req.Field, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": fmt.Sprintf("Failed to set config: %v", err)})
		return
	}

	s.logger.Info("device config updated", "field", change.Field, "old", change.Old, "new", change.New)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": fmt.Sprintf("Updated %s to %s", req.Field, value)})
}

func (s *Server) handleDownload(c *gin.Context) {
	key := c.Param("key")
	path, ok := s.downloadPath(key)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("Unknown file key '%s'", key)})
		return
	}
	if info, err := os.Stat(path); err != nil || !info.Mode().IsRegular() {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("File not found on server: %s", path)})
		return
	}
	c.Header("Content-Type", "text/plain")
	c.FileAttachment(path, filepath.Base(path))
}
