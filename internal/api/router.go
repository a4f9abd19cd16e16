// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package api exposes a simulated board over HTTP
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pinbus/pinbus/pkg/board"
	"github.com/pinbus/pinbus/pkg/pinball"
	"go.uber.org/zap"
)

// Board is the part of board.Board the API drives
type Board interface {
	Snapshot(ctx context.Context) (board.Snapshot, error)
	SetSwitch(ctx context.Context, n int, closed bool) error
	ResetStats(ctx context.Context) error
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// BoardResponse summarises the board
type BoardResponse struct {
	Address       uint8    `json:"address"`
	FeatureBitmap uint16   `json:"feature_bitmap"`
	Features      []string `json:"features"`
	Tick          uint32   `json:"tick"`
	Switches      int      `json:"switches"`
	Coils         int      `json:"coils"`
}

// SwitchResponse is one switch channel with its simulated input
type SwitchResponse struct {
	Switch int  `json:"switch"`
	Input  bool `json:"input"`
	State  any  `json:"channel"`
}

// SetSwitchRequest is the body of PUT /api/v1/switches/:n
type SetSwitchRequest struct {
	Closed *bool `json:"closed" binding:"required"`
}

// StatsResponse reports router counters
type StatsResponse struct {
	Uptime        string                       `json:"uptime"`
	TotalFrames   uint64                       `json:"total_frames"`
	Requests      uint64                       `json:"requests"`
	Commands      uint64                       `json:"commands"`
	DroppedFrames uint64                       `json:"dropped_frames"`
	SentFrames    uint64                       `json:"sent_frames"`
	SendErrors    uint64                       `json:"send_errors"`
	InvalidFrames uint64                       `json:"invalid_frames"`
	FrameRate     float64                      `json:"frame_rate"`
	PerFeature    map[string]FeatureStatsEntry `json:"per_feature,omitempty"`
}

// FeatureStatsEntry counts traffic for one feature type
type FeatureStatsEntry struct {
	RX uint64 `json:"rx"`
	TX uint64 `json:"tx"`
}

// Router serves the board API
type Router struct {
	engine  *gin.Engine
	board   Board
	log     *zap.Logger
	timeout time.Duration
}

// NewRouter creates the API for b
func NewRouter(b Board, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	r := &Router{
		engine:  engine,
		board:   b,
		log:     log,
		timeout: 2 * time.Second,
	}
	engine.Use(r.requestLogger())
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		v1.GET("/board", r.getBoard)
		v1.GET("/switches", r.listSwitches)
		v1.GET("/switches/:n", r.getSwitch)
		v1.PUT("/switches/:n", r.setSwitch)
		v1.GET("/stats", r.getStats)
		v1.DELETE("/stats", r.resetStats)
	}
}

// Engine returns the gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

func (r *Router) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (r *Router) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (r *Router) snapshot(c *gin.Context) (board.Snapshot, bool) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.timeout)
	defer cancel()
	snap, err := r.board.Snapshot(ctx)
	if err != nil {
		r.boardError(c, err)
		return snap, false
	}
	return snap, true
}

func (r *Router) boardError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, pinball.ErrInvalidParameter):
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_PARAMETER", Message: err.Error()})
	case errors.Is(err, board.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "BOARD_STOPPED", Message: err.Error()})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, ErrorResponse{Code: "BOARD_TIMEOUT", Message: err.Error()})
	default:
		r.log.Warn("board call failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Code: "BOARD_ERROR", Message: err.Error()})
	}
}

func (r *Router) getBoard(c *gin.Context) {
	snap, ok := r.snapshot(c)
	if !ok {
		return
	}
	resp := BoardResponse{
		Address:       snap.Address,
		FeatureBitmap: snap.FeatureBitmap,
		Tick:          snap.Tick,
		Switches:      len(snap.Switches),
		Coils:         len(snap.Coils),
	}
	for ft := 0; ft < pinball.MaxFeatures; ft++ {
		if snap.FeatureBitmap&(1<<ft) != 0 {
			resp.Features = append(resp.Features, pinball.FormatFeatureType(pinball.FeatureType(ft)))
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) listSwitches(c *gin.Context) {
	snap, ok := r.snapshot(c)
	if !ok {
		return
	}
	out := make([]SwitchResponse, len(snap.Switches))
	for i, ch := range snap.Switches {
		out[i] = SwitchResponse{Switch: i, Input: snap.Inputs[i], State: ch}
	}
	c.JSON(http.StatusOK, out)
}

func (r *Router) switchIndex(c *gin.Context) (int, bool) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_SWITCH",
			Message: "switch number must be an integer",
			Details: err.Error(),
		})
		return 0, false
	}
	return n, true
}

func (r *Router) getSwitch(c *gin.Context) {
	n, ok := r.switchIndex(c)
	if !ok {
		return
	}
	snap, ok := r.snapshot(c)
	if !ok {
		return
	}
	if n < 0 || n >= len(snap.Switches) {
		c.JSON(http.StatusNotFound, ErrorResponse{Code: "SWITCH_NOT_FOUND", Message: "no such switch"})
		return
	}
	c.JSON(http.StatusOK, SwitchResponse{Switch: n, Input: snap.Inputs[n], State: snap.Switches[n]})
}

func (r *Router) setSwitch(c *gin.Context) {
	n, ok := r.switchIndex(c)
	if !ok {
		return
	}
	var req SetSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Code:    "INVALID_REQUEST",
			Message: "body must be {\"closed\": bool}",
			Details: err.Error(),
		})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), r.timeout)
	defer cancel()
	if err := r.board.SetSwitch(ctx, n, *req.Closed); err != nil {
		r.boardError(c, err)
		return
	}
	r.log.Info("switch set over http", zap.Int("switch", n), zap.Bool("closed", *req.Closed))

	snap, ok := r.snapshot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, SwitchResponse{Switch: n, Input: snap.Inputs[n], State: snap.Switches[n]})
}

func (r *Router) getStats(c *gin.Context) {
	snap, ok := r.snapshot(c)
	if !ok {
		return
	}
	s := snap.Stats
	s.CalculateRates()
	resp := StatsResponse{
		Uptime:        time.Since(s.StartTime).Round(time.Second).String(),
		TotalFrames:   s.TotalFrames,
		Requests:      s.Requests,
		Commands:      s.Commands,
		DroppedFrames: s.DroppedFrames,
		SentFrames:    s.SentFrames,
		SendErrors:    s.SendErrors,
		InvalidFrames: s.InvalidFrames,
		FrameRate:     s.FrameRate,
		PerFeature:    make(map[string]FeatureStatsEntry),
	}
	for ft := 0; ft < pinball.MaxFeatures; ft++ {
		if s.FeatureRX[ft] == 0 && s.FeatureTX[ft] == 0 {
			continue
		}
		resp.PerFeature[pinball.FormatFeatureType(pinball.FeatureType(ft))] = FeatureStatsEntry{
			RX: s.FeatureRX[ft],
			TX: s.FeatureTX[ft],
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) resetStats(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), r.timeout)
	defer cancel()
	if err := r.board.ResetStats(ctx); err != nil {
		r.boardError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
