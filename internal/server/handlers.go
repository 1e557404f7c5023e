package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"mihari/internal/session"
)

// SessionView はセッションレコードの表示用表現
type SessionView struct {
	CameraID        string    `json:"camera_id"`
	State           string    `json:"state"`
	RetryCount      int       `json:"retry_count"`
	LastError       string    `json:"last_error,omitempty"`
	ServerDisagrees bool      `json:"server_disagrees"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ErrorResponse はエラーレスポンスの共通形式
type ErrorResponse struct {
	Error     string            `json:"error"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// StreamsRequest は開始・停止リクエストの本文
type StreamsRequest struct {
	Cameras []string `json:"cameras" binding:"required"`
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleStatus は操作卓向けの全体状態を返す
func (s *Server) handleStatus(c *gin.Context) {
	records := s.controller.Sessions()
	views := make([]SessionView, 0, len(records))
	for _, rec := range records {
		views = append(views, toView(rec))
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "running",
		"sessions":   views,
		"discovered": s.controller.Discovered(),
		"notices":    s.controller.Notices(),
		"timestamp":  time.Now(),
	})
}

// handleSessions はセッション一覧を返す
func (s *Server) handleSessions(c *gin.Context) {
	records := s.controller.Sessions()
	views := make([]SessionView, 0, len(records))
	for _, rec := range records {
		views = append(views, toView(rec))
	}

	c.JSON(http.StatusOK, gin.H{"sessions": views})
}

// handleStartStreams は配信開始要求を処理する
func (s *Server) handleStartStreams(c *gin.Context) {
	var req StreamsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Cameras) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   "カメラが指定されていません",
			Timestamp: time.Now(),
		})
		return
	}

	started := make([]string, 0, len(req.Cameras))
	failures := make(map[string]string)

	for _, cameraID := range req.Cameras {
		if err := s.controller.StartCamera(c.Request.Context(), cameraID); err != nil {
			failures[cameraID] = err.Error()
			continue
		}
		started = append(started, cameraID)
	}

	if len(failures) > 0 {
		// 楽観状態の巻き戻しはコントローラーが済ませている
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:     "start_failed",
			Message:   "一部のカメラの開始に失敗しました",
			Details:   failures,
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"started": started,
	})
}

// handleStopStreams は配信停止要求を処理する
func (s *Server) handleStopStreams(c *gin.Context) {
	var req StreamsRequest
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Cameras) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   "カメラが指定されていません",
			Timestamp: time.Now(),
		})
		return
	}

	stopped := make([]string, 0, len(req.Cameras))
	failures := make(map[string]string)

	for _, cameraID := range req.Cameras {
		if err := s.controller.StopCamera(c.Request.Context(), cameraID); err != nil {
			failures[cameraID] = err.Error()
			continue
		}
		stopped = append(stopped, cameraID)
	}

	if len(failures) > 0 {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:     "stop_failed",
			Message:   "一部のカメラの停止に失敗しました",
			Details:   failures,
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"stopped": stopped,
	})
}

// handleRemoveCamera は操作者によるカメラ除去を処理する
func (s *Server) handleRemoveCamera(c *gin.Context) {
	cameraID := c.Param("id")

	if err := s.controller.RemoveCamera(cameraID); err != nil {
		if errors.Is(err, session.ErrUnknownCamera) {
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error:     "camera_not_found",
				Message:   "指定されたカメラが見つかりません",
				Timestamp: time.Now(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:     "remove_failed",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

// handleRecordings は録画一覧を中継する
func (s *Server) handleRecordings(c *gin.Context) {
	recordings, err := s.client.Recordings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:     "recordings_unavailable",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"recordings": recordings})
}

// handleSystemResources はホストリソース情報を中継する
func (s *Server) handleSystemResources(c *gin.Context) {
	resources, err := s.client.SystemResources(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:     "resources_unavailable",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	c.JSON(http.StatusOK, resources)
}

// toView はセッションレコードを表示用表現へ変換する
func toView(rec session.Record) SessionView {
	return SessionView{
		CameraID:        rec.CameraID,
		State:           string(rec.State),
		RetryCount:      rec.RetryCount,
		LastError:       rec.LastError,
		ServerDisagrees: rec.ServerDisagrees,
		UpdatedAt:       rec.UpdatedAt,
	}
}
