// Package api HTTP-админка сервера: статус, управление шкалой времени и записью.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/statesync/internal/auth"
	"github.com/annel0/statesync/internal/logging"
	"github.com/annel0/statesync/internal/middleware"
	"github.com/annel0/statesync/internal/replay"
	"github.com/annel0/statesync/internal/replication"
	"github.com/annel0/statesync/internal/timeline"
)

// Controller операции сервера, доступные админке
type Controller interface {
	Status() replication.Status
	SetSimulationSpeed(speed float64) error
	Pause()
	Resume()
	StartRecording()
	StopRecording(ctx context.Context) (uuid.UUID, error)
	Recordings(ctx context.Context) ([]replay.Summary, error)
}

// Config настройки админки
type Config struct {
	Addr         string
	Username     string
	PasswordHash string
	Tokens       *auth.TokenIssuer
	Registerer   prometheus.Registerer
	Gatherer     prometheus.Gatherer
	Logger       *logging.Logger
}

// AdminServer REST API поверх Controller
type AdminServer struct {
	router  *gin.Engine
	ctrl    Controller
	cfg     Config
	tokens  *auth.TokenIssuer
	metrics *ServerMetrics
	logger  *logging.Logger
	httpSrv *http.Server
}

var _ Controller = (*replication.Server)(nil)

// LoginRequest запрос на вход
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse ответ на вход
type LoginResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token,omitempty"`
	Message string `json:"message"`
}

// GenericResponse общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// SpeedRequest тело POST /api/timeline/speed
type SpeedRequest struct {
	Speed *float64 `json:"speed" binding:"required"`
}

// StatusResponse данные GET /api/status
type StatusResponse struct {
	Server replication.Status `json:"server"`
	Host   HostStats          `json:"host"`
	Time   int64              `json:"server_time"`
}

// NewAdminServer создаёт роутер с middleware и маршрутами
func NewAdminServer(ctrl Controller, cfg Config) (*AdminServer, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("api: не задан издатель токенов")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.GetComponentLogger("api")
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("statesync_admin"))
	router.Use(middleware.NewRequestLogger(cfg.Logger, "/health", "/metrics").Handler())
	router.Use(middleware.NewPrometheusMiddleware("statesync_admin", cfg.Registerer).Handler())

	s := &AdminServer{
		router:  router,
		ctrl:    ctrl,
		cfg:     cfg,
		tokens:  cfg.Tokens,
		metrics: NewServerMetrics(),
		logger:  cfg.Logger,
	}
	s.setupRoutes()
	return s, nil
}

func (s *AdminServer) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	middleware.RegisterMetricsEndpoint(s.router, s.cfg.Gatherer)

	api := s.router.Group("/api")
	api.POST("/auth/login", s.handleLogin)

	protected := api.Group("/")
	protected.Use(s.jwtMiddleware())
	{
		protected.GET("/status", s.handleStatus)

		protected.POST("/timeline/pause", s.handlePause)
		protected.POST("/timeline/resume", s.handleResume)
		protected.POST("/timeline/speed", s.handleSpeed)

		protected.POST("/replay/start", s.handleReplayStart)
		protected.POST("/replay/stop", s.handleReplayStop)
		protected.GET("/recordings", s.handleRecordings)
	}
}

// Handler http.Handler для тестов и встраивания
func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Start запускает HTTP-сервер в фоне
func (s *AdminServer) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("❌ Ошибка HTTP-сервера админки: %v", err)
		}
	}()
	s.logger.Info("🛠 Админка слушает %s", s.cfg.Addr)
	return nil
}

// Shutdown останавливает HTTP-сервер
func (s *AdminServer) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *AdminServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "uptime": s.metrics.GetUptime()})
}

func (s *AdminServer) handleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, LoginResponse{Message: "Неверный формат запроса"})
		return
	}
	if req.Username != s.cfg.Username || s.cfg.PasswordHash == "" || !auth.CheckPassword(s.cfg.PasswordHash, req.Password) {
		s.logger.Warn("Неудачный вход пользователя %q с %s", req.Username, c.ClientIP())
		c.JSON(http.StatusUnauthorized, LoginResponse{Message: "Неверное имя пользователя или пароль"})
		return
	}

	token, err := s.tokens.Issue(req.Username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, LoginResponse{Message: "Ошибка генерации токена"})
		return
	}
	c.JSON(http.StatusOK, LoginResponse{Success: true, Token: token, Message: "Успешная авторизация"})
}

func (s *AdminServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статус сервера",
		Data: StatusResponse{
			Server: s.ctrl.Status(),
			Host:   s.metrics.Collect(),
			Time:   time.Now().Unix(),
		},
	})
}

func (s *AdminServer) handlePause(c *gin.Context) {
	s.ctrl.Pause()
	s.logger.Info("⏸ Симуляция поставлена на паузу (%s)", c.GetString(adminKey))
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Пауза", Data: s.ctrl.Status()})
}

func (s *AdminServer) handleResume(c *gin.Context) {
	s.ctrl.Resume()
	s.logger.Info("▶ Симуляция продолжена (%s)", c.GetString(adminKey))
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Продолжено", Data: s.ctrl.Status()})
}

func (s *AdminServer) handleSpeed(c *gin.Context) {
	var req SpeedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{Message: "Неверный формат запроса"})
		return
	}
	if err := s.ctrl.SetSimulationSpeed(*req.Speed); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, timeline.ErrInvalidSpeed) {
			status = http.StatusBadRequest
		}
		c.JSON(status, GenericResponse{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: fmt.Sprintf("Скорость %.2f", *req.Speed), Data: s.ctrl.Status()})
}

func (s *AdminServer) handleReplayStart(c *gin.Context) {
	s.ctrl.StartRecording()
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Запись начата"})
}

func (s *AdminServer) handleReplayStop(c *gin.Context) {
	id, err := s.ctrl.StopRecording(c.Request.Context())
	if errors.Is(err, replay.ErrNotRecording) {
		c.JSON(http.StatusConflict, GenericResponse{Message: "Запись не ведётся"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Запись остановлена, идёт воспроизведение", Data: gin.H{"id": id.String()}})
}

func (s *AdminServer) handleRecordings(c *gin.Context) {
	list, err := s.ctrl.Recordings(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, GenericResponse{Message: err.Error()})
		return
	}
	if list == nil {
		list = []replay.Summary{}
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Записи", Data: list})
}
