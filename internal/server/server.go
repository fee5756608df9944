// Package server 以 HTTP 暴露桥接与面板流程，供浏览器扩展或其他前端调用。
//
// - 已处理的失败一律 HTTP 200 + {success:false, error}；仅请求体无法解析时返回 400。
// - 修改页面的流程（变换、测验）同一时刻只运行一个，重入返回 409。
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"halo/internal/diag"
	"halo/internal/pipeline"
	"halo/internal/prompt"
	"halo/internal/quiz"
	"halo/internal/settings"
	"halo/pkg/contract"
)

// BusyMessage 为流程重入时的提示。
const BusyMessage = "Another transformation is still running. Please wait for it to finish."

// ShutdownTimeout 为优雅关闭的最长等待。
const ShutdownTimeout = 5 * time.Second

// Server 绑定流程协作者与路由。
type Server struct {
	comp   pipeline.Components
	set    pipeline.Settings
	logger *diag.Logger
	router *gin.Engine
	busy   sync.Mutex
}

// New 构造 Server 并注册路由。
func New(comp pipeline.Components, set pipeline.Settings, logger *diag.Logger) *Server {
	s := &Server{comp: comp, set: set, logger: logger}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.logRequests())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(diag.MetricsHandler()))
	v1 := r.Group("/v1")
	v1.POST("/actions", s.handleAction)
	v1.POST("/transform", s.handleTransform)
	v1.POST("/quiz", s.handleQuiz)
	v1.GET("/settings", s.handleGetSettings)
	v1.PUT("/settings", s.handlePutSettings)
	s.router = r
	return s
}

// Handler 返回 HTTP 处理器。
func (s *Server) Handler() http.Handler { return s.router }

// Run 监听 addr 直到 ctx 取消。
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve 在 ln 上提供服务；ctx 取消后优雅关闭。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.logger.StartWithKV("server", "listening", "", "", map[string]string{"addr": ln.Addr().String()}).Finish("listen", 0)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	err := g.Wait()
	s.logger.Start("server", "stopped").Finish("shutdown", 0)
	return err
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		t := s.logger.StartWithKV("server", c.Request.Method+" "+route, "", "", nil)
		c.Next()
		status := c.Writer.Status()
		t.Finish("request", int64(status))
		diag.IncOp("server", route, strconv.Itoa(status))
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, contract.Fail(err))
}

// handleAction 原样中继动作信封。
func (s *Server) handleAction(c *gin.Context) {
	var req contract.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if s.comp.Bridge == nil {
		c.JSON(http.StatusOK, contract.Fail(contract.ErrNoActiveTab))
		return
	}
	c.JSON(http.StatusOK, s.comp.Bridge.Handle(c.Request.Context(), req))
}

// TransformRequest 为 /v1/transform 请求体；字段均可选。
type TransformRequest struct {
	TabID           string `json:"tabId"`
	Level           string `json:"level"`
	SessionPoolSize *int   `json:"sessionPoolSize"`
}

// TransformResponse 为 /v1/transform 响应体。
type TransformResponse struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Result  pipeline.Result `json:"result"`
}

func (s *Server) handleTransform(c *gin.Context) {
	var req TransformRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	set := s.set
	if req.Level != "" {
		l, err := prompt.ParseLevel(req.Level)
		if err != nil {
			badRequest(c, err)
			return
		}
		set.Level = l
	}
	if req.SessionPoolSize != nil {
		if *req.SessionPoolSize < 1 {
			badRequest(c, errors.New("sessionPoolSize must be >= 1"))
			return
		}
		set.PoolLimit = req.SessionPoolSize
	}
	if !s.busy.TryLock() {
		c.JSON(http.StatusConflict, TransformResponse{Error: BusyMessage})
		return
	}
	defer s.busy.Unlock()
	res, err := pipeline.TransformWebsite(c.Request.Context(), s.comp, set, req.TabID, s.logger)
	out := TransformResponse{Success: err == nil, Result: res}
	if err != nil {
		out.Error = err.Error()
	}
	c.JSON(http.StatusOK, out)
}

// QuizRequest 为 /v1/quiz 请求体。
type QuizRequest struct {
	TabID string `json:"tabId"`
	Level string `json:"level"`
}

// QuizResponse 为 /v1/quiz 响应体。
type QuizResponse struct {
	Success bool       `json:"success"`
	Error   string     `json:"error,omitempty"`
	Quiz    *quiz.Quiz `json:"quiz,omitempty"`
	Status  []string   `json:"status"`
}

func (s *Server) handleQuiz(c *gin.Context) {
	var req QuizRequest
	if err := bindOptional(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	level := s.set.Level
	if req.Level != "" {
		l, err := prompt.ParseLevel(req.Level)
		if err != nil {
			badRequest(c, err)
			return
		}
		level = l
	}
	if level == "" {
		learner, err := s.comp.Learner.Load(ctx)
		if err != nil {
			s.logger.Warn("server", "learner settings unavailable, using defaults", map[string]string{"error": err.Error()})
		}
		level = learner.Level
	}
	if !s.busy.TryLock() {
		c.JSON(http.StatusConflict, QuizResponse{Error: BusyMessage})
		return
	}
	defer s.busy.Unlock()
	out := QuizResponse{Status: []string{}}
	g := &quiz.Generator{
		Bridge:      s.comp.Bridge,
		Transcripts: s.comp.Transcripts,
		Factory:     s.comp.Sessions,
		Logger:      s.logger,
		Status:      func(msg string) { out.Status = append(out.Status, msg) },
	}
	q, err := g.Generate(ctx, req.TabID, level)
	if err != nil {
		out.Error = quiz.FailureText(err)
	} else {
		out.Success, out.Quiz = true, q
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleGetSettings(c *gin.Context) {
	v, err := s.comp.Learner.Load(c.Request.Context())
	if err != nil {
		s.logger.Warn("server", "learner settings unavailable, using defaults", map[string]string{"error": err.Error()})
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handlePutSettings(c *gin.Context) {
	v := settings.Defaults()
	if err := c.ShouldBindJSON(&v); err != nil {
		badRequest(c, err)
		return
	}
	if err := v.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.comp.Learner.Save(c.Request.Context(), v); err != nil {
		c.JSON(http.StatusOK, contract.Fail(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "settings": v})
}

// bindOptional 允许空请求体。
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}
