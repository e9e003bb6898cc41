package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"quantbt/internal/datasource"
	"quantbt/internal/strategy"

	"github.com/gin-gonic/gin"
)

// HTTPServer exposes the data and run APIs over Gin.
type HTTPServer struct {
	addr   string
	data   *datasource.Service
	runs   *RunService
	router *gin.Engine
}

type HTTPConfig struct {
	Addr string
	Data *datasource.Service
	Runs *RunService
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Data == nil {
		return nil, errors.New("server: data service is required")
	}
	if cfg.Runs == nil {
		return nil, errors.New("server: run service is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9980"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:   cfg.Addr,
		data:   cfg.Data,
		runs:   cfg.Runs,
		router: router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	api := s.router.Group("/api")

	data := api.Group("/data")
	data.POST("/fetch", s.handleFetch)
	data.GET("/fetch/:id", s.handleFetchStatus)
	data.GET("/jobs", s.handleJobs)
	data.GET("/manifest", s.handleManifest)
	data.GET("/candles", s.handleCandles)
	data.GET("/exchanges", s.handleExchanges)

	bt := api.Group("/backtest")
	bt.POST("/runs", s.handleBacktestStart)
	bt.GET("/runs", s.handleBacktestList)
	bt.GET("/runs/:id", s.handleBacktestDetail)

	opt := api.Group("/optimize")
	opt.POST("/runs", s.handleOptimizeStart)
	opt.GET("/runs", s.handleOptimizeList)
	opt.GET("/runs/:id", s.handleOptimizeDetail)
	opt.GET("/runs/:id/progress", s.handleOptimizeProgress)

	api.GET("/strategies", s.handleStrategies)
}

func (s *HTTPServer) handleFetch(c *gin.Context) {
	var req struct {
		Exchange  string `json:"exchange"`
		Symbol    string `json:"symbol" binding:"required"`
		Timeframe string `json:"timeframe" binding:"required"`
		StartTS   int64  `json:"start_ts" binding:"required"`
		EndTS     int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	job, err := s.data.SubmitFetch(datasource.FetchParams{
		Exchange:  req.Exchange,
		Symbol:    req.Symbol,
		Timeframe: req.Timeframe,
		Start:     req.StartTS,
		End:       req.EndTS,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (s *HTTPServer) handleFetchStatus(c *gin.Context) {
	job, ok := s.data.JobSnapshot(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job})
}

func (s *HTTPServer) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.data.JobsSnapshot()})
}

func (s *HTTPServer) handleManifest(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and timeframe are required"})
		return
	}
	info, err := s.data.ManifestInfo(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *HTTPServer) handleCandles(c *gin.Context) {
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and timeframe are required"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	data, err := s.data.QueryCandles(c.Request.Context(), symbol, tf, start, end, limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

func (s *HTTPServer) handleExchanges(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"exchanges": s.data.Exchanges()})
}

func (s *HTTPServer) handleBacktestStart(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.runs.StartBacktest(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleBacktestList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.runs.ListBacktestRuns(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleBacktestDetail(c *gin.Context) {
	run, err := s.runs.GetBacktestRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleOptimizeStart(c *gin.Context) {
	var req OptimizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.runs.StartOptimization(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *HTTPServer) handleOptimizeList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.runs.ListOptimizationRuns(c.Request.Context(), c.Query("symbol"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleOptimizeDetail(c *gin.Context) {
	run, err := s.runs.GetOptimizationRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *HTTPServer) handleOptimizeProgress(c *gin.Context) {
	iterations, elapsed, running := s.runs.Progress(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{
		"running":    running,
		"iterations": iterations,
		"elapsed_ms": elapsed.Milliseconds(),
	})
}

func (s *HTTPServer) handleStrategies(c *gin.Context) {
	names := strategy.Names()
	out := make([]gin.H, 0, len(names))
	for _, name := range names {
		strat, err := strategy.New(name, "BTCUSDT")
		if err != nil {
			continue
		}
		ranges := strat.ParameterRanges()
		out = append(out, gin.H{
			"name":       name,
			"parameters": ranges,
			"defaults":   strat.Parameters(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"strategies": out})
}

// Start runs the HTTP server, blocking until ctx is canceled or the
// listener fails.
func (s *HTTPServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
