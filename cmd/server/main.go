// Package main runs the backtest HTTP service. Jobs are accepted over REST,
// executed on a worker pool, and their results kept in memory until fetched.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"reclaim-backtest/services/backtest"
	"reclaim-backtest/services/clickhouse"
	"reclaim-backtest/services/config"
	"reclaim-backtest/services/engine"
	"reclaim-backtest/services/timeframe"
)

// BacktestRequest is the REST job submission body. Bars come either from a
// server-local CSV file or from the ClickHouse klines table.
type BacktestRequest struct {
	Symbol  string `json:"symbol" binding:"required"`
	CSVPath string `json:"csv_path"`
	From    string `json:"from"` // UTC, YYYY-MM-DD HH:MM:SS
	To      string `json:"to"`
}

// Job tracks one submitted backtest through the pool.
type Job struct {
	ID        string               `json:"job_id"`
	Status    string               `json:"status"` // queued, running, completed, failed
	Error     string               `json:"error,omitempty"`
	Submitted int64                `json:"submitted_ms"`
	Manifest  backtest.RunManifest `json:"manifest,omitempty"`
	Metrics   engine.Metrics       `json:"metrics,omitempty"`
	Trades    []engine.Trade       `json:"trades,omitempty"`
	Equity    []engine.EquityPoint `json:"equity,omitempty"`

	request BacktestRequest
}

// Service owns the worker pool and the in-memory job store.
type Service struct {
	cfg        *config.Config
	logger     *zap.Logger
	clickhouse *clickhouse.Client

	jobs  chan *Job
	mu    sync.RWMutex
	store map[string]*Job
}

func NewService(cfg *config.Config, ch *clickhouse.Client, logger *zap.Logger) *Service {
	return &Service{
		cfg:        cfg,
		logger:     logger,
		clickhouse: ch,
		jobs:       make(chan *Job, 64),
		store:      make(map[string]*Job),
	}
}

// StartWorkers launches the pool. Each worker runs one backtest at a time.
func (s *Service) StartWorkers(ctx context.Context, wg *sync.WaitGroup) {
	workers := s.cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-s.jobs:
					if !ok {
						return
					}
					s.runJob(ctx, id, job)
				}
			}
		}(i)
	}
}

func (s *Service) runJob(ctx context.Context, workerID int, job *Job) {
	s.setStatus(job, "running", "")
	s.logger.Info("job started",
		zap.Int("worker_id", workerID),
		zap.String("job_id", job.ID),
		zap.String("symbol", job.request.Symbol),
	)

	bars, err := s.loadBars(ctx, job.request)
	if err != nil {
		s.failJob(job, fmt.Errorf("load bars: %w", err))
		return
	}

	cfg := s.cfg.Clone()
	manifest := backtest.NewManifest(cfg, bars, job.request.Symbol)
	result, err := backtest.Run(ctx, cfg, bars, job.request.Symbol, s.logger)
	if err != nil {
		s.failJob(job, err)
		return
	}

	s.mu.Lock()
	job.Status = "completed"
	job.Manifest = manifest
	job.Metrics = result.Metrics
	job.Trades = result.Trades
	job.Equity = result.Equity
	s.mu.Unlock()

	s.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.Int("trades", result.Metrics.TotalTrades),
		zap.Float64("net_profit", result.Metrics.NetProfit),
	)
}

func (s *Service) loadBars(ctx context.Context, req BacktestRequest) ([]timeframe.Bar, error) {
	if req.CSVPath != "" {
		return timeframe.LoadCSV(req.CSVPath)
	}
	if s.clickhouse == nil {
		return nil, fmt.Errorf("no csv_path given and ClickHouse is not configured")
	}
	startMs, err := parseUTC(req.From)
	if err != nil {
		return nil, err
	}
	endMs, err := parseUTC(req.To)
	if err != nil {
		return nil, err
	}
	return s.clickhouse.LoadBars(ctx, req.Symbol, s.cfg.Hierarchy[0], startMs, endMs)
}

func (s *Service) setStatus(job *Job, status, errMsg string) {
	s.mu.Lock()
	job.Status = status
	job.Error = errMsg
	s.mu.Unlock()
}

func (s *Service) failJob(job *Job, err error) {
	s.setStatus(job, "failed", err.Error())
	s.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
}

func (s *Service) setupRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleSubmit)
		api.GET("/backtest/:job_id", s.handleGetJob)
		api.GET("/health", s.handleHealth)
	}
}

func (s *Service) handleSubmit(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
		return
	}
	job := &Job{
		ID:        uuid.New().String(),
		Status:    "queued",
		Submitted: time.Now().UnixMilli(),
		request:   req,
	}
	s.mu.Lock()
	s.store[job.ID] = job
	s.mu.Unlock()

	select {
	case s.jobs <- job:
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID, "status": job.Status})
	default:
		s.setStatus(job, "failed", "queue full")
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "queue_full", "error": "job queue full"})
	}
}

func (s *Service) handleGetJob(c *gin.Context) {
	id := c.Param("job_id")
	s.mu.RLock()
	job, ok := s.store[id]
	var snapshot Job
	if ok {
		snapshot = *job
	}
	s.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "unknown job id"})
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   backtest.EngineVersion,
	})
}

func parseUTC(s string) (int64, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04:05", s, time.UTC)
	if err != nil {
		return 0, fmt.Errorf("bad time %q: %w", s, err)
	}
	return t.UnixMilli(), nil
}

func main() {
	chAddr := flag.String("ch-addr", "", "ClickHouse native address; empty disables ClickHouse sourcing")
	db := flag.String("db", "backtest", "ClickHouse database")
	table := flag.String("table", "data", "ClickHouse table")
	user := flag.String("ch-user", "backtest", "ClickHouse user")
	pass := flag.String("ch-pass", "backtest123", "ClickHouse password")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting backtest service",
		zap.String("version", backtest.EngineVersion),
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("workers", cfg.MaxWorkers),
	)

	var ch *clickhouse.Client
	if *chAddr != "" {
		ch, err = clickhouse.NewClient(context.Background(), clickhouse.Options{
			Addr:     *chAddr,
			Database: *db,
			Username: *user,
			Password: *pass,
			Table:    *table,
		})
		if err != nil {
			logger.Fatal("clickhouse connect failed", zap.Error(err))
		}
		defer ch.Close()
	}

	service := NewService(cfg, ch, logger)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	service.StartWorkers(ctx, &wg)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	service.setupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http serve failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	cancel()
	wg.Wait()
	logger.Info("stopped")
}
