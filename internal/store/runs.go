package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// BacktestRun is one simulation run, parameters and metrics as raw JSON.
type BacktestRun struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Strategy   string    `json:"strategy"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	Params     []byte    `json:"params,omitempty"`
	Results    []byte    `json:"results,omitempty"`
	Trades     []byte    `json:"trades,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

// OptimizationRun is one parameter search, report as raw JSON.
type OptimizationRun struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Timeframe  string    `json:"timeframe"`
	Strategy   string    `json:"strategy"`
	Mode       string    `json:"mode"`
	Objective  string    `json:"objective"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Status     RunStatus `json:"status"`
	Error      string    `json:"error,omitempty"`
	BestParams []byte    `json:"best_params,omitempty"`
	BestScore  float64   `json:"best_score"`
	Report     []byte    `json:"report,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
}

type backtestRunModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Symbol         string         `gorm:"column:symbol;index"`
	Timeframe      string         `gorm:"column:timeframe"`
	Strategy       string         `gorm:"column:strategy"`
	StartUnix      int64          `gorm:"column:start_time"`
	EndUnix        int64          `gorm:"column:end_time"`
	Status         string         `gorm:"column:status;index"`
	Error          string         `gorm:"column:error"`
	ParamsJSON     datatypes.JSON `gorm:"column:params_json;type:TEXT"`
	ResultsJSON    datatypes.JSON `gorm:"column:results_json;type:TEXT"`
	TradesJSON     datatypes.JSON `gorm:"column:trades_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	FinishedAtUnix int64          `gorm:"column:finished_at"`
}

func (backtestRunModel) TableName() string { return "backtest_runs" }

type optimizationRunModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Symbol         string         `gorm:"column:symbol;index"`
	Timeframe      string         `gorm:"column:timeframe"`
	Strategy       string         `gorm:"column:strategy"`
	Mode           string         `gorm:"column:mode"`
	Objective      string         `gorm:"column:objective"`
	StartUnix      int64          `gorm:"column:start_time"`
	EndUnix        int64          `gorm:"column:end_time"`
	Status         string         `gorm:"column:status;index"`
	Error          string         `gorm:"column:error"`
	BestParamsJSON datatypes.JSON `gorm:"column:best_params_json;type:TEXT"`
	BestScore      float64        `gorm:"column:best_score"`
	ReportJSON     datatypes.JSON `gorm:"column:report_json;type:TEXT"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	FinishedAtUnix int64          `gorm:"column:finished_at"`
}

func (optimizationRunModel) TableName() string { return "optimization_runs" }

// RunStore persists run records with Gorm + SQLite.
type RunStore struct {
	db *gorm.DB
}

func NewRunStore(path string) (*RunStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("run store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&backtestRunModel{}, &optimizationRunModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *RunStore) SaveBacktestRun(ctx context.Context, run BacktestRun) error {
	if run.ID == "" {
		return fmt.Errorf("run store: id is required")
	}
	return s.db.WithContext(ctx).Save(backtestRunToModel(run)).Error
}

func (s *RunStore) GetBacktestRun(ctx context.Context, id string) (BacktestRun, error) {
	var m backtestRunModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return BacktestRun{}, fmt.Errorf("run store: backtest run %s not found", id)
	}
	if err != nil {
		return BacktestRun{}, err
	}
	return backtestRunFromModel(m), nil
}

func (s *RunStore) ListBacktestRuns(ctx context.Context, symbol string, limit int) ([]BacktestRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&backtestRunModel{}).Order("created_at DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", strings.ToUpper(symbol))
	}
	var models []backtestRunModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]BacktestRun, len(models))
	for i, m := range models {
		out[i] = backtestRunFromModel(m)
	}
	return out, nil
}

func (s *RunStore) SaveOptimizationRun(ctx context.Context, run OptimizationRun) error {
	if run.ID == "" {
		return fmt.Errorf("run store: id is required")
	}
	return s.db.WithContext(ctx).Save(optimizationRunToModel(run)).Error
}

func (s *RunStore) GetOptimizationRun(ctx context.Context, id string) (OptimizationRun, error) {
	var m optimizationRunModel
	err := s.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return OptimizationRun{}, fmt.Errorf("run store: optimization run %s not found", id)
	}
	if err != nil {
		return OptimizationRun{}, err
	}
	return optimizationRunFromModel(m), nil
}

func (s *RunStore) ListOptimizationRuns(ctx context.Context, symbol string, limit int) ([]OptimizationRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&optimizationRunModel{}).Order("created_at DESC").Limit(limit)
	if symbol != "" {
		q = q.Where("symbol = ?", strings.ToUpper(symbol))
	}
	var models []optimizationRunModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]OptimizationRun, len(models))
	for i, m := range models {
		out[i] = optimizationRunFromModel(m)
	}
	return out, nil
}

func backtestRunToModel(r BacktestRun) *backtestRunModel {
	return &backtestRunModel{
		ID:             r.ID,
		Symbol:         strings.ToUpper(r.Symbol),
		Timeframe:      r.Timeframe,
		Strategy:       r.Strategy,
		StartUnix:      r.Start.UnixMilli(),
		EndUnix:        r.End.UnixMilli(),
		Status:         string(r.Status),
		Error:          r.Error,
		ParamsJSON:     datatypes.JSON(r.Params),
		ResultsJSON:    datatypes.JSON(r.Results),
		TradesJSON:     datatypes.JSON(r.Trades),
		CreatedAtUnix:  r.CreatedAt.UnixMilli(),
		FinishedAtUnix: unixOrZero(r.FinishedAt),
	}
}

func backtestRunFromModel(m backtestRunModel) BacktestRun {
	return BacktestRun{
		ID:         m.ID,
		Symbol:     m.Symbol,
		Timeframe:  m.Timeframe,
		Strategy:   m.Strategy,
		Start:      time.UnixMilli(m.StartUnix).UTC(),
		End:        time.UnixMilli(m.EndUnix).UTC(),
		Status:     RunStatus(m.Status),
		Error:      m.Error,
		Params:     []byte(m.ParamsJSON),
		Results:    []byte(m.ResultsJSON),
		Trades:     []byte(m.TradesJSON),
		CreatedAt:  time.UnixMilli(m.CreatedAtUnix).UTC(),
		FinishedAt: timeOrZero(m.FinishedAtUnix),
	}
}

func optimizationRunToModel(r OptimizationRun) *optimizationRunModel {
	return &optimizationRunModel{
		ID:             r.ID,
		Symbol:         strings.ToUpper(r.Symbol),
		Timeframe:      r.Timeframe,
		Strategy:       r.Strategy,
		Mode:           r.Mode,
		Objective:      r.Objective,
		StartUnix:      r.Start.UnixMilli(),
		EndUnix:        r.End.UnixMilli(),
		Status:         string(r.Status),
		Error:          r.Error,
		BestParamsJSON: datatypes.JSON(r.BestParams),
		BestScore:      r.BestScore,
		ReportJSON:     datatypes.JSON(r.Report),
		CreatedAtUnix:  r.CreatedAt.UnixMilli(),
		FinishedAtUnix: unixOrZero(r.FinishedAt),
	}
}

func optimizationRunFromModel(m optimizationRunModel) OptimizationRun {
	return OptimizationRun{
		ID:         m.ID,
		Symbol:     m.Symbol,
		Timeframe:  m.Timeframe,
		Strategy:   m.Strategy,
		Mode:       m.Mode,
		Objective:  m.Objective,
		Start:      time.UnixMilli(m.StartUnix).UTC(),
		End:        time.UnixMilli(m.EndUnix).UTC(),
		Status:     RunStatus(m.Status),
		Error:      m.Error,
		BestParams: []byte(m.BestParamsJSON),
		BestScore:  m.BestScore,
		Report:     []byte(m.ReportJSON),
		CreatedAt:  time.UnixMilli(m.CreatedAtUnix).UTC(),
		FinishedAt: timeOrZero(m.FinishedAtUnix),
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
