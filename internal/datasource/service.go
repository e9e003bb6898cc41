package datasource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quantbt/internal/logger"
	"quantbt/internal/market"
	"quantbt/internal/pkg/symbol"
	"quantbt/internal/store"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ServiceConfig configures the fetch Service.
type ServiceConfig struct {
	Store           *store.CandleStore
	Sources         map[string]CandleSource
	DefaultExchange string
	RateLimitPerMin int
	MaxBatch        int
	MaxConcurrent   int
}

// Service manages fetch jobs and coordinates remote pulls with the local
// candle store.
type Service struct {
	store           *store.CandleStore
	sources         map[string]CandleSource
	defaultExchange string
	maxBatch        int

	limiter *rate.Limiter
	sem     chan struct{}

	mu   sync.RWMutex
	jobs map[string]*FetchJob

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("datasource: store is required")
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("datasource: at least one source is required")
	}
	ratePerSec := rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
	if cfg.RateLimitPerMin <= 0 {
		ratePerSec = 8
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 2
	}
	svc := &Service{
		store:           cfg.Store,
		sources:         make(map[string]CandleSource),
		defaultExchange: strings.ToLower(cfg.DefaultExchange),
		maxBatch:        maxBatch,
		limiter:         rate.NewLimiter(ratePerSec, maxBatch),
		sem:             make(chan struct{}, maxConcurrent),
		jobs:            make(map[string]*FetchJob),
		baseCtx:         context.Background(),
	}
	for k, v := range cfg.Sources {
		svc.sources[strings.ToLower(k)] = v
	}
	if svc.defaultExchange == "" {
		for k := range svc.sources {
			svc.defaultExchange = k
			break
		}
	}
	return svc, nil
}

// SetContext injects the host ctx so running jobs stop on shutdown.
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// Exchanges lists the configured source names, sorted.
func (s *Service) Exchanges() []string {
	out := make([]string, 0, len(s.sources))
	for k := range s.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SubmitFetch registers a fetch job. When the local range is already
// complete the job finishes immediately without touching the source.
func (s *Service) SubmitFetch(params FetchParams) (FetchJob, error) {
	if params.Symbol == "" {
		return FetchJob{}, fmt.Errorf("datasource: symbol is required")
	}
	params.Symbol = symbol.Normalize(params.Symbol)
	tf, err := market.ParseTimeframe(params.Timeframe)
	if err != nil {
		return FetchJob{}, err
	}
	exchange := params.Exchange
	if exchange == "" {
		exchange = s.defaultExchange
	}
	src := s.sources[strings.ToLower(exchange)]
	if src == nil {
		return FetchJob{}, fmt.Errorf("datasource: unknown source: %s", exchange)
	}
	start, end := tf.AlignRange(params.Start, params.End)
	if start == end {
		return FetchJob{}, fmt.Errorf("datasource: start and end must form a range")
	}
	params.Start = start
	params.End = end

	report, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, params.Timeframe, tf, start, end)
	if err != nil {
		return FetchJob{}, err
	}
	total := report.Expected
	completed := min64(report.Present, total)
	job := &FetchJob{
		ID:        uuid.NewString(),
		Status:    JobStatusPending,
		Params:    params,
		Total:     total,
		Completed: completed,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
		Missing:   append([]store.Gap{}, report.Gaps...),
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("[data] job %s submitted: %s %s [%d,%d] expected=%d gaps=%d",
		job.ID, params.Symbol, params.Timeframe, params.Start, params.End, total, len(report.Gaps))

	if total == 0 || report.Complete() {
		s.setJobStatus(job.ID, JobStatusDone, "local data already complete", report.Gaps)
		return job.copy(), nil
	}

	go s.runJob(job.ID, tf, report, src)
	return job.copy(), nil
}

func (s *Service) runJob(jobID string, tf market.Timeframe, report store.IntegrityReport, source CandleSource) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.setJobStatus(jobID, JobStatusFailed, "service shutting down", nil)
		return
	}
	defer func() { <-s.sem }()

	job := s.getJob(jobID)
	if job == nil {
		return
	}
	logger.Infof("[data] job %s started, gaps=%d", jobID, len(report.Gaps))
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = JobStatusRunning
		j.Message = ""
	})

	params := job.Params
	ctx := s.ctx()
	step := tf.Duration.Milliseconds()
	var warnings []string

	for _, gap := range report.Gaps {
		cursor := gap.From
		targetEnd := gap.To
		for cursor <= targetEnd {
			if err := ctx.Err(); err != nil {
				s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
				return
			}
			if err := s.limiter.Wait(ctx); err != nil {
				s.setJobStatus(jobID, JobStatusFailed, err.Error(), nil)
				return
			}
			remaining := int((targetEnd-cursor)/step) + 1
			if remaining < 1 {
				remaining = 1
			}
			if remaining > s.maxBatch {
				remaining = s.maxBatch
			}
			req := FetchRequest{
				Symbol:   params.Symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      targetEnd,
				Limit:    remaining,
			}
			data, err := source.Fetch(ctx, req)
			if err != nil {
				s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("%s fetch failed: %v", source.Name(), err), nil)
				return
			}
			if len(data) == 0 {
				warnings = append(warnings, fmt.Sprintf("empty response for [%d,%d]", cursor, targetEnd))
				break
			}
			inserted, err := s.store.InsertCandles(ctx, params.Symbol, params.Timeframe, data)
			if err != nil {
				s.setJobStatus(jobID, JobStatusFailed, fmt.Sprintf("insert failed: %v", err), nil)
				return
			}
			last := data[len(data)-1].OpenTime
			cursor = last + step
			s.updateJob(jobID, func(j *FetchJob) {
				j.Completed += int64(inserted)
				j.UpdatedAt = time.Now()
				if warnings != nil {
					j.Warnings = warnings
				}
			})
			if inserted == 0 {
				break
			}
		}
	}

	finalReport, err := s.store.CheckIntegrity(s.ctx(), params.Symbol, params.Timeframe, tf, params.Start, params.End)
	status := JobStatusDone
	if err != nil {
		status = JobStatusFailed
		warnings = append(warnings, "integrity check failed: "+err.Error())
	}
	message := "fetch complete"
	if !finalReport.Complete() && status != JobStatusFailed {
		status = JobStatusPartial
		message = "fetch finished with remaining gaps"
	}
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]store.Gap{}, finalReport.Gaps...)
		j.UpdatedAt = time.Now()
		if len(warnings) > 0 {
			j.Warnings = append([]string{}, warnings...)
		}
	})
	logger.Infof("[data] job %s finished, status=%s gaps=%d", jobID, status, len(finalReport.Gaps))
}

func (s *Service) setJobStatus(jobID, status, message string, gaps []store.Gap) {
	s.updateJob(jobID, func(j *FetchJob) {
		j.Status = status
		j.Message = message
		j.Missing = append([]store.Gap{}, gaps...)
		j.UpdatedAt = time.Now()
	})
}

func (s *Service) getJob(id string) *FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobs[id]
}

func (s *Service) updateJob(id string, fn func(*FetchJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[id]; ok && fn != nil {
		fn(job)
	}
}

// JobSnapshot returns a copy of one job.
func (s *Service) JobSnapshot(id string) (FetchJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return FetchJob{}, false
	}
	return job.copy(), true
}

// JobsSnapshot returns copies of every known job, newest first.
func (s *Service) JobsSnapshot() []FetchJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]FetchJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job.copy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// ManifestInfo reads the local manifest row.
func (s *Service) ManifestInfo(ctx context.Context, symbol, timeframe string) (store.Manifest, error) {
	if symbol == "" || timeframe == "" {
		return store.Manifest{}, errors.New("datasource: symbol/timeframe are required")
	}
	return s.store.Manifest(ctx, symbol, timeframe)
}

// QueryCandles reads candles from the local store.
func (s *Service) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	if symbol == "" || timeframe == "" {
		return nil, errors.New("datasource: symbol/timeframe are required")
	}
	return s.store.QueryCandles(ctx, symbol, timeframe, start, end, limit)
}

// LoadBars loads simulation bars for [start, end]. Missing ranges are
// fetched synchronously from the configured source before loading.
func (s *Service) LoadBars(ctx context.Context, pair, timeframe string, start, end time.Time) ([]market.Bar, error) {
	if pair == "" {
		return nil, errors.New("datasource: symbol is required")
	}
	pair = symbol.Normalize(pair)
	tf, err := market.ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	from, to := tf.AlignRange(start.UnixMilli(), end.UnixMilli())

	report, err := s.store.CheckIntegrity(ctx, pair, timeframe, tf, from, to)
	if err != nil {
		return nil, err
	}
	if !report.Complete() {
		src := s.sources[s.defaultExchange]
		if src == nil {
			return nil, fmt.Errorf("datasource: no source configured")
		}
		if err := s.fillGaps(ctx, pair, timeframe, tf, report.Gaps, src); err != nil {
			return nil, err
		}
	}

	candles, err := s.store.RangeCandles(ctx, pair, timeframe, from, to)
	if err != nil {
		return nil, err
	}
	return market.Bars(candles), nil
}

// fillGaps is the synchronous variant of the job loop, used by LoadBars.
func (s *Service) fillGaps(ctx context.Context, pair, timeframe string, tf market.Timeframe, gaps []store.Gap, source CandleSource) error {
	step := tf.Duration.Milliseconds()
	for _, gap := range gaps {
		cursor := gap.From
		for cursor <= gap.To {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
			remaining := int((gap.To-cursor)/step) + 1
			if remaining > s.maxBatch {
				remaining = s.maxBatch
			}
			data, err := source.Fetch(ctx, FetchRequest{
				Symbol:   pair,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To,
				Limit:    remaining,
			})
			if err != nil {
				return fmt.Errorf("datasource: %s fetch failed: %w", source.Name(), err)
			}
			if len(data) == 0 {
				break
			}
			inserted, err := s.store.InsertCandles(ctx, pair, timeframe, data)
			if err != nil {
				return err
			}
			cursor = data[len(data)-1].OpenTime + step
			if inserted == 0 {
				break
			}
		}
	}
	return nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
