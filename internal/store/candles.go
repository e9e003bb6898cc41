package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quantbt/internal/market"

	_ "modernc.org/sqlite"
)

// Manifest summarizes one symbol@timeframe candle file.
type Manifest struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	MinTime    int64  `json:"min_time"`
	MaxTime    int64  `json:"max_time"`
	Rows       int64  `json:"rows"`
	LastSyncAt int64  `json:"last_sync_at"`
	Path       string `json:"path"`
}

// Gap is a missing candle interval, Unix ms, inclusive on both ends.
type Gap struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
}

// IntegrityReport states how much of a requested range is present locally.
type IntegrityReport struct {
	Expected int64 `json:"expected"`
	Present  int64 `json:"present"`
	Gaps     []Gap `json:"gaps"`
}

func (r IntegrityReport) Complete() bool {
	return len(r.Gaps) == 0 && r.Present >= r.Expected
}

// CandleStore keeps one SQLite file per symbol@timeframe under a data root.
type CandleStore struct {
	root string

	mu  sync.Mutex
	dbs map[string]*sql.DB
}

func NewCandleStore(root string) (*CandleStore, error) {
	if root == "" {
		return nil, fmt.Errorf("store: data root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &CandleStore{root: root, dbs: make(map[string]*sql.DB)}, nil
}

func (s *CandleStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for k, db := range s.dbs {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.dbs, k)
	}
	return firstErr
}

func (s *CandleStore) db(symbol, timeframe string) (*sql.DB, string, error) {
	if symbol == "" || timeframe == "" {
		return nil, "", fmt.Errorf("store: symbol and timeframe are required")
	}
	key := strings.ToUpper(symbol) + "@" + strings.ToLower(timeframe)
	s.mu.Lock()
	defer s.mu.Unlock()
	if db, ok := s.dbs[key]; ok && db != nil {
		return db, s.dbPath(symbol, timeframe), nil
	}
	path := s.dbPath(symbol, timeframe)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, "", err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureCandleSchema(db, symbol, timeframe); err != nil {
		_ = db.Close()
		return nil, "", err
	}
	s.dbs[key] = db
	return db, path, nil
}

func (s *CandleStore) dbPath(symbol, timeframe string) string {
	dir := filepath.Join(s.root, strings.ToUpper(symbol))
	return filepath.Join(dir, strings.ToLower(timeframe)+".db")
}

func ensureCandleSchema(db *sql.DB, symbol, timeframe string) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS candles (
			open_time  INTEGER PRIMARY KEY,
			close_time INTEGER NOT NULL,
			open       REAL NOT NULL,
			high       REAL NOT NULL,
			low        REAL NOT NULL,
			close      REAL NOT NULL,
			volume     REAL NOT NULL,
			trades     INTEGER DEFAULT 0,
			inserted_at INTEGER NOT NULL DEFAULT (strftime('%s','now') * 1000)
		);`,
		`CREATE TABLE IF NOT EXISTS manifest (
			id INTEGER PRIMARY KEY CHECK (id=1),
			symbol TEXT NOT NULL,
			timeframe TEXT NOT NULL,
			min_time INTEGER,
			max_time INTEGER,
			rows INTEGER DEFAULT 0,
			last_sync_at INTEGER
		);`,
		`INSERT INTO manifest (id, symbol, timeframe) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET symbol=excluded.symbol, timeframe=excluded.timeframe;`,
	}
	for i, stmt := range stmts {
		var err error
		if i == len(stmts)-1 {
			_, err = db.Exec(stmt, strings.ToUpper(symbol), strings.ToLower(timeframe))
		} else {
			_, err = db.Exec(stmt)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// InsertCandles upserts a batch; duplicate open_time rows are overwritten.
func (s *CandleStore) InsertCandles(ctx context.Context, symbol, timeframe string, candles []market.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return 0, err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO candles (open_time, close_time, open, high, low, close, volume, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(open_time) DO UPDATE SET
		    close_time=excluded.close_time,
		    open=excluded.open,
		    high=excluded.high,
		    low=excluded.low,
		    close=excluded.close,
		    volume=excluded.volume,
		    trades=excluded.trades`)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()
	count := 0
	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, c.OpenTime, c.CloseTime, c.Open, c.High, c.Low, c.Close, c.Volume, c.Trades); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		count++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if err := s.refreshManifest(ctx, db); err != nil {
		return count, err
	}
	return count, nil
}

func (s *CandleStore) refreshManifest(ctx context.Context, db *sql.DB) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		UPDATE manifest
		SET min_time = (SELECT COALESCE(MIN(open_time), 0) FROM candles),
		    max_time = (SELECT COALESCE(MAX(open_time), 0) FROM candles),
		    rows = (SELECT COUNT(1) FROM candles),
		    last_sync_at = ?
		WHERE id = 1`, now)
	return err
}

func (s *CandleStore) Manifest(ctx context.Context, symbol, timeframe string) (Manifest, error) {
	db, path, err := s.db(symbol, timeframe)
	if err != nil {
		return Manifest{}, err
	}
	row := db.QueryRowContext(ctx, `SELECT symbol,timeframe,min_time,max_time,rows,last_sync_at FROM manifest WHERE id=1`)
	var m Manifest
	var minTime, maxTime, lastSync sql.NullInt64
	if err := row.Scan(&m.Symbol, &m.Timeframe, &minTime, &maxTime, &m.Rows, &lastSync); err != nil {
		return Manifest{}, err
	}
	m.MinTime = minTime.Int64
	m.MaxTime = maxTime.Int64
	m.LastSyncAt = lastSync.Int64
	m.Path = path
	return m, nil
}

// RangeCandles returns all candles with open_time in [start, end], ascending.
func (s *CandleStore) RangeCandles(ctx context.Context, symbol, timeframe string, start, end int64) ([]market.Candle, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if start > 0 && end > 0 && end < start {
		start, end = end, start
	}
	if start <= 0 || end <= 0 {
		return nil, fmt.Errorf("store: start and end must be > 0")
	}
	rows, err := db.QueryContext(ctx, `
		SELECT open_time, close_time, open, high, low, close, volume, trades
		FROM candles
		WHERE open_time BETWEEN ? AND ?
		ORDER BY open_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCandles(rows)
}

// QueryCandles reads up to limit candles from a flexible range, ascending.
func (s *CandleStore) QueryCandles(ctx context.Context, symbol, timeframe string, start, end int64, limit int) ([]market.Candle, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 200
	}
	if limit > 2000 {
		limit = 2000
	}
	orderDesc := false
	var rows *sql.Rows
	switch {
	case start > 0 && end > 0:
		if end < start {
			start, end = end, start
		}
		rows, err = db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, trades
			FROM candles WHERE open_time BETWEEN ? AND ?
			ORDER BY open_time ASC LIMIT ?`, start, end, limit)
	case start > 0:
		rows, err = db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, trades
			FROM candles WHERE open_time >= ?
			ORDER BY open_time ASC LIMIT ?`, start, limit)
	case end > 0:
		rows, err = db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, trades
			FROM candles WHERE open_time <= ?
			ORDER BY open_time DESC LIMIT ?`, end, limit)
		orderDesc = true
	default:
		rows, err = db.QueryContext(ctx, `
			SELECT open_time, close_time, open, high, low, close, volume, trades
			FROM candles ORDER BY open_time DESC LIMIT ?`, limit)
		orderDesc = true
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if orderDesc {
		for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
			list[i], list[j] = list[j], list[i]
		}
	}
	return list, nil
}

func scanCandles(rows *sql.Rows) ([]market.Candle, error) {
	var list []market.Candle
	for rows.Next() {
		var c market.Candle
		if err := rows.Scan(&c.OpenTime, &c.CloseTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Trades); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// CheckIntegrity compares the stored open_time grid against the expected
// one for [start, end] and reports contiguous gaps.
func (s *CandleStore) CheckIntegrity(ctx context.Context, symbol, timeframe string, tf market.Timeframe, start, end int64) (IntegrityReport, error) {
	db, _, err := s.db(symbol, timeframe)
	if err != nil {
		return IntegrityReport{}, err
	}
	rows, err := db.QueryContext(ctx, `SELECT open_time FROM candles WHERE open_time BETWEEN ? AND ? ORDER BY open_time`, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	defer rows.Close()

	present := make(map[int64]bool)
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return IntegrityReport{}, err
		}
		present[ts] = true
	}
	if err := rows.Err(); err != nil {
		return IntegrityReport{}, err
	}

	step := tf.Duration.Milliseconds()
	report := IntegrityReport{
		Expected: tf.ExpectedBars(start, end),
		Present:  int64(len(present)),
	}
	var gapStart int64 = -1
	for ts := start; ts <= end; ts += step {
		if present[ts] {
			if gapStart >= 0 {
				report.Gaps = append(report.Gaps, Gap{From: gapStart, To: ts - step})
				gapStart = -1
			}
			continue
		}
		if gapStart < 0 {
			gapStart = ts
		}
	}
	if gapStart >= 0 {
		report.Gaps = append(report.Gaps, Gap{From: gapStart, To: alignLast(start, end, step)})
	}
	return report, nil
}

// alignLast is the last grid timestamp at or below end.
func alignLast(start, end, step int64) int64 {
	if step <= 0 || end < start {
		return end
	}
	return start + ((end-start)/step)*step
}
