package sqlite3

import (
	"context"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/DYLCKH/key-hub/internal/model"
)

var logColumns = []any{
	"id", "timestamp", "token_id", "channel_id", "key_id", "model", "path", "method",
	"status", "latency", "input_tokens", "output_tokens", "error", "streaming",
}

func scanLog(row interface{ Scan(...any) error }) (model.RequestLog, error) {
	var l model.RequestLog
	var streaming int
	err := row.Scan(
		&l.ID, &l.Timestamp, &l.TokenID, &l.ChannelID, &l.KeyID, &l.Model, &l.Path, &l.Method,
		&l.Status, &l.Latency, &l.InputTokens, &l.OutputTokens, &l.Error, &streaming,
	)
	l.Streaming = streaming != 0
	return l, err
}

// AppendLog inserts the row, then garbage-collects anything older than
// now-maxLogsRetention in the same call, matching the memory store's
// write-time retention sweep.
func (s *SQLite) AppendLog(ctx context.Context, l model.RequestLog) error {
	l.ID = ulid.Make().String()

	record := goqu.Record{
		"id": l.ID, "timestamp": l.Timestamp, "token_id": l.TokenID, "channel_id": l.ChannelID,
		"key_id": l.KeyID, "model": l.Model, "path": l.Path, "method": l.Method,
		"status": l.Status, "latency": l.Latency, "input_tokens": nullIntPtr(l.InputTokens),
		"output_tokens": nullIntPtr(l.OutputTokens), "error": l.Error, "streaming": l.Streaming,
	}

	insertQuery, _, err := s.goqu.Insert(s.tableLogs).Rows(record).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert log query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, insertQuery); err != nil {
		return fmt.Errorf("append log: %w", err)
	}

	settings, err := s.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("read settings for log retention: %w", err)
	}
	cutoff := nowMS() - settings.MaxLogsRetention

	gcQuery, _, err := s.goqu.Delete(s.tableLogs).Where(goqu.I("timestamp").Lt(cutoff)).ToSQL()
	if err != nil {
		return fmt.Errorf("build log retention gc query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, gcQuery); err != nil {
		return fmt.Errorf("gc old logs: %w", err)
	}

	return nil
}

func (s *SQLite) QueryLogs(ctx context.Context, f model.LogFilter) ([]model.RequestLog, int, error) {
	ds := s.goqu.From(s.tableLogs)
	if f.ChannelID != "" {
		ds = ds.Where(goqu.I("channel_id").Eq(f.ChannelID))
	}
	if f.Status != 0 {
		ds = ds.Where(goqu.I("status").Eq(f.Status))
	}
	if f.StartTime != 0 {
		ds = ds.Where(goqu.I("timestamp").Gte(f.StartTime))
	}
	if f.EndTime != 0 {
		ds = ds.Where(goqu.I("timestamp").Lte(f.EndTime))
	}

	countQuery, _, err := ds.Select(goqu.COUNT("*")).ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build count logs query: %w", err)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	pageQuery, _, err := ds.Select(logColumns...).
		Order(goqu.I("timestamp").Desc()).
		Limit(uint(limit)).Offset(uint(offset)).
		ToSQL()
	if err != nil {
		return nil, 0, fmt.Errorf("build page logs query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, pageQuery)
	if err != nil {
		return nil, 0, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	result := make([]model.RequestLog, 0, limit)
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan log row: %w", err)
		}
		result = append(result, l)
	}
	return result, total, rows.Err()
}

func (s *SQLite) LogsSince(ctx context.Context, ts int64) ([]model.RequestLog, error) {
	query, _, err := s.goqu.From(s.tableLogs).Select(logColumns...).
		Where(goqu.I("timestamp").Gte(ts)).
		Order(goqu.I("timestamp").Desc()).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build logs-since query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("logs since: %w", err)
	}
	defer rows.Close()

	result := make([]model.RequestLog, 0)
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		result = append(result, l)
	}
	return result, rows.Err()
}

func nullIntPtr(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
