package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/store"
)

var keyColumns = []any{
	"id", "channel_id", "key", "alias", "status", "priority", "weight",
	"balance", "last_checked", "last_used", "error_count", "total_requests",
	"created_at", "updated_at",
}

func scanKey(row interface{ Scan(...any) error }) (model.ApiKey, error) {
	var k model.ApiKey
	err := row.Scan(
		&k.ID, &k.ChannelID, &k.Key, &k.Alias, &k.Status, &k.Priority, &k.Weight,
		&k.Balance, &k.LastChecked, &k.LastUsed, &k.ErrorCount, &k.TotalRequests,
		&k.CreatedAt, &k.UpdatedAt,
	)
	return k, err
}

func (s *SQLite) ListKeys(ctx context.Context, channelID string) ([]model.ApiKey, error) {
	ds := s.goqu.From(s.tableKeys).Select(keyColumns...).Order(goqu.I("id").Asc())
	if channelID != "" {
		ds = ds.Where(goqu.I("channel_id").Eq(channelID))
	}

	query, _, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list keys query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var result []model.ApiKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

func (s *SQLite) GetKey(ctx context.Context, id string) (*model.ApiKey, error) {
	query, _, err := s.goqu.From(s.tableKeys).Select(keyColumns...).
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get key query: %w", err)
	}

	k, err := scanKey(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get key %q: %w", id, err)
	}
	return &k, nil
}

func (s *SQLite) ActiveKeysFor(ctx context.Context, channelID string) ([]model.ApiKey, error) {
	query, _, err := s.goqu.From(s.tableKeys).Select(keyColumns...).
		Where(goqu.I("channel_id").Eq(channelID), goqu.I("status").Eq(model.StatusActive)).
		Order(goqu.I("id").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build active keys query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active keys: %w", err)
	}
	defer rows.Close()

	result := make([]model.ApiKey, 0)
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan key row: %w", err)
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

// nullInt64/nullFloat64 unwrap a nullable field to a literal nil or its
// underlying value — goqu's literal-mode SQL generation only knows how to
// encode concrete scalar types, not arbitrary pointers.
func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullFloat64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func keyRecord(k model.ApiKey) goqu.Record {
	return goqu.Record{
		"id": k.ID, "channel_id": k.ChannelID, "key": k.Key, "alias": k.Alias,
		"status": k.Status, "priority": k.Priority, "weight": k.Weight,
		"balance": nullFloat64(k.Balance), "last_checked": nullInt64(k.LastChecked), "last_used": nullInt64(k.LastUsed),
		"error_count": k.ErrorCount, "total_requests": k.TotalRequests,
		"created_at": k.CreatedAt, "updated_at": k.UpdatedAt,
	}
}

func normalizeNewKey(k model.ApiKey) model.ApiKey {
	k.ID = ulid.Make().String()
	now := nowMS()
	k.CreatedAt = now
	k.UpdatedAt = now
	if k.Status == "" {
		k.Status = model.StatusUnknown
	}
	if k.Priority == 0 {
		k.Priority = 50
	}
	if k.Weight == 0 {
		k.Weight = 50
	}
	return k
}

func (s *SQLite) CreateKey(ctx context.Context, k model.ApiKey) (*model.ApiKey, error) {
	k = normalizeNewKey(k)

	query, _, err := s.goqu.Insert(s.tableKeys).Rows(keyRecord(k)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert key query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create key: %w", err)
	}

	return &k, nil
}

func (s *SQLite) CreateKeys(ctx context.Context, ks []model.ApiKey) ([]model.ApiKey, error) {
	if len(ks) == 0 {
		return []model.ApiKey{}, nil
	}

	normalized := make([]model.ApiKey, len(ks))
	records := make([]any, len(ks))
	for i, k := range ks {
		normalized[i] = normalizeNewKey(k)
		records[i] = keyRecord(normalized[i])
	}

	query, _, err := s.goqu.Insert(s.tableKeys).Rows(records...).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build bulk insert keys query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create keys: %w", err)
	}

	return normalized, nil
}

func (s *SQLite) UpdateKey(ctx context.Context, id string, patch store.KeyPatch) (*model.ApiKey, error) {
	record := goqu.Record{"updated_at": nowMS()}
	if patch.Key != nil {
		record["key"] = *patch.Key
	}
	if patch.Alias != nil {
		record["alias"] = *patch.Alias
	}
	if patch.Status != nil {
		record["status"] = *patch.Status
	}
	if patch.Priority != nil {
		record["priority"] = *patch.Priority
	}
	if patch.Weight != nil {
		record["weight"] = *patch.Weight
	}
	if patch.Balance != nil {
		record["balance"] = *patch.Balance
	}
	if patch.LastChecked != nil {
		record["last_checked"] = *patch.LastChecked
	}
	if patch.LastUsed != nil {
		record["last_used"] = *patch.LastUsed
	}
	if patch.ErrorCount != nil {
		record["error_count"] = *patch.ErrorCount
	}
	if patch.TotalRequests != nil {
		record["total_requests"] = *patch.TotalRequests
	}

	query, _, err := s.goqu.Update(s.tableKeys).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update key query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update key %q: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, nil
	}

	return s.GetKey(ctx, id)
}

func (s *SQLite) DeleteKey(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete(s.tableKeys).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete key query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete key %q: %w", id, err)
	}
	return nil
}
