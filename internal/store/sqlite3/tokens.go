package sqlite3

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	"github.com/oklog/ulid/v2"

	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/store"
)

var tokenColumns = []any{
	"id", "name", "token", "allowed_channels", "rate_limit", "enabled", "created_at", "last_used",
}

func scanToken(row interface{ Scan(...any) error }) (model.Token, error) {
	var t model.Token
	var enabled int
	var allowedChannels string
	err := row.Scan(&t.ID, &t.Name, &t.Token, &allowedChannels, &t.RateLimit, &enabled, &t.CreatedAt, &t.LastUsed)
	if err != nil {
		return t, err
	}
	t.Enabled = enabled != 0
	if allowedChannels != "" {
		if err := json.Unmarshal([]byte(allowedChannels), &t.AllowedChannels); err != nil {
			return t, fmt.Errorf("unmarshal allowed_channels: %w", err)
		}
	}
	return t, nil
}

func (s *SQLite) ListTokens(ctx context.Context) ([]model.Token, error) {
	query, _, err := s.goqu.From(s.tableTokens).Select(tokenColumns...).Order(goqu.I("id").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list tokens query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	defer rows.Close()

	var result []model.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan token row: %w", err)
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (s *SQLite) GetToken(ctx context.Context, id string) (*model.Token, error) {
	query, _, err := s.goqu.From(s.tableTokens).Select(tokenColumns...).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get token query: %w", err)
	}

	t, err := scanToken(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token %q: %w", id, err)
	}
	return &t, nil
}

func (s *SQLite) TokenByValue(ctx context.Context, value string) (*model.Token, error) {
	query, _, err := s.goqu.From(s.tableTokens).Select(tokenColumns...).Where(goqu.I("token").Eq(value)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build token-by-value query: %w", err)
	}

	t, err := scanToken(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get token by value: %w", err)
	}
	return &t, nil
}

func (s *SQLite) CreateToken(ctx context.Context, t model.Token) (*model.Token, error) {
	t.ID = ulid.Make().String()
	t.CreatedAt = nowMS()
	if t.AllowedChannels == nil {
		t.AllowedChannels = []string{}
	}

	allowed, err := json.Marshal(t.AllowedChannels)
	if err != nil {
		return nil, fmt.Errorf("marshal allowed_channels: %w", err)
	}

	var rateLimit any
	if t.RateLimit != nil {
		rateLimit = *t.RateLimit
	}

	record := goqu.Record{
		"id": t.ID, "name": t.Name, "token": t.Token, "allowed_channels": string(allowed),
		"rate_limit": rateLimit, "enabled": t.Enabled, "created_at": t.CreatedAt, "last_used": nullInt64(t.LastUsed),
	}

	query, _, err := s.goqu.Insert(s.tableTokens).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert token query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create token: %w", err)
	}

	return &t, nil
}

func (s *SQLite) UpdateToken(ctx context.Context, id string, patch store.TokenPatch) (*model.Token, error) {
	record := goqu.Record{}
	if patch.Name != nil {
		record["name"] = *patch.Name
	}
	if patch.AllowedChannels != nil {
		allowed, err := json.Marshal(*patch.AllowedChannels)
		if err != nil {
			return nil, fmt.Errorf("marshal allowed_channels: %w", err)
		}
		record["allowed_channels"] = string(allowed)
	}
	if patch.RateLimit != nil {
		if *patch.RateLimit == nil {
			record["rate_limit"] = nil
		} else {
			record["rate_limit"] = **patch.RateLimit
		}
	}
	if patch.Enabled != nil {
		record["enabled"] = *patch.Enabled
	}
	if patch.LastUsed != nil {
		record["last_used"] = *patch.LastUsed
	}
	if len(record) == 0 {
		return s.GetToken(ctx, id)
	}

	query, _, err := s.goqu.Update(s.tableTokens).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update token query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update token %q: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, nil
	}

	return s.GetToken(ctx, id)
}

func (s *SQLite) DeleteToken(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete(s.tableTokens).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete token query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete token %q: %w", id, err)
	}
	return nil
}
