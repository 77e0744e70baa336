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

var channelColumns = []any{
	"id", "name", "type", "base_url", "test_method", "test_model",
	"proxy_id", "load_balance_strategy", "enabled", "created_at", "updated_at",
}

func scanChannel(row interface{ Scan(...any) error }) (model.Channel, error) {
	var c model.Channel
	var enabled int
	err := row.Scan(
		&c.ID, &c.Name, &c.Type, &c.BaseURL, &c.TestMethod, &c.TestModel,
		&c.ProxyID, &c.LoadBalanceStrategy, &enabled, &c.CreatedAt, &c.UpdatedAt,
	)
	c.Enabled = enabled != 0
	return c, err
}

func (s *SQLite) ListChannels(ctx context.Context) ([]model.Channel, error) {
	query, _, err := s.goqu.From(s.tableChannels).Select(channelColumns...).
		Order(goqu.I("id").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list channels query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var result []model.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (s *SQLite) GetChannel(ctx context.Context, id string) (*model.Channel, error) {
	query, _, err := s.goqu.From(s.tableChannels).Select(channelColumns...).
		Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get channel query: %w", err)
	}

	c, err := scanChannel(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel %q: %w", id, err)
	}
	return &c, nil
}

func (s *SQLite) CreateChannel(ctx context.Context, ch model.Channel) (*model.Channel, error) {
	ch.ID = ulid.Make().String()
	ch.CreatedAt = nowMS()
	ch.UpdatedAt = ch.CreatedAt
	if ch.LoadBalanceStrategy == "" {
		ch.LoadBalanceStrategy = model.StrategyRoundRobin
	}
	if ch.TestMethod == "" {
		ch.TestMethod = model.TestMethodChat
	}

	record := goqu.Record{
		"id": ch.ID, "name": ch.Name, "type": ch.Type, "base_url": ch.BaseURL,
		"test_method": ch.TestMethod, "test_model": ch.TestModel,
		"proxy_id": ch.ProxyID, "load_balance_strategy": ch.LoadBalanceStrategy,
		"enabled": ch.Enabled, "created_at": ch.CreatedAt, "updated_at": ch.UpdatedAt,
	}

	query, _, err := s.goqu.Insert(s.tableChannels).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert channel query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create channel: %w", err)
	}

	return &ch, nil
}

func (s *SQLite) UpdateChannel(ctx context.Context, id string, patch store.ChannelPatch) (*model.Channel, error) {
	record := goqu.Record{"updated_at": nowMS()}
	if patch.Name != nil {
		record["name"] = *patch.Name
	}
	if patch.Type != nil {
		record["type"] = *patch.Type
	}
	if patch.BaseURL != nil {
		record["base_url"] = *patch.BaseURL
	}
	if patch.TestMethod != nil {
		record["test_method"] = *patch.TestMethod
	}
	if patch.TestModel != nil {
		record["test_model"] = *patch.TestModel
	}
	if patch.ClearProxyID {
		record["proxy_id"] = ""
	} else if patch.ProxyID != nil {
		record["proxy_id"] = *patch.ProxyID
	}
	if patch.LoadBalanceStrategy != nil {
		record["load_balance_strategy"] = *patch.LoadBalanceStrategy
	}
	if patch.Enabled != nil {
		record["enabled"] = *patch.Enabled
	}

	query, _, err := s.goqu.Update(s.tableChannels).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update channel query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update channel %q: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, nil
	}

	return s.GetChannel(ctx, id)
}

// DeleteChannel cascades via the "ON DELETE CASCADE" foreign key from
// keys.channel_id, so no separate statement is needed to drop a channel's
// keys.
func (s *SQLite) DeleteChannel(ctx context.Context, id string) error {
	query, _, err := s.goqu.Delete(s.tableChannels).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete channel query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("delete channel %q: %w", id, err)
	}
	return nil
}
