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

var proxyColumns = []any{
	"id", "name", "type", "host", "port", "username", "password", "enabled", "created_at", "updated_at",
}

func scanProxy(row interface{ Scan(...any) error }) (model.Proxy, error) {
	var p model.Proxy
	var enabled int
	err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Host, &p.Port, &p.Username, &p.Password, &enabled, &p.CreatedAt, &p.UpdatedAt)
	p.Enabled = enabled != 0
	return p, err
}

func (s *SQLite) ListProxies(ctx context.Context) ([]model.Proxy, error) {
	query, _, err := s.goqu.From(s.tableProxies).Select(proxyColumns...).Order(goqu.I("id").Asc()).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build list proxies query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	defer rows.Close()

	var result []model.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proxy row: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *SQLite) GetProxy(ctx context.Context, id string) (*model.Proxy, error) {
	query, _, err := s.goqu.From(s.tableProxies).Select(proxyColumns...).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build get proxy query: %w", err)
	}

	p, err := scanProxy(s.db.QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy %q: %w", id, err)
	}
	return &p, nil
}

func (s *SQLite) CreateProxy(ctx context.Context, p model.Proxy) (*model.Proxy, error) {
	p.ID = ulid.Make().String()
	p.CreatedAt = nowMS()
	p.UpdatedAt = p.CreatedAt

	record := goqu.Record{
		"id": p.ID, "name": p.Name, "type": p.Type, "host": p.Host, "port": p.Port,
		"username": p.Username, "password": p.Password, "enabled": p.Enabled,
		"created_at": p.CreatedAt, "updated_at": p.UpdatedAt,
	}

	query, _, err := s.goqu.Insert(s.tableProxies).Rows(record).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert proxy query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return nil, fmt.Errorf("create proxy: %w", err)
	}

	return &p, nil
}

func (s *SQLite) UpdateProxy(ctx context.Context, id string, patch store.ProxyPatch) (*model.Proxy, error) {
	record := goqu.Record{"updated_at": nowMS()}
	if patch.Name != nil {
		record["name"] = *patch.Name
	}
	if patch.Type != nil {
		record["type"] = *patch.Type
	}
	if patch.Host != nil {
		record["host"] = *patch.Host
	}
	if patch.Port != nil {
		record["port"] = *patch.Port
	}
	if patch.Username != nil {
		record["username"] = *patch.Username
	}
	if patch.Password != nil {
		record["password"] = *patch.Password
	}
	if patch.Enabled != nil {
		record["enabled"] = *patch.Enabled
	}

	query, _, err := s.goqu.Update(s.tableProxies).Set(record).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update proxy query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("update proxy %q: %w", id, err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return nil, nil
	}

	return s.GetProxy(ctx, id)
}

// DeleteProxy clears proxy_id on every referencing channel (weak-reference
// semantics), then removes the proxy row itself, both in one transaction.
func (s *SQLite) DeleteProxy(ctx context.Context, id string) error {
	clearQuery, _, err := s.goqu.Update(s.tableChannels).
		Set(goqu.Record{"proxy_id": "", "updated_at": nowMS()}).
		Where(goqu.I("proxy_id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build clear proxy_id query: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete proxy %q: %w", id, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, clearQuery); err != nil {
		return fmt.Errorf("clear proxy_id for %q: %w", id, err)
	}

	delQuery, _, err := s.goqu.Delete(s.tableProxies).Where(goqu.I("id").Eq(id)).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete proxy query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, delQuery); err != nil {
		return fmt.Errorf("delete proxy %q: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete proxy %q: %w", id, err)
	}
	return nil
}
