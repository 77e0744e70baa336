package sqlite3

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"

	"github.com/DYLCKH/key-hub/internal/model"
	"github.com/DYLCKH/key-hub/internal/store"
)

// GetSettings returns the singleton settings row, seeding it with
// model.DefaultSettings on first access.
func (s *SQLite) GetSettings(ctx context.Context) (model.Settings, error) {
	query, _, err := s.goqu.From(s.tableSettings).
		Select("check_interval", "max_logs_retention").
		Where(goqu.I("id").Eq(1)).ToSQL()
	if err != nil {
		return model.Settings{}, fmt.Errorf("build get settings query: %w", err)
	}

	var set model.Settings
	err = s.db.QueryRowContext(ctx, query).Scan(&set.CheckInterval, &set.MaxLogsRetention)
	if errors.Is(err, sql.ErrNoRows) {
		return s.seedSettings(ctx)
	}
	if err != nil {
		return model.Settings{}, fmt.Errorf("get settings: %w", err)
	}
	return set, nil
}

func (s *SQLite) seedSettings(ctx context.Context) (model.Settings, error) {
	defaults := model.DefaultSettings()

	record := goqu.Record{"id": 1, "check_interval": defaults.CheckInterval, "max_logs_retention": defaults.MaxLogsRetention}
	query, _, err := s.goqu.Insert(s.tableSettings).Rows(record).ToSQL()
	if err != nil {
		return model.Settings{}, fmt.Errorf("build seed settings query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return model.Settings{}, fmt.Errorf("seed settings: %w", err)
	}
	return defaults, nil
}

func (s *SQLite) UpdateSettings(ctx context.Context, patch store.SettingsPatch) (model.Settings, error) {
	if _, err := s.GetSettings(ctx); err != nil {
		return model.Settings{}, err
	}

	record := goqu.Record{}
	if patch.CheckInterval != nil {
		record["check_interval"] = *patch.CheckInterval
	}
	if patch.MaxLogsRetention != nil {
		record["max_logs_retention"] = *patch.MaxLogsRetention
	}
	if len(record) > 0 {
		query, _, err := s.goqu.Update(s.tableSettings).Set(record).Where(goqu.I("id").Eq(1)).ToSQL()
		if err != nil {
			return model.Settings{}, fmt.Errorf("build update settings query: %w", err)
		}
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return model.Settings{}, fmt.Errorf("update settings: %w", err)
		}
	}

	return s.GetSettings(ctx)
}
