package sqlite3

import "github.com/DYLCKH/key-hub/internal/store"

var _ store.Store = (*SQLite)(nil)
