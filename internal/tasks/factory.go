package tasks

import (
	"context"
	"fmt"
	"strings"
)

// NewStore opens the store selected by driver: memory, postgres or sqlite.
func NewStore(ctx context.Context, driver, databaseURL, sqlitePath string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		return NewPostgresStore(ctx, databaseURL)
	case "sqlite":
		return NewSQLiteStore(ctx, sqlitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}
}
