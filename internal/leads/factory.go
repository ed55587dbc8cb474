package leads

import (
	"context"
	"fmt"
	"strings"
)

// NewStore opens the backend named by the URL scheme:
//
//	memory://                  in-process store
//	csv://<dir>                leads.csv and results.csv under dir
//	sqlite://<path>            SQLite database file
//	postgres://... postgresql://...
//
// A bare path is treated as a CSV directory.
func NewStore(ctx context.Context, url string) (Store, error) {
	url = strings.TrimSpace(url)
	switch {
	case url == "" || url == "memory://":
		return NewInMemoryStore(), nil
	case strings.HasPrefix(url, "csv://"):
		return NewCSVStore(strings.TrimPrefix(url, "csv://"))
	case strings.HasPrefix(url, "sqlite://"):
		path := strings.TrimPrefix(url, "sqlite://")
		if path == "" {
			return nil, fmt.Errorf("sqlite store url %q has no path", url)
		}
		return NewSQLiteStore(ctx, path)
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgresStore(ctx, url)
	case strings.Contains(url, "://"):
		return nil, fmt.Errorf("unsupported lead store url %q", url)
	default:
		return NewCSVStore(url)
	}
}
