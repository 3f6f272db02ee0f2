package credstore

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// BuildStoreFromDSN selects a token store backend by URL scheme:
//
//	memory://                  in-process map, lost on restart
//	file:///var/lib/tokens     one JSON file per requester
//	postgres://...             shared table, multi-instance safe
//
// An empty DSN returns (nil, nil) so callers can fall back to their own
// default.
func BuildStoreFromDSN(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse credential store dsn: %v", ErrInvalidInput, err)
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		dir := dsnDirPath(parsed, dsn)
		if dir == "" {
			return nil, fmt.Errorf("%w: file credential store requires a directory path", ErrInvalidInput)
		}
		return NewFileStore(dir)
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("%w: unsupported credential store scheme %q", ErrInvalidInput, scheme)
	}
}

func dsnDirPath(parsed *url.URL, raw string) string {
	if parsed.Scheme == "" {
		return filepath.Clean(strings.TrimSpace(raw))
	}
	if parsed.Opaque != "" {
		return filepath.Clean(parsed.Opaque)
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = filepath.Join(parsed.Host, path)
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	return filepath.Clean(path)
}
