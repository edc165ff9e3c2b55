package vault

import (
	"fmt"
	"net/url"
	"strings"
)

// BuildStateBackendFromDSN constructs a StateBackend from a DSN such as
// file:///var/vault/state.json, memory://, or postgres://host/db. An
// empty DSN yields a nil backend, which callers treat as "use the
// default". Registered custom schemes take precedence over built-ins.
func BuildStateBackendFromDSN(dsn string) (StateBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse state DSN: %w", err)
	}
	scheme := strings.ToLower(parsed.Scheme)
	if factory, ok := lookupStateBackendFactory(scheme); ok {
		return factory(dsn)
	}
	switch scheme {
	case "", "file":
		path, err := fileDSNPath(parsed, dsn)
		if err != nil {
			return nil, err
		}
		return NewJSONFileStateBackend(path)
	case "memory":
		return NewInMemoryStateBackend(), nil
	case "postgres", "postgresql":
		return NewPostgresStateBackend(dsn)
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: %s state backend", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("%w: unknown state DSN scheme %q", ErrInvalidInput, scheme)
	}
}

// fileDSNPath extracts the file path from a file DSN. A bare path with
// no scheme is accepted as-is; file://relative/path parses its first
// segment as a URL host, so the host is stitched back on.
func fileDSNPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		path := strings.TrimSpace(raw)
		if path == "" {
			return "", ErrInvalidInput
		}
		return path, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if path == "" {
		path = parsed.Opaque
	}
	if strings.TrimSpace(path) == "" {
		return "", ErrInvalidInput
	}
	return path, nil
}
