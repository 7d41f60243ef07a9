// Package secrets resolves "os.secret/<path>" configuration values from an
// external secret store.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/praxisllmlab/copydesk/internal/config"
	"github.com/praxisllmlab/copydesk/internal/logs"
)

// Prefix marks a config value that must be read from the secret store.
const Prefix = "os.secret/"

const defaultCacheTTL = 24 * time.Hour

var (
	// ErrNotFound means the store has no secret at the referenced path.
	ErrNotFound = errors.New("secret not found")
	// ErrEmpty means the secret exists but holds no usable value.
	ErrEmpty = errors.New("secret is empty")
	// ErrNoKey means a "#key" reference names a key the JSON secret lacks.
	ErrNoKey = errors.New("secret has no such key")
	// ErrNoStore means a field references a secret but secrets.type is unset.
	ErrNoStore = errors.New("secrets.type is not set")
)

// FieldError reports a copydesk.yaml field whose secret reference could not
// be resolved. Err wraps one of the sentinels above or the store's own error.
type FieldError struct {
	Field string // e.g. "backend.api_key"
	Ref   string // the value after "os.secret/"
	Store string // provider name, empty with ErrNoStore
	Err   error
}

func (e *FieldError) Error() string {
	if e.Store == "" {
		return fmt.Sprintf("%s: secret %q: %v", e.Field, e.Ref, e.Err)
	}
	return fmt.Sprintf("%s: secret %q in %s: %v", e.Field, e.Ref, e.Store, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// Ref is a parsed "os.secret/<path>[#key]" value. Key selects one field of a
// secret stored as a JSON object.
type Ref struct {
	Path string
	Key  string
}

// ParseRef reports whether v is a secret reference and splits it.
func ParseRef(v string) (Ref, bool) {
	rest, ok := strings.CutPrefix(v, Prefix)
	if !ok {
		return Ref{}, false
	}
	path, key, _ := strings.Cut(rest, "#")
	return Ref{Path: path, Key: key}, true
}

func (r Ref) String() string {
	if r.Key == "" {
		return r.Path
	}
	return r.Path + "#" + r.Key
}

// value extracts the referenced value from a raw secret.
func (r Ref) value(raw string) (string, error) {
	if r.Key == "" {
		if strings.TrimSpace(raw) == "" {
			return "", ErrEmpty
		}
		return raw, nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", fmt.Errorf("key %q needs a JSON object secret: %w", r.Key, err)
	}
	v, ok := obj[r.Key]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrNoKey, r.Key)
	}
	var out string
	switch v := v.(type) {
	case string:
		out = v
	case nil:
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		out = string(data)
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmpty
	}
	return out, nil
}

// notFound tags err as ErrNotFound while keeping the store's own error.
func notFound(err error) error {
	return fmt.Errorf("%w: %w", ErrNotFound, err)
}

// Provider reads named secrets from one backing store. Get returns the raw
// secret text and wraps ErrNotFound when the path does not exist.
type Provider interface {
	Name() string
	Get(ctx context.Context, path string) (string, error)
	Health(ctx context.Context) error
}

// Factory builds a Provider from the secrets section of copydesk.yaml.
type Factory func(ctx context.Context, cfg config.SecretsConfig) (Provider, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a provider type available to New.
func Register(name string, f Factory) {
	factoryMu.Lock()
	factories[name] = f
	factoryMu.Unlock()
}

// New builds the provider named by cfg.Type.
func New(ctx context.Context, cfg config.SecretsConfig) (Provider, error) {
	factoryMu.RLock()
	f, ok := factories[cfg.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown secret store: %q", cfg.Type)
	}
	return f(ctx, cfg)
}

// Names lists the registered provider types, sorted.
func Names() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type cachedEntry struct {
	value     string
	expiresAt time.Time
}

// Cached wraps a Provider with an in-process TTL cache.
type Cached struct {
	inner Provider
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cachedEntry
}

// NewCached wraps p. A non-positive ttl falls back to 24h.
func NewCached(p Provider, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cached{inner: p, ttl: ttl, now: time.Now, entries: make(map[string]cachedEntry)}
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Get(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", errors.New("secret path cannot be empty")
	}

	c.mu.RLock()
	e, ok := c.entries[path]
	c.mu.RUnlock()
	if ok && c.now().Before(e.expiresAt) {
		return e.value, nil
	}

	val, err := c.inner.Get(ctx, path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[path] = cachedEntry{value: val, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return val, nil
}

func (c *Cached) Health(ctx context.Context) error { return c.inner.Health(ctx) }

// Resolve replaces every "os.secret/<path>[#key]" credential in cfg with the
// value held by p. Failures come back joined, one *FieldError per field.
func Resolve(ctx context.Context, cfg *config.Config, p Provider, log *zap.SugaredLogger) error {
	log = logs.OrNop(log)
	fields := []struct {
		name string
		ptr  *string
	}{
		{"backend.api_key", &cfg.Backend.APIKey},
		{"server.master_key", &cfg.Server.MasterKey},
		{"server.jwt_secret", &cfg.Server.JWTSecret},
		{"database_url", &cfg.DatabaseURL},
		{"cache.redis_url", &cfg.Cache.RedisURL},
	}

	var errs []error
	for _, f := range fields {
		ref, ok := ParseRef(*f.ptr)
		if !ok {
			continue
		}
		fe := &FieldError{Field: f.name, Ref: ref.String()}
		if p == nil {
			fe.Err = ErrNoStore
			errs = append(errs, fe)
			continue
		}
		fe.Store = p.Name()
		raw, err := p.Get(ctx, ref.Path)
		if err == nil {
			raw, err = ref.value(raw)
		}
		if err != nil {
			fe.Err = err
			errs = append(errs, fe)
			continue
		}
		*f.ptr = raw
		log.Debugf("secrets: resolved %s from %s", f.name, p.Name())
	}
	return errors.Join(errs...)
}

// Load builds the configured provider, wraps it in a cache and resolves cfg.
// It is a no-op when no secret store is configured and nothing references one.
func Load(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	var p Provider
	if cfg.Secrets.Type != "" {
		inner, err := New(ctx, cfg.Secrets)
		if err != nil {
			return err
		}
		if err := inner.Health(ctx); err != nil {
			logs.OrNop(log).Warnf("secrets: %v", err)
		}
		p = NewCached(inner, cfg.Secrets.CacheTTL)
	}
	return Resolve(ctx, cfg, p, log)
}
