package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/taskpilot-ai/taskpilot/retry"
)

// Provider is the interface every model backend implements.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string

	// Stream sends a request and returns a channel of chunks. The channel is
	// closed after the Done chunk or an Err chunk.
	Stream(ctx context.Context, req Request) (<-chan StreamChunk, error)

	// CheckConnection sends a minimal probe request and reports whether the
	// provider answered.
	CheckConnection(ctx context.Context) bool
}

// Options carries the configuration shared by all provider constructors.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float64
	MaxTokens   *int
	Retry       retry.Config
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return http.DefaultClient
}

// Factory constructs a Provider from options.
type Factory func(opts Options) (Provider, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a provider factory available under the given name.
// It panics if the name is already taken.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if _, dup := factories[name]; dup {
		panic(fmt.Sprintf("llm: provider %q registered twice", name))
	}
	factories[name] = factory
}

// New constructs the named provider.
func New(name string, opts Options) (Provider, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("llm: unknown provider %q (registered: %v)", name, Providers())
	}
	return factory(opts)
}

// Providers returns the registered provider names, sorted.
func Providers() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
