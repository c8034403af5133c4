// Mock dispatch engine: binds call sites to resolved configuration and hands out call handles
// Sites resolve lazily on first call, or all at once when the engine loads eagerly
package mockcall

import (
	"fmt"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Options configures an Engine. The zero value is usable: no sites are mocked.
type Options struct {
	Sites              map[string]SiteConfig
	Providers          map[string]ProviderFactory
	BodyFactories      map[string]BodyFactory
	DefaultBodyFactory BodyFactory
	DefaultBehavior    Behavior
	Random             RandomSource
	LoadEagerly        bool

	// Background runs the delay and production pipeline. Defaults to a one-worker pool
	// owned and closed by the engine.
	Background Executor

	// Callbacks delivers Enqueue results. Defaults to SyncExecutor.
	Callbacks Executor

	Logger         *zerolog.Logger
	TracerProvider trace.TracerProvider
	Observers      []CallObserver
}

// Engine hands out mocked call handles for configured sites.
type Engine struct {
	resolver    *resolver
	sites       map[string]SiteConfig
	routes      map[string]string
	loadEagerly bool

	background Executor
	callbacks  Executor
	pool       *WorkerPool

	tracer    trace.Tracer
	logger    zerolog.Logger
	observers []CallObserver
}

// New builds an engine. With LoadEagerly set, every enabled site is resolved before
// New returns and the first configuration error is reported.
func New(opts Options) (*Engine, error) {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	rnd := opts.Random
	if rnd == nil {
		rnd = DefaultRandom()
	}
	behavior := opts.DefaultBehavior
	if behavior == nil {
		behavior = DefaultBehavior(rnd)
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	sites := make(map[string]SiteConfig, len(opts.Sites))
	maps.Copy(sites, opts.Sites)
	routes, err := buildRoutes(sites)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		sites:       sites,
		routes:      routes,
		loadEagerly: opts.LoadEagerly,
		background:  opts.Background,
		callbacks:   opts.Callbacks,
		tracer:      tp.Tracer("callmock"),
		logger:      logger,
		observers:   opts.Observers,
	}
	e.resolver = newResolver(sites, opts.Providers, newBodyFactories(opts.BodyFactories, opts.DefaultBodyFactory), behavior, rnd, logger)

	if opts.LoadEagerly {
		if err := e.resolver.resolveAll(e.SiteNames()); err != nil {
			return nil, err
		}
	}

	if e.background == nil {
		e.pool = NewWorkerPool(1, logger)
		e.background = e.pool
	}
	if e.callbacks == nil {
		e.callbacks = SyncExecutor{}
	}
	logger.Debug().Int("sites", len(sites)).Bool("eager", opts.LoadEagerly).Msg("engine ready")
	return e, nil
}

func buildRoutes(sites map[string]SiteConfig) (map[string]string, error) {
	routes := make(map[string]string)
	for _, name := range slices.Sorted(maps.Keys(sites)) {
		if sites[name].Route == "" {
			continue
		}
		key, err := normaliseRoute(sites[name].Route)
		if err != nil {
			return nil, configErr(name, err)
		}
		if other, dup := routes[key]; dup {
			return nil, configErr(name, fmt.Errorf("route %q already bound to site %q", key, other))
		}
		routes[key] = name
	}
	return routes, nil
}

// normaliseRoute turns "get /users" into "GET /users".
func normaliseRoute(route string) (string, error) {
	method, path, ok := strings.Cut(strings.TrimSpace(route), " ")
	path = strings.TrimSpace(path)
	if !ok || method == "" || !strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("route %q must be in \"METHOD /path\" format", route)
	}
	return strings.ToUpper(method) + " " + path, nil
}

// Close stops the engine-owned background pool. Executors supplied through Options
// are left to the caller.
func (e *Engine) Close() error {
	if e.pool != nil {
		return e.pool.Close()
	}
	return nil
}

// SiteNames returns the configured site names in sorted order.
func (e *Engine) SiteNames() []string {
	return slices.Sorted(maps.Keys(e.sites))
}

// Resolve returns the resolved configuration of a site. enabled is false for sites
// that are disabled or not configured.
func (e *Engine) Resolve(site string) (cfg *MethodConfig, enabled bool, err error) {
	return e.resolver.resolve(e.resolver.intern(site))
}

func (e *Engine) env(site string) *callEnv {
	return &callEnv{
		site:       site,
		background: e.background,
		callbacks:  e.callbacks,
		tracer:     e.tracer,
		logger:     e.logger,
		observers:  e.observers,
	}
}

// Site is a typed binding of one call site to an engine.
type Site[T any] struct {
	engine      *Engine
	name        string
	id          SiteID
	convert     Converter[T]
	passThrough func(args ...any) (Call[T], error)
	request     func(args ...any) *http.Request
	env         *callEnv
}

// SiteOption customises a Site.
type SiteOption[T any] func(*Site[T])

// WithPassThrough sets the real call used when the site is not mocked.
func WithPassThrough[T any](fn func(args ...any) (Call[T], error)) SiteOption[T] {
	return func(s *Site[T]) { s.passThrough = fn }
}

// WithRequest sets how the request reported by mocked calls is built from the arguments.
func WithRequest[T any](fn func(args ...any) *http.Request) SiteOption[T] {
	return func(s *Site[T]) { s.request = fn }
}

// Bind binds the named site with a body converter. When the engine loads eagerly the
// site is resolved immediately and configuration errors are returned here.
func Bind[T any](e *Engine, name string, convert Converter[T], opts ...SiteOption[T]) (*Site[T], error) {
	if convert == nil {
		return nil, fmt.Errorf("site %q: converter is required", name)
	}
	s := &Site[T]{
		engine:  e,
		name:    name,
		id:      e.resolver.intern(name),
		convert: convert,
		env:     e.env(name),
	}
	for _, opt := range opts {
		opt(s)
	}
	if e.loadEagerly {
		if _, _, err := e.resolver.resolve(s.id); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Name returns the site name.
func (s *Site[T]) Name() string { return s.name }

// Call returns a handle for one invocation with the given arguments. Disabled sites
// return their pass-through call; without one they fail with ErrNotMocked.
func (s *Site[T]) Call(args ...any) (Call[T], error) {
	cfg, enabled, err := s.engine.resolver.resolve(s.id)
	if err != nil {
		return nil, err
	}
	if !enabled {
		if s.passThrough == nil {
			return nil, fmt.Errorf("site %q: %w", s.name, ErrNotMocked)
		}
		return s.passThrough(args...)
	}

	req := s.newRequest(args)
	args = slices.Clone(args)
	newDelegate := func() Call[T] {
		return Defer(func() (Call[T], error) {
			params, err := cfg.Producer.Produce(args)
			if err != nil {
				return nil, err
			}
			resp, err := materialize(req, params, s.convert)
			if err != nil {
				return nil, err
			}
			return &fakeCall[T]{req: req, resp: resp}, nil
		})
	}
	return newMockCall(s.env, req, cfg.Behavior, newDelegate), nil
}

func (s *Site[T]) newRequest(args []any) *http.Request {
	if s.request != nil {
		if req := s.request(args...); req != nil {
			return req
		}
	}
	method, path := http.MethodGet, "/"+url.PathEscape(s.name)
	if route := s.engine.sites[s.name].Route; route != "" {
		if key, err := normaliseRoute(route); err == nil {
			method, path, _ = strings.Cut(key, " ")
		}
	}
	req, err := http.NewRequest(method, "http://localhost"+path, http.NoBody)
	if err != nil {
		return defaultRequest()
	}
	return req
}
