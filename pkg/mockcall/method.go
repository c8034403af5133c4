// Per-site method configuration and its lazily built, memoised resolution
// Each site is resolved at most once per engine; failures are remembered and replayed
package mockcall

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SiteConfig declares how one call site is mocked.
type SiteConfig struct {
	// Enabled routes the site through the mock engine. Disabled sites use their pass-through.
	Enabled bool

	// Route binds the site to "METHOD /path" for the HTTP transport. Optional.
	Route string

	// Responses is the static list walked by the selected strategy.
	Responses []*ResponseVariant

	// At most one of Sequential, Circular, and Random may be set. None means sequential.
	Sequential bool
	Circular   bool
	Random     bool

	// Provider names a registered ProviderFactory. Exclusive with Responses.
	Provider string

	// Params are the site's argument types, used to match the provider method.
	Params []reflect.Type

	// Behavior overrides the engine default when set.
	Behavior *BehaviorConfig
}

// BehaviorConfig is a site-level delay override.
type BehaviorConfig struct {
	Mean      time.Duration
	Deviation time.Duration
}

// Strategy returns the configured sequencing strategy.
func (c SiteConfig) Strategy() (Strategy, error) {
	var (
		n        int
		strategy = StrategySequential
	)
	if c.Sequential {
		n++
	}
	if c.Circular {
		n++
		strategy = StrategyCircular
	}
	if c.Random {
		n++
		strategy = StrategyRandom
	}
	if n > 1 {
		return 0, ErrConflictingStrategy
	}
	return strategy, nil
}

// MethodConfig is the immutable, resolved configuration of an enabled site.
type MethodConfig struct {
	Producer ParamsProducer
	Behavior Behavior
}

// SiteID is the interned identity of a site name within one engine.
type SiteID uint32

type resolution struct {
	config  *MethodConfig
	enabled bool
	err     error
}

// resolver builds MethodConfigs on first use and caches them, errors included.
type resolver struct {
	sites     map[string]SiteConfig
	providers map[string]ProviderFactory
	bodies    *bodyFactories
	behavior  Behavior
	rnd       RandomSource
	logger    zerolog.Logger

	idMu  sync.RWMutex
	ids   map[string]SiteID
	names []string

	mu       sync.RWMutex
	resolved map[SiteID]*resolution
}

func newResolver(sites map[string]SiteConfig, providers map[string]ProviderFactory, bodies *bodyFactories, behavior Behavior, rnd RandomSource, logger zerolog.Logger) *resolver {
	return &resolver{
		sites:     sites,
		providers: providers,
		bodies:    bodies,
		behavior:  behavior,
		rnd:       rnd,
		logger:    logger,
		ids:       make(map[string]SiteID),
		resolved:  make(map[SiteID]*resolution),
	}
}

// intern returns the stable id for name, allocating one on first sight.
func (r *resolver) intern(name string) SiteID {
	r.idMu.RLock()
	id, ok := r.ids[name]
	r.idMu.RUnlock()
	if ok {
		return id
	}

	r.idMu.Lock()
	defer r.idMu.Unlock()
	if id, ok := r.ids[name]; ok {
		return id
	}
	id = SiteID(len(r.names))
	r.ids[name] = id
	r.names = append(r.names, name)
	return id
}

func (r *resolver) name(id SiteID) string {
	r.idMu.RLock()
	defer r.idMu.RUnlock()
	if int(id) >= len(r.names) {
		return ""
	}
	return r.names[id]
}

// resolve returns the MethodConfig for id. enabled is false for disabled or unknown
// sites. A configuration error is returned on every call once it has occurred.
func (r *resolver) resolve(id SiteID) (cfg *MethodConfig, enabled bool, err error) {
	r.mu.RLock()
	res, ok := r.resolved[id]
	r.mu.RUnlock()
	if ok {
		return res.config, res.enabled, res.err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if res, ok := r.resolved[id]; ok {
		return res.config, res.enabled, res.err
	}

	name := r.name(id)
	res = r.build(name)
	r.resolved[id] = res
	if res.err != nil {
		r.logger.Error().Err(res.err).Str("site", name).Msg("site configuration rejected")
	} else {
		r.logger.Debug().Str("site", name).Bool("enabled", res.enabled).Msg("site resolved")
	}
	return res.config, res.enabled, res.err
}

func (r *resolver) build(name string) *resolution {
	site, ok := r.sites[name]
	if !ok || !site.Enabled {
		return &resolution{}
	}

	producer, err := r.producer(site)
	if err != nil {
		return &resolution{err: configErr(name, err)}
	}

	behavior := r.behavior
	if site.Behavior != nil {
		b, err := NewBehavior(site.Behavior.Mean, site.Behavior.Deviation, r.rnd)
		if err != nil {
			return &resolution{err: configErr(name, err)}
		}
		behavior = b
	}

	return &resolution{
		config:  &MethodConfig{Producer: producer, Behavior: behavior},
		enabled: true,
	}
}

func (r *resolver) producer(site SiteConfig) (ParamsProducer, error) {
	strategy, err := site.Strategy()
	if err != nil {
		return nil, err
	}

	switch {
	case len(site.Responses) > 0 && site.Provider != "":
		return nil, ErrResponsesAndProvider
	case site.Provider != "":
		factory, ok := r.providers[site.Provider]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrProviderNotFound, site.Provider)
		}
		return newProviderProducer(factory, site.Params, r.bodies)
	case len(site.Responses) > 0:
		return newStaticProducer(site.Responses, strategy, r.rnd, r.bodies)
	default:
		return newNoResponseProducer(), nil
	}
}

// resolveAll resolves every configured site and returns the first error in name order.
func (r *resolver) resolveAll(names []string) error {
	for _, name := range names {
		if _, _, err := r.resolve(r.intern(name)); err != nil {
			return err
		}
	}
	return nil
}
