// YAML configuration types, loading, and validation for mocked call sites
// Parses per-site responses, strategies, behaviors, and provider bindings
package mockcall

import (
	"fmt"
	"maps"
	"net/http"
	"os"
	"reflect"
	"slices"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for an engine.
type Config struct {
	Defaults DefaultsConfig   `yaml:"defaults"`
	Sites    []SiteDefinition `yaml:"-" validate:"dive"`
}

// DefaultsConfig holds engine-wide defaults.
type DefaultsConfig struct {
	Behavior    string `yaml:"behavior,omitempty"`
	BodyFactory string `yaml:"body_factory,omitempty"`
}

// rawConfig mirrors Config but uses a map for sites to match the YAML structure.
type rawConfig struct {
	Defaults DefaultsConfig               `yaml:"defaults"`
	Sites    map[string]rawSiteDefinition `yaml:"sites"`
}

// rawSiteDefinition is the YAML representation of a site before normalisation.
type rawSiteDefinition struct {
	Enabled   *bool             `yaml:"enabled,omitempty"`
	Route     string            `yaml:"route,omitempty"`
	Strategy  string            `yaml:"strategy,omitempty"`
	Behavior  string            `yaml:"behavior,omitempty"`
	Provider  string            `yaml:"provider,omitempty"`
	Params    []string          `yaml:"params,omitempty"`
	Responses []ResponseVariant `yaml:"responses,omitempty"`
}

// SiteDefinition describes one site. Sites listed in YAML are enabled unless they
// set enabled: false.
type SiteDefinition struct {
	Name      string            `yaml:"name" validate:"required"`
	Enabled   bool              `yaml:"enabled"`
	Route     string            `yaml:"route,omitempty"`
	Strategy  string            `yaml:"strategy,omitempty" validate:"omitempty,oneof=sequential circular random"`
	Behavior  string            `yaml:"behavior,omitempty"`
	Provider  string            `yaml:"provider,omitempty"`
	Params    []string          `yaml:"params,omitempty"`
	Responses []ResponseVariant `yaml:"responses,omitempty" validate:"dive"`
}

// paramTypes maps the parameter type names usable in YAML to Go types.
var paramTypes = map[string]reflect.Type{
	"string":  reflect.TypeFor[string](),
	"int":     reflect.TypeFor[int](),
	"int64":   reflect.TypeFor[int64](),
	"float64": reflect.TypeFor[float64](),
	"bool":    reflect.TypeFor[bool](),
	"bytes":   reflect.TypeFor[[]byte](),
	"any":     reflect.TypeFor[any](),
	"request": reflect.TypeFor[*http.Request](),
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // user-supplied config path is expected
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration bytes.
func ParseConfig(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg := &Config{Defaults: raw.Defaults}

	// Convert map-based sites into ordered slice (sorted for determinism)
	for _, name := range slices.Sorted(maps.Keys(raw.Sites)) {
		rs := raw.Sites[name]
		enabled := true
		if rs.Enabled != nil {
			enabled = *rs.Enabled
		}
		cfg.Sites = append(cfg.Sites, SiteDefinition{
			Name:      name,
			Enabled:   enabled,
			Route:     rs.Route,
			Strategy:  rs.Strategy,
			Behavior:  rs.Behavior,
			Provider:  rs.Provider,
			Params:    rs.Params,
			Responses: rs.Responses,
		})
	}

	return cfg, nil
}

// ValidateConfig checks a configuration for structural correctness.
func ValidateConfig(cfg *Config) error {
	if len(cfg.Sites) == 0 {
		return fmt.Errorf("at least one site is required")
	}
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Defaults.Behavior != "" {
		if _, err := ParseBehavior(cfg.Defaults.Behavior, nil); err != nil {
			return fmt.Errorf("defaults: invalid behavior: %w", err)
		}
	}

	routes := make(map[string]string)
	for _, site := range cfg.Sites {
		if len(site.Responses) > 0 && site.Provider != "" {
			return configErr(site.Name, ErrResponsesAndProvider)
		}
		if _, err := ParseStrategy(site.Strategy); err != nil {
			return configErr(site.Name, err)
		}
		if site.Behavior != "" {
			if _, err := ParseBehavior(site.Behavior, nil); err != nil {
				return configErr(site.Name, fmt.Errorf("invalid behavior: %w", err))
			}
		}
		if _, err := resolveParamTypes(site.Params); err != nil {
			return configErr(site.Name, err)
		}
		if site.Route != "" {
			key, err := normaliseRoute(site.Route)
			if err != nil {
				return configErr(site.Name, err)
			}
			if other, dup := routes[key]; dup {
				return configErr(site.Name, fmt.Errorf("route %q already bound to site %q", key, other))
			}
			routes[key] = site.Name
		}
	}

	return nil
}

func resolveParamTypes(names []string) ([]reflect.Type, error) {
	types := make([]reflect.Type, 0, len(names))
	for _, name := range names {
		t, ok := paramTypes[name]
		if !ok {
			return nil, fmt.Errorf("%w %q", ErrUnknownParamType, name)
		}
		types = append(types, t)
	}
	return types, nil
}

// Options converts a validated configuration into engine options. factories are the
// body factories available to sites; defaults.body_factory must name one of them.
// Providers, executors, and observers are left for the caller to fill in.
func (cfg *Config) Options(factories map[string]BodyFactory, rnd RandomSource) (Options, error) {
	opts := Options{
		Sites:         make(map[string]SiteConfig, len(cfg.Sites)),
		BodyFactories: factories,
		Random:        rnd,
	}

	if cfg.Defaults.Behavior != "" {
		b, err := ParseBehavior(cfg.Defaults.Behavior, rnd)
		if err != nil {
			return Options{}, fmt.Errorf("defaults: invalid behavior: %w", err)
		}
		opts.DefaultBehavior = b
	}
	if name := cfg.Defaults.BodyFactory; name != "" {
		f, err := newBodyFactories(factories, nil).lookup(name)
		if err != nil {
			return Options{}, fmt.Errorf("defaults: %w", err)
		}
		opts.DefaultBodyFactory = f
	}

	for _, def := range cfg.Sites {
		site, err := def.siteConfig()
		if err != nil {
			return Options{}, configErr(def.Name, err)
		}
		opts.Sites[def.Name] = site
	}
	return opts, nil
}

func (def SiteDefinition) siteConfig() (SiteConfig, error) {
	strategy, err := ParseStrategy(def.Strategy)
	if err != nil {
		return SiteConfig{}, err
	}
	params, err := resolveParamTypes(def.Params)
	if err != nil {
		return SiteConfig{}, err
	}

	site := SiteConfig{
		Enabled:    def.Enabled,
		Route:      def.Route,
		Sequential: strategy == StrategySequential,
		Circular:   strategy == StrategyCircular,
		Random:     strategy == StrategyRandom,
		Provider:   def.Provider,
		Params:     params,
	}
	for i := range def.Responses {
		v := def.Responses[i]
		site.Responses = append(site.Responses, &v)
	}
	if def.Behavior != "" {
		mean, deviation, err := parseDelay(def.Behavior)
		if err != nil {
			return SiteConfig{}, err
		}
		site.Behavior = &BehaviorConfig{Mean: mean, Deviation: deviation}
	}
	return site, nil
}
