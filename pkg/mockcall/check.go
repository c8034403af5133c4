// Static and sampled analysis of a site configuration
// Computes worst-case delay, steady-state error share, and body resolution before calls are mocked
package mockcall

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// CheckResult holds the outcome of a single check.
type CheckResult struct {
	Name       string
	Pass       bool
	Unit       string
	Limit      float64
	Actual     float64
	Sampled    *float64
	SamplesRun int
	Ref        string
}

// CheckOptions configures the thresholds and sampling for Check.
type CheckOptions struct {
	MaxDelay        time.Duration
	MaxErrorPercent float64
	Samples         int
	Seed            uint64
}

// SampleResults holds measurements taken by dispatching mocked calls.
type SampleResults struct {
	MaxDelay        time.Duration
	MaxErrorPercent float64
	CallsRun        int
}

// siteBehavior returns the mean and deviation a site is configured with.
func siteBehavior(cfg *Config, def SiteDefinition) (time.Duration, time.Duration, error) {
	switch {
	case def.Behavior != "":
		return parseDelay(def.Behavior)
	case cfg.Defaults.Behavior != "":
		return parseDelay(cfg.Defaults.Behavior)
	default:
		return DefaultMean, DefaultDeviation, nil
	}
}

// MaxDelay returns the largest mean+deviation of any enabled site and that site's name.
func MaxDelay(cfg *Config) (time.Duration, string, error) {
	var (
		worst time.Duration
		ref   string
	)
	for _, def := range cfg.Sites {
		if !def.Enabled {
			continue
		}
		mean, dev, err := siteBehavior(cfg, def)
		if err != nil {
			return 0, "", configErr(def.Name, err)
		}
		if mean+dev > worst || ref == "" {
			worst, ref = mean+dev, def.Name
		}
	}
	return worst, ref, nil
}

// ErrorShare returns the highest steady-state percentage of non-2xx responses across
// enabled static sites. Sequential sites settle on their last response.
// Provider sites are skipped since their replies are only known at runtime.
func ErrorShare(cfg *Config) (float64, string) {
	var (
		worst float64
		ref   string
	)
	for _, def := range cfg.Sites {
		if !def.Enabled || len(def.Responses) == 0 {
			continue
		}
		var share float64
		if def.Strategy == "" || def.Strategy == StrategySequential.String() {
			if !isSuccessful(variantCode(def.Responses[len(def.Responses)-1])) {
				share = 100
			}
		} else {
			failing := 0
			for _, v := range def.Responses {
				if !isSuccessful(variantCode(v)) {
					failing++
				}
			}
			share = 100 * float64(failing) / float64(len(def.Responses))
		}
		if share > worst || ref == "" {
			worst, ref = share, def.Name
		}
	}
	return worst, ref
}

func variantCode(v ResponseVariant) int {
	if v.Code == 0 {
		return DefaultCode
	}
	return v.Code
}

// UnresolvedBodies opens every configured response body once and returns how many
// failed along with the first failure.
func UnresolvedBodies(cfg *Config, factories map[string]BodyFactory) (int, string, error) {
	opts, err := cfg.Options(factories, nil)
	if err != nil {
		return 0, "", err
	}
	bodies := newBodyFactories(factories, opts.DefaultBodyFactory)

	failed, first := 0, ""
	for _, def := range cfg.Sites {
		if !def.Enabled {
			continue
		}
		for i, v := range def.Responses {
			if err := openOnce(bodies, v); err != nil {
				failed++
				if first == "" {
					first = fmt.Sprintf("%s[%d]: %v", def.Name, i, err)
				}
			}
		}
	}
	return failed, first, nil
}

func openOnce(bodies *bodyFactories, v ResponseVariant) error {
	f, err := bodies.lookup(v.BodyFactory)
	if err != nil {
		return err
	}
	rc, err := f.Create(v.Body)
	if err != nil {
		return err
	}
	return rc.Close()
}

// SampleSites dispatches n calls to every enabled static site through an engine
// with delays disabled, and draws n delays from every enabled site's behavior.
// A zero seed samples nondeterministically.
func SampleSites(cfg *Config, factories map[string]BodyFactory, n int, seed uint64) (SampleResults, error) {
	var results SampleResults
	rnd := DefaultRandom()
	if seed != 0 {
		rnd = NewRandomSource(seed)
	}

	for _, def := range cfg.Sites {
		if !def.Enabled {
			continue
		}
		mean, dev, err := siteBehavior(cfg, def)
		if err != nil {
			return results, configErr(def.Name, err)
		}
		b, err := NewBehavior(mean, dev, rnd)
		if err != nil {
			return results, configErr(def.Name, err)
		}
		for range n {
			results.MaxDelay = max(results.MaxDelay, b.Delay())
		}
	}

	opts, err := cfg.Options(factories, rnd)
	if err != nil {
		return results, err
	}
	static := make(map[string]SiteConfig, len(opts.Sites))
	for name, site := range opts.Sites {
		if site.Provider != "" {
			continue
		}
		site.Behavior = nil
		static[name] = site
	}
	stats := NewStatsObserver()
	opts.Sites = static
	opts.DefaultBehavior = NoDelay
	opts.Background = SyncExecutor{}
	opts.Observers = []CallObserver{stats}

	engine, err := New(opts)
	if err != nil {
		return results, err
	}
	defer func() { _ = engine.Close() }()

	discard := func(*http.Response) (struct{}, error) { return struct{}{}, nil }
	for _, name := range engine.SiteNames() {
		if !static[name].Enabled {
			continue
		}
		site, err := Bind(engine, name, discard)
		if err != nil {
			return results, err
		}
		for range n {
			call, err := site.Call()
			if err != nil {
				return results, err
			}
			resp, _ := call.Execute(context.Background())
			if resp != nil && resp.ErrorBody != nil {
				_ = resp.ErrorBody.Close()
			}
			results.CallsRun++
		}
	}

	for _, st := range stats.Snapshot() {
		if st.Calls == 0 {
			continue
		}
		share := 100 * float64(st.Errors) / float64(st.Calls)
		results.MaxErrorPercent = max(results.MaxErrorPercent, share)
	}
	return results, nil
}

func floatPtr(v float64) *float64 { return &v }

func millis(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }

// Check runs static analysis and sampled dispatch, returning one result per check.
func Check(cfg *Config, factories map[string]BodyFactory, opts CheckOptions) ([]CheckResult, error) {
	worstDelay, delayRef, err := MaxDelay(cfg)
	if err != nil {
		return nil, err
	}
	worstShare, shareRef := ErrorShare(cfg)
	unresolved, bodyRef, err := UnresolvedBodies(cfg, factories)
	if err != nil {
		return nil, err
	}

	var sampled SampleResults
	if opts.Samples > 0 {
		sampled, err = SampleSites(cfg, factories, opts.Samples, opts.Seed)
		if err != nil {
			return nil, err
		}
	}

	results := make([]CheckResult, 0, 3)

	delayResult := CheckResult{
		Name:       "max-delay",
		Pass:       worstDelay <= opts.MaxDelay,
		Unit:       "ms",
		Limit:      millis(opts.MaxDelay),
		Actual:     millis(worstDelay),
		SamplesRun: opts.Samples,
		Ref:        delayRef,
	}
	if opts.Samples > 0 {
		delayResult.Sampled = floatPtr(millis(sampled.MaxDelay))
	}
	results = append(results, delayResult)

	shareResult := CheckResult{
		Name:       "error-share",
		Pass:       worstShare <= opts.MaxErrorPercent,
		Unit:       "%",
		Limit:      opts.MaxErrorPercent,
		Actual:     worstShare,
		SamplesRun: sampled.CallsRun,
		Ref:        shareRef,
	}
	if opts.Samples > 0 {
		shareResult.Sampled = floatPtr(sampled.MaxErrorPercent)
	}
	results = append(results, shareResult)

	results = append(results, CheckResult{
		Name:   "bodies",
		Pass:   unresolved == 0,
		Actual: float64(unresolved),
		Ref:    bodyRef,
	})

	return results, nil
}
