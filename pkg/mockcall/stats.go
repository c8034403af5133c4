// Per-site counters collected from completed calls
// Used by simulations to summarise what the engine served
package mockcall

import (
	"maps"
	"slices"
	"sync"
	"time"
)

// SiteStats holds counters for one site.
type SiteStats struct {
	Site       string        `json:"site"`
	Calls      int64         `json:"calls"`
	Errors     int64         `json:"errors"`
	Canceled   int64         `json:"canceled"`
	Codes      map[int]int64 `json:"codes"`
	TotalDelay time.Duration `json:"-"`
	MeanDelay  float64       `json:"mean_delay_ms"`
}

// StatsObserver aggregates CallInfo into per-site counters.
type StatsObserver struct {
	mu    sync.Mutex
	sites map[string]*SiteStats
}

// NewStatsObserver returns an empty StatsObserver.
func NewStatsObserver() *StatsObserver {
	return &StatsObserver{sites: make(map[string]*SiteStats)}
}

// Observe adds the call to its site's counters.
func (s *StatsObserver) Observe(info CallInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.sites[info.Site]
	if !ok {
		st = &SiteStats{Site: info.Site, Codes: make(map[int]int64)}
		s.sites[info.Site] = st
	}
	st.Calls++
	st.TotalDelay += info.Delay
	switch {
	case info.Canceled:
		st.Canceled++
	case info.IsError():
		st.Errors++
	}
	if info.Code != 0 {
		st.Codes[info.Code]++
	}
}

// Snapshot returns a copy of the counters sorted by site name.
func (s *StatsObserver) Snapshot() []SiteStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SiteStats, 0, len(s.sites))
	for _, name := range slices.Sorted(maps.Keys(s.sites)) {
		st := *s.sites[name]
		st.Codes = maps.Clone(st.Codes)
		if st.Calls > 0 {
			st.MeanDelay = float64(st.TotalDelay) / float64(st.Calls) / float64(time.Millisecond)
		}
		out = append(out, st)
	}
	return out
}
