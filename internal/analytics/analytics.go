// Package analytics derives staff fatigue and company-health reports from
// the listen log and submission volume. Reports are expensive relative to
// how often the UI wants them, so both are cached with short TTLs keyed per
// entity and per scope.
package analytics

import (
	"context"
	"fmt"
	"time"

	"greenroom/api/internal/cache"
	"greenroom/api/internal/logger"
	"greenroom/api/internal/scope"
)

type Window string

const (
	WindowDay   Window = "day"
	WindowWeek  Window = "week"
	WindowMonth Window = "month"
)

type Status string

const (
	StatusOptimal  Status = "optimal"
	StatusSleeping Status = "sleeping"
	StatusWarning  Status = "warning"
	StatusFatigued Status = "fatigued"
)

// severity orders statuses for the overall roll-up:
// fatigued > warning > sleeping > optimal.
var severity = map[Status]int{
	StatusOptimal:  0,
	StatusSleeping: 1,
	StatusWarning:  2,
	StatusFatigued: 3,
}

type Config struct {
	// DailyCap bounds how many listens in one day count toward the
	// relative metric; the week and month caps scale it by 7 and 30.
	DailyCap  int
	LoadTTL   time.Duration
	HealthTTL time.Duration
}

func DefaultConfig() Config {
	return Config{
		DailyCap:  60,
		LoadTTL:   30 * time.Second,
		HealthTTL: 60 * time.Second,
	}
}

type windowSpec struct {
	window   Window
	duration time.Duration
	capScale int
}

var windows = []windowSpec{
	{WindowDay, 24 * time.Hour, 1},
	{WindowWeek, 7 * 24 * time.Hour, 7},
	{WindowMonth, 30 * 24 * time.Hour, 30},
}

type WindowReport struct {
	Window             Window  `json:"window"`
	RawListens         int     `json:"rawListens"`
	CappedListens      int     `json:"cappedListens"`
	Demand             int     `json:"demand"`
	RelativePercentage float64 `json:"relativePercentage"`
	Status             Status  `json:"status"`
}

type LoadReport struct {
	StaffID    string         `json:"staffId"`
	Windows    []WindowReport `json:"windows"`
	Overall    Status         `json:"overall"`
	ComputedAt time.Time      `json:"computedAt"`
}

type HealthReport struct {
	OrgID              string    `json:"orgId"`
	DailyDemoVolume    int       `json:"dailyDemoVolume"`
	ActiveStaffCount   int       `json:"activeStaffCount"`
	DemosPerStaff      float64   `json:"demosPerStaff"`
	StaffingAlert      bool      `json:"staffingAlert"`
	FatiguedStaffCount int       `json:"fatiguedStaffCount"`
	HealthScore        float64   `json:"healthScore"`
	ComputedAt         time.Time `json:"computedAt"`
}

type activitySource interface {
	CountListens(ctx context.Context, staffID string, since time.Time) (int, error)
	CountSubmissions(ctx context.Context, filter scope.Filter, since time.Time) (int, error)
	StaffWeeklyListenCounts(ctx context.Context, orgID string, since time.Time) (map[string]int, error)
	CountActiveStaff(ctx context.Context, orgID string) (int, error)
}

type Analyzer struct {
	source activitySource
	cache  *cache.Cache
	cfg    Config
	now    func() time.Time
}

func NewAnalyzer(source activitySource, reportCache *cache.Cache, cfg Config) *Analyzer {
	if cfg.DailyCap <= 0 {
		cfg.DailyCap = DefaultConfig().DailyCap
	}
	if cfg.LoadTTL <= 0 {
		cfg.LoadTTL = DefaultConfig().LoadTTL
	}
	if cfg.HealthTTL <= 0 {
		cfg.HealthTTL = DefaultConfig().HealthTTL
	}
	return &Analyzer{source: source, cache: reportCache, cfg: cfg, now: time.Now}
}

// ComputeLoad builds the per-staff cognitive load report. The cache key
// includes the scope so a hit is never served after switching to a
// different organization.
func (a *Analyzer) ComputeLoad(ctx context.Context, staffID string, filter scope.Filter) (LoadReport, error) {
	key := "load:" + staffID + ":" + filter.Key()
	var cached LoadReport
	if hit, err := a.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	now := a.now()
	type measurement struct {
		spec      windowSpec
		raw       int
		demand    int
		threshold int
	}
	measurements := make([]measurement, 0, len(windows))
	anyDemand := false
	for _, spec := range windows {
		since := now.Add(-spec.duration)
		raw, err := a.source.CountListens(ctx, staffID, since)
		if err != nil {
			return LoadReport{}, fmt.Errorf("count listens (%s): %w", spec.window, err)
		}
		demand, err := a.source.CountSubmissions(ctx, filter, since)
		if err != nil {
			return LoadReport{}, fmt.Errorf("count submissions (%s): %w", spec.window, err)
		}
		if demand > 0 {
			anyDemand = true
		}
		measurements = append(measurements, measurement{
			spec:      spec,
			raw:       raw,
			demand:    demand,
			threshold: a.cfg.DailyCap * spec.capScale,
		})
	}

	report := LoadReport{StaffID: staffID, ComputedAt: now, Overall: StatusOptimal}
	for _, m := range measurements {
		capped := m.raw
		if capped > m.threshold {
			capped = m.threshold
		}
		relative := 100.0
		if m.demand > 0 {
			relative = float64(capped) / float64(m.demand) * 100
			if relative > 100 {
				relative = 100
			}
		}

		status := StatusOptimal
		switch {
		case m.raw >= m.threshold:
			status = StatusFatigued
		case relative < 80 && anyDemand:
			status = StatusSleeping
		case float64(m.raw) >= 0.9*float64(m.threshold):
			status = StatusWarning
		}

		report.Windows = append(report.Windows, WindowReport{
			Window:             m.spec.window,
			RawListens:         m.raw,
			CappedListens:      capped,
			Demand:             m.demand,
			RelativePercentage: relative,
			Status:             status,
		})
		if severity[status] > severity[report.Overall] {
			report.Overall = status
		}
	}

	// The report is already computed; a cache write failure only costs the
	// next caller a recompute.
	if err := a.cache.Set(ctx, key, report, a.cfg.LoadTTL); err != nil {
		logger.Warn("cache load report", logger.ErrorField(err))
	}
	return report, nil
}

// ComputeHealth builds the organization-wide staffing report.
func (a *Analyzer) ComputeHealth(ctx context.Context, orgID string) (HealthReport, error) {
	key := "health:" + orgID
	var cached HealthReport
	if hit, err := a.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached, nil
	}

	now := a.now()
	orgFilter := scope.Filter{OrgIDs: []string{orgID}}

	dailyDemos, err := a.source.CountSubmissions(ctx, orgFilter, now.Add(-24*time.Hour))
	if err != nil {
		return HealthReport{}, fmt.Errorf("count daily demos: %w", err)
	}
	staffCount, err := a.source.CountActiveStaff(ctx, orgID)
	if err != nil {
		return HealthReport{}, fmt.Errorf("count active staff: %w", err)
	}
	weekly, err := a.source.StaffWeeklyListenCounts(ctx, orgID, now.Add(-7*24*time.Hour))
	if err != nil {
		return HealthReport{}, fmt.Errorf("weekly listen counts: %w", err)
	}

	weeklyThreshold := a.cfg.DailyCap * 7
	fatigued := 0
	for _, count := range weekly {
		if count >= weeklyThreshold {
			fatigued++
		}
	}

	demosPerStaff := 0.0
	if staffCount > 0 {
		demosPerStaff = float64(dailyDemos) / float64(staffCount)
	}
	staffingAlert := demosPerStaff > float64(a.cfg.DailyCap)

	score := 100.0
	if staffCount > 0 {
		score -= 50 * float64(fatigued) / float64(staffCount)
	}
	if staffingAlert {
		score -= 30
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	report := HealthReport{
		OrgID:              orgID,
		DailyDemoVolume:    dailyDemos,
		ActiveStaffCount:   staffCount,
		DemosPerStaff:      demosPerStaff,
		StaffingAlert:      staffingAlert,
		FatiguedStaffCount: fatigued,
		HealthScore:        score,
		ComputedAt:         now,
	}

	if err := a.cache.Set(ctx, key, report, a.cfg.HealthTTL); err != nil {
		logger.Warn("cache health report", logger.ErrorField(err))
	}
	return report, nil
}
