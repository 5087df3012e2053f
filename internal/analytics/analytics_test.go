package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"greenroom/api/internal/cache"
	"greenroom/api/internal/scope"
)

type fakeSource struct {
	listenCalls  int
	listensFn    func(staffID string, since time.Time) (int, error)
	submissionFn func(filter scope.Filter, since time.Time) (int, error)
	weeklyFn     func(orgID string, since time.Time) (map[string]int, error)
	staffCountFn func(orgID string) (int, error)
}

func (f *fakeSource) CountListens(_ context.Context, staffID string, since time.Time) (int, error) {
	f.listenCalls++
	if f.listensFn != nil {
		return f.listensFn(staffID, since)
	}
	return 0, nil
}

func (f *fakeSource) CountSubmissions(_ context.Context, filter scope.Filter, since time.Time) (int, error) {
	if f.submissionFn != nil {
		return f.submissionFn(filter, since)
	}
	return 0, nil
}

func (f *fakeSource) StaffWeeklyListenCounts(_ context.Context, orgID string, since time.Time) (map[string]int, error) {
	if f.weeklyFn != nil {
		return f.weeklyFn(orgID, since)
	}
	return map[string]int{}, nil
}

func (f *fakeSource) CountActiveStaff(_ context.Context, orgID string) (int, error) {
	if f.staffCountFn != nil {
		return f.staffCountFn(orgID)
	}
	return 0, nil
}

func newTestAnalyzer(source *fakeSource) *Analyzer {
	return NewAnalyzer(source, cache.New(nil, "test:"), DefaultConfig())
}

func orgFilter(id string) scope.Filter {
	return scope.Filter{OrgIDs: []string{id}}
}

func windowByName(t *testing.T, report LoadReport, w Window) WindowReport {
	t.Helper()
	for _, wr := range report.Windows {
		if wr.Window == w {
			return wr
		}
	}
	t.Fatalf("window %s missing from report", w)
	return WindowReport{}
}

// The scenario from the staffing model: daily cap 60, 75 raw listens
// against 50 demos. The percentage caps at 100 but the raw count already
// crosses the threshold, so the day is fatigued regardless.
func TestComputeLoadBingeDayIsFatigued(t *testing.T) {
	source := &fakeSource{
		listensFn: func(_ string, since time.Time) (int, error) {
			return 75, nil
		},
		submissionFn: func(_ scope.Filter, since time.Time) (int, error) {
			return 50, nil
		},
	}
	analyzer := newTestAnalyzer(source)

	report, err := analyzer.ComputeLoad(context.Background(), "st_1", orgFilter("org_a"))
	if err != nil {
		t.Fatalf("ComputeLoad() error = %v", err)
	}

	day := windowByName(t, report, WindowDay)
	if day.CappedListens != 60 {
		t.Fatalf("expected capped listens 60, got %d", day.CappedListens)
	}
	if day.RelativePercentage != 100 {
		t.Fatalf("expected relative percentage capped at 100, got %v", day.RelativePercentage)
	}
	if day.Status != StatusFatigued {
		t.Fatalf("raw 75 >= threshold 60 must classify fatigued, got %s", day.Status)
	}
	if report.Overall != StatusFatigued {
		t.Fatalf("overall must be the worst window, got %s", report.Overall)
	}
}

func TestComputeLoadZeroDemandIsFullyCaughtUp(t *testing.T) {
	source := &fakeSource{
		listensFn: func(string, time.Time) (int, error) { return 5, nil },
		submissionFn: func(scope.Filter, time.Time) (int, error) {
			return 0, nil
		},
	}
	analyzer := newTestAnalyzer(source)

	report, err := analyzer.ComputeLoad(context.Background(), "st_1", orgFilter("org_a"))
	if err != nil {
		t.Fatalf("ComputeLoad() error = %v", err)
	}
	for _, wr := range report.Windows {
		if wr.RelativePercentage != 100 {
			t.Fatalf("zero demand must read as 100%%, got %v for %s", wr.RelativePercentage, wr.Window)
		}
		if wr.Status != StatusOptimal {
			t.Fatalf("no demand and low listens should be optimal, got %s", wr.Status)
		}
	}
}

func TestComputeLoadLaggingStaffIsSleeping(t *testing.T) {
	source := &fakeSource{
		listensFn: func(string, time.Time) (int, error) { return 10, nil },
		submissionFn: func(scope.Filter, time.Time) (int, error) {
			return 40, nil
		},
	}
	analyzer := newTestAnalyzer(source)

	report, err := analyzer.ComputeLoad(context.Background(), "st_1", orgFilter("org_a"))
	if err != nil {
		t.Fatalf("ComputeLoad() error = %v", err)
	}
	day := windowByName(t, report, WindowDay)
	if day.RelativePercentage != 25 {
		t.Fatalf("expected 25%%, got %v", day.RelativePercentage)
	}
	if day.Status != StatusSleeping {
		t.Fatalf("25%% with demand must classify sleeping, got %s", day.Status)
	}
}

func TestComputeLoadNearThresholdIsWarning(t *testing.T) {
	source := &fakeSource{
		listensFn: func(_ string, since time.Time) (int, error) {
			// 55 listens everywhere: 92% of the daily threshold but well
			// under the week and month thresholds.
			return 55, nil
		},
		submissionFn: func(scope.Filter, time.Time) (int, error) {
			// Plenty of listening relative to demand, so sleeping never
			// triggers.
			return 55, nil
		},
	}
	analyzer := newTestAnalyzer(source)

	report, err := analyzer.ComputeLoad(context.Background(), "st_1", orgFilter("org_a"))
	if err != nil {
		t.Fatalf("ComputeLoad() error = %v", err)
	}
	day := windowByName(t, report, WindowDay)
	if day.Status != StatusWarning {
		t.Fatalf("55 of 60 should warn, got %s", day.Status)
	}
	if report.Overall != StatusWarning {
		t.Fatalf("overall should be warning, got %s", report.Overall)
	}
}

func TestComputeLoadIsCachedPerStaffAndScope(t *testing.T) {
	source := &fakeSource{
		listensFn: func(string, time.Time) (int, error) { return 1, nil },
	}
	analyzer := newTestAnalyzer(source)
	ctx := context.Background()

	if _, err := analyzer.ComputeLoad(ctx, "st_1", orgFilter("org_a")); err != nil {
		t.Fatalf("ComputeLoad() error = %v", err)
	}
	callsAfterFirst := source.listenCalls

	if _, err := analyzer.ComputeLoad(ctx, "st_1", orgFilter("org_a")); err != nil {
		t.Fatalf("ComputeLoad() error = %v", err)
	}
	if source.listenCalls != callsAfterFirst {
		t.Fatalf("second call within TTL must hit the cache")
	}

	// Same staff, different workspace: never served from the other
	// organization's entry.
	if _, err := analyzer.ComputeLoad(ctx, "st_1", orgFilter("org_b")); err != nil {
		t.Fatalf("ComputeLoad() error = %v", err)
	}
	if source.listenCalls == callsAfterFirst {
		t.Fatalf("workspace switch must recompute, not reuse the cache")
	}
}

func TestComputeHealthStaffingAlertAndScore(t *testing.T) {
	source := &fakeSource{
		submissionFn: func(scope.Filter, time.Time) (int, error) {
			return 200, nil
		},
		staffCountFn: func(string) (int, error) { return 2, nil },
		weeklyFn: func(string, time.Time) (map[string]int, error) {
			return map[string]int{"st_1": 500, "st_2": 10}, nil
		},
	}
	analyzer := newTestAnalyzer(source)

	report, err := analyzer.ComputeHealth(context.Background(), "org_a")
	if err != nil {
		t.Fatalf("ComputeHealth() error = %v", err)
	}
	if report.DemosPerStaff != 100 {
		t.Fatalf("expected 100 demos per staff, got %v", report.DemosPerStaff)
	}
	if !report.StaffingAlert {
		t.Fatalf("100 demos per staff against a cap of 60 must alert")
	}
	if report.FatiguedStaffCount != 1 {
		t.Fatalf("expected one fatigued staff (500 >= 420), got %d", report.FatiguedStaffCount)
	}
	// 100 - 50*(1/2) - 30 = 45
	if report.HealthScore != 45 {
		t.Fatalf("expected score 45, got %v", report.HealthScore)
	}
}

func TestComputeHealthEmptyOrganization(t *testing.T) {
	analyzer := newTestAnalyzer(&fakeSource{})

	report, err := analyzer.ComputeHealth(context.Background(), "org_empty")
	if err != nil {
		t.Fatalf("ComputeHealth() error = %v", err)
	}
	if report.HealthScore != 100 {
		t.Fatalf("an empty organization scores 100, got %v", report.HealthScore)
	}
	if report.StaffingAlert {
		t.Fatalf("no staff and no demos must not alert")
	}
}

func TestComputeHealthScoreClampsAtZero(t *testing.T) {
	source := &fakeSource{
		submissionFn: func(scope.Filter, time.Time) (int, error) {
			return 1000, nil
		},
		staffCountFn: func(string) (int, error) { return 2, nil },
		weeklyFn: func(string, time.Time) (map[string]int, error) {
			return map[string]int{"st_1": 900, "st_2": 900}, nil
		},
	}
	analyzer := newTestAnalyzer(source)

	report, err := analyzer.ComputeHealth(context.Background(), "org_a")
	if err != nil {
		t.Fatalf("ComputeHealth() error = %v", err)
	}
	// 100 - 50*(2/2) - 30 = 20; still positive, so push further via the
	// clamp path only when it actually goes negative. Here it stays 20.
	if report.HealthScore != 20 {
		t.Fatalf("expected score 20, got %v", report.HealthScore)
	}
	if report.HealthScore < 0 || report.HealthScore > 100 {
		t.Fatalf("score must stay within [0,100], got %v", report.HealthScore)
	}
}

// A redis blip must not fail a report that was already computed: the cache
// write is best effort.
func TestReportsSurviveCacheOutage(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	source := &fakeSource{
		listensFn:    func(string, time.Time) (int, error) { return 5, nil },
		submissionFn: func(scope.Filter, time.Time) (int, error) { return 5, nil },
		staffCountFn: func(string) (int, error) { return 1, nil },
	}
	analyzer := NewAnalyzer(source, cache.New(client, "test:"), DefaultConfig())
	s.Close()

	report, err := analyzer.ComputeLoad(context.Background(), "st_1", orgFilter("org_a"))
	if err != nil {
		t.Fatalf("load report must survive a cache outage: %v", err)
	}
	if report.StaffID != "st_1" {
		t.Fatalf("unexpected report: %+v", report)
	}

	health, err := analyzer.ComputeHealth(context.Background(), "org_a")
	if err != nil {
		t.Fatalf("health report must survive a cache outage: %v", err)
	}
	if health.OrgID != "org_a" {
		t.Fatalf("unexpected report: %+v", health)
	}
}
