package quota

import (
	"context"
	"errors"
	"testing"
)

type fakeUsage struct {
	limitFn func(orgID, class string) (int, error)
	countFn func(orgID, class string) (int, error)
}

func (f *fakeUsage) PlanLimit(_ context.Context, orgID, class string) (int, error) {
	if f.limitFn != nil {
		return f.limitFn(orgID, class)
	}
	return Unlimited, nil
}

func (f *fakeUsage) ResourceCount(_ context.Context, orgID, class string) (int, error) {
	if f.countFn != nil {
		return f.countFn(orgID, class)
	}
	return 0, nil
}

func TestAllowUnderLimit(t *testing.T) {
	l := NewLimiter(&fakeUsage{
		limitFn: func(string, string) (int, error) { return 100, nil },
		countFn: func(string, string) (int, error) { return 99, nil },
	})

	check, err := l.Allow(context.Background(), "org_a", ResourceTracks)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !check.Allowed {
		t.Fatalf("99 of 100 must allow one more")
	}
}

func TestDenyAtLimit(t *testing.T) {
	l := NewLimiter(&fakeUsage{
		limitFn: func(string, string) (int, error) { return 100, nil },
		countFn: func(string, string) (int, error) { return 100, nil },
	})

	check, err := l.Allow(context.Background(), "org_a", ResourceTracks)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if check.Allowed {
		t.Fatalf("at the ceiling the next create must be denied")
	}
	if check.Limit != 100 || check.Current != 100 {
		t.Fatalf("check must carry limit and current, got %+v", check)
	}
}

func TestUnlimitedPlanSkipsCounting(t *testing.T) {
	counted := false
	l := NewLimiter(&fakeUsage{
		limitFn: func(string, string) (int, error) { return Unlimited, nil },
		countFn: func(string, string) (int, error) {
			counted = true
			return 0, nil
		},
	})

	check, err := l.Allow(context.Background(), "org_a", ResourceVault)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !check.Allowed {
		t.Fatalf("unlimited plan must always allow")
	}
	if counted {
		t.Fatalf("no point counting rows when the plan is unlimited")
	}
}

func TestPersonalWorkspaceIsNeverLimited(t *testing.T) {
	l := NewLimiter(&fakeUsage{
		limitFn: func(string, string) (int, error) {
			t.Fatalf("personal workspaces must not consult plan limits")
			return 0, nil
		},
	})

	check, err := l.Allow(context.Background(), "", ResourceTracks)
	if err != nil {
		t.Fatalf("Allow failed: %v", err)
	}
	if !check.Allowed {
		t.Fatalf("personal scope must always allow")
	}
}

func TestStoreErrorSurfaces(t *testing.T) {
	l := NewLimiter(&fakeUsage{
		limitFn: func(string, string) (int, error) { return 0, errors.New("db down") },
	})

	if _, err := l.Allow(context.Background(), "org_a", ResourceStaff); err == nil {
		t.Fatalf("store errors must surface, not silently allow")
	}
}
