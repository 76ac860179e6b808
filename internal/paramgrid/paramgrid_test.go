package paramgrid

import (
	"testing"

	"jupitor/internal/domain"
)

func TestAxesCountMatchesGenerate(t *testing.T) {
	axes := DefaultAxes()
	params := axes.Generate()
	if len(params) != axes.Count() {
		t.Fatalf("Generate() returned %d params, Count() said %d", len(params), axes.Count())
	}
	if axes.Count() < 10000 || axes.Count() > 20000 {
		t.Errorf("full grid size = %d, want roughly 10,000-20,000 per spec.md §4.A", axes.Count())
	}
}

func TestGenerateIsDeterministic(t *testing.T) {
	a := DefaultAxes().Generate()
	b := DefaultAxes().Generate()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("order differs at index %d: %+v vs %+v", i, a[i], b[i])
		}
	}
}

func TestQuickIsSmallAndDeterministic(t *testing.T) {
	q := Quick()
	if len(q) < 3 || len(q) > 6 {
		t.Errorf("Quick() returned %d combos, want a small hand-picked smoke set", len(q))
	}
	q2 := Quick()
	for i := range q {
		if q[i] != q2[i] {
			t.Fatalf("Quick() not deterministic at index %d", i)
		}
	}
}

func TestFromFilterPinsAxis(t *testing.T) {
	axes, err := FromFilter(Filter{ORMinutes: []int{15}})
	if err != nil {
		t.Fatalf("FromFilter: %v", err)
	}
	if len(axes.ORMinutes) != 1 || axes.ORMinutes[0] != 15 {
		t.Errorf("ORMinutes axis not pinned: %v", axes.ORMinutes)
	}
	// Unpinned axes fall back to defaults.
	if len(axes.StopLossType) != 3 {
		t.Errorf("StopLossType should default to all 3 values, got %d", len(axes.StopLossType))
	}
	for _, p := range axes.Generate() {
		if p.ORMinutes != 15 {
			t.Fatalf("generated param escaped the pinned axis: %+v", p)
		}
	}
}

func TestFromFilterRejectsUnknownEnum(t *testing.T) {
	_, err := FromFilter(Filter{StopLossType: []domain.StopLossType{"BOGUS"}})
	if err == nil {
		t.Fatal("expected a ConfigError for an unknown stop_loss_type value")
	}
	var cfgErr *domain.ConfigError
	if !asConfigError(err, &cfgErr) {
		t.Errorf("expected *domain.ConfigError, got %T: %v", err, err)
	}
}

func asConfigError(err error, target **domain.ConfigError) bool {
	ce, ok := err.(*domain.ConfigError)
	if ok {
		*target = ce
	}
	return ok
}

func TestGroupByORAndExit(t *testing.T) {
	params := Quick()
	groups := GroupByORAndExit(params)

	total := 0
	for _, g := range groups {
		total += len(g)
	}
	if total != len(params) {
		t.Fatalf("grouping dropped params: got %d total, want %d", total, len(params))
	}
	for key, g := range groups {
		for _, p := range g {
			if p.ORMinutes != key.ORMinutes || p.ExitTime != key.ExitTime {
				t.Fatalf("param %+v misplaced under group key %+v", p, key)
			}
		}
	}
}

func TestUniqueORMinutesSortedAndDeduped(t *testing.T) {
	params := []domain.StrategyParams{
		{ORMinutes: 30}, {ORMinutes: 5}, {ORMinutes: 30}, {ORMinutes: 15},
	}
	got := UniqueORMinutes(params)
	want := []int{5, 15, 30}
	if len(got) != len(want) {
		t.Fatalf("UniqueORMinutes() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("UniqueORMinutes() = %v, want %v", got, want)
		}
	}
}
