package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Ant-Pavel/systech-aidd/internal/database"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
	"github.com/Ant-Pavel/systech-aidd/internal/logger"
)

type fakeStatsStore struct {
	current  database.Activity
	previous database.Activity
	daily    map[string]int64
	err      error
	calls    int

	gotFrom []time.Time
}

func (f *fakeStatsStore) Activity(_ context.Context, from, to time.Time) (database.Activity, error) {
	f.calls++
	f.gotFrom = append(f.gotFrom, from)
	if f.err != nil {
		return database.Activity{}, f.err
	}
	if to.IsZero() {
		return f.current, nil
	}
	return f.previous, nil
}

func (f *fakeStatsStore) DailyMessageCounts(_ context.Context, _ time.Time) (map[string]int64, error) {
	f.calls++
	return f.daily, f.err
}

var fixedNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

func TestDashboard(t *testing.T) {
	t.Parallel()

	store := &fakeStatsStore{
		current:  database.Activity{Messages: 30, Conversations: 4},
		previous: database.Activity{Messages: 20, Conversations: 4},
		daily:    map[string]int64{"2025-03-04": 10, "2025-03-10": 20},
	}
	c := NewCollector(store, logger.Discard(), WithNow(func() time.Time { return fixedNow }))

	got, err := c.Dashboard(context.Background(), "7d")
	if err != nil {
		t.Fatalf("Dashboard() error = %v", err)
	}

	want := Metrics{
		TotalMessages: MetricCard{Value: 30, ChangePercent: 50, Trend: TrendUp, Description: "Trending up this period"},
		ActiveConversations: MetricCard{
			Value: 4, ChangePercent: 0, Trend: TrendStable, Description: "Stable conversation count",
		},
		AvgConversationLength: MetricCard{Value: 7.5, ChangePercent: 50, Trend: TrendUp, Description: "Longer conversations"},
	}
	if got.Metrics != want {
		t.Errorf("Metrics = %+v, want %+v", got.Metrics, want)
	}

	if len(got.TimeSeries) != 8 {
		t.Fatalf("len(TimeSeries) = %d, want 8", len(got.TimeSeries))
	}
	if first := got.TimeSeries[0]; first.Date != "2025-03-03" || first.Value != 0 {
		t.Errorf("first point = %+v", first)
	}
	if p := got.TimeSeries[1]; p.Date != "2025-03-04" || p.Value != 10 {
		t.Errorf("second point = %+v", p)
	}
	if last := got.TimeSeries[7]; last.Date != "2025-03-10" || last.Value != 20 {
		t.Errorf("last point = %+v", last)
	}

	if len(store.gotFrom) != 2 {
		t.Fatalf("Activity called %d times", len(store.gotFrom))
	}
	if wantStart := fixedNow.AddDate(0, 0, -7); !store.gotFrom[0].Equal(wantStart) {
		t.Errorf("current period start = %v, want %v", store.gotFrom[0], wantStart)
	}
	if wantPrev := fixedNow.AddDate(0, 0, -14); !store.gotFrom[1].Equal(wantPrev) {
		t.Errorf("previous period start = %v, want %v", store.gotFrom[1], wantPrev)
	}
}

func TestDashboardPeriods(t *testing.T) {
	t.Parallel()

	tests := map[string]int{"7d": 8, "30d": 31, "3m": 91}
	for period, points := range tests {
		t.Run(period, func(t *testing.T) {
			t.Parallel()
			c := NewCollector(&fakeStatsStore{}, logger.Discard(), WithNow(func() time.Time { return fixedNow }))
			got, err := c.Dashboard(context.Background(), period)
			if err != nil {
				t.Fatalf("Dashboard() error = %v", err)
			}
			if len(got.TimeSeries) != points {
				t.Errorf("len(TimeSeries) = %d, want %d", len(got.TimeSeries), points)
			}
		})
	}
}

func TestDashboardRejectsInvalidPeriod(t *testing.T) {
	t.Parallel()

	store := &fakeStatsStore{}
	c := NewCollector(store, logger.Discard())
	for _, period := range []string{"", "1y", "7D", "90d"} {
		if _, err := c.Dashboard(context.Background(), period); apperrors.Code(err) != apperrors.CodeValidation {
			t.Errorf("Dashboard(%q) error = %v, want validation error", period, err)
		}
	}
	if store.calls != 0 {
		t.Errorf("store queried %d times for invalid periods", store.calls)
	}
}

func TestDashboardPropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	storeErr := apperrors.NewConnectivityError("down", nil)
	c := NewCollector(&fakeStatsStore{err: storeErr}, logger.Discard())
	if _, err := c.Dashboard(context.Background(), DefaultPeriod); !errors.Is(err, storeErr) {
		t.Errorf("Dashboard() error = %v, want store error", err)
	}
}

func TestNewCard(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		value, prev float64
		wantChange  float64
		wantTrend   string
	}{
		{name: "both zero", value: 0, prev: 0, wantChange: 0, wantTrend: TrendStable},
		{name: "growth from zero", value: 5, prev: 0, wantChange: 100, wantTrend: TrendUp},
		{name: "drop", value: 5, prev: 10, wantChange: -50, wantTrend: TrendDown},
		{name: "within threshold up", value: 102, prev: 100, wantChange: 2, wantTrend: TrendStable},
		{name: "within threshold down", value: 98, prev: 100, wantChange: -2, wantTrend: TrendStable},
		{name: "rounded", value: 1, prev: 3, wantChange: -66.7, wantTrend: TrendDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			card := newCard(tt.value, tt.prev, messagesText)
			if card.ChangePercent != tt.wantChange {
				t.Errorf("ChangePercent = %v, want %v", card.ChangePercent, tt.wantChange)
			}
			if card.Trend != tt.wantTrend {
				t.Errorf("Trend = %q, want %q", card.Trend, tt.wantTrend)
			}
			if card.Description != messagesText[tt.wantTrend] {
				t.Errorf("Description = %q", card.Description)
			}
		})
	}
}

func TestAvgLength(t *testing.T) {
	t.Parallel()

	if got := avgLength(database.Activity{Messages: 10, Conversations: 3}); got != 3.3 {
		t.Errorf("avgLength(10/3) = %v, want 3.3", got)
	}
	if got := avgLength(database.Activity{Messages: 10}); got != 0 {
		t.Errorf("avgLength with no conversations = %v, want 0", got)
	}
}

func TestValidPeriod(t *testing.T) {
	t.Parallel()

	for _, p := range []string{"7d", "30d", "3m"} {
		if !ValidPeriod(p) {
			t.Errorf("ValidPeriod(%q) = false", p)
		}
	}
	if ValidPeriod("1d") {
		t.Error("ValidPeriod(1d) = true")
	}
}
