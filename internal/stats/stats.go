// Package stats builds the dashboard view: three metric cards comparing the
// current period with the one before it, and a daily message series.
package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/Ant-Pavel/systech-aidd/internal/database"
	apperrors "github.com/Ant-Pavel/systech-aidd/internal/errors"
)

// DefaultPeriod is used when the caller does not pick one.
const DefaultPeriod = "7d"

var periodDays = map[string]int{
	"7d":  7,
	"30d": 30,
	"3m":  90,
}

// Trend directions.
const (
	TrendUp     = "up"
	TrendDown   = "down"
	TrendStable = "stable"
)

// trendThreshold is the change, in percent, below which a metric is stable.
const trendThreshold = 2

// MetricCard is one headline number with its change against the previous period.
type MetricCard struct {
	Value         float64 `json:"value"`
	ChangePercent float64 `json:"change_percent"`
	Trend         string  `json:"trend"`
	Description   string  `json:"description"`
}

// Metrics groups the dashboard cards.
type Metrics struct {
	TotalMessages         MetricCard `json:"total_messages"`
	ActiveConversations   MetricCard `json:"active_conversations"`
	AvgConversationLength MetricCard `json:"avg_conversation_length"`
}

// TimeSeriesPoint is the message count for one day.
type TimeSeriesPoint struct {
	Date  string `json:"date"`
	Value int64  `json:"value"`
}

// Dashboard is the response of the stats endpoint.
type Dashboard struct {
	Metrics    Metrics           `json:"metrics"`
	TimeSeries []TimeSeriesPoint `json:"time_series"`
}

type descriptions map[string]string

var (
	messagesText = descriptions{
		TrendUp:     "Trending up this period",
		TrendDown:   "Messages decreased",
		TrendStable: "Stable message volume",
	}
	conversationsText = descriptions{
		TrendUp:     "Strong user engagement",
		TrendDown:   "Fewer active conversations",
		TrendStable: "Stable conversation count",
	}
	lengthText = descriptions{
		TrendUp:     "Longer conversations",
		TrendDown:   "Shorter conversations",
		TrendStable: "Consistent conversation length",
	}
)

// Collector computes dashboards from the message store.
type Collector struct {
	store  database.StatsStore
	now    func() time.Time
	logger *slog.Logger
}

// Option customizes a Collector.
type Option func(*Collector)

// WithNow replaces the wall clock.
func WithNow(now func() time.Time) Option {
	return func(c *Collector) {
		c.now = now
	}
}

// NewCollector creates a Collector.
func NewCollector(store database.StatsStore, logger *slog.Logger, opts ...Option) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		store:  store,
		now:    time.Now,
		logger: logger.With("component", "stats_collector"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ValidPeriod reports whether period is one of 7d, 30d or 3m.
func ValidPeriod(period string) bool {
	_, ok := periodDays[period]
	return ok
}

// Dashboard returns the dashboard for period. Unknown periods are rejected
// with a ValidationError before the store is queried.
func (c *Collector) Dashboard(ctx context.Context, period string) (*Dashboard, error) {
	days, ok := periodDays[period]
	if !ok {
		return nil, apperrors.NewValidationError(fmt.Sprintf("invalid period %q: must be one of 7d, 30d, 3m", period), nil)
	}

	now := c.now().UTC()
	currentStart := now.AddDate(0, 0, -days)
	previousStart := currentStart.AddDate(0, 0, -days)

	current, err := c.store.Activity(ctx, currentStart, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to count current activity: %w", err)
	}
	previous, err := c.store.Activity(ctx, previousStart, currentStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count previous activity: %w", err)
	}
	counts, err := c.store.DailyMessageCounts(ctx, currentStart)
	if err != nil {
		return nil, fmt.Errorf("failed to count daily messages: %w", err)
	}

	dashboard := &Dashboard{
		Metrics: Metrics{
			TotalMessages: newCard(float64(current.Messages), float64(previous.Messages), messagesText),
			ActiveConversations: newCard(float64(current.Conversations), float64(previous.Conversations),
				conversationsText),
			AvgConversationLength: newCard(avgLength(current), avgLength(previous), lengthText),
		},
		TimeSeries: timeSeries(currentStart, now, counts),
	}

	c.logger.DebugContext(ctx, "Dashboard collected",
		"period", period,
		"messages", current.Messages,
		"conversations", current.Conversations,
		"points", len(dashboard.TimeSeries),
	)
	return dashboard, nil
}

func avgLength(a database.Activity) float64 {
	if a.Conversations == 0 {
		return 0
	}
	return round1(float64(a.Messages) / float64(a.Conversations))
}

func newCard(value, previous float64, text descriptions) MetricCard {
	var change float64
	switch {
	case previous > 0:
		change = round1((value - previous) / previous * 100)
	case value > 0:
		change = 100
	}

	trend := TrendStable
	switch {
	case change > trendThreshold:
		trend = TrendUp
	case change < -trendThreshold:
		trend = TrendDown
	}

	return MetricCard{
		Value:         value,
		ChangePercent: change,
		Trend:         trend,
		Description:   text[trend],
	}
}

// timeSeries lists every day from start through end, zero-filled.
func timeSeries(start, end time.Time, counts map[string]int64) []TimeSeriesPoint {
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var points []TimeSeriesPoint
	for !day.After(last) {
		key := day.Format(time.DateOnly)
		points = append(points, TimeSeriesPoint{Date: key, Value: counts[key]})
		day = day.AddDate(0, 0, 1)
	}
	return points
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
