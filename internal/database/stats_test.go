package database

import (
	"context"
	"testing"
	"time"

	"github.com/Ant-Pavel/systech-aidd/internal/logger"
)

func TestStatsStore(t *testing.T) {
	t.Parallel()
	pool := newTestPool(t)
	ctx := context.Background()

	day1 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)
	day3 := day2.Add(24 * time.Hour)

	seed := []struct {
		at      time.Time
		user    int64
		chat    int64
		content string
	}{
		{at: day1, user: 1, chat: 1, content: "a"},
		{at: day1.Add(time.Minute), user: 1, chat: 1, content: "b"},
		{at: day2, user: 2, chat: 2, content: "c"},
		{at: day2.Add(time.Minute), user: -1, chat: -1, content: "d"},
		{at: day3, user: 3, chat: 3, content: "deleted later"},
	}
	for _, s := range seed {
		at := s.at
		store := NewStore(pool, logger.Discard(), WithClock(func() time.Time { return at }))
		if _, err := store.Append(ctx, s.user, s.chat, RoleUser, s.content, SourceTelegram); err != nil {
			t.Fatalf("Append(%q) error = %v", s.content, err)
		}
	}
	clearing := NewStore(pool, logger.Discard(), WithClock(func() time.Time { return day3.Add(time.Hour) }))
	if _, err := clearing.ClearHistory(ctx, 3, 3); err != nil {
		t.Fatalf("ClearHistory() error = %v", err)
	}

	stats := NewStatsStore(pool, logger.Discard())

	t.Run("open range", func(t *testing.T) {
		got, err := stats.Activity(ctx, day1.Add(-time.Hour), time.Time{})
		if err != nil {
			t.Fatalf("Activity() error = %v", err)
		}
		if got.Messages != 4 || got.Conversations != 3 {
			t.Errorf("Activity() = %+v, want 4 messages in 3 conversations", got)
		}
	})

	t.Run("bounded range", func(t *testing.T) {
		got, err := stats.Activity(ctx, day1.Add(-time.Hour), day2)
		if err != nil {
			t.Fatalf("Activity() error = %v", err)
		}
		if got.Messages != 2 || got.Conversations != 1 {
			t.Errorf("Activity() = %+v, want 2 messages in 1 conversation", got)
		}
	})

	t.Run("daily counts", func(t *testing.T) {
		got, err := stats.DailyMessageCounts(ctx, day1.Add(-time.Hour))
		if err != nil {
			t.Fatalf("DailyMessageCounts() error = %v", err)
		}
		want := map[string]int64{"2025-03-01": 2, "2025-03-02": 2}
		if len(got) != len(want) {
			t.Fatalf("DailyMessageCounts() = %v, want %v", got, want)
		}
		for day, n := range want {
			if got[day] != n {
				t.Errorf("DailyMessageCounts()[%s] = %d, want %d", day, got[day], n)
			}
		}
	})
}
