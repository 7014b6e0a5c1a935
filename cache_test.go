package pairux

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-playground/assert/v2"
)

func strPtr(s string) *string { return &s }

// ============================================================================
// Cache Entry
// ============================================================================

func TestCacheEntryExpiry(t *testing.T) {
	start := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	e := NewCacheEntry("x", start, 30*time.Second)

	assert.Equal(t, e.IsExpired(start.Add(30*time.Second-time.Millisecond)), false)
	assert.Equal(t, e.IsExpired(start.Add(30*time.Second)), false)
	assert.Equal(t, e.IsExpired(start.Add(30*time.Second+time.Millisecond)), true)

	assert.Equal(t, e.RemainingTTL(start.Add(10*time.Second)), 20*time.Second)
	assert.Equal(t, e.RemainingTTL(start.Add(time.Minute)), time.Duration(0))
}

// ============================================================================
// Meeting Cache
// ============================================================================

func TestMeetingCache(t *testing.T) {
	t.Run("month expires after ttl", func(t *testing.T) {
		mock := clock.NewMock()
		c := NewMeetingCache(mock)
		c.SetMonth(2026, 2, []Meeting{{ID: "m1", Title: "standup"}})

		got, ok := c.GetMonth(2026, 2)
		assert.Equal(t, ok, true)
		assert.Equal(t, got[0].Title, "standup")

		mock.Add(300*time.Second - time.Millisecond)
		_, ok = c.GetMonth(2026, 2)
		assert.Equal(t, ok, true)

		mock.Add(2 * time.Millisecond)
		_, ok = c.GetMonth(2026, 2)
		assert.Equal(t, ok, false)
	})

	t.Run("invalidate month removes only that month", func(t *testing.T) {
		c := NewMeetingCache(clock.NewMock())
		c.SetMonth(2026, 1, []Meeting{{ID: "a"}})
		c.SetMonth(2026, 2, []Meeting{{ID: "b"}})

		c.InvalidateMonth(2026, 1)

		_, ok := c.GetMonth(2026, 1)
		assert.Equal(t, ok, false)
		_, ok = c.GetMonth(2026, 2)
		assert.Equal(t, ok, true)
	})

	t.Run("invalidate meeting clears upcoming", func(t *testing.T) {
		c := NewMeetingCache(clock.NewMock())
		c.SetByID(Meeting{ID: "m1"})
		c.SetByID(Meeting{ID: "m2"})
		c.SetUpcoming([]Meeting{{ID: "m1"}})

		c.InvalidateMeeting("m1")

		_, ok := c.GetByID("m1")
		assert.Equal(t, ok, false)
		_, ok = c.GetByID("m2")
		assert.Equal(t, ok, true)
		_, ok = c.GetUpcoming()
		assert.Equal(t, ok, false)
	})

	t.Run("upcoming has a shorter ttl", func(t *testing.T) {
		mock := clock.NewMock()
		c := NewMeetingCache(mock)
		c.SetUpcoming([]Meeting{{ID: "m1"}})
		c.SetByID(Meeting{ID: "m1"})

		mock.Add(61 * time.Second)
		_, ok := c.GetUpcoming()
		assert.Equal(t, ok, false)
		_, ok = c.GetByID("m1")
		assert.Equal(t, ok, true)
	})

	t.Run("getters return copies", func(t *testing.T) {
		c := NewMeetingCache(clock.NewMock())
		c.SetMonth(2026, 3, []Meeting{{ID: "m1", Title: "a"}})
		got, _ := c.GetMonth(2026, 3)
		got[0].Title = "changed"

		again, _ := c.GetMonth(2026, 3)
		assert.Equal(t, again[0].Title, "a")
	})

	t.Run("with ttl and cleanup", func(t *testing.T) {
		mock := clock.NewMock()
		c := NewMeetingCache(mock).WithTTL(10 * time.Second)
		c.SetMonth(2026, 4, nil)
		c.SetByID(Meeting{ID: "m1"})
		c.SetUpcoming(nil)
		assert.Equal(t, c.Stats(), CacheStats{MonthsCached: 1, MeetingsCached: 1, HasUpcoming: true})

		mock.Add(11 * time.Second)
		c.Cleanup()
		assert.Equal(t, c.Stats(), CacheStats{MonthsCached: 0, MeetingsCached: 0, HasUpcoming: true})

		mock.Add(time.Minute)
		c.Cleanup()
		assert.Equal(t, c.Stats().HasUpcoming, false)
	})

	assert.Equal(t, MonthKey(2026, 2), "2026-02")
}

// ============================================================================
// Message Cache
// ============================================================================

func TestMessageCache(t *testing.T) {
	row := func(id, ts string) MessageRow {
		return MessageRow{ID: id, ConversationID: "c1", Content: id, MessageType: "text", CreatedAt: strPtr(ts)}
	}

	t.Run("append dedupes and sorts", func(t *testing.T) {
		c := NewMessageCache(clock.NewMock())
		c.SetMessages("c1", []MessageRow{row("a", "2026-01-01T00:00:01Z"), row("c", "2026-01-01T00:00:03Z")})
		c.AppendMessages("c1", []MessageRow{row("b", "2026-01-01T00:00:02Z"), row("a", "2026-01-01T00:00:01Z")})

		got, ok := c.GetMessages("c1")
		assert.Equal(t, ok, true)
		ids := make([]string, len(got))
		for i, m := range got {
			ids[i] = m.ID
		}
		assert.Equal(t, ids, []string{"a", "b", "c"})

		ts, _ := c.LastTimestamp("c1")
		assert.Equal(t, ts, "2026-01-01T00:00:01Z")
	})

	t.Run("append to absent conversation sets it", func(t *testing.T) {
		c := NewMessageCache(clock.NewMock())
		c.AppendMessages("c2", []MessageRow{row("x", "2026-01-01T00:00:00Z")})
		got, ok := c.GetMessages("c2")
		assert.Equal(t, ok, true)
		assert.Equal(t, len(got), 1)
	})

	t.Run("append if cached skips absent conversation", func(t *testing.T) {
		c := NewMessageCache(clock.NewMock())
		assert.Equal(t, c.AppendIfCached("c3", []MessageRow{row("x", "t")}), false)
		_, ok := c.GetMessages("c3")
		assert.Equal(t, ok, false)

		c.SetMessages("c3", nil)
		assert.Equal(t, c.AppendIfCached("c3", []MessageRow{row("x", "t")}), true)
		got, _ := c.GetMessages("c3")
		assert.Equal(t, len(got), 1)
	})

	t.Run("expiry and invalidation", func(t *testing.T) {
		mock := clock.NewMock()
		c := NewMessageCache(mock)
		c.SetMessages("c1", []MessageRow{row("a", "t1")})
		c.SetMessages("c2", []MessageRow{row("b", "t2")})

		c.InvalidateConversation("c1")
		_, ok := c.GetMessages("c1")
		assert.Equal(t, ok, false)
		_, ok = c.LastTimestamp("c1")
		assert.Equal(t, ok, false)

		mock.Add(121 * time.Second)
		_, ok = c.GetMessages("c2")
		assert.Equal(t, ok, false)
		assert.Equal(t, c.ConversationCount(), 1)
		c.Cleanup()
		assert.Equal(t, c.ConversationCount(), 0)
	})
}

// ============================================================================
// Presence Cache
// ============================================================================

func TestPresenceCache(t *testing.T) {
	t.Run("realtime update refreshes ttl and keeps fields", func(t *testing.T) {
		mock := clock.NewMock()
		c := NewPresenceCache(mock)
		c.SetUser(PresenceInfo{UserID: "u1", IsOnline: false, Status: strPtr("busy"), LastSeen: strPtr("yesterday")})

		mock.Add(20 * time.Second)
		c.UpdateFromRealtime("u1", true)

		mock.Add(20 * time.Second)
		got, ok := c.GetUser("u1")
		assert.Equal(t, ok, true)
		assert.Equal(t, got.IsOnline, true)
		assert.Equal(t, *got.Status, "busy")
		assert.Equal(t, *got.LastSeen, "yesterday")

		mock.Add(11 * time.Second)
		_, ok = c.GetUser("u1")
		assert.Equal(t, ok, false)
	})

	t.Run("realtime update inserts absent user", func(t *testing.T) {
		c := NewPresenceCache(clock.NewMock())
		c.UpdateFromRealtime("u7", true)
		got, ok := c.GetUser("u7")
		assert.Equal(t, ok, true)
		assert.Equal(t, got.IsOnline, true)
	})

	t.Run("team members", func(t *testing.T) {
		mock := clock.NewMock()
		c := NewPresenceCache(mock)
		c.SetTeamMembers([]PresenceInfo{{UserID: "u1"}, {UserID: "u2"}})
		assert.Equal(t, c.UserCount(), 2)
		assert.Equal(t, c.HasTeamMembers(), true)

		mock.Add(25 * time.Second)
		c.UpdateFromRealtime("u2", true)
		mock.Add(25 * time.Second)

		members, ok := c.GetTeamMembers()
		assert.Equal(t, ok, true)
		assert.Equal(t, members[1].IsOnline, true)

		_, ok = c.GetUser("u1")
		assert.Equal(t, ok, false)

		c.Cleanup()
		assert.Equal(t, c.UserCount(), 1)
	})
}

// ============================================================================
// App Cache
// ============================================================================

func TestAppCache(t *testing.T) {
	t.Run("invalidate all empties every store", func(t *testing.T) {
		a := NewAppCache(clock.NewMock())
		a.Meetings.SetMonth(2026, 1, nil)
		a.Meetings.SetByID(Meeting{ID: "m1"})
		a.Meetings.SetUpcoming(nil)
		a.Messages.SetMessages("c1", nil)
		a.Presence.SetTeamMembers([]PresenceInfo{{UserID: "u1"}})

		assert.Equal(t, a.Stats(), FullCacheStats{
			Meetings:            CacheStats{MonthsCached: 1, MeetingsCached: 1, HasUpcoming: true},
			ConversationsCached: 1,
			UsersPresenceCached: 1,
			HasTeamMembers:      true,
		})

		a.InvalidateAll()
		assert.Equal(t, a.Stats(), FullCacheStats{})
	})

	t.Run("janitor sweeps expired entries", func(t *testing.T) {
		mock := clock.NewMock()
		a := NewAppCache(mock)
		a.Presence.SetUser(PresenceInfo{UserID: "u1"})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			a.RunJanitor(ctx, time.Minute)
			close(done)
		}()

		// Let the janitor register its ticker before advancing.
		waitFor(t, func() bool {
			mock.Add(time.Minute)
			return a.Presence.UserCount() == 0
		})

		cancel()
		<-done
	})
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
