package pairux

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/glog"
)

// Default time-to-live of each cache store.
const (
	MeetingTTL  = 300 * time.Second
	UpcomingTTL = 60 * time.Second
	MessageTTL  = 120 * time.Second
	PresenceTTL = 30 * time.Second
)

// ============================================================================
// Cache Entry
// ============================================================================

// CacheEntry is a value stamped with its insertion time and lifetime.
type CacheEntry[T any] struct {
	Data      T
	CreatedAt time.Time
	TTL       time.Duration
}

// NewCacheEntry stamps data with now.
func NewCacheEntry[T any](data T, now time.Time, ttl time.Duration) CacheEntry[T] {
	return CacheEntry[T]{Data: data, CreatedAt: now, TTL: ttl}
}

// IsExpired reports whether more than TTL has elapsed since CreatedAt.
func (e CacheEntry[T]) IsExpired(now time.Time) bool {
	return now.Sub(e.CreatedAt) > e.TTL
}

// RemainingTTL is the time left before expiry, or zero once expired.
func (e CacheEntry[T]) RemainingTTL(now time.Time) time.Duration {
	elapsed := now.Sub(e.CreatedAt)
	if elapsed > e.TTL {
		return 0
	}
	return e.TTL - elapsed
}

// ============================================================================
// Meeting Cache
// ============================================================================

// MeetingCache holds meetings by month, by id, and the upcoming snapshot.
// The upcoming snapshot has its own lock.
type MeetingCache struct {
	clock clock.Clock
	ttl   time.Duration

	mu      sync.RWMutex
	byMonth map[string]CacheEntry[[]Meeting]
	byID    map[string]CacheEntry[Meeting]

	upcomingMu sync.RWMutex
	upcoming   *CacheEntry[[]Meeting]
}

// NewMeetingCache creates an empty meeting cache.
func NewMeetingCache(clk clock.Clock) *MeetingCache {
	if clk == nil {
		clk = clock.New()
	}
	return &MeetingCache{
		clock:   clk,
		ttl:     MeetingTTL,
		byMonth: make(map[string]CacheEntry[[]Meeting]),
		byID:    make(map[string]CacheEntry[Meeting]),
	}
}

// WithTTL overrides the month and id lifetime for entries stored afterwards.
func (c *MeetingCache) WithTTL(ttl time.Duration) *MeetingCache {
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
	return c
}

// MonthKey formats the cache key of a calendar month, e.g. "2026-02".
func MonthKey(year, month int) string {
	return fmt.Sprintf("%d-%02d", year, month)
}

func (c *MeetingCache) GetMonth(year, month int) ([]Meeting, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byMonth[MonthKey(year, month)]
	if !ok || entry.IsExpired(c.clock.Now()) {
		return nil, false
	}
	return cloneSlice(entry.Data), true
}

func (c *MeetingCache) SetMonth(year, month int, meetings []Meeting) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byMonth[MonthKey(year, month)] = NewCacheEntry(cloneSlice(meetings), c.clock.Now(), c.ttl)
}

func (c *MeetingCache) InvalidateMonth(year, month int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byMonth, MonthKey(year, month))
}

func (c *MeetingCache) GetByID(id string) (Meeting, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byID[id]
	if !ok || entry.IsExpired(c.clock.Now()) {
		return Meeting{}, false
	}
	return entry.Data, true
}

func (c *MeetingCache) SetByID(m Meeting) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[m.ID] = NewCacheEntry(m, c.clock.Now(), c.ttl)
}

func (c *MeetingCache) GetUpcoming() ([]Meeting, bool) {
	c.upcomingMu.RLock()
	defer c.upcomingMu.RUnlock()
	if c.upcoming == nil || c.upcoming.IsExpired(c.clock.Now()) {
		return nil, false
	}
	return cloneSlice(c.upcoming.Data), true
}

func (c *MeetingCache) SetUpcoming(meetings []Meeting) {
	entry := NewCacheEntry(cloneSlice(meetings), c.clock.Now(), UpcomingTTL)
	c.upcomingMu.Lock()
	c.upcoming = &entry
	c.upcomingMu.Unlock()
}

// InvalidateMeeting drops one meeting and the upcoming snapshot, which may
// contain it.
func (c *MeetingCache) InvalidateMeeting(id string) {
	c.mu.Lock()
	delete(c.byID, id)
	c.mu.Unlock()

	c.upcomingMu.Lock()
	c.upcoming = nil
	c.upcomingMu.Unlock()
}

func (c *MeetingCache) InvalidateAll() {
	c.mu.Lock()
	c.byMonth = make(map[string]CacheEntry[[]Meeting])
	c.byID = make(map[string]CacheEntry[Meeting])
	c.mu.Unlock()

	c.upcomingMu.Lock()
	c.upcoming = nil
	c.upcomingMu.Unlock()
}

// Cleanup removes expired entries.
func (c *MeetingCache) Cleanup() {
	now := c.clock.Now()

	c.mu.Lock()
	for k, e := range c.byMonth {
		if e.IsExpired(now) {
			delete(c.byMonth, k)
		}
	}
	for k, e := range c.byID {
		if e.IsExpired(now) {
			delete(c.byID, k)
		}
	}
	c.mu.Unlock()

	c.upcomingMu.Lock()
	if c.upcoming != nil && c.upcoming.IsExpired(now) {
		c.upcoming = nil
	}
	c.upcomingMu.Unlock()
}

func (c *MeetingCache) Stats() CacheStats {
	var s CacheStats
	c.mu.RLock()
	s.MonthsCached = len(c.byMonth)
	s.MeetingsCached = len(c.byID)
	c.mu.RUnlock()

	c.upcomingMu.RLock()
	s.HasUpcoming = c.upcoming != nil
	c.upcomingMu.RUnlock()
	return s
}

// ============================================================================
// Message Cache
// ============================================================================

// MessageCache holds recent messages per conversation.
type MessageCache struct {
	clock clock.Clock
	ttl   time.Duration

	mu             sync.RWMutex
	byConversation map[string]CacheEntry[[]MessageRow]
	lastTimestamp  map[string]string
}

// NewMessageCache creates an empty message cache.
func NewMessageCache(clk clock.Clock) *MessageCache {
	if clk == nil {
		clk = clock.New()
	}
	return &MessageCache{
		clock:          clk,
		ttl:            MessageTTL,
		byConversation: make(map[string]CacheEntry[[]MessageRow]),
		lastTimestamp:  make(map[string]string),
	}
}

func (c *MessageCache) GetMessages(conversationID string) ([]MessageRow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byConversation[conversationID]
	if !ok || entry.IsExpired(c.clock.Now()) {
		return nil, false
	}
	return cloneSlice(entry.Data), true
}

func (c *MessageCache) SetMessages(conversationID string, messages []MessageRow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(conversationID, cloneSlice(messages))
}

func (c *MessageCache) setLocked(conversationID string, messages []MessageRow) {
	c.noteLastLocked(conversationID, messages)
	c.byConversation[conversationID] = NewCacheEntry(messages, c.clock.Now(), c.ttl)
}

func (c *MessageCache) noteLastLocked(conversationID string, messages []MessageRow) {
	if len(messages) == 0 {
		return
	}
	if ts := messages[len(messages)-1].CreatedAt; ts != nil {
		c.lastTimestamp[conversationID] = *ts
	}
}

// AppendMessages merges messages into a conversation, skipping ids already
// present and keeping the list ordered by creation time. An absent
// conversation is stored as if by SetMessages.
func (c *MessageCache) AppendMessages(conversationID string, messages []MessageRow) {
	if len(messages) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLocked(conversationID, messages, true)
}

// AppendIfCached merges messages only when the conversation is already
// cached, so a partial list is never presented as complete. It reports
// whether the cache was touched.
func (c *MessageCache) AppendIfCached(conversationID string, messages []MessageRow) bool {
	if len(messages) == 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(conversationID, messages, false)
}

func (c *MessageCache) appendLocked(conversationID string, messages []MessageRow, create bool) bool {
	entry, ok := c.byConversation[conversationID]
	if !ok {
		if !create {
			return false
		}
		c.setLocked(conversationID, cloneSlice(messages))
		return true
	}

	c.noteLastLocked(conversationID, messages)

	seen := make(map[string]struct{}, len(entry.Data))
	for _, m := range entry.Data {
		seen[m.ID] = struct{}{}
	}
	merged := cloneSlice(entry.Data)
	for _, m := range messages {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		merged = append(merged, m)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return lessCreatedAt(merged[i].CreatedAt, merged[j].CreatedAt)
	})

	entry.Data = merged
	c.byConversation[conversationID] = entry
	return true
}

// lessCreatedAt orders missing timestamps first.
func lessCreatedAt(a, b *string) bool {
	switch {
	case a == nil:
		return b != nil
	case b == nil:
		return false
	}
	return *a < *b
}

// LastTimestamp returns the created_at of the newest message seen for a
// conversation.
func (c *MessageCache) LastTimestamp(conversationID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ts, ok := c.lastTimestamp[conversationID]
	return ts, ok
}

func (c *MessageCache) InvalidateConversation(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byConversation, conversationID)
	delete(c.lastTimestamp, conversationID)
}

func (c *MessageCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byConversation = make(map[string]CacheEntry[[]MessageRow])
	c.lastTimestamp = make(map[string]string)
}

func (c *MessageCache) Cleanup() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.byConversation {
		if e.IsExpired(now) {
			delete(c.byConversation, k)
		}
	}
}

func (c *MessageCache) ConversationCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byConversation)
}

// ============================================================================
// Presence Cache
// ============================================================================

// PresenceCache holds per-user online status and the team roster snapshot.
type PresenceCache struct {
	clock clock.Clock
	ttl   time.Duration

	mu          sync.RWMutex
	byUser      map[string]CacheEntry[PresenceInfo]
	teamMembers *CacheEntry[[]PresenceInfo]
}

// NewPresenceCache creates an empty presence cache.
func NewPresenceCache(clk clock.Clock) *PresenceCache {
	if clk == nil {
		clk = clock.New()
	}
	return &PresenceCache{
		clock:  clk,
		ttl:    PresenceTTL,
		byUser: make(map[string]CacheEntry[PresenceInfo]),
	}
}

func (c *PresenceCache) GetUser(userID string) (PresenceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.byUser[userID]
	if !ok || entry.IsExpired(c.clock.Now()) {
		return PresenceInfo{}, false
	}
	return entry.Data, true
}

func (c *PresenceCache) SetUser(p PresenceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser[p.UserID] = NewCacheEntry(p, c.clock.Now(), c.ttl)
}

func (c *PresenceCache) GetTeamMembers() ([]PresenceInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.teamMembers == nil || c.teamMembers.IsExpired(c.clock.Now()) {
		return nil, false
	}
	return cloneSlice(c.teamMembers.Data), true
}

// SetTeamMembers stores the roster and seeds a per-user entry for each
// member.
func (c *PresenceCache) SetTeamMembers(members []PresenceInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()
	for _, m := range members {
		c.byUser[m.UserID] = NewCacheEntry(m, now, c.ttl)
	}
	entry := NewCacheEntry(cloneSlice(members), now, c.ttl)
	c.teamMembers = &entry
}

// UpdateFromRealtime flips the online flag of a user and refreshes the
// lifetime of its entry and of the roster. Other fields are kept. A user
// with no entry gets a minimal one.
func (c *PresenceCache) UpdateFromRealtime(userID string, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.clock.Now()

	entry, ok := c.byUser[userID]
	if !ok {
		entry = NewCacheEntry(PresenceInfo{UserID: userID}, now, c.ttl)
	}
	entry.Data.IsOnline = online
	entry.CreatedAt = now
	c.byUser[userID] = entry

	if c.teamMembers != nil {
		for i := range c.teamMembers.Data {
			if c.teamMembers.Data[i].UserID == userID {
				c.teamMembers.Data[i].IsOnline = online
			}
		}
		c.teamMembers.CreatedAt = now
	}
}

func (c *PresenceCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byUser = make(map[string]CacheEntry[PresenceInfo])
	c.teamMembers = nil
}

func (c *PresenceCache) Cleanup() {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.byUser {
		if e.IsExpired(now) {
			delete(c.byUser, k)
		}
	}
	if c.teamMembers != nil && c.teamMembers.IsExpired(now) {
		c.teamMembers = nil
	}
}

func (c *PresenceCache) UserCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byUser)
}

func (c *PresenceCache) HasTeamMembers() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.teamMembers != nil
}

// ============================================================================
// App Cache
// ============================================================================

// AppCache bundles the stores shared by every realtime connection of a
// process.
type AppCache struct {
	Meetings *MeetingCache
	Messages *MessageCache
	Presence *PresenceCache

	clock clock.Clock
}

// NewAppCache creates the shared cache. A nil clock uses wall time.
func NewAppCache(clk clock.Clock) *AppCache {
	if clk == nil {
		clk = clock.New()
	}
	return &AppCache{
		Meetings: NewMeetingCache(clk),
		Messages: NewMessageCache(clk),
		Presence: NewPresenceCache(clk),
		clock:    clk,
	}
}

func (a *AppCache) Stats() FullCacheStats {
	return FullCacheStats{
		Meetings:            a.Meetings.Stats(),
		ConversationsCached: a.Messages.ConversationCount(),
		UsersPresenceCached: a.Presence.UserCount(),
		HasTeamMembers:      a.Presence.HasTeamMembers(),
	}
}

// Cleanup sweeps expired entries from every store, one store at a time.
func (a *AppCache) Cleanup() {
	a.Meetings.Cleanup()
	a.Messages.Cleanup()
	a.Presence.Cleanup()
}

func (a *AppCache) InvalidateAll() {
	a.Meetings.InvalidateAll()
	a.Messages.InvalidateAll()
	a.Presence.InvalidateAll()
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (a *AppCache) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := a.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Cleanup()
			if glog.V(2) {
				s := a.Stats()
				glog.Infof("cache janitor: months=%d meetings=%d conversations=%d users=%d",
					s.Meetings.MonthsCached, s.Meetings.MeetingsCached, s.ConversationsCached, s.UsersPresenceCached)
			}
		}
	}
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}
