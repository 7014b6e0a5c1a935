package pairux

// ============================================================================
// Calendar Types
// ============================================================================

// Meeting is a scheduled calendar entry.
type Meeting struct {
	ID              string            `json:"id"`
	OrganizerID     string            `json:"organizer_id"`
	OrganizerName   string            `json:"organizer_name"`
	Title           string            `json:"title"`
	Description     *string           `json:"description,omitempty"`
	ScheduledAt     string            `json:"scheduled_at"`
	DurationMinutes int               `json:"duration_minutes"`
	Status          string            `json:"status"`
	SessionID       *string           `json:"session_id,omitempty"`
	RecurrenceRule  *string           `json:"recurrence_rule,omitempty"`
	GoogleEventID   *string           `json:"google_event_id,omitempty"`
	Attendees       []MeetingAttendee `json:"attendees"`
	CreatedAt       *string           `json:"created_at,omitempty"`
	UpdatedAt       *string           `json:"updated_at,omitempty"`
}

// MeetingAttendee is one invitee of a Meeting.
type MeetingAttendee struct {
	UserID         string  `json:"user_id"`
	DisplayName    string  `json:"display_name"`
	AvatarURL      *string `json:"avatar_url,omitempty"`
	ResponseStatus string  `json:"response_status"`
	RespondedAt    *string `json:"responded_at,omitempty"`
}

// ============================================================================
// Chat Types
// ============================================================================

// MessageRow is a persisted chat message as returned by the data API.
type MessageRow struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       *string `json:"sender_id,omitempty"`
	Content        string  `json:"content"`
	MessageType    string  `json:"message_type"`
	CreatedAt      *string `json:"created_at,omitempty"`
	UpdatedAt      *string `json:"updated_at,omitempty"`
}

// ChatMessage is a chat message as delivered to the UI and broadcast to
// conversation members.
type ChatMessage struct {
	ID             string  `json:"id"`
	ConversationID string  `json:"conversation_id"`
	SenderID       *string `json:"sender_id,omitempty"`
	SenderName     string  `json:"sender_name"`
	Content        string  `json:"content"`
	MessageType    string  `json:"message_type"`
	CreatedAt      *string `json:"created_at,omitempty"`
}

// Row converts the message to the cached row form.
func (m ChatMessage) Row() MessageRow {
	return MessageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		MessageType:    m.MessageType,
		CreatedAt:      m.CreatedAt,
	}
}

// PresenceInfo is the online status of one user.
type PresenceInfo struct {
	UserID   string  `json:"user_id"`
	IsOnline bool    `json:"is_online"`
	LastSeen *string `json:"last_seen,omitempty"`
	Status   *string `json:"status,omitempty"`
}

// ============================================================================
// Cache Statistics
// ============================================================================

// CacheStats summarizes the meeting cache.
type CacheStats struct {
	MonthsCached   int  `json:"months_cached"`
	MeetingsCached int  `json:"meetings_cached"`
	HasUpcoming    bool `json:"has_upcoming"`
}

// FullCacheStats summarizes every store of an AppCache.
type FullCacheStats struct {
	Meetings            CacheStats `json:"meetings"`
	ConversationsCached int        `json:"conversations_cached"`
	UsersPresenceCached int        `json:"users_presence_cached"`
	HasTeamMembers      bool       `json:"has_team_members"`
}
