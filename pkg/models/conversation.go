package models

// Participant is one side of a two-party conversation.
type Participant struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

// LastMessage is the denormalized summary of the newest message.
type LastMessage struct {
	MessageID  string `json:"message_id"`
	Text       string `json:"text"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	// HasAttachment lets list views render "sent a file" for empty text.
	HasAttachment bool  `json:"has_attachment,omitempty"`
	Timestamp     int64 `json:"ts"`
}

type Conversation struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Participants map[string]Participant `json:"participants"`
	CreatedTS    int64                  `json:"created_ts"`
	// UpdatedTS moves with every appended message.
	UpdatedTS   int64        `json:"updated_ts"`
	LastSeq     uint64       `json:"last_seq"`
	LastMessage *LastMessage `json:"last_message,omitempty"`
}

// HasParticipant reports whether userID is one of the two participants.
func (c *Conversation) HasParticipant(userID string) bool {
	_, ok := c.Participants[userID]
	return ok
}

// Counterpart returns the id of the other participant.
func (c *Conversation) Counterpart(userID string) string {
	for id := range c.Participants {
		if id != userID {
			return id
		}
	}
	return ""
}

// Summary is one row of a participant's conversation list.
type Summary struct {
	Conversation Conversation `json:"conversation"`
	LastMessage  *LastMessage `json:"last_message,omitempty"`
	UnreadCount  int          `json:"unread_count"`
}
