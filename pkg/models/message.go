package models

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

type Attachment struct {
	URL       string         `json:"url"`
	Name      string         `json:"name"`
	Kind      AttachmentKind `json:"kind"`
	SizeBytes int64          `json:"size_bytes"`
}

// ReplyRef points at an earlier message in the same conversation.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	Text       string `json:"text"` // truncated excerpt
	SenderName string `json:"sender_name"`
}

type Message struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversation_id"`
	SenderID       string `json:"sender_id"`
	SenderName     string `json:"sender_name"`
	SenderRole     string `json:"sender_role,omitempty"`
	Text           string `json:"text"`
	// Position is the server-assigned, strictly increasing order within the conversation.
	Position   uint64      `json:"position"`
	CreatedTS  int64       `json:"created_ts"`
	UpdatedTS  int64       `json:"updated_ts"`
	Attachment *Attachment `json:"attachment,omitempty"`
	ReplyTo    *ReplyRef   `json:"reply_to,omitempty"`
	Read       bool        `json:"read"`
	// Reactions maps emoji -> user ids that applied it. Never holds an empty set.
	Reactions map[string][]string `json:"reactions,omitempty"`
	// Version increments on every mutation (read flag, reactions).
	Version uint64 `json:"version"`
}

// Clone returns a deep copy safe to hand to another goroutine.
func (m Message) Clone() Message {
	out := m
	if m.Attachment != nil {
		a := *m.Attachment
		out.Attachment = &a
	}
	if m.ReplyTo != nil {
		r := *m.ReplyTo
		out.ReplyTo = &r
	}
	if m.Reactions != nil {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for k, v := range m.Reactions {
			out.Reactions[k] = append([]string(nil), v...)
		}
	}
	return out
}
