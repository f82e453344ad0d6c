package store

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/chuc13-collab1/agileproject-sub000/pkg/chaterr"
)

const (
	// notation dictionary for key formats:
	// c   = conversation
	// m   = message (by position)
	// id  = message id -> position index
	// u   = user
	// p   = presence
	// All segments are separated by ":"; ids may not contain ":".

	ConversationMetaKey = "c:%s:meta"  // c:<conv>:meta
	MessageKey          = "c:%s:m:%s"  // c:<conv>:m:<pos>
	MessageIDKey        = "c:%s:id:%s" // c:<conv>:id:<msg_id>
	UserConversationKey = "u:%s:c:%s"  // u:<user>:c:<conv>
	LastSeenKey         = "p:%s"       // p:<user>
	messagePrefix       = "c:%s:m:"    // c:<conv>:m:
	userConvPrefix      = "u:%s:c:"    // u:<user>:c:

	// fixed width so positions sort lexicographically
	PosPadWidth = 20
	maxIDLen    = 256
)

// ValidateID rejects ids that would break the key layout.
func ValidateID(kind, id string) error {
	field := kind + "_id"
	if id == "" {
		return chaterr.Validation(field, "required")
	}
	if len(id) > maxIDLen {
		return chaterr.Validation(field, "too long")
	}
	if strings.ContainsAny(id, ":\x00\xff") {
		return chaterr.Validation(field, "contains reserved characters")
	}
	return nil
}

func PadPos(pos uint64) string {
	return fmt.Sprintf("%0*d", PosPadWidth, pos)
}

func GenConversationMetaKey(conv string) string {
	return fmt.Sprintf(ConversationMetaKey, conv)
}

func GenMessageKey(conv string, pos uint64) string {
	return fmt.Sprintf(MessageKey, conv, PadPos(pos))
}

func GenMessageIDKey(conv, msgID string) string {
	return fmt.Sprintf(MessageIDKey, conv, msgID)
}

func GenUserConversationKey(user, conv string) string {
	return fmt.Sprintf(UserConversationKey, user, conv)
}

func GenLastSeenKey(user string) string {
	return fmt.Sprintf(LastSeenKey, user)
}

func GenMessagePrefix(conv string) string {
	return fmt.Sprintf(messagePrefix, conv)
}

func GenUserConversationPrefix(user string) string {
	return fmt.Sprintf(userConvPrefix, user)
}

// ParseMessageKey returns the conversation id and position of a message key.
func ParseMessageKey(key string) (string, uint64, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "c" || parts[2] != "m" {
		return "", 0, fmt.Errorf("invalid message key: %s", key)
	}
	if len(parts[3]) != PosPadWidth {
		return "", 0, fmt.Errorf("invalid message position width: %s", key)
	}
	pos, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid message position: %w", err)
	}
	return parts[1], pos, nil
}

// ParseUserConversationKey returns the user and conversation ids of a membership key.
func ParseUserConversationKey(key string) (string, string, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 || parts[0] != "u" || parts[2] != "c" {
		return "", "", fmt.Errorf("invalid membership key: %s", key)
	}
	return parts[1], parts[3], nil
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix string) []byte {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return b[:i+1]
		}
	}
	return nil
}
