package ids

import (
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

var (
	mu   sync.Mutex
	node *snowflake.Node
)

// Init sets the snowflake node used for message ids. Safe to call again
// with a different id; later calls replace the node.
func Init(nodeID int64) error {
	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return err
	}
	mu.Lock()
	node = n
	mu.Unlock()
	return nil
}

// NewMessageID returns a time-ordered unique message id.
func NewMessageID() string {
	mu.Lock()
	if node == nil {
		// node 0 is always valid
		node, _ = snowflake.NewNode(0)
	}
	n := node
	mu.Unlock()
	return n.Generate().String()
}

// NewConnID identifies one live client connection.
func NewConnID() string {
	return uuid.NewString()
}
