package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// IDGenerator issues identifiers for new rows.
type IDGenerator interface {
	// NewID returns an opaque row identifier.
	NewID() string
	// NewTransactionID returns a unique, time-ordered transaction identifier.
	NewTransactionID() string
	// NewReceiptNumber returns a unique human-facing receipt number.
	NewReceiptNumber(at time.Time) string
}

// SnowflakeIDs uses UUIDs for row ids and snowflake ids for transaction ids
// and receipt numbers, so references sort by issue time.
type SnowflakeIDs struct {
	node *snowflake.Node
}

// NewSnowflakeIDs creates a generator for the given node (0-1023). Each
// server instance writing to the same database needs a distinct node.
func NewSnowflakeIDs(nodeID int64) (*SnowflakeIDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeIDs{node: node}, nil
}

func (g *SnowflakeIDs) NewID() string { return uuid.NewString() }

func (g *SnowflakeIDs) NewTransactionID() string {
	return "TXN-" + g.node.Generate().String()
}

func (g *SnowflakeIDs) NewReceiptNumber(at time.Time) string {
	return fmt.Sprintf("RCP-%s-%s", at.UTC().Format("20060102"), strings.ToUpper(g.node.Generate().Base36()))
}
