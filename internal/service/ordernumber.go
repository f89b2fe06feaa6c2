package service

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// OrderNumberGenerator issues short, unique, roughly time-ordered order
// numbers such as ORD-2J4K9XQ7ZB1S.
type OrderNumberGenerator interface {
	Next() string
}

type snowflakeOrderNumbers struct {
	node *snowflake.Node
}

// NewOrderNumberGenerator needs a node id unique across running instances.
func NewOrderNumberGenerator(nodeID int64) (OrderNumberGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("create snowflake node: %w", err)
	}
	return &snowflakeOrderNumbers{node: node}, nil
}

func (g *snowflakeOrderNumbers) Next() string {
	return "ORD-" + strings.ToUpper(g.node.Generate().Base36())
}
