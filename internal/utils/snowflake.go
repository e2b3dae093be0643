package utils

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// InitSnowflake initializes the snowflake node used for link primary keys.
// DatacenterID and WorkerID use 5 bits each.
func InitSnowflake(datacenterID, workerID int64) error {
	if datacenterID < 0 || datacenterID > 31 || workerID < 0 || workerID > 31 {
		return fmt.Errorf("snowflake ids out of range: datacenter=%d worker=%d", datacenterID, workerID)
	}

	var err error
	once.Do(func() {
		node, err = snowflake.NewNode((datacenterID << 5) | workerID)
	})
	return err
}

// GenerateID generates a unique snowflake ID
func GenerateID() (int64, error) {
	if node == nil {
		return 0, fmt.Errorf("snowflake node not initialized")
	}
	return node.Generate().Int64(), nil
}
