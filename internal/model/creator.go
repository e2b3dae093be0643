package model

import (
	"database/sql/driver"
	"fmt"
)

// anonymousKey is the persisted form of the anonymous creator.
// Identified creators always carry a non-empty id, so it cannot collide.
const anonymousKey = ""

// Creator identifies who created a link: either an identified user or anonymous.
// The zero value is Anonymous.
type Creator struct {
	id string
}

// Identified returns a creator for the given identity.
// An empty id yields Anonymous.
func Identified(id string) Creator {
	return Creator{id: id}
}

// Anonymous returns the shared anonymous creator
func Anonymous() Creator {
	return Creator{}
}

func (c Creator) IsAnonymous() bool {
	return c.id == anonymousKey
}

// ID returns the identity, empty for anonymous creators
func (c Creator) ID() string {
	return c.id
}

// Key returns the value used for storage, quota buckets and dedup scoping
func (c Creator) Key() string {
	return c.id
}

func (c Creator) String() string {
	if c.IsAnonymous() {
		return "anonymous"
	}
	return c.id
}

// Value implements driver.Valuer
func (c Creator) Value() (driver.Value, error) {
	return c.Key(), nil
}

// Scan implements sql.Scanner
func (c *Creator) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		c.id = anonymousKey
	case string:
		c.id = v
	case []byte:
		c.id = string(v)
	default:
		return fmt.Errorf("unsupported creator column type %T", src)
	}
	return nil
}
