package sqlite

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// newID produces a time-ordered, prefixed identifier: the millisecond
// timestamp sorts lexicographically, the UUID suffix guarantees
// uniqueness within the same millisecond.
func newID(prefix string) string {
	return fmt.Sprintf("%s_%013d_%s", prefix, time.Now().UnixMilli(), uuid.NewString())
}
