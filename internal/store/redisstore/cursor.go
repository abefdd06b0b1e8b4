package redisstore

import (
	"fmt"
	"strings"

	"github.com/infinity086/labtasker/internal/store"
)

func encodeCursor(createdAtUnixNano int64, id string) store.Cursor {
	return store.Cursor(fmt.Sprintf("%d:%s", createdAtUnixNano, id))
}

func decodeCursor(c store.Cursor) (createdAtUnixNano int64, id string, ok bool, err error) {
	if c == "" {
		return 0, "", false, nil
	}
	parts := strings.SplitN(string(c), ":", 2)
	if len(parts) != 2 {
		return 0, "", false, fmt.Errorf("redisstore: malformed cursor %q", c)
	}
	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return 0, "", false, fmt.Errorf("redisstore: malformed cursor %q: %w", c, err)
	}
	return nanos, parts[1], true, nil
}

// afterCursor reports whether (createdAtNano, id) sorts strictly after the
// cursor position (afterCreated, afterID) in (created_at ASC, id ASC) order.
func afterCursor(createdAtNano int64, id string, afterCreated int64, afterID string) bool {
	if createdAtNano != afterCreated {
		return createdAtNano > afterCreated
	}
	return id > afterID
}
