package broker

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stashbox/stashbox/internal/util/sanitize"
)

const keyRoot = "users/"

// ObjectKey composes users/<owner>/<unix-millis>-<random>/<sanitized-name>.
func ObjectKey(owner, fileName string, now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s%s/%d-%s/%s", keyRoot, owner, now.UnixMilli(), suffix, sanitize.ObjectName(fileName))
}

// OwnerPrefix is the key prefix every object of owner starts with.
func OwnerPrefix(owner string) string {
	return keyRoot + owner + "/"
}

// OwnsKey reports whether key lies under owner's prefix. Keys with empty or
// dot segments are never owned.
func OwnsKey(owner, key string) bool {
	prefix := OwnerPrefix(owner)
	if owner == "" || !strings.HasPrefix(key, prefix) || len(key) == len(prefix) {
		return false
	}
	for _, seg := range strings.Split(key[len(keyRoot):], "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return true
}

// validOwner rejects subjects that would break the key layout.
func validOwner(owner string) bool {
	return owner != "" && owner != "." && owner != ".." && !strings.ContainsAny(owner, "/\\")
}
