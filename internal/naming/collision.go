package naming

import (
	"strings"
	"sync"
)

// ClaimSet tracks which texture names already have an owner within one
// work item. The same material can be found in several search roots; the
// first root to claim a name wins and later copies are skipped rather than
// overwriting the converted file. Names compare case-insensitively, as the
// GoldSrc compiler does. All methods are goroutine-safe.
type ClaimSet struct {
	mu     sync.Mutex
	owners map[string]string // lower-cased name → source path that owns it
}

// NewClaimSet creates a ready-to-use set.
func NewClaimSet() *ClaimSet {
	return &ClaimSet{owners: make(map[string]string)}
}

// Claim registers source as the owner of name. It returns true if name was
// unclaimed or is already owned by source.
func (cs *ClaimSet) Claim(name, source string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	key := strings.ToLower(name)
	owner, exists := cs.owners[key]
	if !exists || owner == source {
		cs.owners[key] = source
		return true
	}
	return false
}

// Owner returns the source that claimed name, if any.
func (cs *ClaimSet) Owner(name string) (string, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	owner, ok := cs.owners[strings.ToLower(name)]
	return owner, ok
}
