package routing

import (
	"sort"
	"strings"
	"sync"
)

// Table answers "which account is the best next hop for this destination
// address". Maintenance of routes (peer advertisement protocols) happens
// elsewhere; the switch only consults it.
type Table interface {
	BestRoute(destination string) (accountID string, ok bool)
}

// PrefixTable is a longest-prefix-match route table over dot-separated
// addresses. Suitable for static configurations and tests.
type PrefixTable struct {
	mu     sync.RWMutex
	routes map[string]string
	// Prefixes sorted longest first, rebuilt on mutation so lookups only
	// scan.
	ordered []string
}

// NewPrefixTable builds an empty prefix table.
func NewPrefixTable() *PrefixTable {
	return &PrefixTable{routes: make(map[string]string)}
}

// AddRoute maps an address prefix to a next-hop account. A trailing dot is
// equivalent to the bare prefix.
func (t *PrefixTable) AddRoute(prefix, accountID string) {
	t.mu.Lock()
	t.routes[strings.TrimSuffix(prefix, ".")] = accountID
	t.rebuildLocked()
	t.mu.Unlock()
}

// RemoveRoute drops a prefix.
func (t *PrefixTable) RemoveRoute(prefix string) {
	t.mu.Lock()
	delete(t.routes, strings.TrimSuffix(prefix, "."))
	t.rebuildLocked()
	t.mu.Unlock()
}

func (t *PrefixTable) rebuildLocked() {
	t.ordered = t.ordered[:0]
	for p := range t.routes {
		t.ordered = append(t.ordered, p)
	}
	sort.Slice(t.ordered, func(i, j int) bool {
		if len(t.ordered[i]) != len(t.ordered[j]) {
			return len(t.ordered[i]) > len(t.ordered[j])
		}
		return t.ordered[i] < t.ordered[j]
	})
}

// BestRoute returns the account for the longest prefix matching the
// destination address. Prefixes match on whole address segments, so a route
// for g.peer covers g.peer and g.peer.alice but not g.peernext.
func (t *PrefixTable) BestRoute(destination string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, p := range t.ordered {
		if destination == p || strings.HasPrefix(destination, p+".") {
			return t.routes[p], true
		}
	}
	return "", false
}
