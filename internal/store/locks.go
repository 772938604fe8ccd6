package store

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// keyLocks serializes writers of the same key within one process. Locks are
// scoped by lockspace so two caches over the same file share them.
var keyLocks sync.Map // lockspace + "\x00" + key -> *sync.Mutex

func newLockspaceID(prefix string) string {
	return prefix + ":" + uuid.NewString()
}

// lockKeys acquires the advisory locks for keys in sorted order and returns
// the matching release function.
func lockKeys(space string, keys []string) func() {
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	held := make([]*sync.Mutex, 0, len(sorted))
	var prev string
	for i, k := range sorted {
		if i > 0 && k == prev {
			continue
		}
		prev = k
		v, _ := keyLocks.LoadOrStore(space+"\x00"+k, &sync.Mutex{})
		mu := v.(*sync.Mutex)
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
