package merge

import "sync"

type lockState struct {
	exclusive bool
	shared    int
}

// LockTable hands out non-blocking per-key locks. A key is held either
// exclusively by one merge or shared by any number of chunk writers.
type LockTable struct {
	mu   sync.Mutex
	held map[string]*lockState
}

func NewLockTable() *LockTable {
	return &LockTable{held: make(map[string]*lockState)}
}

// TryLock takes key exclusively. It returns false if key is held in either
// mode.
func (t *LockTable) TryLock(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.held[key]; ok {
		return false
	}
	t.held[key] = &lockState{exclusive: true}
	return true
}

func (t *LockTable) Unlock(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.held[key]; ok && st.exclusive {
		delete(t.held, key)
	}
}

// TryRLock adds a shared hold on key. It returns false while key is held
// exclusively.
func (t *LockTable) TryRLock(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.held[key]
	if !ok {
		t.held[key] = &lockState{shared: 1}
		return true
	}
	if st.exclusive {
		return false
	}
	st.shared++
	return true
}

func (t *LockTable) RUnlock(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.held[key]
	if !ok || st.exclusive {
		return
	}
	if st.shared--; st.shared <= 0 {
		delete(t.held, key)
	}
}

// Held reports whether key is held exclusively.
func (t *LockTable) Held(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.held[key]
	return ok && st.exclusive
}

// Shared returns the number of shared holds on key.
func (t *LockTable) Shared(key string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.held[key]; ok {
		return st.shared
	}
	return 0
}
