package ledger

import "sync"

// Claims is a process-wide set of company ids currently being worked on.
// A worker must hold the claim for an id before running any stage for it.
type Claims struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewClaims creates an empty claim set.
func NewClaims() *Claims {
	return &Claims{held: make(map[string]struct{})}
}

// TryClaim marks id as in progress. It returns false if another worker already holds it.
func (c *Claims) TryClaim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.held[id]; ok {
		return false
	}
	c.held[id] = struct{}{}
	return true
}

// Release frees id.
func (c *Claims) Release(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.held, id)
}

// Held returns the number of outstanding claims.
func (c *Claims) Held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.held)
}
