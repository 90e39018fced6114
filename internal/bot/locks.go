package bot

import "sync"

// KeyedLocks serializes response generation per channel. The bot and the
// follow-up runner share one instance so a chain follow-up, a mention
// reply, and a scheduled prompt on the same channel never interleave.
// Entries are reference counted and removed once the last holder
// releases, so the map does not grow with every channel ever seen.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*channelLock
}

type channelLock struct {
	mu   sync.Mutex
	refs int
}

// NewKeyedLocks creates an empty lock set.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*channelLock)}
}

// Lock acquires the lock for channelID and returns its release func.
func (c *KeyedLocks) Lock(channelID string) func() {
	c.mu.Lock()
	l, ok := c.locks[channelID]
	if !ok {
		l = &channelLock{}
		c.locks[channelID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, channelID)
		}
		c.mu.Unlock()
	}
}
