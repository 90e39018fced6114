package bot

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Stamina defaults: a full bar of 10, one point back every six minutes.
const (
	DefaultMaxStamina       = 10
	DefaultRecoveryInterval = 360 * time.Second
	DefaultRecoveryAmount   = 1

	staminaBarLength = 10
)

// StaminaListener is notified whenever the level changes.
type StaminaListener func(current, max int)

// Stamina tracks the bot's energy level. Replying costs a point and
// points recover on a fixed interval; listeners typically mirror the
// level into the bot's presence as a bar.
type Stamina struct {
	mu        sync.Mutex
	current   int
	max       int
	listeners []StaminaListener
}

// NewStamina creates a full stamina gauge.
func NewStamina(max int) *Stamina {
	if max <= 0 {
		max = DefaultMaxStamina
	}
	return &Stamina{current: max, max: max}
}

// AddListener registers a change listener and fires it once with the
// current level.
func (s *Stamina) AddListener(fn StaminaListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	current, max := s.current, s.max
	s.mu.Unlock()
	fn(current, max)
}

// Level returns the current and maximum stamina.
func (s *Stamina) Level() (current, max int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.max
}

// Spend reduces stamina by n, clamped at zero.
func (s *Stamina) Spend(n int) {
	s.adjust(-n)
}

// Recover raises stamina by n, clamped at the maximum.
func (s *Stamina) Recover(n int) {
	s.adjust(n)
}

func (s *Stamina) adjust(delta int) {
	s.mu.Lock()
	next := s.current + delta
	if next < 0 {
		next = 0
	}
	if next > s.max {
		next = s.max
	}
	changed := next != s.current
	s.current = next
	current, max := s.current, s.max
	listeners := make([]StaminaListener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(current, max)
	}
}

// StartRecovery regains amount points every interval until ctx ends.
func (s *Stamina) StartRecovery(ctx context.Context, interval time.Duration, amount int) {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	if amount <= 0 {
		amount = DefaultRecoveryAmount
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Recover(amount)
			}
		}
	}()
}

// RenderStaminaBar renders the level as a fixed-width bar, for example
// "[███-------]".
func RenderStaminaBar(current, max, length int) string {
	if length <= 0 {
		length = staminaBarLength
	}
	filled := 0
	if max > 0 {
		filled = length * current / max
	}
	if filled > length {
		filled = length
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", length-filled) + "]"
}
