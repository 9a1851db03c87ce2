package flashloan

import "sync/atomic"

// Guard rejects nested entry into a critical section such as a loan whose
// callback hands control to untrusted code.
type Guard struct {
	entered atomic.Bool
}

// Enter marks the section as held. It fails with ErrReentrancy when already held.
func (g *Guard) Enter() error {
	if !g.entered.CompareAndSwap(false, true) {
		return ErrReentrancy
	}
	return nil
}

// Exit releases the section.
func (g *Guard) Exit() {
	g.entered.Store(false)
}

// Held reports whether the section is currently entered.
func (g *Guard) Held() bool {
	return g.entered.Load()
}
