package risk

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// breaker holds the stateful part of the gate: an operator kill switch and
// a cooldown after consecutive losing closes
type breaker struct {
	maxConsecutiveLoss int
	cooldownDuration   time.Duration

	mu              sync.RWMutex
	consecutiveLoss int
	cooldownUntil   time.Time
	halted          bool
	haltReason      string
	now             func() time.Time
}

func newBreaker(maxConsecutiveLoss int, cooldown time.Duration) *breaker {
	return &breaker{
		maxConsecutiveLoss: maxConsecutiveLoss,
		cooldownDuration:   cooldown,
		now:                time.Now,
	}
}

// blocked returns the reason trading is currently blocked, or ""
func (b *breaker) blocked() string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.halted {
		return "trading halted: " + b.haltReason
	}
	if b.now().Before(b.cooldownUntil) {
		return "in cooldown until " + b.cooldownUntil.Format(time.RFC3339)
	}
	return ""
}

func (b *breaker) recordClose(pnl decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !pnl.IsNegative() {
		b.consecutiveLoss = 0
		return
	}
	b.consecutiveLoss++
	if b.maxConsecutiveLoss > 0 && b.consecutiveLoss >= b.maxConsecutiveLoss {
		b.cooldownUntil = b.now().Add(b.cooldownDuration)
		b.consecutiveLoss = 0
	}
}

func (b *breaker) halt(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = true
	b.haltReason = reason
}

func (b *breaker) resume() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.halted = false
	b.haltReason = ""
	b.consecutiveLoss = 0
	b.cooldownUntil = time.Time{}
}

func (b *breaker) status() map[string]interface{} {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return map[string]interface{}{
		"halted":           b.halted,
		"halt_reason":      b.haltReason,
		"consecutive_loss": b.consecutiveLoss,
		"in_cooldown":      b.now().Before(b.cooldownUntil),
		"cooldown_until":   b.cooldownUntil,
	}
}
