// -- internal/humanoid/humanoid.go --
package humanoid

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/internal/config"
)

// glideSteps is the number of intermediate pointer moves between two targets.
const glideSteps = 4

// Humanoid drives synthetic input for one page. It remembers where the
// pointer is so consecutive clicks travel rather than teleport.
type Humanoid struct {
	cfg      config.HumanoidConfig
	executor Executor
	logger   *zap.Logger

	mu                 sync.Mutex
	rng                *rand.Rand
	currentPos         Vector2D
	hasPosition        bool
	currentButtonState MouseButton
}

var _ Controller = (*Humanoid)(nil)

// New creates a Humanoid. A nil rng is seeded from the clock.
func New(cfg config.HumanoidConfig, logger *zap.Logger, executor Executor, rng *rand.Rand) *Humanoid {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Humanoid{
		cfg:                cfg,
		executor:           executor,
		logger:             logger.Named("humanoid"),
		rng:                rng,
		currentButtonState: ButtonNone,
	}
}

// holdDuration draws a press-to-release interval from the configured range.
func (h *Humanoid) holdDuration() time.Duration {
	if !h.cfg.Enabled {
		return 0
	}
	lo, hi := h.cfg.ClickHoldMinMs, h.cfg.ClickHoldMaxMs
	if hi <= lo {
		return time.Duration(lo) * time.Millisecond
	}
	h.mu.Lock()
	ms := lo + h.rng.Intn(hi-lo+1)
	h.mu.Unlock()
	return time.Duration(ms) * time.Millisecond
}

// Position reports the last pointer coordinate dispatched.
func (h *Humanoid) Position() (Vector2D, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPos, h.hasPosition
}
