package slot

import (
	"errors"
	"fmt"
)

const (
	// Reels is the number of reels drawn per spin.
	Reels = 3
	// Rows is the number of visible rows per reel.
	Rows = 3
	// MiddleRow is the only row that feeds evaluation.
	MiddleRow = 1
)

var (
	// ErrInvalidSymbols is returned when the symbol count cannot form a reel.
	ErrInvalidSymbols = errors.New("symbol count must be at least 2")
	// ErrInvalidWild is returned when the wild symbol is outside 1..Symbols.
	ErrInvalidWild = errors.New("wild symbol out of range")
	// ErrInvalidOdds is returned for negative jackpot odds.
	ErrInvalidOdds = errors.New("jackpot odds must not be negative")
)

// Source is the random source consumed by the engine.
// *math/rand/v2.Rand satisfies it.
type Source interface {
	IntN(n int) int
}

// Config holds the tunable parameters of the engine.
type Config struct {
	Symbols     int // Distinct symbols per reel, drawn as 1..Symbols
	Wild        int // Symbol value that acts as the wild
	JackpotOdds int // Local jackpot fires with probability 1/JackpotOdds; 0 disables
}

// DefaultConfig returns ten symbols with the tenth as wild and 1-in-200 jackpot odds.
func DefaultConfig() Config {
	return Config{
		Symbols:     10,
		Wild:        10,
		JackpotOdds: 200,
	}
}

// Validate checks that the configuration describes a playable reel.
func (c Config) Validate() error {
	if c.Symbols < 2 {
		return fmt.Errorf("%w: %d", ErrInvalidSymbols, c.Symbols)
	}
	if c.Wild < 1 || c.Wild > c.Symbols {
		return fmt.Errorf("%w: %d not in 1..%d", ErrInvalidWild, c.Wild, c.Symbols)
	}
	if c.JackpotOdds < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOdds, c.JackpotOdds)
	}
	return nil
}

// DrawResult is the outcome of one spin.
type DrawResult struct {
	Grid    [Reels][Rows]int // Grid[reel][row], 1-indexed symbols
	Middle  [Reels]int       // Grid[r][MiddleRow] for each reel
	Win     bool             // Middle row matched a winning combination
	Credits int              // Sum of the middle row when Win, otherwise 0

	// Set by the session when the local jackpot trigger fired on this spin.
	Jackpot        bool
	JackpotCredits int
}

// Engine draws and evaluates spins. It is not safe for concurrent use because
// most Sources are not; callers serialise access.
type Engine struct {
	src Source
	cfg Config
}

// NewEngine creates an engine over src. The configuration is assumed valid.
func NewEngine(cfg Config, src Source) *Engine {
	return &Engine{cfg: cfg, src: src}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Draw returns a uniformly random symbol id in [0, symbolCount).
func Draw(src Source, symbolCount int) int {
	return src.IntN(symbolCount)
}

// Evaluate decides whether a middle row wins and how many credits it pays.
func Evaluate(middle [Reels]int, wild int) (bool, int) {
	a, b, c := middle[0], middle[1], middle[2]

	triple := a == b && b == c
	hasWild := a == wild || b == wild || c == wild
	pair := a == b || b == c || a == c

	if triple || (hasWild && pair) {
		return true, a + b + c
	}
	return false, 0
}

// Spin draws a full 3x3 grid and evaluates its middle row.
func (e *Engine) Spin() DrawResult {
	var res DrawResult
	for reel := 0; reel < Reels; reel++ {
		for row := 0; row < Rows; row++ {
			res.Grid[reel][row] = Draw(e.src, e.cfg.Symbols) + 1
		}
		res.Middle[reel] = res.Grid[reel][MiddleRow]
	}
	res.Win, res.Credits = Evaluate(res.Middle, e.cfg.Wild)
	return res
}

// JackpotHit rolls the local jackpot trigger.
func (e *Engine) JackpotHit() bool {
	return Roll(e.src, e.cfg.JackpotOdds)
}

// Roll reports a 1-in-odds event. Odds of 0 or less never fire and odds of 1
// always fire; neither consumes randomness.
func Roll(src Source, odds int) bool {
	switch {
	case odds <= 0:
		return false
	case odds == 1:
		return true
	}
	return src.IntN(odds) == 0
}
