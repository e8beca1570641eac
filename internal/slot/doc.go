// Package slot implements the spin engine every instance runs locally: drawing
// reel symbols from a random source, evaluating the middle row and deciding the
// local jackpot trigger.
//
// # Overview
//
// The engine is pure. It performs no I/O and holds no mutable state apart from
// the random Source it was given, so every draw can be reproduced in tests by
// injecting a scripted or seeded source.
//
// # Grid Layout
//
// A spin draws nine symbols, three reels by three rows. Only the middle row is
// evaluated; the other six exist for presentation.
//
//	        reel 0   reel 1   reel 2
//	row 0  [  NW  ] [  N   ] [  NE  ]
//	row 1  [  W   ] [  C   ] [  E   ]   <- evaluated
//	row 2  [  SW  ] [  S   ] [  SE  ]
//
// Symbols are 1-indexed on the grid: a draw of d from [0, Symbols) is stored as
// d+1. The highest symbol is the wild by default.
//
// # Winning Rules
//
// A middle row wins when:
//   - all three symbols are equal, or
//   - the wild appears at least once and any two positions match
//
// A winning row pays the sum of its three symbol values:
//
//	[7, 10, 7] with wild 10 -> win, 24 credits
//	[3, 5, 9]               -> no win
//
// # Jackpot Trigger
//
// Independently of the row, each spin rolls a 1-in-JackpotOdds chance to fire
// the local jackpot. Odds of 1 always fire and 0 never fires; the value is
// configuration because different deployments run very different odds.
//
// Example:
//
//	engine := slot.NewEngine(slot.DefaultConfig(), rand.New(rand.NewPCG(1, 2)))
//	res := engine.Spin()
//	if res.Win {
//	    credits += res.Credits
//	}
//	if engine.JackpotHit() {
//	    // award the local jackpot mirror
//	}
package slot
