package primer

import "fmt"

// ---------------------------------------------------------------------------
// Space: a stack-slot count that is either known or unknown
// ---------------------------------------------------------------------------

// Space is a conservative upper bound on stack slots an operation will
// consume: either a known non-negative integer or unknown. Arithmetic is
// lifted pointwise; any unknown operand makes the result unknown, so an
// estimate can only widen, never silently shrink.
//
// A Space is computed statically from type information alone, before any
// VM operation runs: it decides how large a reservation the capacity check
// must make.
type Space struct {
	n     int
	known bool
}

// KnownSpace returns a known slot count.
func KnownSpace(n int) Space {
	return Space{n: n, known: true}
}

// UnknownSpace returns the unknown slot count.
func UnknownSpace() Space {
	return Space{}
}

// IsKnown reports whether the count is known.
func (s Space) IsKnown() bool {
	return s.known
}

// Get returns the count and whether it is known.
func (s Space) Get() (int, bool) {
	return s.n, s.known
}

// String renders the count for diagnostics.
func (s Space) String() string {
	if !s.known {
		return "unknown"
	}
	return fmt.Sprintf("%d", s.n)
}

// lift applies a binary int operation if both operands are known.
func lift(f func(a, b int) int, a, b Space) Space {
	if a.known && b.known {
		return KnownSpace(f(a.n, b.n))
	}
	return Space{}
}

// Add returns the lifted sum.
func (s Space) Add(o Space) Space {
	return lift(func(a, b int) int { return a + b }, s, o)
}

// AddInt returns the lifted sum with a known increment.
func (s Space) AddInt(n int) Space {
	return s.Add(KnownSpace(n))
}

// Sub returns the lifted difference.
func (s Space) Sub(o Space) Space {
	return lift(func(a, b int) int { return a - b }, s, o)
}

// Max returns the lifted maximum.
func (s Space) Max(o Space) Space {
	return lift(func(a, b int) int {
		if a > b {
			return a
		}
		return b
	}, s, o)
}

// Min returns the lifted minimum.
func (s Space) Min(o Space) Space {
	return lift(func(a, b int) int {
		if a < b {
			return a
		}
		return b
	}, s, o)
}

// MaxSpace right-associates Max over its arguments. With no arguments it
// returns a known zero.
func MaxSpace(ss ...Space) Space {
	acc := KnownSpace(0)
	for _, s := range ss {
		acc = acc.Max(s)
	}
	return acc
}
