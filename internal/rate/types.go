package rate

import "time"

// Window represents a rate-limit bucket.
type Window int

const (
	Minute Window = iota
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

// Declaration defines how many commands a target accepts per window.
type Declaration struct {
	target string
	limits map[Window]int
	custom CustomPolicy
}

// Target creates a new declaration for a named command target (a panel).
func Target(name string) Declaration {
	return Declaration{target: name}
}

func (d Declaration) TargetName() string {
	return d.target
}

// For returns a copy of the declaration bound to another target, so one
// declared budget can back a guard per panel.
func (d Declaration) For(name string) Declaration {
	d.target = name
	return d
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

func (d Declaration) Custom(policy CustomPolicy) Declaration {
	d.custom = policy
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) CustomPolicy() CustomPolicy {
	return d.custom
}

func (d Declaration) HasLimits() bool {
	return len(d.limits) > 0
}

// RateLimited is implemented by plugins that declare a per-target budget.
type RateLimited interface {
	RateLimits() Declaration
}

// CustomPolicy allows callers to override decision logic.
type CustomPolicy func(state *State, now time.Time) Decision
