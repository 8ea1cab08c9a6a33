// Package vclock implements the version vectors used to order replicated
// writes. A vector maps a device id to that device's write counter; a
// coordinate missing from a vector counts as zero.
package vclock

// Ordering is the result of comparing two vectors.
type Ordering int

const (
	// Equal means both vectors carry identical causal knowledge.
	Equal Ordering = iota
	// Dominates means the left vector strictly supersedes the right.
	Dominates
	// Dominated means the right vector strictly supersedes the left.
	Dominated
	// Concurrent means neither supersedes the other: a true conflict.
	Concurrent
)

func (o Ordering) String() string {
	switch o {
	case Equal:
		return "equal"
	case Dominates:
		return "dominates"
	case Dominated:
		return "dominated"
	default:
		return "concurrent"
	}
}

// Vector is a per-device logical clock. The zero value (nil) is a valid
// empty vector.
type Vector map[string]int64

// Clone returns an independent copy of v. Cloning nil yields an empty,
// non-nil vector so callers can mutate the result.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for device, counter := range v {
		out[device] = counter
	}
	return out
}

// Counter returns the coordinate for device, zero if absent.
func (v Vector) Counter(device string) int64 {
	return v[device]
}

// Tick returns a copy of v with the coordinate for device advanced by one.
func (v Vector) Tick(device string) Vector {
	out := v.Clone()
	out[device]++
	return out
}

// Merge returns the causal join of a and b: the coordinate-wise maximum.
func Merge(a, b Vector) Vector {
	out := a.Clone()
	for device, counter := range b {
		if counter > out[device] {
			out[device] = counter
		}
	}
	return out
}

// Compare orders a against b. a dominates b when every coordinate of a is
// at least the corresponding coordinate of b and at least one is strictly
// greater; if neither side dominates they are concurrent.
func Compare(a, b Vector) Ordering {
	aAhead := false
	bAhead := false

	for device, counter := range a {
		other := b[device]
		if counter > other {
			aAhead = true
		} else if counter < other {
			bAhead = true
		}
	}
	for device, counter := range b {
		if _, seen := a[device]; seen {
			continue
		}
		if counter > 0 {
			bAhead = true
		}
	}

	switch {
	case aAhead && bAhead:
		return Concurrent
	case aAhead:
		return Dominates
	case bAhead:
		return Dominated
	default:
		return Equal
	}
}
