// Package statemachine implements the 4x7 request/state transition table
// that guards every HSM request. The table is a compile-time constant: it
// is looked up, never computed.
package statemachine

// State is one of the four states a controller can occupy.
type State int

const (
	Invalid State = iota
	NoKeyPairs
	OneKeyPair
	TwoKeyPairs
)

func (s State) String() string {
	switch s {
	case NoKeyPairs:
		return "NoKeyPairs"
	case OneKeyPair:
		return "OneKeyPair"
	case TwoKeyPairs:
		return "TwoKeyPairs"
	default:
		return "Invalid"
	}
}

// Request identifies one of the seven request kinds the table is indexed
// by. LoadBlock fills the table's first column and is never issued at
// runtime; every entry in its column is Invalid. The boot-time state is
// derived from the persisted keyCount by FromKeyCount, not through the table.
type Request int

const (
	LoadBlock Request = iota
	GenerateKeys
	RotateKeys
	EraseKeys
	DigestBytes
	SignBytes
	ValidSignature
	requestCount
)

// nextState is the fixed transition table from spec.md §4.5, reconciled
// with original_source/libraries/HSM/HSM.cpp's nextState[4][7]. An entry of
// Invalid means the request is refused in that state with no side effect.
var nextState = [4][int(requestCount)]State{
	Invalid:     {Invalid, Invalid, Invalid, Invalid, Invalid, Invalid, Invalid},
	NoKeyPairs:  {Invalid, OneKeyPair, Invalid, NoKeyPairs, NoKeyPairs, Invalid, NoKeyPairs},
	OneKeyPair:  {Invalid, Invalid, TwoKeyPairs, NoKeyPairs, OneKeyPair, OneKeyPair, OneKeyPair},
	TwoKeyPairs: {Invalid, Invalid, Invalid, NoKeyPairs, Invalid, OneKeyPair, Invalid},
}

// Admissible reports whether request is legal from state, without mutating
// anything.
func Admissible(state State, request Request) bool {
	return Next(state, request) != Invalid
}

// Next returns the state the machine transitions to when request is issued
// from state. It returns Invalid, unchanged, when the request is refused.
func Next(state State, request Request) State {
	if state < NoKeyPairs || state > TwoKeyPairs {
		return Invalid
	}
	if request < LoadBlock || request >= requestCount {
		return Invalid
	}
	return nextState[state][request]
}

// FromKeyCount derives the boot-time state implied by a persisted
// keyCount byte (spec.md §3: keyCount ∈ {0,1,2} exactly mirrors
// {NoKeyPairs, OneKeyPair, TwoKeyPairs}). Any other value is Invalid,
// which PersistentStore should never produce for a well-formed blob.
func FromKeyCount(keyCount uint8) State {
	switch keyCount {
	case 0:
		return NoKeyPairs
	case 1:
		return OneKeyPair
	case 2:
		return TwoKeyPairs
	default:
		return Invalid
	}
}

// KeyCount is the inverse of FromKeyCount, used when serializing state back
// to a StateBlob.
func (s State) KeyCount() uint8 {
	switch s {
	case OneKeyPair:
		return 1
	case TwoKeyPairs:
		return 2
	default:
		return 0
	}
}
