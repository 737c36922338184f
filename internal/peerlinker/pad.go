package peerlinker

// Pad is a server-side registered endpoint. Cross-pad links are plain
// pointers into the server's own pads map rather than owning references, per
// spec.md §9's linked-pad design note: a pad never outlives the map entry
// that owns it, and removePad nulls both sides of a link before the entry is
// erased.
type Pad struct {
	Name string
	sess *padSession

	// Linked is the pad this one is currently linked to, or nil.
	Linked *Pad

	// AuthenticatorName is non-empty iff an authentication exchange
	// initiated by this pad is in flight, naming the pad that is expected
	// to answer with LinkAuthResponse.
	AuthenticatorName string
}
