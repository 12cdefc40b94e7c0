package protocol

import "sort"

// CapabilitySet is an immutable set of method tokens a peer can handle.
type CapabilitySet struct {
	items map[Method]struct{}
}

// NewCapabilitySet builds a set from methods; duplicates collapse.
func NewCapabilitySet(methods ...Method) CapabilitySet {
	items := make(map[Method]struct{}, len(methods))
	for _, m := range methods {
		items[m] = struct{}{}
	}
	return CapabilitySet{items: items}
}

// ParseCapabilities converts CAPABILITY arguments to a set. Tokens outside
// the vocabulary are returned separately and left out of the set.
func ParseCapabilities(tokens []string) (CapabilitySet, []string) {
	methods := make([]Method, 0, len(tokens))
	var unknown []string
	for _, tok := range tokens {
		m := Method(tok)
		if !m.Known() {
			unknown = append(unknown, tok)
			continue
		}
		methods = append(methods, m)
	}
	return NewCapabilitySet(methods...), unknown
}

// Has reports whether m is in the set.
func (s CapabilitySet) Has(m Method) bool {
	_, ok := s.items[m]
	return ok
}

// Len returns the number of methods in the set.
func (s CapabilitySet) Len() int {
	return len(s.items)
}

// Methods returns the set contents in lexical order.
func (s CapabilitySet) Methods() []Method {
	out := make([]Method, 0, len(s.items))
	for m := range s.items {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Tokens returns the set as wire tokens in lexical order.
func (s CapabilitySet) Tokens() []string {
	methods := s.Methods()
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = string(m)
	}
	return out
}

// Sendable reports whether a message with method m may be sent to a peer
// advertising this set. CAPABILITY, OK and ERR are always allowed.
func (s CapabilitySet) Sendable(m Method) bool {
	switch m {
	case MethodCapability, MethodOK, MethodErr:
		return true
	}
	return s.Has(m)
}
