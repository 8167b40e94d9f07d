package risk

// PseudoScore maps input to [0, mod) with a 31-multiplier rolling hash that
// wraps at 32 bits. It keeps simulated providers deterministic; it is not a
// risk signal.
func PseudoScore(input string, mod int) int {
	if mod <= 0 {
		return 0
	}
	var h int32
	for _, r := range input {
		h = h*31 + int32(r)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return int(v % int64(mod))
}

// SimulatedScore is the pseudo-score for an address seen by one provider.
func SimulatedScore(addr Address, providerKey string) int {
	return PseudoScore(string(addr)+":"+providerKey, MaxScore)
}
