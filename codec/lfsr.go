package codec

// lfsr8 is an 8-bit Galois linear feedback shift register used as the
// page scrambler's keystream. Identical seeds yield identical streams, so
// encode and decode are the same XOR pass.
type lfsr8 struct {
	state byte
	seed  byte
}

func newLFSR8(seed byte) *lfsr8 {
	return &lfsr8{state: 1, seed: seed}
}

func (l *lfsr8) next() byte {
	l.state = (l.state >> 1) ^ (-(l.state & 1) & l.seed)
	return l.state
}
