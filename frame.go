package shmwriter

// FrameGeometry captures the fixed per-frame overhead that Config commits
// to at construction time: PREFIX_SIZE bytes of length header ahead of the
// payload, and POSTFIX_SIZE reserved bytes plus one NOT_FINAL byte after
// it. Every frame this package writes has this shape:
//
//	[LEN:4][PAYLOAD:LEN][POST:PostfixSize][NOT_FINAL:1]
type FrameGeometry struct {
	PrefixSize  int
	PostfixSize int
}

// overhead is the number of bytes a frame costs beyond its payload.
func (g FrameGeometry) overhead() int {
	return g.PrefixSize + g.PostfixSize + 1
}

// extraSpace is EXTRA_SPACE: the frame overhead excluding the NOT_FINAL
// byte, used by the leftover computation in the write engine.
func (g FrameGeometry) extraSpace() int {
	return g.PrefixSize + g.PostfixSize
}

// frameSize is the total number of bytes a frame carrying a payload of n
// bytes occupies in B.
func (g FrameGeometry) frameSize(payloadLen int) int {
	return g.overhead() + payloadLen
}
