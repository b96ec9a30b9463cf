package segment

// SegmentBuffer accumulates the PCM samples of the utterance currently being
// captured. Exactly one utterance is open at a time; ownership of its
// samples transfers to the caller on [SegmentBuffer.Drain], after which the
// buffer is empty and a new utterance may begin.
//
// While no utterance is open, appended audio is not buffered indefinitely:
// only the most recent preRollFrames blocks are retained in a small ring.
// [SegmentBuffer.Open] promotes that ring into the new utterance so the clip
// keeps the onset that arrived before the start was confirmed. With pre-roll
// disabled, audio outside an open utterance is discarded outright.
//
// Silent frames inside an open utterance are buffered tentatively: a speech
// frame keeps them (they are part of the utterance), but a silent run still
// pending when the utterance is drained is trimmed, so clips end at the last
// speech frame instead of carrying the silence that confirmed the close.
//
// Not safe for concurrent use; the engine confines it to the tick goroutine.
type SegmentBuffer struct {
	preRollFrames int

	samples   []float32
	tailStart int // index of the first sample of the pending silent tail, -1 if none
	preRoll   [][]float32
	open      bool
}

// NewSegmentBuffer returns an empty buffer retaining up to preRollFrames
// blocks of pre-roll.
func NewSegmentBuffer(preRollFrames int) *SegmentBuffer {
	return &SegmentBuffer{preRollFrames: preRollFrames, tailStart: -1}
}

// Open begins a new utterance, seeded with any retained pre-roll.
func (b *SegmentBuffer) Open() {
	b.open = true
	b.tailStart = -1
	for _, blk := range b.preRoll {
		b.samples = append(b.samples, blk...)
	}
	b.preRoll = nil
}

// Append adds one tick's worth of samples. While an utterance is open the
// block is buffered (tentatively, when silent). Otherwise it goes to the
// pre-roll ring, displacing the oldest block once the ring is full.
func (b *SegmentBuffer) Append(block []float32, silent bool) {
	if len(block) == 0 {
		return
	}
	if !b.open {
		if b.preRollFrames == 0 {
			return
		}
		b.preRoll = append(b.preRoll, block)
		if len(b.preRoll) > b.preRollFrames {
			b.preRoll = b.preRoll[1:]
		}
		return
	}
	if silent {
		if b.tailStart < 0 {
			b.tailStart = len(b.samples)
		}
	} else {
		b.tailStart = -1
	}
	b.samples = append(b.samples, block...)
}

// Drain closes the open utterance and returns its samples, trimmed of any
// pending silent tail. The buffer is left empty and closed; the pre-roll
// ring is untouched so silence after the close can seed the next utterance.
func (b *SegmentBuffer) Drain() []float32 {
	out := b.samples
	if b.tailStart >= 0 {
		out = out[:b.tailStart]
	}
	b.samples = nil
	b.tailStart = -1
	b.open = false
	return out
}

// Len returns the number of samples buffered for the open utterance.
func (b *SegmentBuffer) Len() int { return len(b.samples) }

// Reset discards all buffered samples and pre-roll and closes the buffer.
func (b *SegmentBuffer) Reset() {
	b.samples = nil
	b.preRoll = nil
	b.tailStart = -1
	b.open = false
}
