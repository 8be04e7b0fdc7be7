package audio

// FrameSize is the payload size of one 20 ms G.711 frame at 8 kHz: 160
// samples, one byte each.
const FrameSize = 160

// Repacketizer reassembles an arbitrarily-chunked byte stream into
// exactly FrameSize-byte payloads. TTS providers frame their chunked
// responses however their HTTP stack pleases; the carrier wants 20 ms
// frames. A rolling buffer absorbs the mismatch.
//
// Not safe for concurrent use; create one per output stream.
type Repacketizer struct {
	buf []byte
}

// NewRepacketizer returns an empty Repacketizer.
func NewRepacketizer() *Repacketizer {
	return &Repacketizer{buf: make([]byte, 0, 4*FrameSize)}
}

// Push appends chunk to the rolling buffer and returns every complete
// FrameSize-byte frame now available, in order. The returned slices are
// freshly allocated and safe to retain.
func (r *Repacketizer) Push(chunk []byte) [][]byte {
	r.buf = append(r.buf, chunk...)
	var frames [][]byte
	for len(r.buf) >= FrameSize {
		frame := make([]byte, FrameSize)
		copy(frame, r.buf[:FrameSize])
		r.buf = r.buf[FrameSize:]
		frames = append(frames, frame)
	}
	return frames
}

// Flush returns any buffered remainder shorter than FrameSize as a final
// short frame, or nil if the buffer is empty. The Repacketizer is reset
// and may be reused afterwards.
func (r *Repacketizer) Flush() []byte {
	if len(r.buf) == 0 {
		return nil
	}
	tail := make([]byte, len(r.buf))
	copy(tail, r.buf)
	r.buf = r.buf[:0]
	return tail
}

// Buffered reports the number of bytes currently held back.
func (r *Repacketizer) Buffered() int {
	return len(r.buf)
}
