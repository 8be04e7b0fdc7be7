package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWAVFromPCM16_Header(t *testing.T) {
	pcm := make([]byte, 320) // 160 samples
	wav := WAVFromPCM16(pcm, 8000)

	if len(wav) != WAVHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), WAVHeaderSize+len(pcm))
	}
	if string(wav[0:4]) != "RIFF" {
		t.Errorf("magic = %q, want RIFF", wav[0:4])
	}
	if string(wav[8:12]) != "WAVE" {
		t.Errorf("format = %q, want WAVE", wav[8:12])
	}
	if got := binary.LittleEndian.Uint32(wav[4:8]); got != uint32(36+len(pcm)) {
		t.Errorf("riff size = %d, want %d", got, 36+len(pcm))
	}
	if got := binary.LittleEndian.Uint16(wav[22:24]); got != 1 {
		t.Errorf("channels = %d, want 1", got)
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 8000 {
		t.Errorf("sample rate = %d, want 8000", got)
	}
	if got := binary.LittleEndian.Uint16(wav[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
	if string(wav[36:40]) != "data" {
		t.Errorf("data chunk id = %q, want data", wav[36:40])
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != uint32(len(pcm)) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestPCM16Bytes_LittleEndian(t *testing.T) {
	got := PCM16Bytes([]int16{0x0102, -1})
	want := []byte{0x02, 0x01, 0xFF, 0xFF}
	if !bytes.Equal(got, want) {
		t.Errorf("PCM16Bytes = %v, want %v", got, want)
	}
}

func TestRepacketizer_BuffersUntilFullFrame(t *testing.T) {
	r := NewRepacketizer()

	if frames := r.Push(make([]byte, 100)); frames != nil {
		t.Fatalf("got %d frames from 100 bytes, want none", len(frames))
	}
	if r.Buffered() != 100 {
		t.Errorf("buffered = %d, want 100", r.Buffered())
	}

	frames := r.Push(make([]byte, 100))
	if len(frames) != 1 {
		t.Fatalf("got %d frames from 200 bytes, want 1", len(frames))
	}
	if len(frames[0]) != FrameSize {
		t.Errorf("frame size = %d, want %d", len(frames[0]), FrameSize)
	}
	if r.Buffered() != 40 {
		t.Errorf("buffered = %d, want 40", r.Buffered())
	}
}

func TestRepacketizer_PreservesByteOrder(t *testing.T) {
	r := NewRepacketizer()

	chunk := make([]byte, 2*FrameSize)
	for i := range chunk {
		chunk[i] = byte(i % 251)
	}

	var out []byte
	for _, f := range r.Push(chunk[:90]) {
		out = append(out, f...)
	}
	for _, f := range r.Push(chunk[90:]) {
		out = append(out, f...)
	}
	out = append(out, r.Flush()...)

	if !bytes.Equal(out, chunk) {
		t.Error("repacketized stream does not match input byte order")
	}
}

func TestRepacketizer_FlushEmitsShortTail(t *testing.T) {
	r := NewRepacketizer()
	r.Push(make([]byte, FrameSize+25))

	tail := r.Flush()
	if len(tail) != 25 {
		t.Errorf("tail = %d bytes, want 25", len(tail))
	}
	if r.Buffered() != 0 {
		t.Errorf("buffered after flush = %d, want 0", r.Buffered())
	}
}

func TestRepacketizer_FlushEmptyReturnsNil(t *testing.T) {
	r := NewRepacketizer()
	if tail := r.Flush(); tail != nil {
		t.Errorf("Flush on empty = %v, want nil", tail)
	}
}
