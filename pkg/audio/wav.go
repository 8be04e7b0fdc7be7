// Package audio provides the byte-level audio plumbing between the carrier
// and the cloud providers: RIFF/WAVE framing for STT uploads, PCM slice
// conversion, and repacketization of provider output into fixed-size
// telephony frames.
package audio

import (
	"bytes"
	"encoding/binary"
)

// WAVHeaderSize is the size of the canonical RIFF header produced by
// WAVFromPCM16.
const WAVHeaderSize = 44

// WAVFromPCM16 wraps raw little-endian 16-bit mono PCM in a 44-byte
// RIFF/WAVE header. The result is suitable as an HTTP upload body for
// batch transcription endpoints.
func WAVFromPCM16(pcm []byte, sampleRate int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, WAVHeaderSize+len(pcm)))

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))           // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(1))            // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1))            // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))   // sample rate
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}

// PCM16Bytes converts a slice of 16-bit samples to little-endian bytes.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
