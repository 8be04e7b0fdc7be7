// Package g711 implements the μ-law half of ITU-T G.711, the 8-bit
// logarithmic PCM companding used by narrowband telephony, plus a frame-level
// RMS level meter.
//
// Decode is table-driven and allocation-free: it runs on every 20 ms carrier
// frame (50 Hz per call), so the hot path must not touch the allocator. The
// table values follow the ITU-T expansion exactly; they are part of the wire
// contract with the carrier, and deviating from them breaks interoperability.
package g711

import "math"

// bias is the μ-law encoding bias (0x84) defined by ITU-T G.711.
const bias = 0x84

// clip is the maximum linear magnitude representable before companding.
const clip = 32635

// decodeTable maps each of the 256 μ-law code words to its 16-bit linear PCM
// expansion. Built once at package init from the ITU-T algorithm.
var decodeTable [256]int16

func init() {
	for i := 0; i < 256; i++ {
		u := ^byte(i)
		exponent := (u >> 4) & 0x07
		mantissa := u & 0x0F
		magnitude := (int32(mantissa)<<3 + bias) << exponent
		magnitude -= bias
		if u&0x80 != 0 {
			decodeTable[i] = int16(-magnitude)
		} else {
			decodeTable[i] = int16(magnitude)
		}
	}
}

// Decode expands a single μ-law code word to 16-bit linear PCM.
func Decode(u byte) int16 {
	return decodeTable[u]
}

// DecodeSlice expands a μ-law byte slice into dst, which must be at least
// len(src) samples long. It returns the number of samples written. Passing a
// preallocated dst keeps the per-frame hot path allocation-free.
func DecodeSlice(dst []int16, src []byte) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = decodeTable[src[i]]
	}
	return n
}

// Encode compresses a 16-bit linear PCM sample to a μ-law code word.
func Encode(pcm int16) byte {
	sign := byte(0)
	sample := int32(pcm)
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > clip {
		sample = clip
	}
	sample += bias

	exponent := byte(7)
	for mask := int32(0x4000); mask != 0 && sample&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(sample>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// RMSDB returns the root-mean-square level of a PCM frame in decibels
// relative to full scale (dBFS). A frame of pure silence returns negative
// infinity. The result is always ≤ 0 for in-range input.
func RMSDB(pcm []int16) float64 {
	if len(pcm) == 0 {
		return math.Inf(-1)
	}
	var sum float64
	for _, s := range pcm {
		f := float64(s) / 32768.0
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(pcm)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}
