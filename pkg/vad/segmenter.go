// Package vad converts the carrier's 20 ms μ-law frame stream into complete
// user turns using a dB-threshold voice activity detector.
//
// Carrier-side VAD is too coarse and a server-side VAD over a remote socket
// adds a round-trip; an energy threshold over narrowband telephony audio is
// simple and adequate. A bounded ring of pre-speech frames is prepended to
// each turn so consonant onsets are not clipped.
package vad

import (
	"time"

	"github.com/voxbridge-ai/voxbridge/pkg/g711"
)

// MinTurnDuration is the shortest utterance the segmenter will emit as a
// turn. Anything shorter is treated as a blip (cough, line noise) and
// discarded.
const MinTurnDuration = 300 * time.Millisecond

// FrameDuration is the duration of one carrier media frame.
const FrameDuration = 20 * time.Millisecond

// Config tunes the segmenter. The zero value is not usable; use the agent
// configuration defaults.
type Config struct {
	// SilenceThresholdDB is the RMS level (dBFS) at or above which a frame
	// counts as voiced.
	SilenceThresholdDB float64

	// SilenceDuration is how long the caller must stay below the threshold
	// before the turn is finalized.
	SilenceDuration time.Duration

	// PrefixPadding bounds the pre-speech ring buffer seeded into each turn.
	PrefixPadding time.Duration
}

// Turn is one complete user utterance: linear PCM (16-bit, 8 kHz, mono) from
// speech start, with up to PrefixPadding of pre-roll, through SilenceDuration
// of trailing silence.
type Turn struct {
	PCM      []int16
	Duration time.Duration
}

// Stats counts frames seen by the segmenter, for the end-of-call report.
type Stats struct {
	FramesReceived uint64
	FramesVoiced   uint64
}

// state is the segmenter's two-state machine.
type state int

const (
	stateIdle state = iota
	stateSpeaking
)

// Segmenter is the per-call turn detector. Frames must be pushed in arrival
// order from a single goroutine; the Segmenter does no locking.
type Segmenter struct {
	cfg Config

	st           state
	ring         [][]int16 // pre-speech frames, bounded to PrefixPadding
	ringFrames   int
	turnBuf      []int16
	turnStart    time.Time
	silenceStart time.Time

	stats Stats

	// scratch is the reusable decode buffer for one 160-sample frame.
	scratch [160]int16
}

// NewSegmenter creates a Segmenter with the given tuning.
func NewSegmenter(cfg Config) *Segmenter {
	frames := int(cfg.PrefixPadding / FrameDuration)
	if frames < 1 {
		frames = 1
	}
	return &Segmenter{
		cfg:        cfg,
		ring:       make([][]int16, 0, frames),
		ringFrames: frames,
	}
}

// Push decodes one μ-law media frame, advances the state machine, and
// returns a completed Turn when the caller has finished an utterance, or nil
// otherwise.
func (s *Segmenter) Push(ulaw []byte, now time.Time) *Turn {
	s.stats.FramesReceived++

	n := g711.DecodeSlice(s.scratch[:], ulaw)
	if len(ulaw) > len(s.scratch) {
		// Oversized frame; decode the remainder too rather than dropping audio.
		extra := make([]int16, len(ulaw)-len(s.scratch))
		g711.DecodeSlice(extra, ulaw[len(s.scratch):])
		pcm := append(append([]int16{}, s.scratch[:n]...), extra...)
		return s.push(pcm, now)
	}
	pcm := make([]int16, n)
	copy(pcm, s.scratch[:n])
	return s.push(pcm, now)
}

// PushPCM is Push for callers that already hold linear PCM. Used by tests.
func (s *Segmenter) PushPCM(pcm []int16, now time.Time) *Turn {
	s.stats.FramesReceived++
	return s.push(pcm, now)
}

func (s *Segmenter) push(pcm []int16, now time.Time) *Turn {
	voiced := g711.RMSDB(pcm) >= s.cfg.SilenceThresholdDB
	if voiced {
		s.stats.FramesVoiced++
	}

	switch s.st {
	case stateIdle:
		if !voiced {
			s.pushRing(pcm)
			return nil
		}
		// Speech start: seed the turn with the entire prefix ring.
		s.st = stateSpeaking
		s.turnStart = now
		s.silenceStart = time.Time{}
		s.turnBuf = s.turnBuf[:0]
		for _, f := range s.ring {
			s.turnBuf = append(s.turnBuf, f...)
		}
		s.ring = s.ring[:0]
		s.turnBuf = append(s.turnBuf, pcm...)
		return nil

	case stateSpeaking:
		s.turnBuf = append(s.turnBuf, pcm...)
		if voiced {
			s.silenceStart = time.Time{}
			return nil
		}
		if s.silenceStart.IsZero() {
			s.silenceStart = now
			return nil
		}
		// Equality counts as silence long enough.
		if now.Sub(s.silenceStart) >= s.cfg.SilenceDuration {
			return s.finalize(now)
		}
		return nil
	}
	return nil
}

// finalize emits the buffered turn if it meets the minimum duration, then
// resets to Idle either way.
func (s *Segmenter) finalize(now time.Time) *Turn {
	dur := now.Sub(s.turnStart)
	s.st = stateIdle
	s.silenceStart = time.Time{}

	if dur < MinTurnDuration {
		s.turnBuf = s.turnBuf[:0]
		return nil
	}

	pcm := make([]int16, len(s.turnBuf))
	copy(pcm, s.turnBuf)
	s.turnBuf = s.turnBuf[:0]
	return &Turn{PCM: pcm, Duration: dur}
}

// pushRing appends a frame to the bounded prefix ring, evicting the oldest
// frame once the ring is full.
func (s *Segmenter) pushRing(pcm []int16) {
	if len(s.ring) == s.ringFrames {
		copy(s.ring, s.ring[1:])
		s.ring = s.ring[:len(s.ring)-1]
	}
	s.ring = append(s.ring, pcm)
}

// Speaking reports whether the segmenter is currently inside an utterance.
func (s *Segmenter) Speaking() bool {
	return s.st == stateSpeaking
}

// Stats returns a copy of the frame counters.
func (s *Segmenter) Stats() Stats {
	return s.stats
}
