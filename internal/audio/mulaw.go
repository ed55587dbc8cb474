// Package audio handles the 8 kHz G.711 μ-law audio carried on telephony
// media streams.
package audio

import "time"

const (
	// SampleRate of telephony media streams.
	SampleRate = 8000
	// SilenceByte is μ-law zero amplitude.
	SilenceByte byte = 0xFF
	// DefaultVoiceThreshold is the mean absolute PCM16 amplitude above
	// which a frame counts as speech.
	DefaultVoiceThreshold = 500
)

const mulawBias = 0x84

// DecodeMulaw expands one μ-law byte to a linear PCM16 sample.
func DecodeMulaw(b byte) int16 {
	u := ^b
	exponent := (u >> 4) & 0x07
	mantissa := int32(u & 0x0F)
	sample := ((mantissa << 3) + mulawBias) << exponent
	sample -= mulawBias
	if u&0x80 != 0 {
		return int16(-sample)
	}
	return int16(sample)
}

// DecodeMulawFrame expands a μ-law frame to PCM16 samples.
func DecodeMulawFrame(frame []byte) []int16 {
	out := make([]int16, len(frame))
	for i, b := range frame {
		out[i] = DecodeMulaw(b)
	}
	return out
}

// MeanAmplitude is the mean absolute PCM16 amplitude of a μ-law frame.
func MeanAmplitude(frame []byte) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum int64
	for _, b := range frame {
		s := int64(DecodeMulaw(b))
		if s < 0 {
			s = -s
		}
		sum += s
	}
	return float64(sum) / float64(len(frame))
}

// IsVoiced reports whether a μ-law frame carries more than line noise.
// threshold <= 0 selects DefaultVoiceThreshold.
func IsVoiced(frame []byte, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultVoiceThreshold
	}
	return MeanAmplitude(frame) > threshold
}

// Silence returns d worth of μ-law silence.
func Silence(d time.Duration) []byte {
	n := FrameLen(d)
	out := make([]byte, n)
	for i := range out {
		out[i] = SilenceByte
	}
	return out
}

// FrameLen is the number of μ-law bytes covering d.
func FrameLen(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d * SampleRate / time.Second)
}

// Duration is the playback time of n μ-law bytes.
func Duration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / SampleRate
}
