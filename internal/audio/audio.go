// Package audio converts between telephony mu-law audio (G.711, 8kHz mono)
// and the linear PCM formats the conversational AI engine speaks:
// 16-bit/16kHz on the way in, 16-bit/24kHz on the way out.
//
// All conversions here are lossy and non-reversible: mu-law companding
// quantizes logarithmically, the 8k->16k upsample duplicates samples rather
// than interpolating, and the 24k->8k downsample averages sample triples.
// Call quality over fidelity; these run on the hot path of every live call.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

var ErrOddPCMLength = errors.New("audio: pcm buffer length must be even")

// DecodeMulawSample expands one mu-law byte to a linear 16-bit sample.
func DecodeMulawSample(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F

	s := ((int32(mantissa) << 3) + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}

// EncodeMulawSample compresses one linear 16-bit sample to mu-law.
func EncodeMulawSample(sample int16) byte {
	s := int32(sample)
	var sign byte
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(s>>(exponent+3)) & 0x0F
	return ^(sign | exponent<<4 | mantissa)
}

// DecodeMulaw expands a mu-law buffer to linear samples.
func DecodeMulaw(b []byte) []int16 {
	out := make([]int16, len(b))
	for i, v := range b {
		out[i] = DecodeMulawSample(v)
	}
	return out
}

// EncodeMulaw compresses linear samples to a mu-law buffer.
func EncodeMulaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeMulawSample(s)
	}
	return out
}

// UpsampleTelephonyToAI converts a mu-law 8kHz payload to 16-bit
// little-endian PCM at 16kHz. Each decoded sample is written twice
// (nearest-neighbor upsample, not interpolated).
func UpsampleTelephonyToAI(mulaw []byte) ([]byte, error) {
	if len(mulaw) == 0 {
		return nil, fmt.Errorf("audio: empty mu-law payload")
	}
	out := make([]byte, len(mulaw)*4)
	for i, v := range mulaw {
		s := uint16(DecodeMulawSample(v))
		binary.LittleEndian.PutUint16(out[i*4:], s)
		binary.LittleEndian.PutUint16(out[i*4+2:], s)
	}
	return out, nil
}

// DownsampleAIToTelephony converts 16-bit little-endian PCM at 24kHz to a
// mu-law 8kHz payload by averaging each consecutive triple of samples into
// one. When the input is not a multiple of three samples, the trailing
// sample(s) are reused to fill the final triple.
func DownsampleAIToTelephony(pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("audio: empty pcm payload")
	}
	if len(pcm)%2 != 0 {
		return nil, ErrOddPCMLength
	}

	samples := len(pcm) / 2
	outLen := (samples + 2) / 3
	out := make([]byte, outLen)

	sampleAt := func(i int) int32 {
		if i >= samples {
			i = samples - 1
		}
		return int32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	for i := 0; i < outLen; i++ {
		base := i * 3
		avg := (sampleAt(base) + sampleAt(base+1) + sampleAt(base+2)) / 3
		out[i] = EncodeMulawSample(int16(avg))
	}
	return out, nil
}
