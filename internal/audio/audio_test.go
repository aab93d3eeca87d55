package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// quantizationStep returns the mu-law quantization interval width for the
// segment a linear sample falls into.
func quantizationStep(sample int16) int32 {
	s := int32(sample)
	if s < 0 {
		s = -s
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias
	exponent := int32(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	return 1 << uint(exponent+3)
}

// Mu-law companding is lossy; the contract is that a round trip stays within
// one quantization step of the original sample.
func TestMulawRoundTripBound(t *testing.T) {
	inputs := []int16{0, 1, -1, 7, 100, -100, 1000, -1000, 8000, -8000, 16383, -16384, 32000, -32000, 32767, -32768}
	for _, in := range inputs {
		got := DecodeMulawSample(EncodeMulawSample(in))
		diff := int32(got) - int32(in)
		if diff < 0 {
			diff = -diff
		}
		// Clipped samples can be off by the clip margin plus one step.
		limit := quantizationStep(in)
		if in > mulawClip || int32(in) < -int32(mulawClip) {
			limit += 32767 - mulawClip
		}
		if diff > limit {
			t.Fatalf("sample %d: round trip gave %d (diff %d > step %d)", in, got, diff, limit)
		}
	}
}

func TestMulawRoundTripStable(t *testing.T) {
	// After one lossy round trip, further round trips are exact.
	for s := int32(-32768); s <= 32767; s += 257 {
		once := DecodeMulawSample(EncodeMulawSample(int16(s)))
		twice := DecodeMulawSample(EncodeMulawSample(once))
		if once != twice {
			t.Fatalf("sample %d: second round trip drifted %d -> %d", s, once, twice)
		}
	}
}

func TestMulawSilence(t *testing.T) {
	if got := DecodeMulawSample(EncodeMulawSample(0)); got != 0 {
		t.Fatalf("silence round trip = %d, want 0", got)
	}
}

func TestUpsampleDoublesEachSample(t *testing.T) {
	in := []byte{EncodeMulawSample(1000), EncodeMulawSample(-2000)}
	out, err := UpsampleTelephonyToAI(in)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(out))
	}
	for i, b := range in {
		want := uint16(DecodeMulawSample(b))
		first := binary.LittleEndian.Uint16(out[i*4:])
		second := binary.LittleEndian.Uint16(out[i*4+2:])
		if first != want || second != want {
			t.Fatalf("sample %d not duplicated: got %d,%d want %d", i, first, second, want)
		}
	}
}

func TestUpsampleEmptyPayload(t *testing.T) {
	if _, err := UpsampleTelephonyToAI(nil); err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestDownsampleAveragesTriples(t *testing.T) {
	// Six 24kHz samples -> two mu-law bytes.
	samples := []int16{300, 600, 900, -300, -600, -900}
	in := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}

	out, err := DownsampleAIToTelephony(in)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	want := []byte{EncodeMulawSample(600), EncodeMulawSample(-600)}
	if !bytes.Equal(out, want) {
		t.Fatalf("got %v want %v", out, want)
	}
}

func TestDownsampleReusesBoundarySamples(t *testing.T) {
	// Four samples: second triple is short by two and reuses the tail sample.
	samples := []int16{300, 300, 300, 900}
	in := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}

	out, err := DownsampleAIToTelephony(in)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 bytes, got %d", len(out))
	}
	if out[1] != EncodeMulawSample(900) {
		t.Fatalf("boundary triple not filled from tail sample")
	}
}

func TestDownsampleRejectsOddLength(t *testing.T) {
	if _, err := DownsampleAIToTelephony([]byte{0x01, 0x02, 0x03}); err != ErrOddPCMLength {
		t.Fatalf("expected ErrOddPCMLength, got %v", err)
	}
}

func TestEncodeClipsExtremes(t *testing.T) {
	hi := DecodeMulawSample(EncodeMulawSample(32767))
	lo := DecodeMulawSample(EncodeMulawSample(-32768))
	if hi < 30000 || lo > -30000 {
		t.Fatalf("clipped extremes decode too small: %d %d", hi, lo)
	}
}
