package telephony

import (
	"encoding/binary"
	"math"
	"testing"
)

func TestMulawSampleRoundtrip(t *testing.T) {
	// Companding is lossy; the error must stay within the segment's
	// quantization step.
	for _, sample := range []int16{0, 1, -1, 100, -100, 1000, -1000, 8000, -8000, 30000, -30000} {
		decoded := MulawDecodeSample(MulawEncodeSample(sample))
		diff := math.Abs(float64(decoded) - float64(sample))
		limit := math.Max(64, math.Abs(float64(sample))*0.06)
		if diff > limit {
			t.Errorf("sample %d decoded to %d (diff %.0f > %.0f)", sample, decoded, diff, limit)
		}
	}
}

func TestMulawSilence(t *testing.T) {
	// Zero encodes to 0xFF in µ-law.
	if got := MulawEncodeSample(0); got != 0xFF {
		t.Errorf("silence: got %#x want 0xff", got)
	}
	if got := MulawDecodeSample(0xFF); got != 0 {
		t.Errorf("decoded silence: got %d want 0", got)
	}
}

func TestMulawBufferRoundtrip(t *testing.T) {
	pcm := make([]byte, 16)
	for i, s := range []int16{0, 512, -512, 16000, -16000, 32000, -32000, 7} {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}

	encoded := MulawEncode(pcm)
	if len(encoded) != 8 {
		t.Fatalf("encoded length: got %d want 8", len(encoded))
	}
	decoded := MulawDecode(encoded)
	if len(decoded) != 16 {
		t.Fatalf("decoded length: got %d want 16", len(decoded))
	}
}

func TestDownsamplePCM24kTo8k(t *testing.T) {
	// 9 samples in, 3 out, each the average of its group of three.
	in := make([]byte, 18)
	values := []int16{300, 600, 900, -300, -600, -900, 0, 0, 3}
	for i, s := range values {
		binary.LittleEndian.PutUint16(in[i*2:], uint16(s))
	}

	out := DownsamplePCM24kTo8k(in)
	if len(out) != 6 {
		t.Fatalf("output length: got %d want 6", len(out))
	}
	want := []int16{600, -600, 1}
	for i, w := range want {
		got := int16(binary.LittleEndian.Uint16(out[i*2:]))
		if got != w {
			t.Errorf("sample %d: got %d want %d", i, got, w)
		}
	}
}

func TestTranscodePCM24kToMulaw(t *testing.T) {
	// One second of synthesized audio becomes one second of telephone audio.
	pcm := make([]byte, 24000*2)
	out := TranscodePCM24kToMulaw(pcm)
	if len(out) != 8000 {
		t.Fatalf("transcoded length: got %d want 8000", len(out))
	}
}
