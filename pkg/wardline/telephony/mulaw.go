// Package telephony – mulaw.go implements the G.711 µ-law companding used
// for 8 kHz telephone media frames, plus the transcode from the 24 kHz
// 16-bit PCM produced by speech synthesis down to the telephone codec.
package telephony

import "encoding/binary"

const (
	muLawBias = 0x84
	muLawClip = 32635
)

// muLawCompressTable maps the top bits of a biased sample to its segment.
var muLawCompressTable = [256]byte{
	0, 0, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 3, 3, 3, 3,
	4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4,
	5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5,
	5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5, 5,
	6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6,
	6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6,
	6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6,
	6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6, 6,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
	7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7, 7,
}

// MulawEncodeSample compands one linear 16-bit sample to µ-law.
func MulawEncodeSample(sample int16) byte {
	sign := byte(0)
	x := int(sample)
	if x < 0 {
		x = -x
		sign = 0x80
	}
	if x > muLawClip {
		x = muLawClip
	}
	x += muLawBias
	exponent := muLawCompressTable[(x>>7)&0xFF]
	mantissa := byte((x >> (uint(exponent) + 3)) & 0x0F)
	return ^(sign | exponent<<4 | mantissa)
}

// MulawDecodeSample expands one µ-law byte to a linear 16-bit sample.
func MulawDecodeSample(u byte) int16 {
	u = ^u
	t := (int(u&0x0F) << 3) + muLawBias
	t <<= (u & 0x70) >> 4
	if u&0x80 != 0 {
		return int16(muLawBias - t)
	}
	return int16(t - muLawBias)
}

// MulawEncode compands a little-endian 16-bit PCM buffer to µ-law bytes.
func MulawEncode(pcm []byte) []byte {
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = MulawEncodeSample(s)
	}
	return out
}

// MulawDecode expands µ-law bytes to little-endian 16-bit PCM.
func MulawDecode(mulaw []byte) []byte {
	out := make([]byte, len(mulaw)*2)
	for i, u := range mulaw {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(MulawDecodeSample(u)))
	}
	return out
}

// DownsamplePCM24kTo8k reduces 24 kHz 16-bit mono PCM to 8 kHz by averaging
// each group of three samples (a cheap low-pass before decimation).
func DownsamplePCM24kTo8k(pcm []byte) []byte {
	samples := len(pcm) / 2
	outSamples := samples / 3
	out := make([]byte, outSamples*2)
	for i := 0; i < outSamples; i++ {
		var sum int
		for j := 0; j < 3; j++ {
			sum += int(int16(binary.LittleEndian.Uint16(pcm[(i*3+j)*2:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/3)))
	}
	return out
}

// TranscodePCM24kToMulaw converts synthesized 24 kHz 16-bit mono PCM into
// the 8 kHz µ-law frames the telephone leg expects.
func TranscodePCM24kToMulaw(pcm []byte) []byte {
	return MulawEncode(DownsamplePCM24kTo8k(pcm))
}
