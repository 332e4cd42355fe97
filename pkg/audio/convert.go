// Package audio provides the incremental Opus-in-WebM stream decoder and the
// small PCM conversion helpers used by the session engine.
//
// All pipeline-internal audio is 16 kHz mono float32 in [-1, 1]. The decoder
// accepts the encoded container bytes produced by a browser MediaRecorder and
// emits exactly that representation; the WAV helpers convert between it and
// the RIFF/PCM16 blobs used on the wire and on disk.
package audio

// Int16sToBytes converts a slice of int16 PCM samples to little-endian bytes.
func Int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// BytesToInt16s converts little-endian bytes to a slice of int16 PCM samples.
func BytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

// Float32ToInt16 converts normalised float32 samples to int16 PCM, clamping
// out-of-range values.
func Float32ToInt16(pcm []float32) []int16 {
	out := make([]int16, len(pcm))
	for i, s := range pcm {
		switch {
		case s >= 1:
			out[i] = 32767
		case s <= -1:
			out[i] = -32768
		default:
			out[i] = int16(s * 32767)
		}
	}
	return out
}

// Int16ToFloat32 converts int16 PCM samples to normalised float32.
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768
	}
	return out
}

// DecimateBy3 downsamples PCM by keeping every third sample. With 48 kHz
// input this yields 16 kHz output, which is the rate the recognition models
// consume; no anti-alias filter is applied.
func DecimateBy3(pcm []int16) []float32 {
	out := make([]float32, 0, len(pcm)/3+1)
	for i := 0; i < len(pcm); i += 3 {
		out = append(out, float32(pcm[i])/32768)
	}
	return out
}
