package mix

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	wavHeaderSize = 44
	wavChannels   = 2
	wavBits       = 16
)

// Quantize clamps each sample to [-1, 1] and converts it to 16-bit PCM,
// interleaved left/right. Negative values scale by 32768 and positive ones
// by 32767; both truncate toward zero.
func Quantize(m *MasterMix) []int16 {
	out := make([]int16, 2*m.Frames())
	for i := range m.Left {
		out[2*i] = quantizeSample(m.Left[i])
		out[2*i+1] = quantizeSample(m.Right[i])
	}
	return out
}

func quantizeSample(v float32) int16 {
	s := float64(max(-1, min(1, v)))
	if s < 0 {
		return int16(s * 32768)
	}
	return int16(s * 32767)
}

// EncodeWAV writes a 44-byte canonical header followed by interleaved stereo
// 16-bit little-endian samples.
func EncodeWAV(w io.Writer, sampleRate int, samples []int16) error {
	blockAlign := uint16(wavChannels * wavBits / 8)
	byteRate := uint32(sampleRate) * uint32(blockAlign)
	dataSize := uint32(len(samples) * 2)

	header := make([]byte, wavHeaderSize)

	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+dataSize)
	copy(header[8:12], "WAVE")

	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], wavChannels)
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], byteRate)
	binary.LittleEndian.PutUint16(header[32:34], blockAlign)
	binary.LittleEndian.PutUint16(header[34:36], wavBits)

	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], dataSize)

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing wav header: %w", err)
	}

	const chunkSize = 8192
	buf := make([]byte, 0, min(len(samples), chunkSize)*2)
	for i := 0; i < len(samples); i += chunkSize {
		chunk := samples[i:min(i+chunkSize, len(samples))]
		buf = buf[:len(chunk)*2]
		for j, s := range chunk {
			binary.LittleEndian.PutUint16(buf[2*j:], uint16(s))
		}
		if _, err := w.Write(buf); err != nil {
			return fmt.Errorf("writing wav data: %w", err)
		}
	}
	return nil
}
