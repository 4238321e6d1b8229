package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// Decoder turns a finished take into a SampleBuffer.
type Decoder interface {
	Decode(data []byte) (*SampleBuffer, error)
}

// DecoderFunc adapts a function to the Decoder interface.
type DecoderFunc func(data []byte) (*SampleBuffer, error)

func (f DecoderFunc) Decode(data []byte) (*SampleBuffer, error) { return f(data) }

// Registry picks a decoder by sniffing the container magic.
type Registry struct {
	codecs map[string]Decoder
	mtx    sync.Mutex
}

// NewRegistry returns a registry with the WAV, AIFF, MP3 and Ogg Vorbis
// decoders installed.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Decoder)}
	r.Register("wav", DecoderFunc(decodeWAV))
	r.Register("aiff", DecoderFunc(decodeAIFF))
	r.Register("mp3", DecoderFunc(decodeMP3))
	r.Register("ogg", DecoderFunc(decodeVorbis))
	return r
}

func (r *Registry) Register(format string, d Decoder) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.codecs[format] = d
}

func (r *Registry) Get(format string) (Decoder, bool) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	d, ok := r.codecs[format]
	return d, ok
}

// Decode sniffs the format and dispatches. Every failure wraps ErrDecode.
func (r *Registry) Decode(data []byte) (*SampleBuffer, error) {
	format := Sniff(data)
	if format == "" {
		return nil, fmt.Errorf("%w: %w", ErrDecode, ErrUnsupportedFormat)
	}

	d, ok := r.Get(format)
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for %s: %w", ErrDecode, format, ErrUnsupportedFormat)
	}

	buf, err := d.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecode, format, err)
	}
	if buf == nil || buf.Frames() == 0 {
		return nil, fmt.Errorf("%w: %s stream contains no audio", ErrDecode, format)
	}
	return buf, nil
}

// Sniff reports the container format from its leading bytes, or "" if unknown.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return "wav"
	case len(data) >= 12 && bytes.Equal(data[:4], []byte("FORM")) &&
		(bytes.Equal(data[8:12], []byte("AIFF")) || bytes.Equal(data[8:12], []byte("AIFC"))):
		return "aiff"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte("OggS")):
		return "ogg"
	case len(data) >= 3 && bytes.Equal(data[:3], []byte("ID3")):
		return "mp3"
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return "mp3"
	}
	return ""
}

func decodeWAV(data []byte) (*SampleBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid wav file")
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading wav pcm: %w", err)
	}

	return intBufferToSamples(pcm, int(dec.BitDepth), true)
}

func decodeAIFF(data []byte) (*SampleBuffer, error) {
	dec := aiff.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("not a valid aiff file")
	}
	dec.ReadInfo()

	format := dec.Format()
	if format == nil {
		return nil, fmt.Errorf("aiff file has no format chunk")
	}

	pcm := &goaudio.IntBuffer{Format: format}
	chunk := &goaudio.IntBuffer{Format: format, Data: make([]int, 4096*format.NumChannels)}
	for {
		n, err := dec.PCMBuffer(chunk)
		pcm.Data = append(pcm.Data, chunk.Data[:n]...)
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("reading aiff pcm: %w", err)
		}
		if n == 0 || err == io.EOF {
			break
		}
	}

	return intBufferToSamples(pcm, int(dec.BitDepth), false)
}

func decodeMP3(data []byte) (*SampleBuffer, error) {
	dec, err := gomp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening mp3 stream: %w", err)
	}

	// go-mp3 always yields 16-bit little-endian stereo
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("reading mp3 stream: %w", err)
	}

	samples := make([]float32, len(raw)/2)
	for i := range samples {
		v := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		samples[i] = float32(v) / 32768.0
	}

	return FromInterleaved(dec.SampleRate(), 2, samples)
}

func decodeVorbis(data []byte) (*SampleBuffer, error) {
	samples, format, err := oggvorbis.ReadAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading vorbis stream: %w", err)
	}

	return FromInterleaved(format.SampleRate, format.Channels, samples)
}

// unsigned8 marks 8-bit data stored unsigned (WAV) rather than signed (AIFF).
func intBufferToSamples(pcm *goaudio.IntBuffer, bitDepth int, unsigned8 bool) (*SampleBuffer, error) {
	if pcm == nil || pcm.Format == nil {
		return nil, fmt.Errorf("missing pcm format")
	}

	var maxVal float32
	switch bitDepth {
	case 8:
		maxVal = 128.0
	case 16:
		maxVal = 32768.0
	case 24:
		maxVal = 8388608.0
	case 32:
		maxVal = 2147483648.0
	default:
		return nil, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}

	samples := make([]float32, len(pcm.Data))
	for i, v := range pcm.Data {
		if bitDepth == 8 && unsigned8 {
			v -= 128
		}
		samples[i] = float32(v) / maxVal
	}

	return FromInterleaved(pcm.Format.SampleRate, pcm.Format.NumChannels, samples)
}
