package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"
)

const (
	// go-mp3 emits this many samples of latency ahead of the stream.
	mp3DecoderLatency = 924
	// LAME's usual padding when the file carries no Info tag.
	mp3DefaultPadding = 576

	lameTagScan     = 4096
	lameDelayOffset = 21
	lameMaxDelay    = 4096
)

// loadMP3 decodes an MP3 file to mono and drops the encoder padding and
// decoder latency, so sample 0 is the first sample of the source audio.
func loadMP3(path string) (Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("read mp3: %w", err)
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Buffer{}, fmt.Errorf("mp3 header: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return Buffer{}, fmt.Errorf("decode mp3: %w", err)
	}

	// go-mp3 always yields interleaved stereo
	mono := Mixdown(pcm16(raw), 2)

	skip := lamePadding(data[:min(len(data), lameTagScan)]) + mp3DecoderLatency
	if skip < len(mono) {
		mono = mono[skip:]
	}
	if len(mono) == 0 {
		return Buffer{}, fmt.Errorf("mp3 has no samples: %s", path)
	}

	return Buffer{Samples: mono, SampleRate: dec.SampleRate()}, nil
}

// pcm16 converts little-endian signed 16-bit PCM to [-1, 1).
func pcm16(raw []byte) []float64 {
	out := make([]float64, len(raw)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return out
}

// lamePadding reads the encoder delay from a LAME Info tag: the upper 12 bits
// of the 3-byte field that starts 21 bytes after "LAME".
func lamePadding(head []byte) int {
	i := bytes.Index(head, []byte("LAME"))
	if i < 0 || i+lameDelayOffset+2 > len(head) {
		return mp3DefaultPadding
	}

	field := head[i+lameDelayOffset:]
	delay := int(field[0])<<4 | int(field[1])>>4
	if delay > lameMaxDelay {
		return mp3DefaultPadding
	}
	return delay
}
