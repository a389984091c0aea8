// Package audio has the small PCM helpers shared by the speech services and
// the WebSocket session: WAV framing, loudness and a bounded utterance buffer.
package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// BytesPerSample is fixed: all PCM on the wire is signed 16-bit little endian mono.
	BytesPerSample = 2
	Channels       = 1
)

// EncodeWAV wraps raw PCM16 mono samples in a RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate int) []byte {
	var buf bytes.Buffer
	dataLen := uint32(len(pcm))
	byteRate := uint32(sampleRate * Channels * BytesPerSample)

	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, 36+dataLen)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, byteRate)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(Channels*BytesPerSample))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(8*BytesPerSample))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, dataLen)
	buf.Write(pcm)
	return buf.Bytes()
}

// DecodeWAV returns the PCM payload and sample rate of a 16-bit mono WAV file.
func DecodeWAV(b []byte) ([]byte, int, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("decode wav: not a RIFF/WAVE file")
	}
	var (
		sampleRate int
		bits       uint16
		channels   uint16
		haveFmt    bool
	)
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		if body+size > len(b) {
			size = len(b) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, 0, fmt.Errorf("decode wav: short fmt chunk")
			}
			channels = binary.LittleEndian.Uint16(b[body+2 : body+4])
			sampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits = binary.LittleEndian.Uint16(b[body+14 : body+16])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("decode wav: data before fmt chunk")
			}
			if bits != 16 || channels != Channels {
				return nil, 0, fmt.Errorf("decode wav: want 16-bit mono, got %d-bit %d channels", bits, channels)
			}
			return b[body : body+size], sampleRate, nil
		}
		off = body + size + size%2
	}
	return nil, 0, fmt.Errorf("decode wav: missing data chunk")
}

// RMS is the root-mean-square level of PCM16 samples normalized to [0,1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / BytesPerSample
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768.0
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// Scale multiplies every sample by gain, clipping at the int16 range.
func Scale(pcm []byte, gain float64) []byte {
	out := make([]byte, len(pcm)-len(pcm)%BytesPerSample)
	for i := 0; i+1 < len(pcm); i += BytesPerSample {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) * gain
		v = math.Max(math.MinInt16, math.Min(math.MaxInt16, math.Round(v)))
		binary.LittleEndian.PutUint16(out[i:], uint16(int16(v)))
	}
	return out
}

// Normalize scales PCM so its loudest sample sits at peak (0..1] of full
// scale. Silence is returned unchanged.
func Normalize(pcm []byte, peak float64) []byte {
	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += BytesPerSample {
		v := math.Abs(float64(int16(binary.LittleEndian.Uint16(pcm[i:]))))
		maxAbs = math.Max(maxAbs, v)
	}
	if maxAbs == 0 {
		return pcm
	}
	return Scale(pcm, peak*math.MaxInt16/maxAbs)
}

// Duration of a PCM16 mono payload at the given rate.
func Duration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}

// Buffer accumulates one utterance. When it reaches its capacity the oldest
// samples are dropped so the newest speech is kept. Not safe for concurrent use.
type Buffer struct {
	data     []byte
	capacity int
}

// NewBuffer sizes a buffer for maxDuration of audio at sampleRate.
func NewBuffer(sampleRate int, maxDuration time.Duration) *Buffer {
	capacity := int(int64(sampleRate) * int64(maxDuration) / int64(time.Second) * BytesPerSample)
	if capacity <= 0 {
		capacity = BytesPerSample
	}
	return &Buffer{capacity: capacity}
}

// Append adds a chunk. A trailing odd byte is discarded.
func (b *Buffer) Append(chunk []byte) {
	if len(chunk)%BytesPerSample != 0 {
		chunk = chunk[:len(chunk)-1]
	}
	if len(chunk) == 0 {
		return
	}
	if len(chunk) >= b.capacity {
		b.data = append(b.data[:0], chunk[len(chunk)-b.capacity:]...)
		return
	}
	if over := len(b.data) + len(chunk) - b.capacity; over > 0 {
		b.data = append(b.data[:0], b.data[over:]...)
	}
	b.data = append(b.data, chunk...)
}

// Bytes returns a copy of the buffered PCM.
func (b *Buffer) Bytes() []byte {
	return append([]byte(nil), b.data...)
}

func (b *Buffer) Len() int { return len(b.data) }

func (b *Buffer) Reset() { b.data = b.data[:0] }
