package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/voice-coach-lab/internal/playback"
)

// ErrUnsupported is returned for payloads that are neither WAV nor MP3.
var ErrUnsupported = errors.New("unsupported audio format")

// Decode turns a playback item into mono 16-bit PCM at rate.
func Decode(item playback.Item, rate int) ([]int16, error) {
	var (
		pcm []int16
		src int
		err error
	)
	switch {
	case isWAV(item):
		pcm, src, err = decodeWAV(item.Audio)
	case isMP3(item):
		pcm, src, err = decodeMP3(item.Audio)
	default:
		return nil, fmt.Errorf("%w: mime=%q", ErrUnsupported, item.MIME)
	}
	if err != nil {
		return nil, err
	}
	return Resample(pcm, src, rate), nil
}

func isWAV(item playback.Item) bool {
	return bytes.HasPrefix(item.Audio, []byte("RIFF")) || strings.Contains(item.MIME, "wav")
}

func isMP3(item playback.Item) bool {
	if strings.Contains(item.MIME, "mpeg") || strings.Contains(item.MIME, "mp3") {
		return true
	}
	b := item.Audio
	return bytes.HasPrefix(b, []byte("ID3")) || (len(b) > 1 && b[0] == 0xFF && b[1]&0xE0 == 0xE0)
}

func decodeWAV(data []byte) ([]int16, int, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	if buf == nil || buf.Format == nil || buf.Format.NumChannels == 0 {
		return nil, 0, fmt.Errorf("decode wav: missing format")
	}
	ch := buf.Format.NumChannels
	shift := int(d.BitDepth) - 16
	out := make([]int16, 0, len(buf.Data)/ch)
	for i := 0; i+ch <= len(buf.Data); i += ch {
		sum := 0
		for c := 0; c < ch; c++ {
			v := buf.Data[i+c]
			switch {
			case d.BitDepth == 8:
				v = (v - 128) << 8
			case shift > 0:
				v >>= uint(shift)
			}
			sum += v
		}
		out = append(out, clamp16(sum/ch))
	}
	return out, buf.Format.SampleRate, nil
}

// go-mp3 always yields interleaved stereo 16-bit little endian.
func decodeMP3(data []byte) ([]int16, int, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, 0, fmt.Errorf("decode mp3: %w", err)
	}
	out := make([]int16, 0, len(raw)/4)
	for i := 0; i+4 <= len(raw); i += 4 {
		l := int(int16(uint16(raw[i]) | uint16(raw[i+1])<<8))
		r := int(int16(uint16(raw[i+2]) | uint16(raw[i+3])<<8))
		out = append(out, int16((l+r)/2))
	}
	return out, d.SampleRate(), nil
}

// Resample converts pcm from src to dst Hz by linear interpolation.
func Resample(pcm []int16, src, dst int) []int16 {
	if src <= 0 || dst <= 0 || src == dst || len(pcm) == 0 {
		return pcm
	}
	n := int(int64(len(pcm)) * int64(dst) / int64(src))
	out := make([]int16, n)
	ratio := float64(src) / float64(dst)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j+1 >= len(pcm) {
			out[i] = pcm[len(pcm)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(pcm[j])*(1-frac) + float64(pcm[j+1])*frac)
	}
	return out
}

func clamp16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
