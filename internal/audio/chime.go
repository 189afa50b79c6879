package audio

import (
	"math"
	"time"
)

type tone struct {
	freq float64
	dur  time.Duration
}

// connectTones is the two-step rising chime played when a call connects.
var connectTones = []tone{
	{freq: 660, dur: 120 * time.Millisecond},
	{freq: 880, dur: 180 * time.Millisecond},
}

// ConnectChime renders the connect indicator as a mono WAV.
func ConnectChime(sampleRate int) []byte {
	var samples []int16
	for _, t := range connectTones {
		samples = append(samples, sine(t.freq, t.dur, sampleRate, 0.35)...)
	}
	return BuildWAV(PCM16(samples), sampleRate, 1, 16)
}

// sine renders a tone with a short linear fade at both ends to avoid clicks.
func sine(freq float64, dur time.Duration, sampleRate int, gain float64) []int16 {
	n := int(dur.Seconds() * float64(sampleRate))
	fade := sampleRate / 200
	out := make([]int16, n)
	for i := range out {
		env := 1.0
		if i < fade {
			env = float64(i) / float64(fade)
		} else if n-i < fade {
			env = float64(n-i) / float64(fade)
		}
		v := gain * env * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
		out[i] = int16(v * 32767)
	}
	return out
}
