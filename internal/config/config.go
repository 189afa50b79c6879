// Package config loads the call engine settings from the environment.
// Every value has a default so an empty environment yields a working call.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// VAD holds the voice activity and noise floor settings.
type VAD struct {
	NoiseFloorUpdate  time.Duration
	NoiseAlpha        float64
	NoiseFloorInitial float64
	NoiseFloorMin     float64
	NoiseFloorMax     float64
	ThresholdMult     float64
	ThresholdMin      float64
	ThresholdMax      float64
	Silence           time.Duration
	MinSpeech         time.Duration
}

// BargeIn holds the interruption rules applied while AI audio plays.
type BargeIn struct {
	Cooldown  time.Duration
	ExtraMult float64
	MinHold   time.Duration
}

// Turns holds utterance coalescing and dedupe windows.
type Turns struct {
	MergeWindow  time.Duration
	DedupeWindow time.Duration
}

// Playback holds the output element timeouts.
type Playback struct {
	ReadyTimeout time.Duration
	HardTimeout  time.Duration
	DefaultMIME  string
}

// Backend holds the coach service endpoints.
type Backend struct {
	BaseURL          string
	TranscribePath   string
	TurnPath         string
	GreetingPath     string
	AuthToken        string
	TranscribeModel  string
	TranscribeFormat string
	Timeout          time.Duration
}

// TranscribeURL returns the full transcription endpoint.
func (b Backend) TranscribeURL() string { return join(b.BaseURL, b.TranscribePath) }

// TurnURL returns the full coach turn endpoint.
func (b Backend) TurnURL() string { return join(b.BaseURL, b.TurnPath) }

// GreetingURL returns the full greeting endpoint.
func (b Backend) GreetingURL() string { return join(b.BaseURL, b.GreetingPath) }

// Device holds the local audio device settings.
type Device struct {
	SampleRate      int
	FramesPerBuffer int
}

// Archive holds the optional turn archive settings.
type Archive struct {
	Dir       string
	Retention time.Duration
	Interval  time.Duration
	MaxFiles  int
}

// Config is the complete engine configuration.
type Config struct {
	VAD      VAD
	BargeIn  BargeIn
	Turns    Turns
	Playback Playback
	Backend  Backend
	Device   Device
	Archive  Archive

	Tick         time.Duration
	ConnectChime bool
	// IdleTimeout is a ceiling for idle calls. It is carried but not enforced.
	IdleTimeout time.Duration
	DeviceID    string
	ListenAddr  string
}

// Default returns the configuration used when no environment is set.
func Default() Config {
	return Config{
		VAD: VAD{
			NoiseFloorUpdate:  250 * time.Millisecond,
			NoiseAlpha:        0.10,
			NoiseFloorInitial: 0.01,
			NoiseFloorMin:     0.004,
			NoiseFloorMax:     0.055,
			ThresholdMult:     2.25,
			ThresholdMin:      0.018,
			ThresholdMax:      0.095,
			Silence:           1400 * time.Millisecond,
			MinSpeech:         420 * time.Millisecond,
		},
		BargeIn: BargeIn{
			Cooldown:  900 * time.Millisecond,
			ExtraMult: 1.55,
			MinHold:   240 * time.Millisecond,
		},
		Turns: Turns{
			MergeWindow:  1600 * time.Millisecond,
			DedupeWindow: 2200 * time.Millisecond,
		},
		Playback: Playback{
			ReadyTimeout: 2500 * time.Millisecond,
			HardTimeout:  45 * time.Second,
			DefaultMIME:  "audio/mpeg",
		},
		Backend: Backend{
			BaseURL:          "http://127.0.0.1:8787",
			TranscribePath:   "/api/transcribe",
			TurnPath:         "/api/voice-turn",
			GreetingPath:     "/api/voice-greeting",
			TranscribeModel:  "whisper-1",
			TranscribeFormat: "json",
			Timeout:          30 * time.Second,
		},
		Device: Device{
			SampleRate:      16000,
			FramesPerBuffer: 512,
		},
		Archive: Archive{
			Retention: 24 * time.Hour,
			Interval:  10 * time.Minute,
			MaxFiles:  500,
		},
		Tick:         16 * time.Millisecond,
		ConnectChime: true,
		IdleTimeout:  10 * time.Minute,
		ListenAddr:   "127.0.0.1:8090",
	}
}

// Load returns Default overridden by environment variables.
func Load() Config {
	c := Default()

	c.VAD.NoiseFloorUpdate = envDuration("VAD_NOISE_FLOOR_UPDATE_MS", c.VAD.NoiseFloorUpdate)
	c.VAD.NoiseAlpha = envFloat("VAD_NOISE_ALPHA", c.VAD.NoiseAlpha)
	c.VAD.ThresholdMult = envFloat("VAD_THRESHOLD_MULT", c.VAD.ThresholdMult)
	c.VAD.ThresholdMin = envFloat("VAD_THRESHOLD_MIN", c.VAD.ThresholdMin)
	c.VAD.ThresholdMax = envFloat("VAD_THRESHOLD_MAX", c.VAD.ThresholdMax)
	c.VAD.Silence = envDuration("VAD_SILENCE_MS", c.VAD.Silence)
	c.VAD.MinSpeech = envDuration("VAD_MIN_SPEECH_MS", c.VAD.MinSpeech)

	c.BargeIn.Cooldown = envDuration("BARGE_COOLDOWN_MS", c.BargeIn.Cooldown)
	c.BargeIn.ExtraMult = envFloat("BARGE_EXTRA_MULT", c.BargeIn.ExtraMult)
	c.BargeIn.MinHold = envDuration("BARGE_MIN_HOLD_MS", c.BargeIn.MinHold)

	c.Turns.MergeWindow = envDuration("VAD_MERGE_WINDOW_MS", c.Turns.MergeWindow)
	c.Turns.DedupeWindow = envDuration("USER_TURN_DEDUPE_MS", c.Turns.DedupeWindow)

	c.Playback.ReadyTimeout = envDuration("PLAYBACK_READY_TIMEOUT_MS", c.Playback.ReadyTimeout)
	c.Playback.HardTimeout = envDuration("PLAYBACK_HARD_TIMEOUT_MS", c.Playback.HardTimeout)

	c.Backend.BaseURL = strings.TrimRight(envStr("COACH_BASE_URL", c.Backend.BaseURL), "/")
	c.Backend.TranscribePath = envStr("COACH_TRANSCRIBE_PATH", c.Backend.TranscribePath)
	c.Backend.TurnPath = envStr("COACH_TURN_PATH", c.Backend.TurnPath)
	c.Backend.GreetingPath = envStr("COACH_GREETING_PATH", c.Backend.GreetingPath)
	c.Backend.AuthToken = strings.TrimSpace(os.Getenv("COACH_AUTH_TOKEN"))
	c.Backend.TranscribeModel = envStr("STT_MODEL", c.Backend.TranscribeModel)
	c.Backend.TranscribeFormat = envStr("STT_RESPONSE_FORMAT", c.Backend.TranscribeFormat)
	c.Backend.Timeout = envDuration("COACH_TIMEOUT_MS", c.Backend.Timeout)

	c.Device.SampleRate = envInt("MIC_SAMPLE_RATE", c.Device.SampleRate)
	c.Device.FramesPerBuffer = envInt("MIC_FRAMES_PER_BUFFER", c.Device.FramesPerBuffer)

	if envBool("SAVE_AUDIO_ENABLED", false) {
		c.Archive.Dir = strings.TrimSpace(os.Getenv("SAVE_AUDIO_DIR"))
	}
	c.Archive.Retention = envDuration("SAVE_AUDIO_RETENTION_MS", c.Archive.Retention)
	c.Archive.MaxFiles = envInt("SAVE_AUDIO_MAX_FILES", c.Archive.MaxFiles)
	c.Archive.Interval = envDuration("SAVE_AUDIO_CLEAN_INTERVAL_MS", c.Archive.Interval)

	c.Tick = envDuration("CALL_TICK_MS", c.Tick)
	c.ConnectChime = envBool("CONNECT_CHIME", c.ConnectChime)
	c.IdleTimeout = envDuration("IDLE_CALL_TIMEOUT_MS", c.IdleTimeout)
	c.DeviceID = strings.TrimSpace(os.Getenv("DEVICE_ID"))
	c.ListenAddr = envStr("LISTEN_ADDR", c.ListenAddr)
	return c
}

func join(base, path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func envStr(key, fallback string) string {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return fallback
	}
	return f
}

// envDuration reads a millisecond count.
func envDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil || n < 0 {
		return fallback
	}
	return time.Duration(n) * time.Millisecond
}

func envBool(key string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}
