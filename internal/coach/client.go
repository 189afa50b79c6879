// Package coach talks to the coaching backend: speech-to-text, the coach
// turn endpoint and the call greeting. Replies carry optional synthesized
// audio which is decoded once here.
package coach

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voice-coach-lab/internal/config"
	"github.com/voice-coach-lab/internal/logging"
)

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
)

// Identity correlates requests with a call.
type Identity struct {
	CallID         string
	DeviceID       string
	ConversationID string
}

// Reply is a decoded coach or greeting response. A zero Reply means the
// backend skipped the request and there is nothing to speak.
type Reply struct {
	Text  string
	Audio []byte
	MIME  string
}

// Empty reports whether the reply carries neither text nor audio.
func (r Reply) Empty() bool { return r.Text == "" && len(r.Audio) == 0 }

type Client struct {
	cfg  config.Backend
	mime string
	HTTP *http.Client
}

func NewClient(cfg config.Backend, defaultMIME string) *Client {
	if defaultMIME == "" {
		defaultMIME = "audio/mpeg"
	}
	return &Client{
		cfg:  cfg,
		mime: defaultMIME,
		HTTP: &http.Client{Timeout: cfg.Timeout},
	}
}

// Transcribe uploads one recorded turn and returns the recognised text.
// Empty text is not an error.
func (c *Client) Transcribe(ctx context.Context, wav []byte, filename string) (string, error) {
	if filename == "" {
		filename = "turn.wav"
	}
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(wav); err != nil {
		return "", err
	}
	_ = mw.WriteField("model", c.cfg.TranscribeModel)
	_ = mw.WriteField("response_format", c.cfg.TranscribeFormat)
	if err := mw.Close(); err != nil {
		return "", err
	}

	resp, err := c.do(ctx, c.cfg.TranscribeURL(), mw.FormDataContentType(), body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		Text       string `json:"text"`
		Transcript string `json:"transcript"`
		Utterance  string `json:"utterance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}
	for _, s := range []string{out.Text, out.Transcript, out.Utterance} {
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	logging.DebugwCtx(ctx, "transcription returned no text", "bytes", len(wav))
	return "", nil
}

// Turn sends one utterance to the coach.
func (c *Client) Turn(ctx context.Context, id Identity, transcript string) (Reply, error) {
	payload := map[string]interface{}{
		"source":         "voice",
		"conversationId": id.ConversationID,
		"call_id":        id.CallID,
		"device_id":      id.DeviceID,
		"transcript":     transcript,
	}
	return c.postReply(ctx, c.cfg.TurnURL(), payload)
}

// Greeting asks for the opening line of a call.
func (c *Client) Greeting(ctx context.Context, id Identity) (Reply, error) {
	payload := map[string]interface{}{
		"call_id":        id.CallID,
		"device_id":      id.DeviceID,
		"conversationId": id.ConversationID,
	}
	return c.postReply(ctx, c.cfg.GreetingURL(), payload)
}

func (c *Client) postReply(ctx context.Context, url string, payload interface{}) (Reply, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Reply{}, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	resp, err := c.do(ctx, url, "application/json", bytes.NewReader(b))
	if err != nil {
		return Reply{}, err
	}
	defer resp.Body.Close()

	var out struct {
		AssistantText string `json:"assistant_text"`
		Text          string `json:"text"`
		AudioBase64   string `json:"audio_base64"`
		MIME          string `json:"mime"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{}, c.transportErr(ctx, err)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Reply{}, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return Reply{}, fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}

	r := Reply{Text: strings.TrimSpace(out.AssistantText)}
	if r.Text == "" {
		r.Text = strings.TrimSpace(out.Text)
	}
	if out.AudioBase64 != "" {
		audio, mime, err := decodeAudio(out.AudioBase64)
		if err != nil {
			// keep the text; the turn is still displayable
			logging.WarnwCtx(ctx, "coach reply audio undecodable", "err", err)
		} else {
			r.Audio = audio
			r.MIME = firstNonEmpty(out.MIME, mime, c.mime)
		}
	}
	return r, nil
}

func (c *Client) do(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Cache-Control", "no-store")
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}

	start := time.Now()
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, c.transportErr(ctx, err)
	}
	logging.DebugwCtx(ctx, "coach backend responded", "url", url, "status", resp.StatusCode, "latency_ms", time.Since(start).Milliseconds())
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}
	return nil, fmt.Errorf("%w: status %d", ErrPermanent, resp.StatusCode)
}

// transportErr surfaces cancellation as the context error so callers can
// drop it silently.
func (c *Client) transportErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

// decodeAudio accepts bare base64 or a data URL.
func decodeAudio(s string) ([]byte, string, error) {
	mime := ""
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 {
			return nil, "", errors.New("malformed data url")
		}
		meta := s[len("data:"):comma]
		mime, _, _ = strings.Cut(meta, ";")
		s = s[comma+1:]
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, "", err
	}
	return b, mime, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// IsCanceled reports whether err is the result of a cancelled token.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
