// Package backend talks to the conversational service: one multipart
// POST /process_audio per utterance, answered with synthesized speech,
// plain text, or a JSON envelope carrying both.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"parley/conversation"
	"parley/log"
)

const (
	DefaultURL    = "http://localhost:8000"
	DefaultVoice  = "af_bella"
	DefaultPrompt = "You are a helpful assistant."

	processPath = "/process_audio"

	HeaderUserText     = "X-User-Text"
	HeaderResponseText = "X-Response-Text"
	HeaderRequestID    = "X-Request-ID"
)

var ErrProtocol = errors.New("unexpected reply from backend")

// StatusError is a non-2xx answer. Body is the trimmed error text the
// backend sent.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Body)
}

type Request struct {
	Audio        []byte // WAV
	Voice        string
	SystemPrompt string
	History      []conversation.Turn
}

type ReplyKind int

const (
	ReplyAudio ReplyKind = iota
	ReplyText
)

type Reply struct {
	Kind ReplyKind

	Audio []byte // WAV, ReplyAudio only

	// UserText is the backend's transcription of the utterance.
	UserText    string
	HasUserText bool

	// AssistantText is the textual form of the reply. For ReplyText it is
	// the body itself.
	AssistantText string

	RequestID string
	Metrics   *Timing
}

type Client struct {
	client   *tracedClient
	baseURL  string
	endpoint string
	timeout  time.Duration
}

// New returns a client for the backend at baseURL. A zero timeout leaves the
// round trip unbounded.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q: scheme must be http or https", baseURL)
	}
	return &Client{
		client:   newTracedClient(),
		baseURL:  u.String(),
		endpoint: u.JoinPath(processPath).String(),
		timeout:  timeout,
	}, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

func (c *Client) Send(ctx context.Context, req Request) (*Reply, error) {
	body, contentType, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "audio/wav, application/json;q=0.9, text/plain;q=0.8")
	httpReq.Header.Set(HeaderRequestID, requestID)

	resp, err := c.client.do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", c.endpoint, err)
	}

	rt := log.RoundTrip{
		RequestID:   requestID,
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		AudioKB:     float64(len(req.Audio)) / 1024,
		ReplyKB:     float64(len(resp.Body)) / 1024,
		HistoryLen:  len(req.History),
		DNSMs:       ms(resp.Timing.DNS),
		TLSMs:       ms(resp.Timing.TLS),
		ServerMs:    ms(resp.Timing.Server),
		WireMs:      ms(resp.Timing.Wire()),
		TotalMs:     ms(resp.Timing.Total),
		ConnReused:  resp.Timing.ConnReused,
	}
	log.RoundTripMetrics(rt)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(resp.Body))}
	}

	reply, err := ParseReply(resp.Header, resp.Body)
	if err != nil {
		return nil, err
	}
	reply.RequestID = requestID
	reply.Metrics = resp.Timing
	return reply, nil
}

// Ping reports whether the backend answers at all. Any status below 500
// counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", c.baseURL, err)
	}
	if resp.StatusCode >= 500 {
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(resp.Body))}
	}
	return nil
}

func encodeRequest(req Request) ([]byte, string, error) {
	history, err := conversation.EncodeTurns(req.History)
	if err != nil {
		return nil, "", fmt.Errorf("encode history: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="recording.wav"`)
	h.Set("Content-Type", "audio/wav")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Audio); err != nil {
		return nil, "", err
	}

	for _, f := range [][2]string{
		{"voice", req.Voice},
		{"system_prompt", req.SystemPrompt},
		{"conversation_history", string(history)},
	} {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body.Bytes(), writer.FormDataContentType(), nil
}

type jsonReply struct {
	UserText     *string `json:"user_text"`
	ResponseText string  `json:"response_text"`
	Audio        string  `json:"audio"`
}

// ParseReply interprets a 2xx response by its declared content type.
func ParseReply(header http.Header, body []byte) (*Reply, error) {
	ct := header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, fmt.Errorf("%w: content type %q", ErrProtocol, ct)
	}

	switch mediaType {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		if len(body) == 0 {
			return nil, fmt.Errorf("%w: empty audio body", ErrProtocol)
		}
		r := &Reply{Kind: ReplyAudio, Audio: body}
		r.UserText, r.HasUserText = headerText(header, HeaderUserText)
		r.AssistantText, _ = headerText(header, HeaderResponseText)
		return r, nil

	case "application/json":
		var env jsonReply
		if err := json.Unmarshal(body, &env); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		r := &Reply{Kind: ReplyText, AssistantText: env.ResponseText}
		if env.UserText != nil {
			r.UserText, r.HasUserText = *env.UserText, true
		}
		if env.Audio != "" {
			audio, err := base64.StdEncoding.DecodeString(env.Audio)
			if err != nil {
				return nil, fmt.Errorf("%w: audio field: %v", ErrProtocol, err)
			}
			r.Kind, r.Audio = ReplyAudio, audio
		}
		return r, nil

	case "text/plain":
		r := &Reply{Kind: ReplyText, AssistantText: strings.TrimSpace(string(body))}
		r.UserText, r.HasUserText = headerText(header, HeaderUserText)
		return r, nil
	}
	return nil, fmt.Errorf("%w: content type %q", ErrProtocol, mediaType)
}

// headerText percent-decodes a header value. Values that fail to decode are
// used verbatim.
func headerText(h http.Header, key string) (string, bool) {
	values := h.Values(key)
	if len(values) == 0 {
		return "", false
	}
	text, err := url.PathUnescape(values[0])
	if err != nil {
		return values[0], true
	}
	return text, true
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
