package backend

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"parley/conversation"
)

func TestTimingWire(t *testing.T) {
	tm := &Timing{
		Setup:    90 * time.Millisecond,
		DNS:      20 * time.Millisecond,
		TLS:      40 * time.Millisecond,
		Upload:   20 * time.Millisecond,
		Server:   900 * time.Millisecond,
		Download: 25 * time.Millisecond,
	}
	// DNS and TLS are already inside Setup.
	if got, want := tm.Wire(), 135*time.Millisecond; got != want {
		t.Errorf("Wire() = %v, want %v", got, want)
	}
}

func TestNewRejectsBadURL(t *testing.T) {
	for _, u := range []string{"ftp://host", "localhost:8000", "://"} {
		if _, err := New(u, 0); err == nil {
			t.Errorf("New(%q) succeeded, want error", u)
		}
	}
}

func TestNewEndpoint(t *testing.T) {
	c, err := New("http://localhost:8000/", 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.endpoint != "http://localhost:8000/process_audio" {
		t.Errorf("endpoint = %q", c.endpoint)
	}
}

func TestSendMultipart(t *testing.T) {
	var (
		gotPath    string
		gotFields  = map[string]string{}
		gotAudioCT string
		gotName    string
		gotAudio   []byte
		gotReqID   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotReqID = r.Header.Get(HeaderRequestID)
		mr, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		for {
			p, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			data, _ := io.ReadAll(p)
			if p.FormName() == "audio" {
				gotAudio = data
				gotName = p.FileName()
				gotAudioCT = p.Header.Get("Content-Type")
				continue
			}
			gotFields[p.FormName()] = string(data)
		}
		w.Header().Set("Content-Type", "audio/wav")
		w.Header().Set(HeaderUserText, "Hello")
		w.Header().Set(HeaderResponseText, "Hi%20there%20%F0%9F%91%8B")
		w.Write([]byte("RIFFfake"))
	}))
	defer srv.Close()

	c, err := New(srv.URL, 0)
	if err != nil {
		t.Fatal(err)
	}
	history := []conversation.Turn{
		{Role: conversation.RoleUser, Content: "first"},
		{Role: conversation.RoleAssistant, Content: "reply"},
	}
	reply, err := c.Send(context.Background(), Request{
		Audio:        []byte("wavdata"),
		Voice:        "af_bella",
		SystemPrompt: "Be brief.",
		History:      history,
	})
	if err != nil {
		t.Fatal(err)
	}

	if gotPath != "/process_audio" {
		t.Errorf("path = %q", gotPath)
	}
	if gotReqID == "" || gotReqID != reply.RequestID {
		t.Errorf("request id %q, reply id %q", gotReqID, reply.RequestID)
	}
	if string(gotAudio) != "wavdata" || gotName != "recording.wav" || gotAudioCT != "audio/wav" {
		t.Errorf("audio part = %q name=%q type=%q", gotAudio, gotName, gotAudioCT)
	}
	if gotFields["voice"] != "af_bella" || gotFields["system_prompt"] != "Be brief." {
		t.Errorf("fields = %v", gotFields)
	}
	var turns []conversation.Turn
	if err := json.Unmarshal([]byte(gotFields["conversation_history"]), &turns); err != nil {
		t.Fatalf("history field: %v", err)
	}
	if len(turns) != 2 || turns[0] != history[0] || turns[1] != history[1] {
		t.Errorf("history = %+v", turns)
	}

	if reply.Kind != ReplyAudio || string(reply.Audio) != "RIFFfake" {
		t.Errorf("reply = %+v", reply)
	}
	if !reply.HasUserText || reply.UserText != "Hello" {
		t.Errorf("user text = %q (%v)", reply.UserText, reply.HasUserText)
	}
	if reply.AssistantText != "Hi there 👋" {
		t.Errorf("assistant text = %q", reply.AssistantText)
	}
	if reply.Metrics == nil || reply.Metrics.Total <= 0 {
		t.Fatal("missing metrics")
	}
	if m := reply.Metrics; m.Wire() > m.Total || m.Server > m.Total {
		t.Errorf("timing phases exceed total: %+v", m)
	}
}

func TestSendEmptyHistoryIsArray(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.FormValue("conversation_history")
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c, _ := New(srv.URL, 0)
	if _, err := c.Send(context.Background(), Request{Audio: []byte("x")}); err != nil {
		t.Fatal(err)
	}
	if got != "[]" {
		t.Errorf("conversation_history = %q, want []", got)
	}
}

func TestSendStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, 0)
	_, err := c.Send(context.Background(), Request{Audio: []byte("x")})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != 500 || se.Body != "model unavailable" {
		t.Errorf("got %d %q", se.Code, se.Body)
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Errorf("error text %q lacks body", err)
	}
}

func TestSendTimeout(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	c, _ := New(srv.URL, 50*time.Millisecond)
	_, err := c.Send(context.Background(), Request{Audio: []byte("x")})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}

func TestSendCancel(t *testing.T) {
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-done:
		}
	}))
	defer srv.Close()
	defer close(done)

	c, _ := New(srv.URL, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err := c.Send(ctx, Request{Audio: []byte("x")})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want canceled", err)
	}
}

func TestParseReply(t *testing.T) {
	wav := []byte("RIFF....WAVE")
	tests := []struct {
		name        string
		contentType string
		headers     map[string]string
		body        []byte
		wantErr     bool
		kind        ReplyKind
		user        string
		hasUser     bool
		assistant   string
	}{
		{
			name:        "audio with both headers",
			contentType: "audio/wav",
			headers:     map[string]string{HeaderUserText: "What%27s%20up%3F", HeaderResponseText: "Not%20much"},
			body:        wav,
			kind:        ReplyAudio, user: "What's up?", hasUser: true, assistant: "Not much",
		},
		{
			name:        "audio without transcript",
			contentType: "audio/x-wav",
			headers:     map[string]string{HeaderResponseText: "Hi"},
			body:        wav,
			kind:        ReplyAudio, assistant: "Hi",
		},
		{
			name:        "audio keeps plus sign",
			contentType: "audio/wav",
			headers:     map[string]string{HeaderUserText: "1+1"},
			body:        wav,
			kind:        ReplyAudio, user: "1+1", hasUser: true,
		},
		{
			name:        "malformed escape used verbatim",
			contentType: "audio/wav",
			headers:     map[string]string{HeaderUserText: "100%"},
			body:        wav,
			kind:        ReplyAudio, user: "100%", hasUser: true,
		},
		{
			name:        "empty audio body",
			contentType: "audio/wav",
			body:        nil,
			wantErr:     true,
		},
		{
			name:        "plain text",
			contentType: "text/plain; charset=utf-8",
			body:        []byte("  hello world\n"),
			kind:        ReplyText, assistant: "hello world",
		},
		{
			name:        "plain text with transcript",
			contentType: "text/plain",
			headers:     map[string]string{HeaderUserText: "hi"},
			body:        []byte("hello"),
			kind:        ReplyText, user: "hi", hasUser: true, assistant: "hello",
		},
		{
			name:        "json with audio",
			contentType: "application/json",
			body:        []byte(`{"user_text":"Hello","response_text":"Hi there","audio":"` + base64.StdEncoding.EncodeToString(wav) + `"}`),
			kind:        ReplyAudio, user: "Hello", hasUser: true, assistant: "Hi there",
		},
		{
			name:        "json text only",
			contentType: "application/json",
			body:        []byte(`{"response_text":"Hi there"}`),
			kind:        ReplyText, assistant: "Hi there",
		},
		{
			name:        "json bad audio",
			contentType: "application/json",
			body:        []byte(`{"audio":"!!!"}`),
			wantErr:     true,
		},
		{
			name:        "json garbage",
			contentType: "application/json",
			body:        []byte(`not json`),
			wantErr:     true,
		},
		{
			name:        "html",
			contentType: "text/html",
			body:        []byte("<html></html>"),
			wantErr:     true,
		},
		{
			name:        "missing content type",
			contentType: "",
			body:        wav,
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.contentType != "" {
				h.Set("Content-Type", tt.contentType)
			}
			for k, v := range tt.headers {
				h.Set(k, v)
			}
			r, err := ParseReply(h, tt.body)
			if tt.wantErr {
				if !errors.Is(err, ErrProtocol) {
					t.Fatalf("err = %v, want ErrProtocol", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if r.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", r.Kind, tt.kind)
			}
			if r.UserText != tt.user || r.HasUserText != tt.hasUser {
				t.Errorf("user = %q (%v), want %q (%v)", r.UserText, r.HasUserText, tt.user, tt.hasUser)
			}
			if r.AssistantText != tt.assistant {
				t.Errorf("assistant = %q, want %q", r.AssistantText, tt.assistant)
			}
			if r.Kind == ReplyAudio && string(r.Audio) != string(wav) {
				t.Errorf("audio = %q", r.Audio)
			}
		})
	}
}

func TestPing(t *testing.T) {
	status := http.StatusNotFound
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c, _ := New(srv.URL, 0)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("404 should count as reachable: %v", err)
	}
	status = http.StatusBadGateway
	if err := c.Ping(context.Background()); err == nil {
		t.Error("502 should count as unreachable")
	}
}

func TestFakeOrderAndHold(t *testing.T) {
	f := NewFake()
	f.Push(TextReply("one"), nil)
	f.Push(nil, errors.New("two"))

	r, err := f.Send(context.Background(), Request{Voice: "a"})
	if err != nil || r.AssistantText != "one" {
		t.Fatalf("first = %+v, %v", r, err)
	}
	if _, err := f.Send(context.Background(), Request{Voice: "b"}); err == nil || err.Error() != "two" {
		t.Fatalf("second err = %v", err)
	}
	if _, err := f.Send(context.Background(), Request{}); err == nil {
		t.Fatal("empty queue should error")
	}

	f.Hold()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.Send(ctx, Request{}); !errors.Is(err, context.Canceled) {
		t.Errorf("held send err = %v, want canceled", err)
	}
	if n := len(f.Requests()); n != 4 {
		t.Errorf("recorded %d requests, want 4", n)
	}
}
