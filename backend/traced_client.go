package backend

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"time"
)

// Timing splits one round trip into the time spent on the wire and the time
// the backend spent producing its reply.
type Timing struct {
	// Setup covers waiting for a connection, including DNS, TCP and TLS
	// when the connection is new.
	Setup time.Duration
	DNS   time.Duration
	TLS   time.Duration
	// Upload is writing the request headers and the multipart body.
	Upload time.Duration
	// Server is the wait between the last request byte and the first reply
	// byte: transcription, the LLM and synthesis.
	Server     time.Duration
	Download   time.Duration
	Total      time.Duration
	ConnReused bool
}

// Wire is the part of the round trip not spent waiting on the backend.
func (t *Timing) Wire() time.Duration {
	return t.Setup + t.Upload + t.Download
}

type tracedClient struct {
	client *http.Client
}

func newTracedClient() *tracedClient {
	return &tracedClient{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        2,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

type tracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Timing     *Timing
}

// do sends req and reads the whole body. Cancellation follows req's context.
func (c *tracedClient) do(req *http.Request) (*tracedResponse, error) {
	t := &Timing{}
	var connStart, dnsStart, tlsStart, connected, sent, firstByte time.Time

	trace := &httptrace.ClientTrace{
		GetConn: func(string) { connStart = time.Now() },
		GotConn: func(info httptrace.GotConnInfo) {
			connected = time.Now()
			t.Setup = connected.Sub(connStart)
			t.ConnReused = info.Reused
		},
		DNSStart:          func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:           func(httptrace.DNSDoneInfo) { t.DNS = time.Since(dnsStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(tls.ConnectionState, error) { t.TLS = time.Since(tlsStart) },
		WroteRequest: func(httptrace.WroteRequestInfo) {
			sent = time.Now()
			t.Upload = sent.Sub(connected)
		},
		GotFirstResponseByte: func() {
			firstByte = time.Now()
			t.Server = firstByte.Sub(sent)
		},
	}

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	t.Download = time.Since(firstByte)
	t.Total = time.Since(start)

	return &tracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Timing:     t,
	}, nil
}
