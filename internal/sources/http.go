package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyBytes bounds how much of a response a connector will read.
const maxBodyBytes = 8 << 20

// Session is the outbound HTTP resource shared by all connectors for one
// aggregation call. Close releases its pooled connections.
type Session struct {
	Client    *http.Client
	transport *http.Transport
}

// NewSession creates a session with its own connection pool.
func NewSession() *Session {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	transport.IdleConnTimeout = 30 * time.Second

	return &Session{
		Client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("stopped after 3 redirects")
				}
				return nil
			},
		},
		transport: transport,
	}
}

// Close releases idle connections held by the session.
func (s *Session) Close() {
	s.transport.CloseIdleConnections()
}

// get performs a GET and returns the body of a 2xx response.
func get(ctx context.Context, client *http.Client, source, rawURL string, headers map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Source: source, Reason: ReasonConfig, Err: fmt.Errorf("creating request: %w", err)}
	}

	req.Header.Set("User-Agent", userAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classify(source, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &FetchError{
			Source:     source,
			Reason:     ReasonHTTPStatus,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", string(snippet)),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(source, fmt.Errorf("reading body: %w", err))
	}

	return body, nil
}

// getJSON performs a GET and decodes a 2xx JSON response into out.
func getJSON(ctx context.Context, client *http.Client, source, rawURL string, headers map[string]string, out any) error {
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["Accept"]; !ok {
		headers["Accept"] = "application/json"
	}

	body, err := get(ctx, client, source, rawURL, headers)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &FetchError{Source: source, Reason: ReasonDecode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	return nil
}
