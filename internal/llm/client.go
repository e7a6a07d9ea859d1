package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// DefaultBaseURL is the local backend gateway address.
const DefaultBaseURL = "http://localhost:8000"

// defaultModel is used when a request does not pin one.
const defaultModel = "llama3.1"

// Client talks to the local inference gateway. Generation responses are
// streamed; the other endpoints are plain request/response.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the gateway at baseURL. No overall request
// timeout is set: generation streams for as long as the model produces
// output, and cancellation is the caller's context.
func NewClient(baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// generateBody is the wire form of a generation request.
type generateBody struct {
	Prompt             string   `json:"prompt"`
	Model              string   `json:"model"`
	SessionID          *string  `json:"session_id"`
	MaxContextMessages int      `json:"max_context_messages"`
	Images             []string `json:"images,omitempty"`
	WebSearch          bool     `json:"web_search,omitempty"`
}

// Generate issues one generation request and returns the decoded event
// stream. A non-2xx response is a transport failure reported here, before
// any decoding is attempted. The returned stream must be closed.
//
// The request is bound to ctx: cancelling it aborts the in-flight body
// read and tears down the connection.
func (c *Client) Generate(ctx context.Context, req Request) (Stream, error) {
	body := generateBody{
		Prompt:             req.Prompt,
		Model:              chooseModel(req.Model, defaultModel),
		MaxContextMessages: req.MaxContextMessages,
		WebSearch:          req.WebSearch,
	}
	if req.SessionID != "" {
		id := req.SessionID
		body.SessionID = &id
	}
	for _, blob := range req.Images {
		body.Images = append(body.Images, base64.StdEncoding.EncodeToString(blob))
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode generation request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &TransportError{Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	return newChannelStream(streamCtx, cancel, func(ctx context.Context, events chan<- Event) error {
		defer resp.Body.Close()
		return decodeBody(ctx, resp.Body, events)
	}), nil
}

// decodeBody pumps the response body through a Decoder, emitting events in
// arrival order until a terminal event, producer exhaustion, or ctx cancel.
func decodeBody(ctx context.Context, body io.Reader, events chan<- Event) error {
	dec := NewDecoder()
	buf := make([]byte, 32*1024)

	for {
		n, readErr := body.Read(buf)
		for _, ev := range dec.Feed(buf[:n]) {
			select {
			case events <- ev:
			case <-ctx.Done():
				return nil
			}
		}
		if dec.Terminated() {
			return nil
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				// Abandoned read after cancellation, not a failure.
				return nil
			}
			return &TransportError{Err: readErr}
		}
	}

	// Producer exhausted without done/error: flush the carry-over, then
	// terminate the sequence as implicitly done.
	for _, ev := range dec.Flush() {
		select {
		case events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	select {
	case events <- Event{Type: EventDone}:
	case <-ctx.Done():
	}
	return nil
}

// Models returns the backend's available model names.
func (c *Client) Models(ctx context.Context) ([]string, error) {
	var out struct {
		Models []string `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/models", &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// ServerStatus reports whether the inference server behind the gateway is
// running.
func (c *Client) ServerStatus(ctx context.Context) (bool, error) {
	var out struct {
		Running bool `json:"running"`
	}
	if err := c.getJSON(ctx, "/api/server-status", &out); err != nil {
		return false, err
	}
	return out.Running, nil
}

// StartServer asks the gateway to start the inference server.
func (c *Client) StartServer(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/start-server", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
