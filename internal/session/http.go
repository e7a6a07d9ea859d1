package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPStore talks to the backend's session REST endpoints. This is the
// authoritative store: the backend also records the messages of each
// generation it serves, so completed exchanges need no explicit write here.
type HTTPStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPStore creates a store client for the gateway at baseURL.
func NewHTTPStore(baseURL string) *HTTPStore {
	return &HTTPStore{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// sessionRecord is the wire form of a session, as produced by the backend.
type sessionRecord struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

func (r sessionRecord) toSession() Session {
	return Session{
		ID:           r.ID,
		Title:        r.Title,
		Model:        r.Model,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		MessageCount: r.MessageCount,
	}
}

// messageRecord is the wire form of a persisted message.
type messageRecord struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *HTTPStore) Create(ctx context.Context, model, title string) (*Session, error) {
	body := map[string]any{"model": model}
	if title != "" {
		body["title"] = title
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, &PersistenceError{Op: "create", Err: err}
	}

	var rec sessionRecord
	if err := s.do(ctx, http.MethodPost, "/api/sessions", bytes.NewReader(payload), &rec); err != nil {
		return nil, err
	}
	sess := rec.toSession()
	return &sess, nil
}

func (s *HTTPStore) Get(ctx context.Context, id string) (*Session, error) {
	var rec sessionRecord
	if err := s.do(ctx, http.MethodGet, "/api/sessions/"+id, nil, &rec); err != nil {
		return nil, err
	}
	sess := rec.toSession()
	return &sess, nil
}

func (s *HTTPStore) List(ctx context.Context) ([]Session, error) {
	var recs []sessionRecord
	if err := s.do(ctx, http.MethodGet, "/api/sessions", nil, &recs); err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(recs))
	for _, rec := range recs {
		sessions = append(sessions, rec.toSession())
	}
	return sessions, nil
}

func (s *HTTPStore) Messages(ctx context.Context, id string) ([]Message, error) {
	var recs []messageRecord
	if err := s.do(ctx, http.MethodGet, "/api/sessions/"+id+"/messages", nil, &recs); err != nil {
		return nil, err
	}
	messages := make([]Message, 0, len(recs))
	for _, rec := range recs {
		messages = append(messages, Message{Role: rec.Role, Content: rec.Content, Timestamp: rec.Timestamp})
	}
	return messages, nil
}

func (s *HTTPStore) Delete(ctx context.Context, id string) error {
	return s.do(ctx, http.MethodDelete, "/api/sessions/"+id, nil, nil)
}

func (s *HTTPStore) Close() error {
	return nil
}

// do runs one request against the collaborator. 404 maps to ErrNotFound;
// any other failure becomes a PersistenceError.
func (s *HTTPStore) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	op := method + " " + path

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return &PersistenceError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &PersistenceError{Op: op, Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &PersistenceError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
