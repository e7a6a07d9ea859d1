package session

import (
	"encoding/json"
	"fmt"
	"strings"
)

// escapeTableCell escapes characters that break markdown tables.
func escapeTableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// ExportToMarkdown renders a session and its messages as a readable
// markdown transcript.
func ExportToMarkdown(sess *Session, messages []Message) string {
	var b strings.Builder

	title := sess.Title
	if title == "" {
		title = ShortID(sess.ID)
	}
	b.WriteString(fmt.Sprintf("# %s\n\n", escapeTableCell(title)))

	b.WriteString("| | |\n")
	b.WriteString("|---|---|\n")
	b.WriteString(fmt.Sprintf("| **Session** | `%s` |\n", sess.ID))
	b.WriteString(fmt.Sprintf("| **Model** | %s |\n", escapeTableCell(sess.Model)))
	b.WriteString(fmt.Sprintf("| **Created** | %s |\n", sess.CreatedAt.UTC().Format("2006-01-02 15:04 UTC")))
	b.WriteString(fmt.Sprintf("| **Messages** | %d |\n\n", len(messages)))

	b.WriteString("---\n\n")

	for _, msg := range messages {
		switch msg.Role {
		case "user":
			b.WriteString("### User\n\n")
		case "assistant":
			b.WriteString("### Assistant\n\n")
		default:
			b.WriteString(fmt.Sprintf("### %s\n\n", msg.Role))
		}
		b.WriteString(msg.Content)
		b.WriteString("\n\n---\n\n")
	}

	return b.String()
}

// exportedSession is the JSON export shape.
type exportedSession struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Model     string            `json:"model"`
	CreatedAt string            `json:"created_at"`
	UpdatedAt string            `json:"updated_at"`
	Messages  []exportedMessage `json:"messages"`
}

type exportedMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ExportToJSON renders a session and its messages as indented JSON.
func ExportToJSON(sess *Session, messages []Message) (string, error) {
	out := exportedSession{
		ID:        sess.ID,
		Title:     sess.Title,
		Model:     sess.Model,
		CreatedAt: sess.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		UpdatedAt: sess.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		Messages:  make([]exportedMessage, 0, len(messages)),
	}
	for _, msg := range messages {
		out.Messages = append(out.Messages, exportedMessage{
			Role:      msg.Role,
			Content:   msg.Content,
			Timestamp: msg.Timestamp.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode session export: %w", err)
	}
	return string(data) + "\n", nil
}
