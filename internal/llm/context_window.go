package llm

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// ContextPolicy selects which prior messages accompany a new generation
// request. Policies only see the messages that existed before the new user
// prompt; the prompt itself is concatenated separately by the caller.
type ContextPolicy interface {
	Select(history []Message) []Message
}

// SelectContext returns the most recent limit messages of history in
// original order, or the whole history if it is shorter. limit <= 0 selects
// nothing.
func SelectContext(history []Message, limit int) []Message {
	if limit <= 0 || len(history) == 0 {
		return nil
	}
	if len(history) <= limit {
		return history
	}
	return history[len(history)-limit:]
}

// CountPolicy trims by message count. This is the default policy and
// matches what the backend applies server-side.
type CountPolicy struct {
	Max int
}

func (p CountPolicy) Select(history []Message) []Message {
	return SelectContext(history, p.Max)
}

// TokenPolicy trims by an approximate token budget instead of message
// count. It keeps the longest suffix of history whose combined token count
// fits the budget. Opt-in: count-based trimming stays the default and the
// two are never switched silently.
type TokenPolicy struct {
	Budget   int
	encoding *tiktoken.Tiktoken
}

// NewTokenPolicy builds a token-budget policy using the cl100k_base BPE
// encoding, a reasonable approximation for locally hosted models.
func NewTokenPolicy(budget int) (*TokenPolicy, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load token encoding: %w", err)
	}
	return &TokenPolicy{Budget: budget, encoding: enc}, nil
}

func (p *TokenPolicy) Select(history []Message) []Message {
	if p.Budget <= 0 || len(history) == 0 {
		return nil
	}
	total := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		total += len(p.encoding.Encode(history[i].Content, nil, nil))
		if total > p.Budget {
			break
		}
		start = i
	}
	if start == len(history) {
		return nil
	}
	return history[start:]
}
