// Package llm talks to chat completion providers.
package llm

import "context"

// Roles used in conversation turns.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Fragment is one piece of a streamed completion. A fragment with a non-nil
// Err is the last one on its channel.
type Fragment struct {
	Text string
	Err  error
}

// Client defines the interface for LLM providers.
type Client interface {
	// StreamChat sends the system prompt followed by turns and streams the
	// reply. The channel is closed when the reply is complete, the stream
	// fails, or ctx is cancelled.
	StreamChat(ctx context.Context, systemPrompt string, turns []Message) (<-chan Fragment, error)
}

// Collect concatenates every fragment of a stream. It returns the text read so
// far together with the first stream error.
func Collect(ctx context.Context, ch <-chan Fragment) (string, error) {
	var b []byte
	for {
		select {
		case <-ctx.Done():
			return string(b), ctx.Err()
		case f, ok := <-ch:
			if !ok {
				return string(b), nil
			}
			if f.Err != nil {
				return string(b), f.Err
			}
			b = append(b, f.Text...)
		}
	}
}
