// Package tokens estimates token counts for prompts and replies.
package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	. "github.com/roelfdiedericks/kaitiaki/internal/logging"
)

// DefaultEncoding is cl100k_base, used by GPT-4 class models
const DefaultEncoding = "cl100k_base"

// Estimator counts tokens with a tiktoken encoding, loaded on first use.
// The encoding file may need a download; when it cannot be loaded, or no
// encoding is named, counts fall back to chars/4.
type Estimator struct {
	encodingName string

	once     sync.Once
	encoding *tiktoken.Tiktoken
	mu       sync.Mutex // Encode is not safe for concurrent use
}

// New creates an estimator for the named encoding. An empty name gives a
// character based estimator that never touches the network.
func New(encoding string) *Estimator {
	return &Estimator{encodingName: encoding}
}

func (e *Estimator) load() {
	if e.encodingName == "" {
		return
	}
	enc, err := tiktoken.GetEncoding(e.encodingName)
	if err != nil {
		L_warn("tokens: failed to load encoding, using fallback", "encoding", e.encodingName, "error", err)
		return
	}
	e.encoding = enc
	L_debug("tokens: encoding loaded", "encoding", e.encodingName)
}

// Count returns the token count for a string.
func (e *Estimator) Count(text string) int {
	if e == nil {
		return len(text) / 4
	}
	e.once.Do(e.load)
	if e.encoding == nil {
		return len(text) / 4
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoding.Encode(text, nil, nil))
}

// Exact reports whether counts come from a real tokenizer.
func (e *Estimator) Exact() bool {
	if e == nil {
		return false
	}
	e.once.Do(e.load)
	return e.encoding != nil
}
