// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"unicode/utf8"

	"github.com/WizardJames69/FieldTek-sub002/services/assistant/datatypes"
)

// deltaChunkBytes is the target size of one SSE delta event. Chunks are
// shrunk at the tail so a multi-byte rune is never split across events.
const deltaChunkBytes = 512

// =============================================================================
// Wire Types
// =============================================================================

// deltaEvent is the OpenAI-compatible streaming chunk:
//
//	data: {"choices":[{"delta":{"content":"..."}}]}
//
// Field clients already speak this shape, so the guarded response is
// streamed in the same envelope even though it was fully buffered and
// validated before the first byte went out.
type deltaEvent struct {
	Choices []deltaChoice `json:"choices"`
}

type deltaChoice struct {
	Delta deltaContent `json:"delta"`
}

type deltaContent struct {
	Content string `json:"content"`
}

// =============================================================================
// Stream Writer
// =============================================================================

// StreamWriter writes the assist response as Server-Sent Events.
//
// # Description
//
// StreamWriter emits the response in three phases: content delta events,
// one terminal metadata event carrying datatypes.ResponseMetadata, and
// the [DONE] sentinel. Each write flushes immediately.
//
// # Thread Safety
//
// Safe for concurrent use via an internal mutex, though the assist
// handler writes from a single goroutine.
//
// # Limitations
//
//   - Requires an http.Flusher-compatible ResponseWriter
//   - Cannot be reused across requests
type StreamWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
	mu      sync.Mutex
}

// NewStreamWriter wraps a ResponseWriter for SSE output. The caller must
// have set the SSE headers via SetSSEHeaders first.
func NewStreamWriter(w http.ResponseWriter) (*StreamWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("ResponseWriter does not support http.Flusher")
	}
	return &StreamWriter{writer: w, flusher: flusher}, nil
}

// WriteDelta writes one content chunk as a data event.
func (w *StreamWriter) WriteDelta(content string) error {
	payload, err := json.Marshal(deltaEvent{
		Choices: []deltaChoice{{Delta: deltaContent{Content: content}}},
	})
	if err != nil {
		return fmt.Errorf("marshal delta: %w", err)
	}
	return w.writeRaw(fmt.Sprintf("data: %s\n\n", payload))
}

// WriteMetadata writes the terminal metadata event with the retrieval
// quality and confidence tier for the response.
func (w *StreamWriter) WriteMetadata(md *datatypes.ResponseMetadata) error {
	payload, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return w.writeRaw(fmt.Sprintf("event: metadata\ndata: %s\n\n", payload))
}

// WriteDone writes the [DONE] sentinel that closes the stream.
func (w *StreamWriter) WriteDone() error {
	return w.writeRaw("data: [DONE]\n\n")
}

// StreamText writes text as a sequence of delta events of at most
// deltaChunkBytes each, never splitting a UTF-8 rune.
func (w *StreamWriter) StreamText(text []byte) error {
	for len(text) > 0 {
		n := len(text)
		if n > deltaChunkBytes {
			n = deltaChunkBytes
			// Back off to the start of the rune straddling the boundary.
			for n > 0 && !utf8.RuneStart(text[n]) {
				n--
			}
			if n == 0 {
				n = deltaChunkBytes
			}
		}
		if err := w.WriteDelta(string(text[:n])); err != nil {
			return err
		}
		text = text[n:]
	}
	return nil
}

func (w *StreamWriter) writeRaw(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprint(w.writer, s); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	w.flusher.Flush()
	return nil
}

// =============================================================================
// Helper Functions
// =============================================================================

// SetSSEHeaders configures the response headers for SSE streaming. Must
// be called before the first write.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
