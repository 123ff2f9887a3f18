// Copyright (C) 2026 FieldTek Systems
// Licensed under the GNU Affero General Public License v3.0 or later.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the assistant service.
//
// This file contains the assist request types and their structural limits.
// For the job-site context struct see context.go; for response metadata see
// retrieval.go; for the audit record see audit.go.
package datatypes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Structural Limits
// =============================================================================

const (
	// MaxMessagesPerRequest caps the conversation history length.
	MaxMessagesPerRequest = 50

	// MaxMessageTextBytes caps the text of a single message or text part.
	// Byte length, not rune count, to bound memory against large payloads.
	MaxMessageTextBytes = 16 * 1024 // 16KB

	// MaxImagesPerMessage caps image attachments per message.
	MaxImagesPerMessage = 4

	// MaxImageEncodedBytes caps the base64-encoded size of one image.
	MaxImageEncodedBytes = 2 * 1024 * 1024 // 2MB

	// MaxContextBytes caps the serialized job-site context.
	MaxContextBytes = 32 * 1024 // 32KB
)

// Structural rejection errors. The handler returns these verbatim in the
// 400 response body and records them as the blocked reason in the audit
// record.
var (
	ErrTooManyMessages = errors.New("Too many messages")
	ErrMessageTooLong  = errors.New("Message too long")
	ErrTooManyImages   = errors.New("Too many images")
	ErrImageTooLarge   = errors.New("Image too large")
	ErrContextTooLarge = errors.New("Context too large")
	ErrNoMessages      = errors.New("No messages provided")
	ErrNoUserMessage   = errors.New("Last message must be from the user")
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// assistValidate is the validator instance for assist datatypes.
// Initialized in init() with custom validators.
var assistValidate *validator.Validate

func init() {
	assistValidate = validator.New()
	_ = assistValidate.RegisterValidation("maxtextbytes", validateMaxTextBytes)
}

// validateMaxTextBytes enforces MaxMessageTextBytes on string fields.
// Checks byte length, not rune count.
func validateMaxTextBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageTextBytes
}

// =============================================================================
// Messages
// =============================================================================

// MessagePart is one ordered part of a multimodal message. Type is either
// "text" or "image". Image parts carry base64-encoded data plus a media
// type such as "image/jpeg".
type MessagePart struct {
	Type      string `json:"type" validate:"required,oneof=text image"`
	Text      string `json:"text,omitempty" validate:"maxtextbytes"`
	Data      string `json:"data,omitempty"`
	MediaType string `json:"media_type,omitempty"`
}

// Message is one turn of the technician's conversation. Plain text lives
// in Content; multimodal turns use the ordered Parts list instead. Both
// may be set, in which case Content is treated as a leading text part.
type Message struct {
	Role    string        `json:"role" validate:"required,oneof=user assistant"`
	Content string        `json:"content" validate:"maxtextbytes"`
	Parts   []MessagePart `json:"parts,omitempty" validate:"dive"`
}

// CombinedText returns the concatenated text of the message: Content
// followed by every text part, newline-joined. This is what the injection
// scanner and the model prompt see.
func (m *Message) CombinedText() string {
	text := m.Content
	for _, p := range m.Parts {
		if p.Type != "text" || p.Text == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += p.Text
	}
	return text
}

// ImageData returns the base64 payloads of every image part, in order.
func (m *Message) ImageData() []string {
	var images []string
	for _, p := range m.Parts {
		if p.Type == "image" && p.Data != "" {
			images = append(images, p.Data)
		}
	}
	return images
}

// =============================================================================
// Assist Request
// =============================================================================

// AssistRequest is the POST /v1/assist body: the conversation history plus
// the structured job-site context. Every request carries an ID and
// timestamp for tracing and the audit trail; both are generated
// server-side when absent.
type AssistRequest struct {
	RequestID string         `json:"request_id" validate:"omitempty,uuid4"`
	Timestamp int64          `json:"timestamp" validate:"gte=0"`
	Messages  []Message      `json:"messages" validate:"required,min=1,dive"`
	Context   *AssistContext `json:"context,omitempty"`
}

// DecodeAssistRequest parses a request body with strict field checking.
// Unknown fields anywhere in the document, including inside the context
// struct, are a decode error. The context size cap is enforced on the
// re-serialized context, so a minified and a pretty-printed request are
// measured identically.
func DecodeAssistRequest(r io.Reader) (*AssistRequest, error) {
	dec := json.NewDecoder(io.LimitReader(r, 16*1024*1024))
	dec.DisallowUnknownFields()
	var req AssistRequest
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("malformed request body: %w", err)
	}
	return &req, nil
}

// Validate applies the validator tags. Call after decoding.
func (r *AssistRequest) Validate() error {
	return assistValidate.Struct(r)
}

// EnsureDefaults populates RequestID and Timestamp when the client omits
// them.
func (r *AssistRequest) EnsureDefaults() {
	if r.RequestID == "" {
		r.RequestID = uuid.NewString()
	}
	if r.Timestamp == 0 {
		r.Timestamp = time.Now().UnixMilli()
	}
}

// CheckLimits enforces the structural caps. The returned error is one of
// the package-level rejection errors and is safe to echo to the client.
func (r *AssistRequest) CheckLimits() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	if len(r.Messages) > MaxMessagesPerRequest {
		return ErrTooManyMessages
	}
	for i := range r.Messages {
		msg := &r.Messages[i]
		if len(msg.Content) > MaxMessageTextBytes {
			return ErrMessageTooLong
		}
		images := 0
		for _, p := range msg.Parts {
			switch p.Type {
			case "text":
				if len(p.Text) > MaxMessageTextBytes {
					return ErrMessageTooLong
				}
			case "image":
				images++
				if len(p.Data) > MaxImageEncodedBytes {
					return ErrImageTooLarge
				}
			}
		}
		if images > MaxImagesPerMessage {
			return ErrTooManyImages
		}
	}
	if r.Messages[len(r.Messages)-1].Role != "user" {
		return ErrNoUserMessage
	}
	if r.Context != nil {
		serialized, err := json.Marshal(r.Context)
		if err != nil {
			return fmt.Errorf("context not serializable: %w", err)
		}
		if len(serialized) > MaxContextBytes {
			return ErrContextTooLarge
		}
	}
	return nil
}

// LatestUserMessage returns the combined text of the final message. The
// caller has already verified via CheckLimits that it is a user turn.
func (r *AssistRequest) LatestUserMessage() string {
	if len(r.Messages) == 0 {
		return ""
	}
	return r.Messages[len(r.Messages)-1].CombinedText()
}
