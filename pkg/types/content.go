package types

import "encoding/json"

// ContentBlock is one tagged-variant element of a Message's content sequence.
// Exactly one of the seven kinds below implements it.
type ContentBlock interface {
	BlockType() string
}

// TextBlock is plain model or user text.
type TextBlock struct {
	Text string `json:"text"`
}

func (b *TextBlock) BlockType() string { return "text" }

// ThinkingBlock carries model reasoning that must round-trip unchanged
// whenever the message is replayed back to the provider.
type ThinkingBlock struct {
	Text      string `json:"text"`
	Signature string `json:"signature"`
}

func (b *ThinkingBlock) BlockType() string { return "thinking" }

// RedactedThinkingBlock is opaque reasoning carried between turns in
// stateless mode. Its payload is never inspected or rewritten, only
// stored and replayed verbatim.
type RedactedThinkingBlock struct {
	ID            string `json:"id"`
	Summary       string `json:"summary"`
	EncryptedBlob string `json:"encrypted_blob"`
}

func (b *RedactedThinkingBlock) BlockType() string { return "redacted_thinking" }

// ImageBlock is inline image content.
type ImageBlock struct {
	MediaType  string `json:"media_type"`
	Base64Data string `json:"base64_data"`
}

func (b *ImageBlock) BlockType() string { return "image" }

// ToolUseBlock is a model-issued tool invocation request. InputJSON holds
// the finalized (fully accumulated) tool input, parsed from the provider's
// incremental deltas.
type ToolUseBlock struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	InputJSON json.RawMessage `json:"input_json"`
}

func (b *ToolUseBlock) BlockType() string { return "tool_use" }

// ToolResultBlock carries a tool's outcome back to the model. ToolUseID
// must match a ToolUseBlock.ID earlier on the active path.
type ToolResultBlock struct {
	ToolUseID   string `json:"tool_use_id"`
	ContentText string `json:"content_text"`
	IsError     bool   `json:"is_error"`
}

func (b *ToolResultBlock) BlockType() string { return "tool_result" }

// rawBlock is the wire shape used to recover the concrete ContentBlock
// type during JSON decoding.
type rawBlock struct {
	Type          string          `json:"type"`
	Text          string          `json:"text,omitempty"`
	Signature     string          `json:"signature,omitempty"`
	ID            string          `json:"id,omitempty"`
	Summary       string          `json:"summary,omitempty"`
	EncryptedBlob string          `json:"encrypted_blob,omitempty"`
	MediaType     string          `json:"media_type,omitempty"`
	Base64Data    string          `json:"base64_data,omitempty"`
	Name          string          `json:"name,omitempty"`
	InputJSON     json.RawMessage `json:"input_json,omitempty"`
	ToolUseID     string          `json:"tool_use_id,omitempty"`
	ContentText   string          `json:"content_text,omitempty"`
	IsError       bool            `json:"is_error,omitempty"`
}

// MarshalContentBlock serializes a ContentBlock with its discriminant.
func MarshalContentBlock(b ContentBlock) ([]byte, error) {
	raw := rawBlock{Type: b.BlockType()}
	switch v := b.(type) {
	case *TextBlock:
		raw.Text = v.Text
	case *ThinkingBlock:
		raw.Text, raw.Signature = v.Text, v.Signature
	case *RedactedThinkingBlock:
		raw.ID, raw.Summary, raw.EncryptedBlob = v.ID, v.Summary, v.EncryptedBlob
	case *ImageBlock:
		raw.MediaType, raw.Base64Data = v.MediaType, v.Base64Data
	case *ToolUseBlock:
		raw.ID, raw.Name, raw.InputJSON = v.ID, v.Name, v.InputJSON
	case *ToolResultBlock:
		raw.ToolUseID, raw.ContentText, raw.IsError = v.ToolUseID, v.ContentText, v.IsError
	}
	return json.Marshal(raw)
}

// UnmarshalContentBlock recovers the concrete ContentBlock from its
// serialized, type-tagged form.
func UnmarshalContentBlock(data []byte) (ContentBlock, error) {
	var raw rawBlock
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	switch raw.Type {
	case "text":
		return &TextBlock{Text: raw.Text}, nil
	case "thinking":
		return &ThinkingBlock{Text: raw.Text, Signature: raw.Signature}, nil
	case "redacted_thinking":
		return &RedactedThinkingBlock{ID: raw.ID, Summary: raw.Summary, EncryptedBlob: raw.EncryptedBlob}, nil
	case "image":
		return &ImageBlock{MediaType: raw.MediaType, Base64Data: raw.Base64Data}, nil
	case "tool_use":
		return &ToolUseBlock{ID: raw.ID, Name: raw.Name, InputJSON: raw.InputJSON}, nil
	case "tool_result":
		return &ToolResultBlock{ToolUseID: raw.ToolUseID, ContentText: raw.ContentText, IsError: raw.IsError}, nil
	default:
		return nil, &UnknownBlockTypeError{Type: raw.Type}
	}
}

// UnknownBlockTypeError is returned when a persisted content block carries
// a discriminant this build doesn't recognize.
type UnknownBlockTypeError struct {
	Type string
}

func (e *UnknownBlockTypeError) Error() string {
	return "unknown content block type: " + e.Type
}

// CoalesceText merges adjacent Text blocks into one, satisfying the
// "no run of two Text blocks in series" invariant.
func CoalesceText(blocks []ContentBlock) []ContentBlock {
	out := make([]ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		if tb, ok := b.(*TextBlock); ok {
			if n := len(out); n > 0 {
				if prev, ok := out[n-1].(*TextBlock); ok {
					prev.Text += tb.Text
					continue
				}
			}
			out = append(out, &TextBlock{Text: tb.Text})
			continue
		}
		out = append(out, b)
	}
	return out
}
