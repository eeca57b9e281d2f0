package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxMessageLength caps the length of a chat message in characters.
const MaxMessageLength = 4000

// ChatRequest is the body of every chat endpoint.
type ChatRequest struct {
	Message string `json:"message" jsonschema:"minLength=1,maxLength=4000,description=The user's message"`
}

// ChatResponse is returned by every chat endpoint.
type ChatResponse struct {
	Reply     string `json:"reply" jsonschema:"description=Assistant reply including any suggestion or motivation"`
	Emotion   string `json:"emotion" jsonschema:"description=Detected emotion label or critico"`
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Guest session id to send back in X-Guest-Session"`
}

// EmotionEntry is one row of GET /me/emotions.
type EmotionEntry struct {
	Emotion    string `json:"emotion"`
	RecordedAt string `json:"recorded_at" jsonschema:"format=date-time"`
}

// MessageEntry is one row of GET /me/messages.
type MessageEntry struct {
	Message    string `json:"message"`
	RecordedAt string `json:"recorded_at" jsonschema:"format=date-time"`
}

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
}

// Schemas holds the reflected JSON Schemas of the API and the compiled
// validator for chat request bodies.
type Schemas struct {
	documents   map[string]json.RawMessage
	chatRequest *jsonschema.Schema
}

// NewSchemas reflects the request and response types and compiles the
// request schema.
func NewSchemas() (*Schemas, error) {
	r := &invopop.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}

	docs := map[string]any{
		"chat_request":  r.Reflect(&ChatRequest{}),
		"chat_response": r.Reflect(&ChatResponse{}),
		"emotion_entry": r.Reflect(&EmotionEntry{}),
		"message_entry": r.Reflect(&MessageEntry{}),
	}
	s := &Schemas{documents: make(map[string]json.RawMessage, len(docs))}
	for name, doc := range docs {
		b, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("api: marshal %s schema: %w", name, err)
		}
		s.documents[name] = b
	}

	const url = "mem://bestie/chat_request.json"
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(s.documents["chat_request"])); err != nil {
		return nil, fmt.Errorf("api: add chat_request schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("api: compile chat_request schema: %w", err)
	}
	s.chatRequest = compiled
	return s, nil
}

// Documents returns the reflected schemas keyed by name.
func (s *Schemas) Documents() map[string]json.RawMessage {
	return s.documents
}

// DecodeChatRequest validates body against the chat request schema and
// decodes it.
func (s *Schemas) DecodeChatRequest(body []byte) (ChatRequest, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return ChatRequest{}, fmt.Errorf("invalid JSON: %w", err)
	}
	if err := s.chatRequest.Validate(doc); err != nil {
		return ChatRequest{}, fmt.Errorf("invalid request: %w", err)
	}

	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return ChatRequest{}, fmt.Errorf("invalid request: %w", err)
	}
	return req, nil
}
