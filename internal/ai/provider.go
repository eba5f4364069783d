package ai

import (
	"context"
	"encoding/json"
)

// ExtractionRequest carries one document to an extraction backend.
type ExtractionRequest struct {
	Model    string
	FileData string // base64-encoded document bytes
	MimeType string
	Schema   json.RawMessage // caller-supplied structured-output schema, opaque here
}

// Provider converts a file plus a target schema into structured JSON.
type Provider interface {
	Extract(ctx context.Context, req ExtractionRequest) (json.RawMessage, error)
}
