package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GeminiProvider talks to a Gemini-style structured extraction endpoint.
type GeminiProvider struct {
	BaseURL string
	APIKey  string
	Model   string
	Client  *http.Client
}

func NewGeminiProvider(baseURL, apiKey, model string) *GeminiProvider {
	if baseURL == "" {
		baseURL = "http://localhost:8090"
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Model:   model,
		// Extraction on large documents is slow; the request context is the
		// only cancellation point below this timeout.
		Client: &http.Client{Timeout: 5 * time.Minute},
	}
}

type geminiInlineData struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type geminiPart struct {
	InlineData geminiInlineData `json:"inlineData"`
}

type geminiContents struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	ResponseMimeType string          `json:"responseMimeType"`
	ResponseSchema   json.RawMessage `json:"responseSchema"`
}

type geminiExtractReq struct {
	Model    string          `json:"model"`
	Contents geminiContents  `json:"contents"`
	Config   geminiGenConfig `json:"config"`
}

type geminiErrorResp struct {
	Message string `json:"message"`
}

func (p *GeminiProvider) Extract(ctx context.Context, req ExtractionRequest) (json.RawMessage, error) {
	if p.Client == nil {
		return nil, errors.New("gemini: http client is nil")
	}

	model := req.Model
	if model == "" {
		model = p.Model
	}
	mimeType := req.MimeType
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	reqBody := geminiExtractReq{
		Model: model,
		Contents: geminiContents{
			Parts: []geminiPart{
				{InlineData: geminiInlineData{Data: req.FileData, MimeType: mimeType}},
			},
		},
		Config: geminiGenConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.Schema,
		},
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/extract", p.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var decoded geminiErrorResp
		if json.Unmarshal(raw, &decoded) == nil && decoded.Message != "" {
			return nil, errors.New(decoded.Message)
		}
		return nil, fmt.Errorf("gemini: status %d", resp.StatusCode)
	}

	if !json.Valid(raw) {
		return nil, errors.New("gemini: non-JSON extraction result")
	}
	return json.RawMessage(raw), nil
}
