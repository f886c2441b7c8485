// Package provider implements the generative gateway against an
// OpenAI-compatible HTTP API: chat completions (optionally JSON-shaped and
// multimodal), image generation and edits, and audio transcription.
//
// Every call is a single attempt. Provider rate limits and per-call cost make
// blind retries undesirable, so failures surface immediately as
// *pipeline.ProviderError and retry policy stays with the caller.
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/creatorlab/socialstudio/backend/internal/pipeline"
)

const (
	defaultTimeout   = 180 * time.Second
	defaultChatModel = "gpt-4o-mini"
	defaultImageSize = "1536x1024"
)

// ClientConfig configures the gateway client.
type ClientConfig struct {
	APIKey     string
	BaseURL    string
	ChatModel  string
	ImageModel string
	ImageSize  string
	AudioModel string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client talks to the generative provider. It retains no state between calls.
type Client struct {
	apiKey     string
	baseURL    string
	chatModel  string
	imageModel string
	imageSize  string
	audioModel string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a gateway client.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("provider: api key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("provider: base url is required")
	}

	chatModel := strings.TrimSpace(cfg.ChatModel)
	if chatModel == "" {
		chatModel = defaultChatModel
	}
	imageSize := strings.TrimSpace(cfg.ImageSize)
	if imageSize == "" {
		imageSize = defaultImageSize
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		chatModel:  chatModel,
		imageModel: strings.TrimSpace(cfg.ImageModel),
		imageSize:  imageSize,
		audioModel: strings.TrimSpace(cfg.AudioModel),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

var _ pipeline.Gateway = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete performs one chat completion. ForceJSON requests a JSON-shaped
// answer from the provider; the transport is unchanged.
func (c *Client) Complete(ctx context.Context, req pipeline.CompletionRequest) (string, error) {
	if strings.TrimSpace(req.User) == "" {
		return "", pipeline.NewValidationError("user", "prompt must not be blank")
	}

	body := chatRequest{
		Model:       c.chatModel,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.ForceJSON {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}
	if strings.TrimSpace(req.System) != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: userContent(req)})

	var parsed chatResponse
	if err := c.postJSON(ctx, "/v1/chat/completions", body, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", &pipeline.ProviderError{Message: "no completion returned"}
	}
	return parsed.Choices[0].Message.Content, nil
}

func userContent(req pipeline.CompletionRequest) any {
	if len(req.Images) == 0 {
		return req.User
	}
	parts := make([]map[string]any, 0, 1+len(req.Images))
	parts = append(parts, map[string]any{"type": "text", "text": req.User})
	for _, image := range req.Images {
		url := strings.TrimSpace(image.URL)
		if url == "" {
			continue
		}
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": url},
		})
	}
	return parts
}

type imageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

// GenerateImage performs one image generation or edit call and returns the
// decoded bytes.
func (c *Client) GenerateImage(ctx context.Context, req pipeline.ImageRequest) (pipeline.ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return pipeline.ImageResult{}, pipeline.NewValidationError("prompt", "image prompt must not be blank")
	}
	if c.imageModel == "" {
		return pipeline.ImageResult{}, pipeline.NewValidationError("image_model", "no image model configured")
	}

	size := strings.TrimSpace(req.Size)
	if size == "" {
		size = c.imageSize
	}

	var parsed imageResponse
	switch req.Mode {
	case pipeline.ImageModeEdit:
		if len(req.BaseImage) == 0 {
			return pipeline.ImageResult{}, pipeline.NewValidationError("image", "base image is required for edits")
		}
		if err := c.postImageEdit(ctx, req.Prompt, size, req.BaseImage, &parsed); err != nil {
			return pipeline.ImageResult{}, err
		}
	default:
		body := imageGenerationRequest{Model: c.imageModel, Prompt: req.Prompt, N: 1, Size: size}
		if err := c.postJSON(ctx, "/v1/images/generations", body, &parsed); err != nil {
			return pipeline.ImageResult{}, err
		}
	}

	if len(parsed.Data) == 0 {
		return pipeline.ImageResult{}, &pipeline.ProviderError{Message: "no image returned"}
	}
	b64 := strings.TrimSpace(parsed.Data[0].B64JSON)
	if b64 == "" {
		return pipeline.ImageResult{}, &pipeline.ProviderError{Message: "image response missing b64_json"}
	}
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil || len(raw) == 0 {
		return pipeline.ImageResult{}, &pipeline.ProviderError{Message: "undecodable image payload", Err: err}
	}
	return pipeline.ImageResult{Bytes: raw, MimeType: "image/png"}, nil
}

func (c *Client) postImageEdit(ctx context.Context, prompt, size string, baseImage []byte, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fields := map[string]string{"model": c.imageModel, "prompt": prompt, "size": size}
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			return &pipeline.ProviderError{Message: "encode edit request", Err: err}
		}
	}
	part, err := writer.CreateFormFile("image", "image.png")
	if err != nil {
		return &pipeline.ProviderError{Message: "encode edit request", Err: err}
	}
	if _, err := part.Write(baseImage); err != nil {
		return &pipeline.ProviderError{Message: "encode edit request", Err: err}
	}
	if err := writer.Close(); err != nil {
		return &pipeline.ProviderError{Message: "encode edit request", Err: err}
	}

	return c.post(ctx, "/v1/images/edits", writer.FormDataContentType(), &buf, out)
}

// Transcribe performs one transcription call and returns the transcript in
// subtitle (SRT) format.
func (c *Client) Transcribe(ctx context.Context, req pipeline.TranscribeRequest) (string, error) {
	if len(req.Media) == 0 {
		return "", pipeline.NewValidationError("file", "media bytes are required")
	}
	if c.audioModel == "" {
		return "", pipeline.NewValidationError("audio_model", "no transcription model configured")
	}

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = "upload.mp4"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("model", c.audioModel); err != nil {
		return "", &pipeline.ProviderError{Message: "encode transcription request", Err: err}
	}
	if err := writer.WriteField("response_format", "srt"); err != nil {
		return "", &pipeline.ProviderError{Message: "encode transcription request", Err: err}
	}
	part, err := writer.CreateFormFile("file", fileName)
	if err != nil {
		return "", &pipeline.ProviderError{Message: "encode transcription request", Err: err}
	}
	if _, err := part.Write(req.Media); err != nil {
		return "", &pipeline.ProviderError{Message: "encode transcription request", Err: err}
	}
	if err := writer.Close(); err != nil {
		return "", &pipeline.ProviderError{Message: "encode transcription request", Err: err}
	}

	// srt comes back as a plain text body rather than a JSON envelope.
	raw, err := c.postRaw(ctx, "/v1/audio/transcriptions", writer.FormDataContentType(), &buf)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &pipeline.ProviderError{Message: "encode request", Err: err}
	}
	return c.post(ctx, path, "application/json", bytes.NewReader(encoded), out)
}

func (c *Client) post(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	raw, err := c.postRaw(ctx, path, contentType, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &pipeline.ProviderError{Message: fmt.Sprintf("undecodable response: %v", err), Err: err}
	}
	return nil
}

func (c *Client) postRaw(ctx context.Context, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, &pipeline.ProviderError{Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &pipeline.ProviderError{Message: fmt.Sprintf("request failed: %v", err), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &pipeline.ProviderError{Message: "read response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("provider rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, &pipeline.ProviderError{
			StatusCode: resp.StatusCode,
			Message:    providerMessage(raw),
		}
	}
	return raw, nil
}

// providerMessage extracts the human-readable error message from a provider
// error envelope, falling back to the raw body.
func providerMessage(raw []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && strings.TrimSpace(envelope.Error.Message) != "" {
		return envelope.Error.Message
	}
	text := strings.TrimSpace(string(raw))
	if len(text) > 512 {
		text = text[:512]
	}
	if text == "" {
		return "provider returned an error with no body"
	}
	return text
}
