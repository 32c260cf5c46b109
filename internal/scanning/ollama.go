package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Ollama implements the Model interface using a local Ollama server
type Ollama struct {
	baseURL string
	cfg     Config
	client  *http.Client
}

// NewOllama creates a new Ollama model.
// Vision models that work for receipts include llama3.2-vision, llava and qwen2-vl.
func NewOllama(baseURL string, cfg Config) (*Ollama, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = DefaultConfig().Model
	}

	return &Ollama{
		baseURL: strings.TrimRight(baseURL, "/"),
		cfg:     cfg,
		// Timeouts come from the caller's context
		client: &http.Client{},
	}, nil
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  ollamaOptions   `json:"options"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	NumCtx      int     `json:"num_ctx,omitempty"`
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
}

// Generate sends the image and prompt to Ollama's chat API and returns the text reply
func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	messages := make([]ollamaMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.System})
	}
	user := ollamaMessage{Role: "user", Content: req.Prompt}
	if len(req.Image) > 0 {
		user.Images = []string{base64.StdEncoding.EncodeToString(req.Image)}
	}
	messages = append(messages, user)

	jsonData, err := json.Marshal(ollamaChatRequest{
		Model:    o.cfg.Model,
		Messages: messages,
		Stream:   false,
		Options: ollamaOptions{
			Temperature: o.cfg.Temperature,
			NumCtx:      o.cfg.ContextTokens,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat", o.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: calling ollama API: %w", ErrModelInvocation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("%w: ollama API error (status %d): %s", ErrModelInvocation, resp.StatusCode, string(body))
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("%w: decoding response: %w", ErrModelInvocation, err)
	}

	return strings.TrimSpace(chatResp.Message.Content), nil
}

// Close is a no-op for the HTTP client
func (o *Ollama) Close() error {
	return nil
}
