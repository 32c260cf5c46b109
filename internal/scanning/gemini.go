package scanning

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Gemini implements the Model interface using Google Gemini
type Gemini struct {
	client      *genai.Client
	modelName   string
	temperature float32
}

// NewGemini creates a new Gemini model
func NewGemini(apiKey string, cfg Config) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:      client,
		modelName:   modelName,
		temperature: cfg.Temperature,
	}, nil
}

// Generate sends the image and prompt to Gemini and returns the text reply
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	model := g.client.GenerativeModel(g.modelName)
	model.SetTemperature(g.temperature)
	if req.System != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(req.System)}}
	}

	// genai.ImageData expects just the format suffix (e.g. "png"), not the full MIME type
	format := strings.TrimPrefix(req.MimeType, "image/")
	if format == "" {
		format = "png"
	}
	parts := []genai.Part{
		genai.ImageData(format, req.Image),
		genai.Text(req.Prompt),
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("%w: generating content: %w", ErrModelInvocation, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no response from gemini", ErrModelInvocation)
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return strings.TrimSpace(text.String()), nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
