package scanning

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/imaging"
)

// Gemini implements the Scanner interface using Google Gemini
type Gemini struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGemini creates a new Gemini Scanner instance
func NewGemini(apiKey string, modelName string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	model := client.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	return &Gemini{
		client: client,
		model:  model,
	}, nil
}

// Extract sends the image (when present) and the recognized text.
func (g *Gemini) Extract(ctx context.Context, req Request) (*expense.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var parts []genai.Part
	if len(req.Image) > 0 {
		pngData, err := imaging.ToPNG(req.Image, req.ContentType)
		if err != nil {
			return nil, err
		}
		// genai.ImageData expects the format suffix, not the MIME type.
		parts = append(parts, genai.ImageData("png", pngData))
	}
	parts = append(parts, genai.Text(buildPrompt(req)))

	resp, err := g.model.GenerateContent(ctx, parts...)
	if err != nil {
		return nil, fmt.Errorf("generating content: %w", err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response from gemini")
	}

	var responseText strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			responseText.WriteString(string(text))
		}
	}

	c, err := parseCandidate(responseText.String())
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return c, nil
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
