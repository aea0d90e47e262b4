package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/imaging"
)

// OpenAI implements the Scanner interface with the chat completions API. Any
// compatible endpoint works through baseURL.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates a new OpenAI Scanner instance
func NewOpenAI(apiKey, modelName, baseURL string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if modelName == "" {
		modelName = openai.GPT4oMini
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: modelName}, nil
}

// Extract asks for a JSON object response.
func (o *OpenAI) Extract(ctx context.Context, req Request) (*expense.Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(req.Image) > 0 {
		pngData, err := imaging.ToPNG(req.Image, req.ContentType)
		if err != nil {
			return nil, err
		}
		user.MultiContent = []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: buildPrompt(req)},
			{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngData),
					Detail: openai.ImageURLDetailHigh,
				},
			},
		}
	} else {
		user.Content = buildPrompt(req)
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			user,
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		MaxTokens: 1000,
	})
	if err != nil {
		return nil, fmt.Errorf("calling openai API: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response choices from openai")
	}

	c, err := parseCandidate(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("parsing receipt data: %w", err)
	}
	return c, nil
}

// Close is a no-op; the client holds no connections of its own.
func (o *OpenAI) Close() error {
	return nil
}
