package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

const (
	DefaultGeminiModel       = "gemini-2.0-flash"
	DefaultImagenModel       = "imagen-3.0-generate-002"
	DefaultGeminiTemperature = 0.7
)

// GeminiService implements TextGenerator on the Gemini API.
type GeminiService struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

func NewGeminiService(ctx context.Context, apiKey, modelName string, logger *slog.Logger) (*GeminiService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}
	return &GeminiService{client: client, modelName: modelName, logger: logger}, nil
}

func (g *GeminiService) GenerateJSON(ctx context.Context, system, user string) ([]byte, error) {
	temp := float32(DefaultGeminiTemperature)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType:  "application/json",
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &temp,
	}
	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.modelName,
		[]*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	g.logger.Debug("gemini completion", "model", g.modelName, "duration", time.Since(start))
	return ExtractJSON(resp.Text())
}

// GeminiImageService implements ImageGenerator with Imagen.
type GeminiImageService struct {
	client    *genai.Client
	modelName string
	logger    *slog.Logger
}

func NewGeminiImageService(ctx context.Context, apiKey, modelName string, logger *slog.Logger) (*GeminiImageService, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create imagen client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultImagenModel
	}
	return &GeminiImageService{client: client, modelName: modelName, logger: logger}, nil
}

// Generate renders prompt and returns the first image after checking it
// decodes.
func (g *GeminiImageService) Generate(ctx context.Context, prompt string) ([]byte, error) {
	start := time.Now()
	resp, err := g.client.Models.GenerateImages(ctx, g.modelName, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("imagen request failed: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, ErrInvalidImage
	}
	data := resp.GeneratedImages[0].Image.ImageBytes
	if err := ValidateImage(data); err != nil {
		return nil, err
	}
	g.logger.Debug("imagen generation", "model", g.modelName, "bytes", len(data), "duration", time.Since(start))
	return data, nil
}
