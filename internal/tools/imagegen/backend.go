// Package imagegen adapts an image-generation backend into the
// image_generation/image_edit/image_blend agent.Tool trio (§3.5). The
// concrete backend talks to OpenAI's images API via the same
// sashabaranov/go-openai client the chat provider already depends on
// (internal/agent/providers/openai.go) rather than a hand-rolled HTTP
// client.
package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Image is one generated/edited image plus its content type.
type Image struct {
	Data     []byte
	MimeType string
}

// Backend is the thin interface over the upstream image-generation API:
// an external collaborator per spec §1, mirroring internal/filerecall's
// VectorStore pattern.
type Backend interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
	Edit(ctx context.Context, prompt string, source Image) (*Image, error)
	// Blend combines a base image with one or more reference images.
	// OpenAI's images API has no dedicated multi-image blend operation, so
	// this is implemented as an edit of the base image whose prompt
	// describes the references (a documented approximation, not a true
	// multi-image compositing call).
	Blend(ctx context.Context, prompt string, base Image, references []Image) (*Image, error)
}

// OpenAIBackend implements Backend against OpenAI's images endpoints.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend builds a Backend with the given API key and model
// (e.g. "gpt-image-1", "dall-e-3").
func NewOpenAIBackend(apiKey, model string) *OpenAIBackend {
	return &OpenAIBackend{client: openai.NewClient(apiKey), model: model}
}

func (b *OpenAIBackend) Generate(ctx context.Context, prompt string) (*Image, error) {
	resp, err := b.client.CreateImage(ctx, openai.ImageRequest{
		Model:          b.model,
		Prompt:         prompt,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("image_generation: %w", err)
	}
	return decodeFirst(resp)
}

func (b *OpenAIBackend) Edit(ctx context.Context, prompt string, source Image) (*Image, error) {
	resp, err := b.client.CreateEditImage(ctx, openai.ImageEditRequest{
		Image:          bytes.NewReader(source.Data),
		Prompt:         prompt,
		Model:          b.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("image_edit: %w", err)
	}
	return decodeFirst(resp)
}

func (b *OpenAIBackend) Blend(ctx context.Context, prompt string, base Image, references []Image) (*Image, error) {
	blendPrompt := fmt.Sprintf("%s (blend in the style and elements of %d reference image(s) provided separately)", prompt, len(references))
	return b.Edit(ctx, blendPrompt, base)
}

func decodeFirst(resp openai.ImageResponse) (*Image, error) {
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no image returned")
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return &Image{Data: raw, MimeType: "image/png"}, nil
}
