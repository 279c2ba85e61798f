package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/example/idcompare/internal/logging"
)

// Prompt asks for one record per image in the fenced literal format the
// record parser understands.
const Prompt = "Extract only the **name** and **DOB** from each image. " +
	"Return a Python list where each item is a dictionary in the following format:\n\n" +
	"{'image': 'image_name.jpg', 'name': 'Full Name', 'dob': 'DD-MM-YYYY'}\n\n" +
	"Ensure the keys are lowercase and use only this format in the response without any markdown or additional text."

// ErrNoChoices is returned when the model answers with nothing.
var ErrNoChoices = errors.New("vision model returned no choices")

// Image is one uploaded document image.
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Extractor returns the raw model output for a set of document images.
type Extractor interface {
	Extract(ctx context.Context, requestID string, images []Image) ([]string, error)
}

// Options configures the OpenAI-compatible vision client.
type Options struct {
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
	Attempts uint
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client talks to a vision language model behind an OpenAI-compatible
// chat completions endpoint.
type Client struct {
	client   *openai.Client
	model    string
	attempts uint
	delay    time.Duration
	logger   *zap.Logger
}

// NewClient builds a vision client.
func NewClient(opts Options, logger *zap.Logger) *Client {
	config := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		config.BaseURL = opts.BaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Timeout > 0 {
		clone := *httpClient
		clone.Timeout = opts.Timeout
		httpClient = &clone
	}
	config.HTTPClient = httpClient

	attempts := opts.Attempts
	if attempts == 0 {
		attempts = 1
	}
	return &Client{
		client:   openai.NewClientWithConfig(config),
		model:    opts.Model,
		attempts: attempts,
		delay:    500 * time.Millisecond,
		logger:   logger.Named("vision_client"),
	}
}

// Extract sends every image with the extraction prompt and returns the
// model's answer as a single-element slice.
func (c *Client) Extract(ctx context.Context, requestID string, images []Image) ([]string, error) {
	if len(images) == 0 {
		return nil, logging.NewOperationError("vision.extract", requestID, errors.New("no images"))
	}

	parts := make([]openai.ChatMessagePart, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, openai.ChatMessagePart{
			Type: openai.ChatMessagePartTypeImageURL,
			ImageURL: &openai.ChatMessageImageURL{
				URL:    dataURL(img),
				Detail: openai.ImageURLDetailAuto,
			},
		})
	}
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: Prompt})

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:         openai.ChatMessageRoleUser,
				MultiContent: parts,
			},
		},
	}

	opLogger := logging.WithOperation(c.logger, "vision.extract", requestID)
	var content string
	err := retry.Do(
		func() error {
			resp, err := c.client.CreateChatCompletion(ctx, req)
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return retry.Unrecoverable(ErrNoChoices)
			}
			content = resp.Choices[0].Message.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.attempts),
		retry.Delay(c.delay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			opLogger.Warn("vision request failed, retrying", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		wrapped := logging.NewOperationError("vision.extract", requestID, err)
		opLogger.Error("vision extraction failed", zap.Error(wrapped))
		return nil, wrapped
	}
	return []string{content}, nil
}

func dataURL(img Image) string {
	contentType := img.ContentType
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return fmt.Sprintf("data:%s;base64,%s", contentType, base64.StdEncoding.EncodeToString(img.Data))
}

// isRetryable retries transport failures, rate limiting and server errors.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return true
}
