package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/complyte/tradeconfirm/internal/core/domain"
	"github.com/complyte/tradeconfirm/internal/infrastructure/resilience"
)

// Client talks to an Ollama server in JSON format mode. The limiter paces
// every model call in the process, including resilience retries.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	limiter    *rate.Limiter
	exec       *resilience.Executor
}

func New(baseURL, model string, limiter *rate.Limiter, exec *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    limiter,
		exec:       exec,
	}
}

func (c *Client) generateJSON(ctx context.Context, operation, prompt string) (string, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"prompt": prompt,
		"stream": false,
		"format": "json",
	}

	var out string
	call := func(ctx context.Context) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var response struct {
			Response string `json:"response"`
		}
		if err := c.postJSON(ctx, "/api/generate", reqBody, &response, operation); err != nil {
			return err
		}
		out = strings.TrimSpace(response.Response)
		return nil
	}

	var err error
	if c.exec != nil {
		err = c.exec.Execute(ctx, operation, call, classifyOllamaError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", wrapTemporaryIfNeeded(operation, err)
	}
	return out, nil
}

// Extractor runs the two model passes behind ports.TradeExtractor. Both
// passes contract-check the reply and hand rejections back to the model.
type Extractor struct {
	client      *Client
	maxAttempts int
	logger      *slog.Logger
}

func NewExtractor(client *Client, maxAttempts int, logger *slog.Logger) *Extractor {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		client:      client,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (e *Extractor) Classify(ctx context.Context, text string) (domain.DocumentClass, error) {
	var class domain.DocumentClass
	_, err := e.completeJSON(ctx, "ollama_classify", buildClassifyPrompt(text), func(raw string) error {
		parsed, err := parseClassification(raw)
		if err != nil {
			return err
		}
		class = parsed
		return nil
	})
	if err != nil {
		return domain.DocumentClass{}, err
	}
	return class, nil
}

func (e *Extractor) Extract(ctx context.Context, text string) (domain.TradeExtraction, error) {
	var fields domain.TradeFields
	var confidence float64
	attempts, err := e.completeJSON(ctx, "ollama_extract", buildExtractPrompt(text), func(raw string) error {
		parsed, conf, err := parseTradeFields(raw)
		if err != nil {
			return err
		}
		fields = parsed
		confidence = conf
		return nil
	})
	if err != nil {
		return domain.TradeExtraction{}, err
	}
	return domain.TradeExtraction{
		Fields:     fields,
		Confidence: confidence,
		Attempts:   attempts,
	}, nil
}

// completeJSON drives the self-correction loop: each rejection is fed back to
// the model until accept passes or the attempt budget runs out. Transport
// failures abort immediately; the resilience layer already retried those.
func (e *Extractor) completeJSON(ctx context.Context, operation, prompt string, accept func(raw string) error) (int, error) {
	ask := prompt
	var lastErr error

	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		raw, err := e.client.generateJSON(ctx, operation, ask)
		if err != nil {
			return attempt, err
		}

		rejection := accept(raw)
		if rejection == nil {
			return attempt, nil
		}
		lastErr = rejection
		e.logger.Warn("model_reply_rejected",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", e.maxAttempts,
			"error", rejection,
		)
		ask = buildRepairPrompt(prompt, raw, rejection)
	}

	return e.maxAttempts, domain.WrapError(domain.ErrSchemaValidation, operation,
		fmt.Errorf("no valid reply after %d attempts: %w", e.maxAttempts, lastErr))
}
