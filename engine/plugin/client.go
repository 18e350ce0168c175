package plugin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/pluginmind/pluginmind/engine/core"
	"github.com/pluginmind/pluginmind/engine/registry"
	"github.com/pluginmind/pluginmind/pkg/config"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

// chatMessage is one turn of a chat-completion conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Client is the shared outbound HTTP client for provider plugins. It owns the
// connection pool, the total-call deadline, and the retry policy; providers
// differ only in endpoint, key, and model.
type Client struct {
	http        *resty.Client
	maxRetries  int
	backoffBase time.Duration
}

// NewClient builds a provider client from the outbound HTTP budgets.
func NewClient(cfg *config.HTTPConfig) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: cfg.KeepAlive,
		}).DialContext,
		MaxIdleConns:          cfg.PoolSize,
		MaxIdleConnsPerHost:   cfg.PoolSize,
		IdleConnTimeout:       cfg.PoolTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
	}
	rc := resty.New().
		SetTimeout(cfg.Timeout).
		SetTransport(transport).
		SetHeader("Content-Type", "application/json")
	return &Client{
		http:        rc,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
	}
}

// Chat performs a chat-completion call with bounded retries. Connection
// failures and 502/503/504 responses are retried with exponential backoff and
// jitter; 4xx responses are never retried. The caller's context bounds the
// whole call including backoff sleeps.
func (c *Client) Chat(
	ctx context.Context,
	endpoint string,
	apiKey string,
	model string,
	prompt string,
	opts registry.InvokeOptions,
) (*registry.Result, error) {
	body := chatRequest{
		Model:     model,
		MaxTokens: opts.MaxTokens,
	}
	if opts.Temperature > 0 {
		body.Temperature = &opts.Temperature
	}
	if opts.SystemPrompt != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: opts.SystemPrompt})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: prompt})

	backoff := retry.NewExponential(c.backoffBase)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(uint64(c.maxRetries), backoff)

	var result *registry.Result
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var parseErr error
		result, parseErr = c.attempt(ctx, endpoint, apiKey, body)
		return parseErr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, core.WrapError(core.CodeAIServiceError, "AI provider call timed out", err)
		}
		if _, ok := core.AsError(err); ok {
			return nil, err
		}
		return nil, core.WrapError(core.CodeAIServiceError, "AI provider call failed", err)
	}
	return result, nil
}

func (c *Client) attempt(ctx context.Context, endpoint, apiKey string, body chatRequest) (*registry.Result, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		SetBody(body).
		SetResult(&chatResponse{}).
		Post(endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.FromContext(ctx).Warn("AI provider connection failed",
			"endpoint", endpoint, "error", core.RedactError(err))
		return nil, retry.RetryableError(
			core.WrapError(core.CodeAIServiceError, "AI provider unreachable", err))
	}

	switch code := resp.StatusCode(); {
	case code == http.StatusOK:
		parsed, ok := resp.Result().(*chatResponse)
		if !ok || len(parsed.Choices) == 0 {
			return nil, core.NewError(core.CodeAIServiceError, "AI provider returned an empty response")
		}
		return &registry.Result{
			Content: parsed.Choices[0].Message.Content,
			Usage: registry.Usage{
				PromptTokens:     parsed.Usage.PromptTokens,
				CompletionTokens: parsed.Usage.CompletionTokens,
				TotalTokens:      parsed.Usage.TotalTokens,
			},
		}, nil
	case code == http.StatusTooManyRequests:
		limitErr := core.NewError(core.CodeRateLimitExceeded, "AI provider rate limit exceeded")
		if after, convErr := strconv.Atoi(resp.Header().Get("Retry-After")); convErr == nil && after > 0 {
			limitErr.RetryAfter = after
		}
		return nil, limitErr
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		logger.FromContext(ctx).Warn("AI provider returned transient failure",
			"endpoint", endpoint, "status", code)
		return nil, retry.RetryableError(core.NewError(core.CodeAIServiceError,
			fmt.Sprintf("AI provider returned status %d", code)))
	default:
		return nil, core.NewError(core.CodeAIServiceError,
			fmt.Sprintf("AI provider returned status %d", code))
	}
}
