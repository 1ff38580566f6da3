package inference

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-spider/internal/log"
)

// Config holds provider configuration.
type Config struct {
	Name        string // used in errors and logs
	BaseURL     string
	APIKey      string // optional for local providers
	Model       string
	VisionModel string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
	Logger      *slog.Logger
}

// Option configures a Client.
type Option func(*Config)

// WithName labels the provider, e.g. "openai" or "ollama".
func WithName(name string) Option { return func(c *Config) { c.Name = name } }

// WithBaseURL sets the API base URL, e.g. "http://localhost:11434/v1".
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }

// WithAPIKey sets the bearer token.
func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }

// WithModel sets the default chat model.
func WithModel(model string) Option { return func(c *Config) { c.Model = model } }

// WithVisionModel sets the model used for Vision.
func WithVisionModel(model string) Option { return func(c *Config) { c.VisionModel = model } }

// WithMaxTokens sets the default reply length.
func WithMaxTokens(n int) Option { return func(c *Config) { c.MaxTokens = n } }

// WithTemperature sets the default temperature.
func WithTemperature(t float64) Option { return func(c *Config) { c.Temperature = t } }

// WithTimeout bounds a single HTTP request.
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

// WithRetry retries transport errors, 429 and 5xx replies.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Config) { c.Logger = l } }

// DefaultConfig returns OpenAI defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:        "openai",
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		VisionModel: "gpt-4o-mini",
		MaxTokens:   300,
		Temperature: 0.4,
		Timeout:     30 * time.Second,
		MaxRetries:  1,
		RetryDelay:  200 * time.Millisecond,
	}
}

// Apply applies options in order.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
	c.Logger = log.Or(c.Logger)
}
