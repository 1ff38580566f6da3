// Package inference talks to OpenAI-compatible chat endpoints (OpenAI,
// Ollama, vLLM, Groq and friends) for the spider's reasoning calls.
//
//	client, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    inference.WithModel("gpt-4o-mini"),
//	)
//	resp, _ := client.Chat(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{inference.NewUserMessage("walk forward")},
//	    JSON:     true,
//	})
package inference

import "context"

// Provider is a chat and vision backend.
type Provider interface {
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Vision answers a prompt about a single JPEG frame.
	Vision(ctx context.Context, req *VisionRequest) (*VisionResponse, error)

	Capabilities() Capabilities
	Health(ctx context.Context) error
	Close() error
}

// Capabilities describes what a provider supports.
type Capabilities struct {
	Chat   bool
	Vision bool
}

// ChatRequest for chat completions.
type ChatRequest struct {
	Messages []Message

	// Model overrides the default model.
	Model       string
	MaxTokens   int
	Temperature float64

	// JSON asks the model for a single JSON object reply.
	JSON bool
}

// ChatResponse from a chat completion.
type ChatResponse struct {
	Message      Message
	FinishReason string
	Usage        Usage
	Model        string
	LatencyMs    int64
}

// VisionRequest asks a question about one frame.
type VisionRequest struct {
	JPEG      []byte
	Prompt    string
	Model     string
	MaxTokens int
}

// VisionResponse from image analysis.
type VisionResponse struct {
	Content   string
	Usage     Usage
	Model     string
	LatencyMs int64
}

// Usage tracks token consumption.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
