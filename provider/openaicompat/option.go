package openaicompat

// Option adjusts every chat completions request a Provider sends.
type Option func(*ChatRequest)

// WithTemperature sets the sampling temperature. The code agent runs at 0.1.
func WithTemperature(t float64) Option {
	return func(r *ChatRequest) { r.Temperature = &t }
}

func WithTopP(p float64) Option {
	return func(r *ChatRequest) { r.TopP = &p }
}

// WithMaxTokens caps output tokens per completion.
func WithMaxTokens(n int) Option {
	return func(r *ChatRequest) { r.MaxTokens = n }
}

func WithStop(s ...string) Option {
	return func(r *ChatRequest) { r.Stop = s }
}

// WithSeed pins sampling so replays against the same model are comparable.
func WithSeed(s int) Option {
	return func(r *ChatRequest) { r.Seed = &s }
}

// WithToolChoice forwards tool_choice verbatim ("auto", "none", "required"
// or a function object).
func WithToolChoice(choice any) Option {
	return func(r *ChatRequest) { r.ToolChoice = choice }
}
