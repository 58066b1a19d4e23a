package llm

import "context"

// Provider defines the interface for LLM providers.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// Name returns the name of this provider.
	Name() string
}

// VisionProvider is implemented by providers that accept image parts.
// Providers that do not implement it get text-only requests.
type VisionProvider interface {
	Provider
	SupportsImages() bool
}

// SupportsImages reports whether p accepts image parts.
func SupportsImages(p Provider) bool {
	v, ok := p.(VisionProvider)
	return ok && v.SupportsImages()
}
