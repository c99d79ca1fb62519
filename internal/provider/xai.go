package provider

// NewXAIAdapter returns an OpenAI-compatible adapter targeting the xAI/Grok API.
func NewXAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{name: "xai", route: routes["xai"]}
}
