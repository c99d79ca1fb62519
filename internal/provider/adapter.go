package provider

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Adapter converts between the provider-agnostic request/response types and
// one vendor's JSON bodies.
type Adapter interface {
	Name() string
	FormatRequest(req *ChatRequest) ([]byte, error)
	ParseResponse(body []byte) (*ChatResponse, error)
	// Endpoint returns the request URL. apiBase overrides the default base.
	Endpoint(apiBase, model, credential string) string
	Headers(credential string) http.Header
}

// AuthStyle is how a vendor expects the credential.
type AuthStyle int

const (
	AuthBearer AuthStyle = iota
	AuthHeader
	AuthQuery
)

// Route is the static endpoint and auth shape of one vendor.
type Route struct {
	BaseURL string
	// Path may contain {model}.
	Path  string
	Auth  AuthStyle
	Key   string // header name or query parameter
	Extra map[string]string
}

var routes = map[string]Route{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Path:    "/chat/completions",
		Auth:    AuthBearer,
	},
	"xai": {
		BaseURL: "https://api.x.ai/v1",
		Path:    "/chat/completions",
		Auth:    AuthBearer,
	},
	"anthropic": {
		BaseURL: "https://api.anthropic.com/v1",
		Path:    "/messages",
		Auth:    AuthHeader,
		Key:     "x-api-key",
		Extra:   map[string]string{"anthropic-version": "2023-06-01"},
	},
	"gemini": {
		BaseURL: "https://generativelanguage.googleapis.com/v1beta",
		Path:    "/models/{model}:generateContent",
		Auth:    AuthQuery,
		Key:     "key",
	},
}

// providerAliases maps common aliases to canonical provider IDs.
var providerAliases = map[string]string{
	"claude": "anthropic",
	"google": "gemini",
	"grok":   "xai",
}

// NormalizeProviderID resolves aliases and lower-cases the id.
func NormalizeProviderID(id string) string {
	lower := strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := providerAliases[lower]; ok {
		return canonical
	}
	return lower
}

// RouteFor returns the static route of a provider.
func RouteFor(id string) (Route, bool) {
	r, ok := routes[NormalizeProviderID(id)]
	return r, ok
}

// Lookup returns the adapter for a provider id or alias.
func Lookup(id string) (Adapter, error) {
	switch canonical := NormalizeProviderID(id); canonical {
	case "openai":
		return &OpenAIAdapter{name: canonical, route: routes[canonical]}, nil
	case "xai":
		return NewXAIAdapter(), nil
	case "anthropic":
		return &AnthropicAdapter{route: routes[canonical]}, nil
	case "gemini":
		return &GeminiAdapter{route: routes[canonical]}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
}

// Providers lists the canonical provider ids.
func Providers() []string {
	return []string{"anthropic", "gemini", "openai", "xai"}
}

func (r Route) endpoint(apiBase, model, credential string) string {
	base := r.BaseURL
	if apiBase != "" {
		base = apiBase
	}
	u := strings.TrimSuffix(base, "/") + strings.ReplaceAll(r.Path, "{model}", url.PathEscape(model))
	if r.Auth == AuthQuery && credential != "" {
		u += "?" + url.Values{r.Key: {credential}}.Encode()
	}
	return u
}

func (r Route) headers(credential string) http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	switch r.Auth {
	case AuthBearer:
		h.Set("Authorization", "Bearer "+credential)
	case AuthHeader:
		h.Set(r.Key, credential)
	}
	for k, v := range r.Extra {
		h.Set(k, v)
	}
	return h
}
