package provider

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// AnthropicAdapter speaks the Messages API. Leading system messages move to
// the top-level "system" field and tool traffic uses content blocks.
type AnthropicAdapter struct {
	route Route
}

func (a *AnthropicAdapter) Name() string { return "anthropic" }

func (a *AnthropicAdapter) Endpoint(apiBase, model, credential string) string {
	return a.route.endpoint(apiBase, model, credential)
}

func (a *AnthropicAdapter) Headers(credential string) http.Header {
	return a.route.headers(credential)
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string           `json:"type"`
	Text      string           `json:"text,omitempty"`
	ID        string           `json:"id,omitempty"`
	Name      string           `json:"name,omitempty"`
	Input     map[string]any   `json:"input,omitempty"`
	ToolUseID string           `json:"tool_use_id,omitempty"`
	Content   string           `json:"content,omitempty"`
	Source    *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// FormatRequest builds the request body.
func (a *AnthropicAdapter) FormatRequest(req *ChatRequest) ([]byte, error) {
	out := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}

	var system []string
	for i, msg := range req.Messages {
		if msg.Role == RoleSystem {
			if i == len(system) {
				system = append(system, msg.Content)
				continue
			}
			// A system message after the conversation started is kept in order.
			out.Messages = appendAnthropic(out.Messages, RoleUser, anthropicBlock{Type: "text", Text: msg.Content})
			continue
		}
		switch msg.Role {
		case RoleTool:
			out.Messages = appendAnthropic(out.Messages, RoleUser, anthropicBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			})
		case RoleAssistant:
			var blocks []anthropicBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			out.Messages = appendAnthropic(out.Messages, RoleAssistant, blocks...)
		default:
			var blocks []anthropicBlock
			if msg.Image != nil {
				blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicSource{
					Type:      "base64",
					MediaType: msg.Image.MediaType,
					Data:      base64.StdEncoding.EncodeToString(msg.Image.Data),
				}})
			}
			if msg.Content != "" || len(blocks) == 0 {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
			}
			out.Messages = appendAnthropic(out.Messages, RoleUser, blocks...)
		}
	}
	out.System = strings.Join(system, "\n\n")

	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal anthropic request: %w", err)
	}
	return body, nil
}

// appendAnthropic merges consecutive same-role turns, which the API requires
// to alternate.
func appendAnthropic(msgs []anthropicMessage, role string, blocks ...anthropicBlock) []anthropicMessage {
	if n := len(msgs); n > 0 && msgs[n-1].Role == role {
		msgs[n-1].Content = append(msgs[n-1].Content, blocks...)
		return msgs
	}
	return append(msgs, anthropicMessage{Role: role, Content: blocks})
}

// ParseResponse converts the API response to our ChatResponse type.
func (a *AnthropicAdapter) ParseResponse(body []byte) (*ChatResponse, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}
	result := &ChatResponse{FinishReason: resp.StopReason}
	if resp.Usage != nil {
		result.Usage = Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		}
	}
	var text []string
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text = append(text, block.Text)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	result.Content = strings.Join(text, "")
	return result, nil
}
