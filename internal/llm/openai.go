package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider talks to any OpenAI-compatible chat completion server,
// including Ollama's /v1 endpoint.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider. baseURL overrides the default
// endpoint; apiKey may be empty for local servers.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	if apiKey == "" {
		apiKey = "unused" // local servers ignore the key but the SDK requires one
	}
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

// Complete performs a blocking completion call.
func (p *OpenAIProvider) Complete(ctx context.Context, req *Request) (*Response, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: empty response")
	}
	choice := resp.Choices[0].Message

	out := &Response{
		Text:  choice.Content,
		Model: req.Model,
		Usage: Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	for _, call := range choice.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return out, nil
}

// Stream performs a streaming completion call.
func (p *OpenAIProvider) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}

	chunks := make(chan Chunk)
	go func() {
		defer close(chunks)
		defer stream.Close()

		// Tool call fragments arrive indexed; assemble before emitting.
		type partial struct {
			id, name string
			args     strings.Builder
		}
		calls := make(map[int]*partial)
		var order []int

		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				chunks <- Chunk{Err: fmt.Errorf("openai stream: %w", err), Done: true}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta
			if delta.Content != "" {
				chunks <- Chunk{Text: delta.Content}
			}
			for _, call := range delta.ToolCalls {
				idx := 0
				if call.Index != nil {
					idx = *call.Index
				}
				part, ok := calls[idx]
				if !ok {
					part = &partial{}
					calls[idx] = part
					order = append(order, idx)
				}
				if call.ID != "" {
					part.id = call.ID
				}
				if call.Function.Name != "" {
					part.name = call.Function.Name
				}
				part.args.WriteString(call.Function.Arguments)
			}
		}

		for _, idx := range order {
			part := calls[idx]
			args := part.args.String()
			if args == "" {
				args = "{}"
			}
			chunks <- Chunk{ToolCall: &ToolCall{ID: part.id, Name: part.name, Arguments: args}}
		}
		chunks <- Chunk{Done: true, Usage: &Usage{}}
	}()
	return chunks, nil
}

func (p *OpenAIProvider) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:  req.Model,
		Stream: stream,
	}
	if req.System != "" {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, msg := range req.Messages {
		oaiMsg := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == RoleTool {
			oaiMsg.Role = openai.ChatMessageRoleTool
			oaiMsg.ToolCallID = msg.ToolCallID
		}
		for _, call := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   call.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      call.Name,
					Arguments: call.Arguments,
				},
			})
		}
		out.Messages = append(out.Messages, oaiMsg)
	}
	for _, tool := range req.Tools {
		var params any
		if err := json.Unmarshal(tool.Parameters, &params); err != nil {
			params = map[string]any{"type": "object"}
		}
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  params,
			},
		})
	}
	if req.MaxTokens > 0 {
		out.MaxTokens = req.MaxTokens
	}
	return out
}
