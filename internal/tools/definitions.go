package tools

import (
	"encoding/json"

	"github.com/rustyclaw/rustyclaw/internal/llm"
)

// BuiltinDefinitions returns descriptors for the built-in tools.
func BuiltinDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        "exec",
			Description: "Execute a command in the sandbox. Requires elevated mode.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"command": {"type": "string", "description": "The command to execute"},
					"args": {"type": "array", "items": {"type": "string"}, "description": "Command arguments"},
					"working_dir": {"type": "string", "description": "Working directory (optional)"}
				},
				"required": ["command"]
			}`),
		},
		{
			Name:        "bash",
			Description: "Execute a bash script in the sandbox. Requires elevated mode.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"script": {"type": "string", "description": "The bash script to execute"}
				},
				"required": ["script"]
			}`),
		},
		{
			Name:        "web_fetch",
			Description: "Fetch a URL over HTTP GET and return the response body.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"url": {"type": "string", "description": "The http(s) URL to fetch"}
				},
				"required": ["url"]
			}`),
		},
		{
			Name:        "memory_append",
			Description: "Save a note to today's memory log.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string", "description": "The note to remember"}
				},
				"required": ["content"]
			}`),
		},
		{
			Name:        "memory_search",
			Description: "Search memory logs for a phrase.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "description": "The phrase to search for"}
				},
				"required": ["query"]
			}`),
		},
		{
			Name:        "send_message",
			Description: "Send a message to a recipient on a connected channel.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"channel": {"type": "string", "description": "Channel name, e.g. telegram or discord"},
					"recipient": {"type": "string", "description": "Channel-native recipient id"},
					"text": {"type": "string", "description": "Message text"}
				},
				"required": ["channel", "recipient", "text"]
			}`),
		},
		{
			Name:        "list_channels",
			Description: "List the connected messaging channels.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}
}

// Definitions returns every tool the session can offer the model:
// built-ins plus loaded skills.
func (e *Executor) Definitions() []llm.ToolDefinition {
	defs := BuiltinDefinitions()
	if e.registry != nil {
		for _, def := range e.registry.Definitions() {
			defs = append(defs, llm.ToolDefinition{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.ParametersJSON(),
			})
		}
	}
	return defs
}
