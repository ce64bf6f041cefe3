package mcp

import (
	"bytes"
	"encoding/json"
)

// ProtocolVersion is the MCP protocol revision this server speaks.
const ProtocolVersion = "2024-11-05"

// ServerInfo identifies the server in the initialize handshake.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ToolsCapability advertises tool support.
type ToolsCapability struct {
	ListChanged bool `json:"listChanged,omitempty"`
}

// Capabilities lists what the server supports.
type Capabilities struct {
	Tools ToolsCapability `json:"tools"`
}

// InitializeResult is the reply to the initialize request.
type InitializeResult struct {
	ProtocolVersion string       `json:"protocolVersion"`
	Capabilities    Capabilities `json:"capabilities"`
	ServerInfo      ServerInfo   `json:"serverInfo"`
}

// ToolDescriptor is one entry of the tools/list reply.
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ListToolsResult is the tools/list reply.
type ListToolsResult struct {
	Tools []ToolDescriptor `json:"tools"`
}

// Content is one chunk of a tools/call reply.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallToolResult is the tools/call reply. Tool failures set IsError and
// keep the text payload, never a broken JSON-RPC response.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}

// TextResult renders a tool payload as a single text content chunk.
// Unicode and HTML pass through unescaped.
func TextResult(payload any, isError bool) CallToolResult {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return CallToolResult{
			Content: []Content{{Type: "text", Text: err.Error()}},
			IsError: true,
		}
	}
	return CallToolResult{
		Content: []Content{{Type: "text", Text: string(bytes.TrimRight(buf.Bytes(), "\n"))}},
		IsError: isError,
	}
}

// ErrorResult renders a plain error text chunk.
func ErrorResult(text string) CallToolResult {
	return CallToolResult{
		Content: []Content{{Type: "text", Text: text}},
		IsError: true,
	}
}
