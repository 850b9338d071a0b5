package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/persona-notes/internal/errs"
	"github.com/kuitang/persona-notes/internal/notes"
	"github.com/kuitang/persona-notes/internal/obs"
)

// Handler implements MCP tool call handling.
type Handler struct {
	notesSvc *notes.Service
}

// NewHandler creates a new MCP handler over the notes service.
func NewHandler(notesSvc *notes.Service) *Handler {
	return &Handler{notesSvc: notesSvc}
}

// createToolHandler returns a tool handler function for the given tool
// name. bind attaches the request's caller to the handler context.
func (h *Handler) createToolHandler(name string, bind func(context.Context) context.Context) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(bind(ctx), name, args)
		return result, nil, err
	}
}

// HandleToolCall routes tool calls to the note operations. Operation
// failures become error results; only programming errors are returned.
func (h *Handler) HandleToolCall(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	var (
		value any
		err   error
	)
	switch name {
	case ToolNoteCreate:
		var personaID string
		if personaID, err = stringArg(args, notes.FieldPersonaID); err == nil {
			value, err = h.notesSvc.Create(ctx, personaID, args)
		}
	case ToolNoteList:
		var personaID string
		if personaID, err = stringArg(args, notes.FieldPersonaID); err == nil {
			value, err = h.notesSvc.List(ctx, personaID)
		}
	case ToolNoteShow:
		var id string
		if id, err = stringArg(args, notes.FieldID); err == nil {
			value, err = h.notesSvc.Show(ctx, id)
		}
	case ToolNoteEdit:
		var id string
		if id, err = stringArg(args, notes.FieldID); err == nil {
			value, err = h.notesSvc.Edit(ctx, id, args)
		}
	case ToolNoteDelete:
		var id string
		if id, err = stringArg(args, notes.FieldID); err == nil {
			err = h.notesSvc.Delete(ctx, id)
			value = map[string]any{"deleted": id}
		}
	default:
		return newToolResultError(toolErrorPayload{
			Error: fmt.Sprintf("unknown tool: %s", name),
			Code:  errs.NotFound,
		}), nil
	}

	if err != nil {
		code := errs.CodeOf(err)
		if code == errs.Internal || code == errs.Unavailable {
			obs.From(ctx).Error("mcp_tool_failed", "pkg", "mcp", "tool", name, "error", err)
		}
		return newToolResultError(toolErrorPayload{
			Error: errs.MessageOf(err),
			Code:  code,
			Field: errs.FieldOf(err),
		}), nil
	}
	return newToolResultText(marshalToolJSON(value)), nil
}

// stringArg reads a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", errs.Invalid(key, "is required")
	}
	value, ok := raw.(string)
	if !ok {
		return "", errs.Invalid(key, "must be a string")
	}
	return value, nil
}

// toolErrorPayload is the JSON body of an error result.
type toolErrorPayload struct {
	Error string    `json:"error"`
	Code  errs.Code `json:"code"`
	Field string    `json:"field,omitempty"`
}

// newToolResultText creates a successful tool result with text content.
func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

// newToolResultError creates a tool result indicating an error.
func newToolResultError(payload toolErrorPayload) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(payload)},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}
