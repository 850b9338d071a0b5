// Package mcp exposes the note operations as MCP tools over the Streamable
// HTTP transport.
package mcp

import "github.com/modelcontextprotocol/go-sdk/mcp"

// Tool names.
const (
	ToolNoteCreate = "note_create"
	ToolNoteList   = "note_list"
	ToolNoteShow   = "note_show"
	ToolNoteEdit   = "note_edit"
	ToolNoteDelete = "note_delete"
)

func stringProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

// ToolDefinitions returns the notes MCP tool definitions.
func ToolDefinitions() []*mcp.Tool {
	return []*mcp.Tool{
		{
			Name:        ToolNoteCreate,
			Description: "Create a note for a persona. Both title and content are required. Returns the stored note including its id and timestamps.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"personaId": stringProperty("The persona that will own the note"),
					"title":     stringProperty("The title of the note"),
					"content":   stringProperty("The body of the note"),
				},
				"required": []string{"personaId"},
			},
		},
		{
			Name:        ToolNoteList,
			Description: "List a persona's notes, most recently modified first.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"personaId": stringProperty("The persona whose notes to list"),
				},
				"required": []string{"personaId"},
			},
		},
		{
			Name:        ToolNoteShow,
			Description: "Read a single note by id.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": stringProperty("The note id returned by note_create or note_list"),
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        ToolNoteEdit,
			Description: "Change a note's title and/or content. Fields that are not passed keep their current value. Returns the updated note.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":      stringProperty("The note id"),
					"title":   stringProperty("The new title (optional)"),
					"content": stringProperty("The new content (optional)"),
				},
				"required": []string{"id"},
			},
		},
		{
			Name:        ToolNoteDelete,
			Description: "Delete a note by id.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": stringProperty("The note id"),
				},
				"required": []string{"id"},
			},
		},
	}
}
