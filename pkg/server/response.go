package server

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prismon/mcp-bookmarks/pkg/storeerr"
)

// Response is the JSON envelope every tool returns
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Code    string      `json:"code,omitempty"`
	Hint    string      `json:"hint,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func success(message string, data interface{}) *mcp.CallToolResult {
	return render(Response{Success: true, Message: message, Data: data})
}

// failure reports err in the envelope and flags the result as an error
func failure(err error) *mcp.CallToolResult {
	return render(Response{
		Success: false,
		Message: err.Error(),
		Code:    string(storeerr.CodeOf(err)),
		Hint:    storeerr.HintOf(err),
	})
}

func invalidArgs(err error) *mcp.CallToolResult {
	return failure(storeerr.Validation("invalid arguments: %v", err))
}

func render(resp Response) *mcp.CallToolResult {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		data = []byte(fmt.Sprintf(`{"success":false,"message":%q,"code":"internal"}`, err.Error()))
		resp.Success = false
	}
	result := mcp.NewToolResultText(string(data))
	result.IsError = !resp.Success
	return result
}

func unmarshalArgs(arguments interface{}, v interface{}) error {
	if arguments == nil {
		return nil
	}
	data, err := json.Marshal(arguments)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// splitList splits a comma-separated argument, dropping empty items
func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
