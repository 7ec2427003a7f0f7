package server

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// Database connection tools

func dbConnectTool() mcp.Tool {
	return mcp.NewTool("db-connect",
		mcp.WithDescription("Open a SQLite file read-only under a connection name. Files held open by a running browser are read from an immutable view or a private copy"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Connection name")),
		mcp.WithString("path", mcp.Required(), mcp.Description("Database file path")),
		mcp.WithBoolean("assumeLocked", mcp.Description("Skip the direct open and treat the file as locked (default: false)")),
	)
}

func (t *tools) handleDBConnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Name         string `json:"name"`
		Path         string `json:"path"`
		AssumeLocked bool   `json:"assumeLocked,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	info, err := t.deps.DBs.Register(ctx, args.Name, args.Path, args.AssumeLocked)
	if err != nil {
		return failure(err), nil
	}
	return success(fmt.Sprintf("connected %s (%s)", info.Name, info.AccessMethod), info), nil
}

func dbQueryTool() mcp.Tool {
	return mcp.NewTool("db-query",
		mcp.WithDescription("Run a read-only SQL statement (SELECT, WITH, EXPLAIN, PRAGMA, VALUES) on a connection"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Connection name")),
		mcp.WithString("query", mcp.Required(), mcp.Description("SQL statement")),
		mcp.WithNumber("maxRows", mcp.Description("Maximum rows returned (default: 500)")),
	)
}

func (t *tools) handleDBQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Name    string `json:"name"`
		Query   string `json:"query"`
		MaxRows int    `json:"maxRows,omitempty"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	res, err := t.deps.DBs.Query(ctx, args.Name, args.Query, nil, args.MaxRows)
	if err != nil {
		return failure(err), nil
	}
	msg := fmt.Sprintf("%d rows", res.RowCount)
	if res.Truncated {
		msg += " (truncated)"
	}
	return success(msg, res), nil
}

func dbDisconnectTool() mcp.Tool {
	return mcp.NewTool("db-disconnect",
		mcp.WithDescription("Close a connection and remove any temporary copy it made"),
		mcp.WithString("name", mcp.Required(), mcp.Description("Connection name")),
	)
}

func (t *tools) handleDBDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Name string `json:"name"`
	}
	if err := unmarshalArgs(request.Params.Arguments, &args); err != nil {
		return invalidArgs(err), nil
	}

	if err := t.deps.DBs.Close(args.Name); err != nil {
		return failure(err), nil
	}
	return success(fmt.Sprintf("disconnected %s", args.Name), nil), nil
}

func dbConnectionsTool() mcp.Tool {
	return mcp.NewTool("db-connections",
		mcp.WithDescription("List open connections"),
	)
}

func (t *tools) handleDBConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns := t.deps.DBs.List()
	return success(fmt.Sprintf("%d connections", len(conns)), conns), nil
}
