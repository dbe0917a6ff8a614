package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/shopassist/internal/intent"
	"github.com/kalambet/shopassist/internal/pipeline"
	"github.com/kalambet/shopassist/internal/session"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat       *pipeline.Chat
	Categories intent.CategoryLister
}

// NewMCPServer creates an MCP server with the shop assistant tools and the
// category resource registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"shopassist",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("shopassist: shoe store sales assistant with catalog-grounded recommendations and chat history."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("recommend_products",
			mcp.WithDescription("Extract sizes, colors and keywords from a customer message and return up to 3 matching in-stock products. Does not call the language model."),
			mcp.WithString("message", mcp.Description("Customer message"), mcp.Required()),
			mcp.WithString("page", mcp.Description("Storefront page the customer is on, e.g. /products/by-category/3")),
			mcp.WithNumber("product_id", mcp.Description("Id of the product the customer is viewing")),
		),
		mcpRecommendProducts(deps),
	)

	s.AddTool(
		mcp.NewTool("send_message",
			mcp.WithDescription("Send a customer message to the assistant and return its reply. The turn is stored in the customer's chat session."),
			mcp.WithNumber("user_id", mcp.Description("Customer id"), mcp.Required()),
			mcp.WithString("message", mcp.Description("Customer message"), mcp.Required()),
			mcp.WithNumber("session_id", mcp.Description("Session to continue")),
			mcp.WithString("agent", mcp.Description("Assistant persona (default chat)")),
			mcp.WithNumber("product_id", mcp.Description("Id of the product the customer is viewing")),
			mcp.WithString("page", mcp.Description("Storefront page the customer is on")),
		),
		mcpSendMessage(deps),
	)

	s.AddTool(
		mcp.NewTool("chat_history",
			mcp.WithDescription("Return the messages of a customer's session, or of the latest session for an agent when no session id is given."),
			mcp.WithNumber("user_id", mcp.Description("Customer id"), mcp.Required()),
			mcp.WithNumber("session_id", mcp.Description("Session id")),
			mcp.WithString("agent", mcp.Description("Agent of the latest session (default chat)")),
		),
		mcpChatHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"shop://categories",
			"Product Categories",
			mcp.WithResourceDescription("Catalog categories as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceCategories(deps),
	)

	return s
}

func mcpRecommendProducts(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		rec, err := deps.Chat.Recommend(ctx, message, req.GetString("page", ""), optionalID(req, "product_id"))
		if err != nil {
			return mcpError(fmt.Sprintf("recommend failed: %v", err)), nil
		}
		return mcpJSON(rec)
	}
}

func mcpSendMessage(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := int64(req.GetInt("user_id", 0))
		if userID <= 0 {
			return mcpError("user_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}

		agent := optionalString(req, "agent")

		reply, err := deps.Chat.SendMessage(ctx, userID, pipeline.SendRequest{
			SessionID: optionalID(req, "session_id"),
			Agent:     agent,
			Message:   message,
			ProductID: optionalID(req, "product_id"),
			Page:      req.GetString("page", ""),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("send failed: %v", err)), nil
		}
		return mcpJSON(reply)
	}
}

func mcpChatHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		userID := int64(req.GetInt("user_id", 0))
		if userID <= 0 {
			return mcpError("user_id is required"), nil
		}

		if sessionID := optionalID(req, "session_id"); sessionID != nil {
			msgs, err := deps.Chat.Messages(ctx, userID, *sessionID)
			if errors.Is(err, pipeline.ErrSessionNotFound) {
				return mcpError(fmt.Sprintf("session %d not found", *sessionID)), nil
			}
			if err != nil {
				return mcpError(fmt.Sprintf("history failed: %v", err)), nil
			}
			return mcpJSON(msgs)
		}

		agent := req.GetString("agent", session.DefaultAgent)
		view, err := deps.Chat.LatestSession(ctx, userID, agent)
		if err != nil {
			return mcpError(fmt.Sprintf("history failed: %v", err)), nil
		}
		if view == nil {
			return mcpText("null"), nil
		}
		return mcpJSON(view)
	}
}

func mcpResourceCategories(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		categories, err := deps.Categories.Categories(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list categories: %w", err)
		}

		b, err := json.Marshal(categories)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal categories: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// optionalID returns a positive numeric argument or nil when it is absent.
func optionalID(req mcp.CallToolRequest, key string) *int64 {
	v := int64(req.GetInt(key, 0))
	if v <= 0 {
		return nil
	}
	return &v
}

// optionalString returns nil when key is absent. A present empty string is
// kept, since an empty agent resumes a session of any agent.
func optionalString(req mcp.CallToolRequest, key string) *string {
	v, ok := req.GetArguments()[key].(string)
	if !ok {
		return nil
	}
	return &v
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
