package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/shopassist/internal/api"
	"github.com/kalambet/shopassist/internal/catalog"
	"github.com/kalambet/shopassist/internal/config"
	"github.com/kalambet/shopassist/internal/pipeline"
	"github.com/kalambet/shopassist/internal/session"
	"github.com/kalambet/shopassist/internal/storage"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message to the assistant as a customer",
	Long: `Send a message to the assistant as a customer.

Examples:
  shopassist chat --user 7 "mình cần giày cao gót size 39 màu đen"
  shopassist chat --user 7 --session 12 "còn màu trắng không?"
  shopassist chat --user 7 --product 10 --page /products/10 "mẫu này đi tiệc được không?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		if userID <= 0 {
			return fmt.Errorf("--user is required")
		}
		sessionID, _ := cmd.Flags().GetInt64("session")
		productID, _ := cmd.Flags().GetInt64("product")
		agent, _ := cmd.Flags().GetString("agent")
		page, _ := cmd.Flags().GetString("page")

		req := chatRequest{Message: strings.Join(args, " "), Page: page}
		if sessionID > 0 {
			req.SessionID = &sessionID
		}
		if productID > 0 {
			req.ProductID = &productID
		}
		if cmd.Flags().Changed("agent") {
			req.Agent = &agent
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.userID = userID

		reply, err := sendChat(cmd.Context(), client, req)
		if err != nil {
			return err
		}

		fmt.Println(reply.Text)
		if reply.SessionID != nil {
			printStatus("Session", "%d", *reply.SessionID)
		}
		return nil
	},
}

type chatRequest struct {
	SessionID *int64  `json:"sessionId,omitempty"`
	Agent     *string `json:"agent,omitempty"`
	Message   string  `json:"message"`
	ProductID *int64  `json:"productId,omitempty"`
	Page      string  `json:"page,omitempty"`
}

func sendChat(ctx context.Context, client *apiClient, req chatRequest) (pipeline.Reply, error) {
	resp, err := client.post(ctx, "/api/chat/messages", req)
	if err != nil {
		return pipeline.Reply{}, err
	}
	var reply pipeline.Reply
	if err := decodeJSON(resp, &reply); err != nil {
		return pipeline.Reply{}, err
	}
	return reply, nil
}

func init() {
	chatCmd.Flags().Int64("user", 0, "customer id (sent as X-User-ID)")
	chatCmd.Flags().Int64("session", 0, "session to continue")
	chatCmd.Flags().Int64("product", 0, "id of the product being viewed")
	chatCmd.Flags().String("agent", session.DefaultAgent, "assistant persona")
	chatCmd.Flags().String("page", "", "storefront page path")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a customer's chat history",
	Long: `Show a customer's chat history: a given session, or the latest
session for an agent.

Examples:
  shopassist history --user 7
  shopassist history --user 7 --agent stylist
  shopassist history --user 7 --session 12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		if userID <= 0 {
			return fmt.Errorf("--user is required")
		}
		sessionID, _ := cmd.Flags().GetInt64("session")
		agent, _ := cmd.Flags().GetString("agent")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.userID = userID

		if sessionID > 0 {
			msgs, err := fetchMessages(cmd.Context(), client, sessionID)
			if err != nil {
				return err
			}
			printMessages(os.Stdout, msgs)
			return nil
		}

		view, err := fetchLatest(cmd.Context(), client, agent)
		if err != nil {
			return err
		}
		if view == nil {
			printWarning("no %s session for user %d", agent, userID)
			return nil
		}
		printStatus("Session", "%d (%s, %s)", view.ID, view.Agent, view.Status)
		printMessages(os.Stdout, view.Messages)
		return nil
	},
}

func fetchMessages(ctx context.Context, client *apiClient, sessionID int64) ([]pipeline.MessageView, error) {
	resp, err := client.get(ctx, fmt.Sprintf("/api/chat/sessions/%d/messages", sessionID))
	if err != nil {
		return nil, err
	}
	var msgs []pipeline.MessageView
	if err := decodeJSON(resp, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// fetchLatest returns nil when the customer has no session for agent.
func fetchLatest(ctx context.Context, client *apiClient, agent string) (*pipeline.SessionView, error) {
	resp, err := client.get(ctx, "/api/chat/sessions/latest?agent="+agent)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNoContent {
		resp.Body.Close()
		return nil, nil
	}
	var view pipeline.SessionView
	if err := decodeJSON(resp, &view); err != nil {
		return nil, err
	}
	return &view, nil
}

func printMessages(w io.Writer, msgs []pipeline.MessageView) {
	for _, m := range msgs {
		label := colorize(colorCyan, "khách")
		if m.Role == storage.RoleAssistant {
			label = colorize(colorGreen, "trợ lý")
		}
		fmt.Fprintf(w, "[%s] %s: %s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), label, m.Content)
	}
}

func init() {
	historyCmd.Flags().Int64("user", 0, "customer id (sent as X-User-ID)")
	historyCmd.Flags().Int64("session", 0, "session id")
	historyCmd.Flags().String("agent", session.DefaultAgent, "agent of the latest session")
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the product catalog (requires api.token)",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import <file.json>",
	Short: "Import categories and products from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := readImportFile(args[0])
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		if client.token == "" {
			return fmt.Errorf("api.token is not configured; set SHOPASSIST_API_TOKEN or run `shopassist config set api.token <token>`")
		}

		printStep("Importing %d categories and %d products", len(req.Categories), len(req.Products))
		stats, err := importCatalog(cmd.Context(), client, req)
		if err != nil {
			return err
		}
		printSuccess("Imported %d products (%d sizes, %d variants, %d categories, %d colors)",
			stats.Products, stats.Sizes, stats.Variants, stats.Categories, stats.Colors)
		return nil
	},
}

func readImportFile(path string) (api.ImportRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return api.ImportRequest{}, fmt.Errorf("reading file: %w", err)
	}
	var req api.ImportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return api.ImportRequest{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return req, nil
}

func importCatalog(ctx context.Context, client *apiClient, req api.ImportRequest) (storage.ImportStats, error) {
	resp, err := client.post(ctx, "/api/catalog/import", req)
	if err != nil {
		return storage.ImportStats{}, err
	}
	var stats storage.ImportStats
	if err := decodeJSON(resp, &stats); err != nil {
		return storage.ImportStats{}, err
	}
	return stats, nil
}

var catalogAvailabilityCmd = &cobra.Command{
	Use:   "availability <product-id>",
	Short: "Show the in-stock quantity, sizes and colors of a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/catalog/products/"+args[0]+"/availability")
		if err != nil {
			return err
		}
		var a catalog.Availability
		if err := decodeJSON(resp, &a); err != nil {
			return err
		}

		printStatus("Product", "%d", a.ProductID)
		printStatus("Quantity", "%d", a.Quantity)
		printStatus("Sizes", "%s", joinOrDash(a.Sizes))
		printStatus("Colors", "%s", joinOrDash(a.Colors))
		return nil
	},
}

func joinOrDash(values []string) string {
	if len(values) == 0 {
		return "-"
	}
	return strings.Join(values, ", ")
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogAvailabilityCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: "Set a configuration value. Valid keys: " + strings.Join(config.ValidKeys(), ", ") +
		".\nSecrets (gemini.api_key, api.token) are written to the secrets file, not the config file.",
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
