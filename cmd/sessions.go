package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/biswajeet0192/locallm/internal/conversation"
	"github.com/biswajeet0192/locallm/internal/session"
	"github.com/biswajeet0192/locallm/internal/ui"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage chat sessions",
	Long: `List, show, and delete chat sessions.

Examples:
  locallm sessions                 # List sessions
  locallm sessions show <id>       # Show a session's messages
  locallm sessions delete <id>     # Delete a session
  locallm sessions export <id>     # Export a transcript as markdown
  locallm sessions list --local    # Browse the local mirror instead`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show session messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsDelete,
}

var sessionsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsExport,
}

var (
	sessionsLocal        bool
	sessionsExportFormat string
)

func init() {
	sessionsCmd.PersistentFlags().BoolVar(&sessionsLocal, "local", false, "Use the local session mirror instead of the backend")
	sessionsExportCmd.Flags().StringVar(&sessionsExportFormat, "format", "markdown", "Export format (markdown or json)")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsDeleteCmd)
	sessionsCmd.AddCommand(sessionsExportCmd)

	rootCmd.AddCommand(sessionsCmd)
}

// getSessionStore returns the backend store, or the local mirror with
// --local.
func getSessionStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if sessionsLocal {
		if !cfg.Mirror.Enabled {
			return nil, fmt.Errorf("local session mirror is disabled in config")
		}
		return session.NewSQLiteStore(cfg.Mirror.Path)
	}
	return session.NewHTTPStore(cfg.BaseURL), nil
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.List(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	fmt.Printf("%-36s %-14s %-14s %5s  %s\n", "ID", "Model", "Updated", "Msgs", "Title")
	fmt.Println(strings.Repeat("-", 90))
	for _, s := range sessions {
		fmt.Printf("%-36s %-14s %-14s %5d  %s\n",
			s.ID, ui.Truncate(s.Model, 14), formatRelativeTime(s.UpdatedAt),
			s.MessageCount, ui.Truncate(s.Title, 40))
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	messages, err := store.Messages(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get messages: %w", err)
	}

	styles := ui.NewStyles(os.Stdout)
	fmt.Println(styles.Title.Render(sess.Title) + styles.Muted.Render(" ("+sess.Model+")"))
	fmt.Println()
	for _, msg := range messages {
		if msg.Role == "user" {
			fmt.Println(styles.User.Render("user> ") + msg.Content)
		} else {
			fmt.Println(styles.Assistant.Render(msg.Role+"> ") + ui.RenderContent(msg.Content, styles))
		}
		fmt.Println()
	}
	return nil
}

func runSessionsDelete(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Delete(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Printf("Deleted session %s\n", args[0])
	return nil
}

func runSessionsExport(cmd *cobra.Command, args []string) error {
	store, err := getSessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	sess, err := store.Get(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	messages, err := store.Messages(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to get messages: %w", err)
	}

	switch sessionsExportFormat {
	case "markdown", "md":
		fmt.Print(session.ExportToMarkdown(sess, messages))
	case "json":
		out, err := session.ExportToJSON(sess, messages)
		if err != nil {
			return err
		}
		fmt.Print(out)
	default:
		return fmt.Errorf("unknown export format %q (want markdown or json)", sessionsExportFormat)
	}
	return nil
}

// printSessionTable renders the session list for the chat REPL, marking
// the current session.
func printSessionTable(sessions []session.Session, manager *conversation.Manager) {
	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return
	}
	currentID := ""
	if current, ok := manager.Current(); ok {
		currentID = current.ID
	}
	for _, s := range sessions {
		marker := "  "
		if s.ID == currentID {
			marker = "* "
		}
		fmt.Printf("%s%-36s %-14s %5d  %s\n", marker, s.ID, formatRelativeTime(s.UpdatedAt), s.MessageCount, ui.Truncate(s.Title, 40))
	}
}

// formatRelativeTime renders a timestamp as a compact age like "2h ago".
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
