package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/biswajeet0192/locallm/internal/config"
	"github.com/biswajeet0192/locallm/internal/conversation"
	"github.com/biswajeet0192/locallm/internal/exitcode"
	"github.com/biswajeet0192/locallm/internal/llm"
	"github.com/biswajeet0192/locallm/internal/session"
	"github.com/biswajeet0192/locallm/internal/ui"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var chatCmd = &cobra.Command{
	Use:   "chat [prompt]",
	Short: "Chat with the model",
	Long: `Start an interactive chat, or send a single prompt.

During a response, Ctrl+C stops generation; at the prompt it exits.

Slash commands:
  /new [title]     start a new session
  /sessions        list sessions
  /switch <id>     switch to a session
  /delete <id>     delete a session
  /attach <path>   attach an image to the next message
  /search on|off   toggle web search
  /quit            exit`,
	Args: cobra.ArbitraryArgs,
}

var (
	chatSessionID  string
	chatSearch     bool
	chatAttach     []string
	chatMaxContext int
)

func init() {
	chatCmd.RunE = runChat
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "Resume an existing session")
	chatCmd.Flags().BoolVarP(&chatSearch, "search", "s", false, "Enable web search")
	chatCmd.Flags().StringArrayVar(&chatAttach, "attach", nil, "Attach an image file (repeatable)")
	chatCmd.Flags().IntVar(&chatMaxContext, "max-context", 0, "Override context window size (messages)")

	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if chatMaxContext > 0 {
		cfg.Context.MaxMessages = chatMaxContext
	}

	manager, cleanup, err := newManager(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	client := llm.NewClient(cfg.BaseURL)
	if running, err := client.ServerStatus(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not reach backend at %s: %v\n", cfg.BaseURL, err)
	} else if !running {
		fmt.Fprintln(os.Stderr, "warning: inference server is not running (try 'locallm server start')")
	}

	if chatSessionID != "" {
		if err := manager.SwitchSession(ctx, chatSessionID); err != nil {
			return fmt.Errorf("failed to switch session: %w", err)
		}
	}

	images, err := loadAttachments(chatAttach)
	if err != nil {
		return err
	}

	// One-shot mode: send the prompt and exit.
	if len(args) > 0 {
		prompt := strings.Join(args, " ")
		return sendPrompt(ctx, manager, prompt, conversation.SendOptions{
			Images:    images,
			WebSearch: chatSearch,
			OnDelta:   printDelta,
		}, true)
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return fmt.Errorf("interactive chat requires a terminal; pass a prompt as an argument instead")
	}

	return chatLoop(ctx, manager, images)
}

// newManager wires the client, stores, and context policy from config.
func newManager(cfg *config.Config) (*conversation.Manager, func(), error) {
	client := llm.NewClient(cfg.BaseURL)
	store := session.NewHTTPStore(cfg.BaseURL)

	var policy llm.ContextPolicy
	if cfg.Context.Policy == "tokens" {
		tokenPolicy, err := llm.NewTokenPolicy(cfg.Context.TokenBudget)
		if err != nil {
			return nil, nil, err
		}
		policy = tokenPolicy
	}

	var mirror *session.SQLiteStore
	if cfg.Mirror.Enabled {
		var err error
		mirror, err = session.NewSQLiteStore(cfg.Mirror.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: local session mirror disabled: %v\n", err)
		}
	}

	manager := conversation.NewManager(client, store, conversation.Options{
		Model:              cfg.Model,
		MaxContextMessages: cfg.Context.MaxMessages,
		Policy:             policy,
		Mirror:             mirror,
	})

	cleanup := func() {
		store.Close()
		if mirror != nil {
			mirror.Close()
		}
	}
	return manager, cleanup, nil
}

// chatLoop runs the interactive REPL.
func chatLoop(ctx context.Context, manager *conversation.Manager, images [][]byte) error {
	styles := ui.NewStyles(os.Stdout)
	scanner := bufio.NewScanner(os.Stdin)
	search := chatSearch

	fmt.Println(styles.Muted.Render("Type /help for commands, /quit to exit."))

	for {
		fmt.Print(styles.User.Render("you> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := handleSlashCommand(ctx, manager, styles, line, &search, &images)
			if err != nil {
				fmt.Println(styles.Error.Render(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		err := sendPrompt(ctx, manager, line, conversation.SendOptions{
			Images:    images,
			WebSearch: search,
			OnDelta:   printDelta,
		}, false)
		images = nil
		if err != nil {
			fmt.Println(styles.Error.Render(err.Error()))
		}
	}
}

// sendPrompt runs one generation, streaming deltas to stdout. Ctrl+C while
// the response streams cancels it instead of killing the process; in
// one-shot mode the process then exits with the conventional SIGINT code.
func sendPrompt(ctx context.Context, manager *conversation.Manager, prompt string, opts conversation.SendOptions, oneShot bool) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	var interrupted atomic.Bool
	go func() {
		select {
		case <-sigCh:
			if manager.CancelActive() {
				interrupted.Store(true)
			}
		case <-done:
		}
	}()
	defer func() {
		signal.Stop(sigCh)
		close(done)
	}()

	// Spin until the first byte arrives, terminal output only.
	if term.IsTerminal(int(os.Stdout.Fd())) {
		spinner := ui.NewSpinner(os.Stdout, "waiting for model")
		spinner.Start()
		defer spinner.Stop()
		inner := opts.OnDelta
		opts.OnDelta = func(text string) {
			spinner.Stop()
			if inner != nil {
				inner(text)
			}
		}
	}

	err := manager.Send(ctx, prompt, opts)
	fmt.Println()

	// Send annotated the conversation, but nothing renders that state
	// here; the caller owes the user a visible report and, in one-shot
	// mode, a failing exit.
	if err != nil {
		return err
	}
	if oneShot && interrupted.Load() {
		return exitcode.Cancel("generation cancelled")
	}
	return nil
}

func printDelta(text string) {
	fmt.Print(text)
}

func handleSlashCommand(ctx context.Context, manager *conversation.Manager, styles *ui.Styles, line string, search *bool, images *[][]byte) (quit bool, err error) {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = strings.Join(fields[1:], " ")
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Println(chatCmd.Long)
		return false, nil

	case "/new":
		sess, err := manager.CreateSession(ctx, arg)
		if err != nil {
			return false, fmt.Errorf("failed to create session: %w", err)
		}
		fmt.Println(styles.Muted.Render("started session " + sess.ID))
		return false, nil

	case "/sessions":
		sessions, err := manager.ListSessions(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to list sessions: %w", err)
		}
		printSessionTable(sessions, manager)
		return false, nil

	case "/switch":
		if arg == "" {
			return false, fmt.Errorf("usage: /switch <id>")
		}
		if err := manager.SwitchSession(ctx, arg); err != nil {
			return false, fmt.Errorf("failed to switch session: %w", err)
		}
		fmt.Println(styles.Muted.Render("switched to session " + arg))
		return false, nil

	case "/delete":
		if arg == "" {
			return false, fmt.Errorf("usage: /delete <id>")
		}
		if err := manager.DeleteSession(ctx, arg); err != nil {
			return false, fmt.Errorf("failed to delete session: %w", err)
		}
		fmt.Println(styles.Muted.Render("deleted session " + arg))
		return false, nil

	case "/attach":
		if arg == "" {
			return false, fmt.Errorf("usage: /attach <path>")
		}
		blob, err := os.ReadFile(arg)
		if err != nil {
			return false, fmt.Errorf("failed to read attachment: %w", err)
		}
		*images = append(*images, blob)
		fmt.Println(styles.Muted.Render(fmt.Sprintf("attached %s (%d bytes)", arg, len(blob))))
		return false, nil

	case "/search":
		switch arg {
		case "on":
			*search = true
		case "off":
			*search = false
		default:
			return false, fmt.Errorf("usage: /search on|off")
		}
		fmt.Println(styles.Muted.Render("web search " + arg))
		return false, nil

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
}

func loadAttachments(paths []string) ([][]byte, error) {
	var images [][]byte
	for _, path := range paths {
		blob, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read attachment %s: %w", path, err)
		}
		images = append(images, blob)
	}
	return images, nil
}
