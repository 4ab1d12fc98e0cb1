package main

import (
	"bufio"
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lalith-99/crosstalk/internal/auth"
	"github.com/lalith-99/crosstalk/internal/backend"
	"github.com/lalith-99/crosstalk/internal/backend/poll"
	"github.com/lalith-99/crosstalk/internal/backend/stream"
	"github.com/lalith-99/crosstalk/internal/config"
	"github.com/lalith-99/crosstalk/internal/manager"
	"github.com/lalith-99/crosstalk/internal/models"
	"github.com/lalith-99/crosstalk/internal/observ"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	tokens   string
	prefs    string
	authPort string
	logLevel string
}

func rootCmd() *cobra.Command {
	var flags cliFlags
	cmd := &cobra.Command{
		Use:   "crosstalk",
		Short: "A multi-team chat client for stream and poll backends",
		Long: "crosstalk holds live connections to several chat teams at once\n" +
			"and relays messages between them from one command line.\n" +
			"Type /help at the prompt for the command list.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(flags)
		},
	}
	cmd.Flags().StringVar(&flags.tokens, "tokens", "", "token file path (default ~/.crosstalk-tokens)")
	cmd.Flags().StringVar(&flags.prefs, "prefs", "", "prefs file path (default ~/.crosstalk-prefs.yaml)")
	cmd.Flags().StringVar(&flags.authPort, "auth-port", "", "local OAuth redirect port (default 8090)")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "log level (default info)")
	return cmd
}

func run(flags cliFlags) error {
	// ---------------------------------------------------------------
	// 1. Load config, apply flag overrides
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if flags.tokens != "" {
		cfg.TokenPath = flags.tokens
	}
	if flags.prefs != "" {
		cfg.PrefsPath = flags.prefs
	}
	if flags.authPort != "" {
		cfg.AuthPort = flags.authPort
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	//
	// The logger writes to a file, not stdout; stdout is where the
	// conversation goes. The atomic level is handed to the manager so
	// /debug can raise verbosity at runtime.
	// ---------------------------------------------------------------
	logger, level, err := observ.NewLogger(cfg.Env, cfg.LogLevel, cfg.LogPath)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// ---------------------------------------------------------------
	// 3. Persistence: token store and prefs
	// ---------------------------------------------------------------
	store := auth.NewTokenStore(cfg.TokenPath)
	prefs, err := auth.NewPrefs(cfg.PrefsPath)
	if err != nil {
		return err
	}

	// ---------------------------------------------------------------
	// 4. Session manager
	// ---------------------------------------------------------------
	mgr := manager.New(manager.Options{
		Config: cfg,
		Store:  store,
		Prefs:  prefs,
		Log:    logger,
		Level:  level,
		NewDriver: func(kind models.BackendKind) backend.Driver {
			if kind == models.KindStream {
				return stream.New("", "", logger)
			}
			return poll.New(logger)
		},
	})

	ctx := context.Background()
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start sessions: %w", err)
	}

	// ---------------------------------------------------------------
	// 5. Read loop
	//
	// Stdin is read on its own goroutine so the select below can also
	// watch for /quit completing (the manager closes Done then).
	// ---------------------------------------------------------------
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// EOF: same path as /quit.
				_ = mgr.Dispatch(ctx, "/quit")
				<-mgr.Done()
				return nil
			}
			if err := mgr.Dispatch(ctx, line); err != nil {
				fmt.Println("error:", err)
			}
		case <-mgr.Done():
			return nil
		}
	}
}
