// gitsyncd keeps a local directory continuously synchronized with a GitHub
// repository: filesystem changes are debounced, committed, and pushed, while
// a reconciliation timer pulls remote edits back down.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"gitsyncd/internal/config"
	"gitsyncd/internal/git"
	"gitsyncd/internal/github"
	"gitsyncd/internal/hostenv"
	"gitsyncd/internal/journal"
	"gitsyncd/internal/lfs"
	"gitsyncd/internal/notify"
	"gitsyncd/internal/sync"
)

var version = "dev"

var (
	configPath string
	logLevel   string
	logFormat  string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "gitsyncd",
		Short:        "Continuous directory-to-GitHub synchronization daemon",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "path to the configuration file")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	cmd.AddCommand(
		newAuthCmd(),
		newInitCmd(),
		newSyncCmd(),
		newWatchCmd(),
		newLogCmd(),
		newVersionCmd(),
	)
	return cmd
}

func setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch logFormat {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", logFormat)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func newAuthCmd() *cobra.Command {
	var tokenFile string

	cmd := &cobra.Command{
		Use:   "auth <token>",
		Short: "Validate a GitHub token and store it for later commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := strings.TrimSpace(args[0])

			login, err := github.NewClient(token).ValidateToken(cmd.Context())
			if err != nil {
				return fmt.Errorf("token validation failed: %w", err)
			}

			if err := config.SaveToken(tokenFile, token); err != nil {
				return err
			}

			slog.Info("token validated and stored", "login", login, "token_file", tokenFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&tokenFile, "token-file", config.DefaultTokenPath(), "where to store the token")
	return cmd
}

func newInitCmd() *cobra.Command {
	var (
		name   string
		owner  string
		path   string
		branch string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or adopt the remote repository and set up the local copy",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			status, err := hostenv.Check(ctx)
			if err != nil {
				return err
			}
			slog.Info("host toolchain", "git", status.GitVersion, "lfs", status.LFSVersion)
			if !status.HasLFS() {
				slog.Warn("git-lfs is not installed, large-file routing will not work")
			}

			cfg := &config.Config{
				Repo:  config.RepoConfig{Name: name, Owner: owner, Branch: branch},
				Local: config.LocalConfig{Path: path},
				Auth:  config.AuthConfig{TokenFile: config.DefaultTokenPath()},
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			token, err := cfg.LoadToken()
			if err != nil {
				return fmt.Errorf("no stored token, run \"gitsyncd auth\" first: %w", err)
			}

			client := github.NewClient(token)
			cloneURL, err := client.CreateRepo(ctx, name)
			switch {
			case err == nil:
				slog.Info("created remote repository", "name", name)
			case errors.Is(err, github.ErrRepoExists):
				cloneURL, err = client.FindRepo(ctx, owner, name)
				if err != nil {
					return fmt.Errorf("repository exists but could not be resolved: %w", err)
				}
				slog.Info("adopted existing remote repository", "name", name)
			default:
				return err
			}

			repo, err := setupWorktree(ctx, cloneURL, path, branch, token)
			if err != nil {
				return err
			}

			logger := slog.Default()
			events := &notify.SlogSink{Logger: logger}
			policy := lfs.NewPolicy(repo, logger, events, cfg.Sync.LFSThreshold)

			if status.HasLFS() {
				if err := repo.LFSInstall(ctx); err != nil {
					slog.Warn("failed to install large-file hooks", "error", err)
				}
			}
			if err := policy.Seed(); err != nil {
				return err
			}

			if err := cfg.Save(configPath); err != nil {
				return err
			}
			slog.Info("configuration written", "path", configPath)

			engine := sync.NewEngine(repo, policy, logger, events)
			if outcome := engine.Run(ctx, sync.MessageInitial); outcome == sync.OutcomeFailed {
				return fmt.Errorf("initial synchronization failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "remote repository name")
	cmd.Flags().StringVar(&owner, "owner", "", "remote repository owner")
	cmd.Flags().StringVar(&path, "path", "", "local directory to synchronize")
	cmd.Flags().StringVar(&branch, "branch", config.DefaultBranch, "canonical branch")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

// setupWorktree clones the remote into path, or adopts an existing checkout
// already present there.
func setupWorktree(ctx context.Context, cloneURL, path, branch, token string) (*git.ShellRepo, error) {
	if repo, err := git.Open(path, branch, token); err == nil {
		slog.Info("adopting existing local checkout", "path", path)
		return repo, nil
	}
	slog.Info("cloning remote repository", "path", path)
	return git.Clone(ctx, cloneURL, path, branch, token)
}

func newSyncCmd() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronization now",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, repo, err := loadRepo()
			if err != nil {
				return err
			}

			logger := slog.Default()
			events, closeEvents := buildSinks(logger)
			defer closeEvents()

			policy := lfs.NewPolicy(repo, logger, events, cfg.Sync.LFSThreshold)
			engine := sync.NewEngine(repo, policy, logger, events)

			outcome := engine.Run(cmd.Context(), message)
			slog.Info("sync finished", "outcome", outcome.String())
			if outcome == sync.OutcomeFailed {
				return fmt.Errorf("synchronization failed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&message, "message", sync.MessageAutoSync, "commit message for this run")
	return cmd
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the directory and synchronize continuously",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, repo, err := loadRepo()
			if err != nil {
				return err
			}

			logger := slog.Default()
			events, closeEvents := buildSinks(logger)
			defer closeEvents()

			policy := lfs.NewPolicy(repo, logger, events, cfg.Sync.LFSThreshold)
			engine := sync.NewEngine(repo, policy, logger, events)
			session := sync.NewSession(repo, engine, logger, events,
				cfg.Sync.QuietPeriod.Std(), cfg.Sync.PollInterval.Std(),
				configPath, cfg.Auth.TokenFile)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return session.Start(ctx)
		},
	}
}

func newLogCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show recent synchronization events",
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := journal.Open(config.DefaultJournalPath())
			if err != nil {
				return err
			}
			defer func() {
				_ = j.Close()
			}()

			events, err := j.Recent(limit)
			if err != nil {
				return err
			}
			for _, e := range events {
				fmt.Printf("%s  %-28s %s\n", e.Time.Format("2006-01-02 15:04:05"), e.Kind, e.Message)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of events to show")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gitsyncd %s\n", version)
		},
	}
}

// loadRepo loads the configuration, the stored token, and opens the bound
// worktree.
func loadRepo() (*config.Config, *git.ShellRepo, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	token, err := cfg.LoadToken()
	if err != nil {
		return nil, nil, fmt.Errorf("no stored token, run \"gitsyncd auth\" first: %w", err)
	}
	repo, err := git.Open(cfg.Local.Path, cfg.Repo.Branch, token)
	if err != nil {
		if git.KindOf(err) == git.KindNotARepo {
			return nil, nil, fmt.Errorf("%s is not a repository, run \"gitsyncd init\" first", cfg.Local.Path)
		}
		return nil, nil, err
	}
	return cfg, repo, nil
}

// buildSinks assembles the event stream: structured logs always, plus the
// on-disk journal when it can be opened.
func buildSinks(logger *slog.Logger) (notify.Sink, func()) {
	sinks := notify.Fanout{&notify.SlogSink{Logger: logger}}

	j, err := journal.Open(config.DefaultJournalPath())
	if err != nil {
		logger.Warn("event journal unavailable", "error", err)
		return sinks, func() {}
	}
	sinks = append(sinks, j)
	return sinks, func() {
		_ = j.Close()
	}
}
