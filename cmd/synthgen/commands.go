package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mkurman/synthlabs-sub004/internal/config"
	"github.com/mkurman/synthlabs-sub004/internal/events"
	"github.com/mkurman/synthlabs-sub004/internal/generation"
	"github.com/mkurman/synthlabs-sub004/internal/llm"
	"github.com/mkurman/synthlabs-sub004/internal/storage"
)

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Rerun a session's failed items",
	Long: `Rerun the failed and timed-out items of a past session.

Each rerun item keeps its original id, so a success replaces the
failed record in place. Items that failed input validation are
skipped; retrying them cannot change the outcome.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRetry(cmd)
	},
}

func init() {
	f := retryCmd.Flags()
	f.String("session", "", "session id to retry (required)")
	f.Int("concurrency", 0, "worker count (default from config)")
	f.Int("timeout", 0, "per-item timeout in seconds (default from config)")
	retryCmd.MarkFlagRequired("session")
}

func runRetry(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetInt("concurrency"); v > 0 {
		cfg.Generation.Concurrency = v
	}
	if v, _ := cmd.Flags().GetInt("timeout"); v > 0 {
		cfg.LLM.TimeoutSeconds = v
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	sessionID, _ := cmd.Flags().GetString("session")
	sess, err := store.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no session %s", sessionID)
		}
		return err
	}

	records, err := store.ListFailed(sessionID)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		okf("Session %s has no failed items", sessionID)
		return nil
	}

	items := make([]generation.WorkItem, 0, len(records))
	priorErrs := make(map[string]string, len(records))
	for _, rec := range records {
		items = append(items, generation.WorkItem{
			ID:      rec.ID,
			Seq:     rec.Seq,
			Content: rec.Query,
		})
		priorErrs[rec.ID] = rec.ErrorMessage
	}

	model := sess.Model
	if model == "" {
		model = cfg.LLM.Model
	}
	client := llm.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	caller := &llmCaller{client: client, model: model}

	prompt := generation.DefaultPrompt()
	if p, ok := generation.TaskPrompts()[sess.TaskType]; ok {
		prompt = p
	}

	sink := &storeSink{store: store, sessionID: sessionID}
	sched := generation.NewScheduler(caller, sink, events.NewBus(), nil)

	notef("Retrying %d failed items from session %s", len(records), sessionID)
	summary, err := sched.RetryFailed(ctx, items, priorErrs, generation.RetryOptions{
		Concurrency: cfg.Generation.Concurrency,
		Timeout:     time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Prompt:      prompt,
	})
	if err != nil {
		return err
	}

	okf("Retry finished")
	field("Attempted", "%d", summary.Attempted)
	field("Succeeded", "%d", summary.Succeeded)
	field("Failed", "%d", summary.Failed)
	if summary.Skipped > 0 {
		field("Skipped", "%d (validation failures)", summary.Skipped)
	}
	return nil
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions [id]",
	Short: "List past sessions or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		if len(args) == 1 {
			return showSession(store, args[0])
		}

		limit, _ := cmd.Flags().GetInt("limit")
		sessions, err := store.ListSessions(limit)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions yet. Start one with: synthgen run")
			return nil
		}
		for _, s := range sessions {
			fmt.Printf("%s  %-10s  %-8s  %4d items  %s\n",
				s.ID, s.Status, s.TaskType, s.Total,
				s.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Int("limit", 20, "maximum sessions to list")
}

func showSession(store *storage.Store, id string) error {
	sess, err := store.GetSession(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no session %s", id)
		}
		return err
	}
	counts, err := store.CountByStatus(id)
	if err != nil {
		return err
	}

	field("Session", "%s", sess.ID)
	field("Created", "%s", sess.CreatedAt.Format("2006-01-02 15:04:05"))
	field("Status", "%s", sess.Status)
	field("Model", "%s", sess.Model)
	field("Task", "%s", sess.TaskType)
	field("Total", "%d", sess.Total)

	statuses := make([]string, 0, len(counts))
	for st := range counts {
		statuses = append(statuses, st)
	}
	sort.Strings(statuses)
	for _, st := range statuses {
		field("  "+st, "%d", counts[st])
	}
	if counts["error"]+counts["timeout"] > 0 {
		notef("Retry failures with: synthgen retry --session %s", sess.ID)
	}
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or change configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, info := range config.ShowAll(cfg) {
			fmt.Printf("%-36s %s\n", info.Key, info.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Persist a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			if strings.Contains(err.Error(), "unknown") {
				errf("%v", err)
				fmt.Fprintln(os.Stderr, "Valid keys:")
				for _, k := range config.ValidKeys() {
					fmt.Fprintf(os.Stderr, "  %s\n", k)
				}
				return fmt.Errorf("invalid key")
			}
			return err
		}
		okf("Set %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
