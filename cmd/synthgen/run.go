package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/mkurman/synthlabs-sub004/internal/api"
	"github.com/mkurman/synthlabs-sub004/internal/compaction"
	"github.com/mkurman/synthlabs-sub004/internal/config"
	"github.com/mkurman/synthlabs-sub004/internal/dataset"
	"github.com/mkurman/synthlabs-sub004/internal/events"
	"github.com/mkurman/synthlabs-sub004/internal/extract"
	"github.com/mkurman/synthlabs-sub004/internal/generation"
	"github.com/mkurman/synthlabs-sub004/internal/llm"
	"github.com/mkurman/synthlabs-sub004/internal/prefetch"
	"github.com/mkurman/synthlabs-sub004/internal/seedfile"
	"github.com/mkurman/synthlabs-sub004/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a generation batch",
	Long: `Run a generation batch over seed content.

Examples:
  synthgen run --seeds ./topics.txt --concurrency 8
  synthgen run --dataset https://datasets-server.huggingface.co/rows?dataset=gsm8k --rows 500
  synthgen run --seeds ./problems.md --auto-route --status-port 8820`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd)
	},
}

func init() {
	f := runCmd.Flags()
	f.String("seeds", "", "seed file or directory (.txt, .md, .jsonl, .pdf)")
	f.String("dataset", "", "paginated dataset rows endpoint")
	f.Int("rows", 100, "number of dataset rows to process")
	f.String("content-field", "", "record field holding the seed text")
	f.Int("concurrency", 0, "worker count (default from config)")
	f.Int("sleep-ms", 0, "fixed sleep after each item, per worker")
	f.Int("timeout", 0, "per-item timeout in seconds (default from config)")
	f.String("model", "", "model to use (default from config)")
	f.Bool("auto-route", false, "sample items and pick a task-specific prompt")
	f.Bool("route-llm", false, "use the model itself as the routing classifier")
	f.String("mode", "native", "extraction mode: native or field")
	f.String("fields", "reasoning,answer", "which fields to extract")
	f.String("open-tag", "", "reasoning open marker (native mode)")
	f.String("close-tag", "", "reasoning close marker (native mode)")
	f.StringArray("follow-up", nil, "additional user turns after the first")
	f.String("compaction", "", "compaction strategy: none, truncate_old, truncate_middle, summarize")
	f.Int("status-port", 0, "serve the HTTP status API on this port (0 disables)")
	f.Bool("mcp", false, "serve the MCP inspection tools on stdio")
	f.String("out", "", "also write results to this JSONL file")
}

func runBatch(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg)

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	seedsPath, _ := cmd.Flags().GetString("seeds")
	datasetURL, _ := cmd.Flags().GetString("dataset")
	if seedsPath != "" && datasetURL != "" {
		return fmt.Errorf("--seeds and --dataset are mutually exclusive")
	}
	if seedsPath == "" && datasetURL == "" {
		datasetURL = cfg.Dataset.BaseURL
	}
	if seedsPath == "" && datasetURL == "" {
		return fmt.Errorf("a work source is required: --seeds, --dataset, or dataset.base_url in config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	prompt, err := buildPrompt(cmd)
	if err != nil {
		return err
	}

	client := llm.NewClientWithBaseURL(cfg.LLM.APIKey, cfg.LLM.BaseURL)
	caller := &llmCaller{
		client:   client,
		model:    cfg.LLM.Model,
		jsonMode: prompt.Mode == extract.ModeField,
	}

	// Work source: static seeds or prefetched dataset rows.
	var (
		source  generation.WorkSource
		samples []generation.WorkItem
		pm      *prefetch.Manager
		total   int
	)
	rows, _ := cmd.Flags().GetInt("rows")
	if seedsPath != "" {
		seeds, err := seedfile.Load(ctx, seedsPath)
		if err != nil {
			return err
		}
		if len(seeds) == 0 {
			return fmt.Errorf("no seeds found in %s", seedsPath)
		}
		if cmd.Flags().Changed("rows") && rows < len(seeds) {
			seeds = seeds[:rows]
		}
		static := generation.NewStaticSource(seeds)
		source = static
		samples = static.Peek(5)
		total = static.Len()
		notef("Loaded %d seeds from %s", total, seedsPath)
	} else {
		dsClient := dataset.NewClient(datasetURL)
		pm = prefetch.New(dsClient, rows, cfg.Generation.Concurrency, prefetch.Config{
			Batches:   cfg.Generation.PrefetchBatches,
			Threshold: cfg.Generation.PrefetchThreshold,
		})
		source = generation.NewDatasetSource(pm, cfg.Dataset.ContentField)
		total = rows
		samples, err = sampleDataset(ctx, dsClient, rows, cfg.Dataset.ContentField)
		if err != nil {
			return fmt.Errorf("sampling dataset: %w", err)
		}
		notef("Streaming %d rows from dataset", rows)
	}

	if cfg.Generation.AutoRoute {
		router := generation.NewRouter()
		router.Threshold = cfg.Generation.RouteThreshold
		if useLLM, _ := cmd.Flags().GetBool("route-llm"); useLLM {
			router.Classifier = &generation.LLMClassifier{Caller: caller, Model: cfg.LLM.Model}
		}
		routed := router.Route(ctx, samples, prompt)
		if routed.TaskType != prompt.TaskType {
			notef("Auto-routed to %s prompts", routed.TaskType)
		}
		prompt = routed
	}

	bus := events.NewBus()
	tracker := events.NewTracker(bus)
	if pm != nil {
		events.WatchPrefetch(bus, pm)
	}

	sessionID := uuid.New().String()
	if err := store.CreateSession(storage.Session{
		ID:        sessionID,
		CreatedAt: time.Now().UTC(),
		Status:    "running",
		Model:     cfg.LLM.Model,
		TaskType:  prompt.TaskType,
		Total:     total,
	}); err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	sink := &storeSink{store: store, sessionID: sessionID}
	sched := generation.NewScheduler(caller, sink, bus, tracker)

	stopServers := startObservability(ctx, cfg, api.StatusDeps{
		Store:    store,
		Tracker:  tracker,
		Bus:      bus,
		Prefetch: pm,
		Pool:     sched,
	}, cmd)
	defer stopServers()

	var outFile *os.File
	outPath, _ := cmd.Flags().GetString("out")
	if outPath != "" {
		outFile, err = os.Create(outPath)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer outFile.Close()
	}

	followUps, _ := cmd.Flags().GetStringArray("follow-up")
	opts := generation.Options{
		Concurrency:  cfg.Generation.Concurrency,
		SleepBetween: time.Duration(cfg.Generation.SleepMs) * time.Millisecond,
		Timeout:      time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		Prompt:       prompt,
		FollowUps:    followUps,
		Compactor:    buildCompactor(cfg, caller),
		Total:        total,
	}

	notef("Running %d items with %d workers (model %s)", total, opts.Concurrency, cfg.LLM.Model)
	start := time.Now()

	seen := 0
	for res := range sched.Run(ctx, source, opts) {
		seen++
		reportResult(res, seen, total)
		if outFile != nil {
			if err := writeResultLine(outFile, res); err != nil {
				warnf("writing output: %v", err)
				outFile = nil
			}
		}
	}

	status := "completed"
	if ctx.Err() != nil {
		status = "cancelled"
	}
	if err := store.UpdateSessionStatus(sessionID, status); err != nil {
		warnf("updating session: %v", err)
	}

	counts := tracker.Counts()
	fmt.Fprintln(os.Stderr)
	okf("Batch %s in %s", status, time.Since(start).Round(time.Second))
	field("Session", "%s", sessionID)
	field("Done", "%d", counts.Done)
	field("Errors", "%d", counts.Errors)
	field("Timeouts", "%d", counts.Timeouts)
	if counts.Aborted > 0 {
		field("Aborted", "%d", counts.Aborted)
	}
	if counts.Errors+counts.Timeouts > 0 {
		notef("Retry failures with: synthgen retry --session %s", sessionID)
	}
	return nil
}

// applyRunFlags lays explicitly set flags over the loaded config.
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("concurrency") {
		cfg.Generation.Concurrency, _ = f.GetInt("concurrency")
	}
	if f.Changed("sleep-ms") {
		cfg.Generation.SleepMs, _ = f.GetInt("sleep-ms")
	}
	if f.Changed("timeout") {
		cfg.LLM.TimeoutSeconds, _ = f.GetInt("timeout")
	}
	if f.Changed("model") {
		cfg.LLM.Model, _ = f.GetString("model")
	}
	if f.Changed("auto-route") {
		cfg.Generation.AutoRoute, _ = f.GetBool("auto-route")
	}
	if f.Changed("content-field") {
		cfg.Dataset.ContentField, _ = f.GetString("content-field")
	}
	if f.Changed("compaction") {
		cfg.Compaction.Strategy, _ = f.GetString("compaction")
	}
	if f.Changed("status-port") {
		cfg.Server.StatusPort, _ = f.GetInt("status-port")
	}
}

func buildPrompt(cmd *cobra.Command) (generation.PromptConfig, error) {
	prompt := generation.DefaultPrompt()

	mode, _ := cmd.Flags().GetString("mode")
	switch mode {
	case "native", "":
		prompt.Mode = extract.ModeNative
	case "field":
		prompt.Mode = extract.ModeField
	default:
		return prompt, fmt.Errorf("unknown extraction mode %q", mode)
	}

	fields, _ := cmd.Flags().GetString("fields")
	prompt.WantReasoning = false
	prompt.WantAnswer = false
	for _, name := range strings.Split(fields, ",") {
		switch strings.TrimSpace(name) {
		case "reasoning":
			prompt.WantReasoning = true
		case "answer":
			prompt.WantAnswer = true
		case "":
		default:
			return prompt, fmt.Errorf("unknown field %q (want reasoning, answer)", name)
		}
	}
	if !prompt.WantReasoning && !prompt.WantAnswer {
		return prompt, fmt.Errorf("--fields must name at least one of reasoning, answer")
	}

	prompt.OpenTag, _ = cmd.Flags().GetString("open-tag")
	prompt.CloseTag, _ = cmd.Flags().GetString("close-tag")
	return prompt, nil
}

// sampleDataset fetches a few leading rows directly, bypassing the
// prefetch buffer, so routing never consumes delivery state.
func sampleDataset(ctx context.Context, client *dataset.Client, rows int, contentField string) ([]generation.WorkItem, error) {
	n := 5
	if rows < n {
		n = rows
	}
	raw, err := client.FetchRows(ctx, 0, n)
	if err != nil {
		return nil, err
	}
	items := make([]generation.WorkItem, 0, len(raw))
	for i, row := range raw {
		item, err := generation.RowToItem(row, i, contentField)
		if err != nil {
			// Malformed sample rows fail later as items; skip for routing.
			continue
		}
		items = append(items, *item)
	}
	return items, nil
}

func buildCompactor(cfg config.Config, caller generation.Caller) *compaction.Manager {
	var strategy compaction.Strategy
	switch cfg.Compaction.Strategy {
	case "", "none":
		strategy = compaction.StrategyNone
	case "truncate_old":
		strategy = compaction.StrategyTruncateOld
	case "truncate_middle":
		strategy = compaction.StrategyTruncateMiddle
	case "summarize":
		strategy = compaction.StrategySummarize
	default:
		warnf("unknown compaction strategy %q, compaction disabled", cfg.Compaction.Strategy)
		strategy = compaction.StrategyNone
	}

	summarize := func(ctx context.Context, prompt string) (string, error) {
		completion, err := caller.Invoke(ctx, []llm.Message{
			{Role: "system", Content: "Summarize the conversation below, keeping facts, decisions, and open questions. Be brief."},
			{Role: "user", Content: prompt},
		}, nil)
		if err != nil {
			return "", err
		}
		return completion.Content, nil
	}

	return compaction.New(compaction.Config{
		Strategy:           strategy,
		ContextLimit:       cfg.Compaction.ContextLimit,
		ResponseReserve:    cfg.Compaction.ResponseReserve,
		TriggerThreshold:   cfg.Compaction.TriggerThreshold,
		KeepRecentMessages: cfg.Compaction.KeepRecentMessages,
	}, summarize)
}

// startObservability runs the status HTTP server and the MCP stdio server
// when configured. The returned func shuts the HTTP server down.
func startObservability(ctx context.Context, cfg config.Config, deps api.StatusDeps, cmd *cobra.Command) func() {
	stopFn := func() {}

	if cfg.Server.StatusPort > 0 {
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.StatusPort)
		srv := &http.Server{Addr: addr, Handler: api.NewStatusHandler(deps)}
		go func() {
			slog.Info("status API listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("status server error", "error", err)
			}
		}()
		stopFn = func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}
	}

	if useMCP, _ := cmd.Flags().GetBool("mcp"); useMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:    deps.Store,
			Tracker:  deps.Tracker,
			Prefetch: deps.Prefetch,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	return stopFn
}

type resultLine struct {
	ID         string         `json:"id"`
	Seq        int            `json:"seq"`
	Status     string         `json:"status"`
	Query      string         `json:"query"`
	Reasoning  string         `json:"reasoning,omitempty"`
	Answer     string         `json:"answer,omitempty"`
	Turns      []extract.Turn `json:"turns,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	TokenCount int            `json:"token_count,omitempty"`
}

func writeResultLine(f *os.File, res generation.Result) error {
	line := resultLine{
		ID:         res.ID,
		Seq:        res.Seq,
		Status:     string(res.Status),
		Query:      res.Query,
		Reasoning:  res.Reasoning,
		Answer:     res.Answer,
		Turns:      res.Turns,
		Error:      res.Err,
		DurationMs: res.Duration.Milliseconds(),
		TokenCount: res.TokenCount,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}
