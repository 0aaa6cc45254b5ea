package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/echotrain/internal/api"
	"github.com/kalambet/echotrain/internal/chat"
	"github.com/kalambet/echotrain/internal/config"
	"github.com/kalambet/echotrain/internal/ingest"
	"github.com/kalambet/echotrain/internal/intent"
	"github.com/kalambet/echotrain/internal/storage"
	"github.com/kalambet/echotrain/internal/trainer"
	"github.com/kalambet/echotrain/internal/training"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the echotrain server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp-stdio")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running echotrain server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, trainer and model status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().Bool("mcp-stdio", false, "also serve MCP tools over stdin/stdout")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "echotrain.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "echotrain version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, closeLog := config.SetupLogger(cfg.Log, os.Stderr)
	defer closeLog()
	slog.SetDefault(logger)

	kc := config.NewKeychain()
	apiToken, err := config.GetAPIToken(kc)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	callbackToken, err := config.GetCallbackToken(kc)
	if err != nil {
		return fmt.Errorf("initializing callback token: %w", err)
	}
	logger.Info("API and callback bearer tokens available")

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("echotrain is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("echotrain is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	trainerClient := trainer.New(cfg.Trainer.BaseURL, cfg.Trainer.Token)
	trainer.CheckReachable(ctx, trainerClient, os.Stderr)

	orch := training.New(store, training.Config{InactivityWindow: cfg.Training.InactivityWindow}, training.WithLogger(logger))
	dispatcher := training.NewDispatcher(orch, store, trainerClient, training.DispatcherConfig{
		PollInterval:   cfg.Training.DispatchPoll,
		MaxRetries:     cfg.Training.MaxRetries,
		InitialBackoff: cfg.Training.InitialBackoff,
		CallbackURL:    cfg.Trainer.CallbackURL,
	})
	reaper := training.NewReaper(orch, cfg.Training.ReapInterval)
	poller := training.NewPoller(orch, trainerClient, cfg.Training.PollInterval, cfg.Training.PollAfter)
	bg := training.StartBackground(ctx, logger, dispatcher, reaper, poller)

	engine := intent.NewEngine()
	chatSvc := chat.New(store, trainerClient, engine,
		chat.WithTimeout(cfg.Chat.InferenceTimeout),
		chat.WithLogger(logger),
	)

	handler := api.NewAppHandler(api.AppDeps{
		Store:         store,
		Ingest:        ingest.NewService(store, cfg.Ingest.MaxBytes),
		Annotations:   ingest.NewAnnotator(store),
		Orchestrator:  orch,
		Chat:          chatSvc,
		Engine:        engine,
		Token:         apiToken,
		CallbackToken: callbackToken,
		Logger:        logger,
	})

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:        store,
			Orchestrator: orch,
			Engine:       engine,
			Version:      version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("MCP stdio server error", "error", err)
			}
		}()
		logger.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "echotrain listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}

	printStep("stopping background loops")
	if err := bg.Stop(cfg.Server.ShutdownGrace); err != nil {
		logger.Warn("background shutdown incomplete", "error", err)
	}
	return serveErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("echotrain is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop echotrain (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to echotrain (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := httpClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if trainer.New(cfg.Trainer.BaseURL, cfg.Trainer.Token).IsRunning(ctx) {
		printStatus("Trainer", "reachable at %s", cfg.Trainer.BaseURL)
	} else {
		printStatus("Trainer", "not reachable at %s", cfg.Trainer.BaseURL)
	}

	if running {
		if client, err := newAPIClient(); err == nil {
			printWorkspaceStatus(ctx, client)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func printWorkspaceStatus(ctx context.Context, client *apiClient) {
	resp, err := client.get(ctx, workspacePath("/datasets"))
	if err == nil {
		var datasets []api.DatasetView
		if decodeJSON(resp, &datasets) == nil {
			printStatus("Datasets", "%s", datasetSummary(datasets))
		}
	}

	resp, err = client.get(ctx, workspacePath("/model"))
	if err != nil {
		return
	}
	var model api.ModelView
	if decodeJSON(resp, &model) == nil {
		printStatus("Model", "%s (job %s, %d samples, intents %s)", model.ModelName, model.JobID, model.SampleCount, listOrNone(model.Intents))
	} else {
		printStatus("Model", "none, chat uses the rule engine")
	}
}

// datasetSummary counts datasets per status, e.g. "3 (2 validated, 1 error)".
func datasetSummary(datasets []api.DatasetView) string {
	if len(datasets) == 0 {
		return "0"
	}
	order := []string{}
	counts := map[string]int{}
	for _, d := range datasets {
		if counts[d.Status] == 0 {
			order = append(order, d.Status)
		}
		counts[d.Status]++
	}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		parts = append(parts, fmt.Sprintf("%d %s", counts[s], s))
	}
	return fmt.Sprintf("%d (%s)", len(datasets), strings.Join(parts, ", "))
}
