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

	"github.com/kalambet/vidsift/internal/analysis"
	"github.com/kalambet/vidsift/internal/api"
	"github.com/kalambet/vidsift/internal/config"
	"github.com/kalambet/vidsift/internal/embed"
	"github.com/kalambet/vidsift/internal/files"
	"github.com/kalambet/vidsift/internal/media"
	"github.com/kalambet/vidsift/internal/scenes"
	"github.com/kalambet/vidsift/internal/storage"
	"github.com/kalambet/vidsift/internal/transcribe"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the vidsift server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running vidsift server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vidsift system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "vidsift.pid")
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

func runServer() error {
	fmt.Fprintf(os.Stderr, "vidsift version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	apiToken, err := config.GetAPIToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	// Refuse a second instance. Check the health endpoint, not just the PID
	// file, so a stale file from a crash does not block restarts.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("vidsift is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("vidsift is already running on port %d", cfg.Server.Port)
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

	uploads, err := files.NewStore(filepath.Join(cfg.Storage.DataDir, "uploads"))
	if err != nil {
		return fmt.Errorf("opening upload store: %w", err)
	}

	ffmpeg := media.NewFFmpeg(cfg.Media.FFmpegPath)
	if !ffmpeg.Available() {
		printWarning("ffmpeg not found at %q; submissions will be rejected until it is installed", cfg.Media.FFmpegPath)
	}

	whisper := transcribe.NewWhisper(cfg.Whisper.Binary, cfg.Whisper.ModelPath, cfg.Whisper.ModelURL, nil)

	fps := cfg.Media.FramesPerSecond
	if fps <= 0 {
		fps = 1
	}
	vision := scenes.NewOpenAIVision(cfg.Scenes.BaseURL, cfg.Scenes.APIKey, cfg.Scenes.Model)
	detector := scenes.NewDetector(vision, 1/float64(fps))

	tokenizer, err := embed.NewTokenizer(cfg.Embed.VocabPath)
	if err != nil {
		return fmt.Errorf("loading embedding vocabulary: %w", err)
	}
	runtime := embed.NewRuntimeClient(cfg.Embed.RuntimeURL, cfg.Embed.Model)
	if !runtime.IsRunning(ctx) {
		printWarning("embedding runtime not reachable at %s; jobs will fail at the embedding stage", cfg.Embed.RuntimeURL)
	}
	engine := embed.NewEngine(runtime, tokenizer)

	var vectorIndex analysis.VectorIndex
	var vectorSearch api.VectorSearcher
	if cfg.Storage.PostgresURL != "" {
		px, err := storage.OpenPgVector(ctx, cfg.Storage.PostgresURL, cfg.Embed.Dim)
		if err != nil {
			slog.Warn("pgvector index unavailable, search will use local embeddings", "error", err)
		} else {
			defer px.Close()
			vectorIndex = px
			vectorSearch = px
		}
	}

	svc := analysis.NewService(store, uploads, ffmpeg, whisper, detector, engine, vectorIndex, analysis.Options{
		Workers:         cfg.Jobs.Workers,
		PollInterval:    cfg.PollIntervalDuration(),
		Language:        cfg.Whisper.Language,
		FramesPerSecond: cfg.Media.FramesPerSecond,
		SceneThreshold:  cfg.Scenes.Threshold,
	})
	go svc.Run(ctx)
	slog.Info("pipeline workers started", "workers", cfg.Jobs.Workers)

	handler := api.NewAppHandler(api.AppDeps{
		Analyzer:       svc,
		Results:        store,
		Searcher:       engine,
		Vectors:        vectorSearch,
		Token:          apiToken,
		MaxUploadBytes: int64(cfg.Media.MaxUploadMB) << 20,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio, for agent clients launched alongside.
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Analyzer: svc,
		Results:  store,
		Searcher: engine,
		Vectors:  vectorSearch,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "vidsift listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
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
		printError("vidsift is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop vidsift (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to vidsift (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	if media.NewFFmpeg(cfg.Media.FFmpegPath).Available() {
		printStatus("ffmpeg", "available (%s)", cfg.Media.FFmpegPath)
	} else {
		printStatus("ffmpeg", "not found")
	}

	if _, err := os.Stat(cfg.Whisper.ModelPath); err == nil {
		printStatus("Whisper model", "%s", cfg.Whisper.ModelPath)
	} else {
		printStatus("Whisper model", "not downloaded (fetched on first job)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if embed.NewRuntimeClient(cfg.Embed.RuntimeURL, cfg.Embed.Model).IsRunning(ctx) {
		printStatus("Embed runtime", "running at %s", cfg.Embed.RuntimeURL)
	} else {
		printStatus("Embed runtime", "not running")
	}

	printStatus("Scenes model", "%s", cfg.Scenes.Model)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
