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
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spirrowgames/prismind/internal/api"
	"github.com/spirrowgames/prismind/internal/config"
	"github.com/spirrowgames/prismind/internal/doctypes"
	"github.com/spirrowgames/prismind/internal/folders"
	"github.com/spirrowgames/prismind/internal/memstore"
	"github.com/spirrowgames/prismind/internal/project"
	"github.com/spirrowgames/prismind/internal/rag"
	"github.com/spirrowgames/prismind/internal/retry"
	"github.com/spirrowgames/prismind/internal/session"
	"github.com/spirrowgames/prismind/internal/storage"
	"github.com/spirrowgames/prismind/internal/tabular"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the prismind MCP server (foreground, stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running prismind server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show prismind and backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "prismind.pid")
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

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	// stdout carries the MCP transport, so everything human-facing goes
	// to stderr.
	fmt.Fprintf(os.Stderr, "prismind version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	// Refuse to start twice. The health endpoint is the liveness check;
	// the PID file just names the culprit.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.HealthPort)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("prismind is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("prismind is already running on port %d", cfg.Server.HealthPort)
		return fmt.Errorf("server already running on port %d", cfg.Server.HealthPort)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := retry.New(cfg.Policy.RetryMaxRetries, cfg.RetryBaseDelayDuration(), cfg.RetryMaxDelayDuration())

	// Each constructor probes its backend, so build them in parallel.
	var (
		drive  *folders.Client
		sheets *tabular.Client
		chroma *rag.ChromaStore
		memory *memstore.Client
	)
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { drive = folders.New(cfg.Services.DriveURL); return nil })
	g.Go(func() error { sheets = tabular.New(cfg.Services.SheetsURL); return nil })
	g.Go(func() error {
		chroma = rag.NewChromaStore(cfg.Services.RAGURL, cfg.Services.RAGCollection, policy)
		return nil
	})
	g.Go(func() error { memory = memstore.New(cfg.Services.MemoryURL, policy); return nil })
	if err := g.Wait(); err != nil {
		return err
	}

	for _, b := range []struct {
		name string
		up   bool
	}{
		{"drive", drive.Available()},
		{"sheets", sheets.Available()},
		{"rag", chroma.Available()},
		{"memory", memory.Available()},
	} {
		if b.up {
			slog.Info("backend available", "backend", b.name)
		} else {
			printWarning("backend %s is unavailable; starting degraded", b.name)
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	records := rag.NewRecords(chroma)
	registry := doctypes.NewRegistry(store, chroma, cfg.Policy.DocTypeMatchThreshold)
	if err := registry.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("seeding doc types: %w", err)
	}

	projects := project.NewService(records, memory, sheets, drive, store, project.Options{
		User:                cfg.Session.UserName,
		ProjectsFolderID:    cfg.Google.ProjectsFolderID,
		SimilarityThreshold: cfg.Policy.ProjectSimilarityThreshold,
	})
	sessions := session.NewManager(memory, cfg.Session.UserName)

	deps := api.MCPDeps{
		Projects: projects,
		Sessions: sessions,
		DocTypes: registry,
		Records:  records,
		Status: func() api.BackendStatus {
			return api.BackendStatus{
				Drive:  drive.Available(),
				Sheets: sheets.Available(),
				RAG:    chroma.Available(),
				Memory: memory.Available(),
			}
		},
	}

	// MCP over stdio in a goroutine.
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	// Small HTTP sidecar for liveness and backend status.
	router := chi.NewRouter()
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	router.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Status())
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.HealthPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "prismind health endpoint on %s\n", addr)
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
		printError("prismind is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop prismind (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to prismind (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.HealthPort)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.HealthPort)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	// Backend availability as the running server sees it.
	if statusResp, err := client.Get(serverURL + "/status"); err == nil {
		var status api.BackendStatus
		if json.NewDecoder(statusResp.Body).Decode(&status) == nil {
			printStatus("Drive", "%s", upDown(status.Drive))
			printStatus("Sheets", "%s", upDown(status.Sheets))
			printStatus("RAG", "%s", upDown(status.RAG))
			printStatus("Memory", "%s", upDown(status.Memory))
		}
		statusResp.Body.Close()
	} else {
		printStatus("Drive", "%s", cfg.Services.DriveURL)
		printStatus("Sheets", "%s", cfg.Services.SheetsURL)
		printStatus("RAG", "%s", cfg.Services.RAGURL)
		printStatus("Memory", "%s", cfg.Services.MemoryURL)
	}

	printStatus("User", "%s", cfg.Session.UserName)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func upDown(up bool) string {
	if up {
		return "available"
	}
	return "unavailable"
}
