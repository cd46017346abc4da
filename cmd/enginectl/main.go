// Command enginectl is the CLI wiring spec.md §6's external interface to
// a running Coordinator: it loads config, builds a model backend, starts
// the search and trainer workers, and then drives a REPL (help, write,
// read, pgn, status, quit) or, with -tui, a live bubbletea dashboard.
//
// The overall shape — flag parsing, signal-driven graceful shutdown via
// signal.NotifyContext, then either a TUI or a plain event loop — is
// grounded on brensch-snek2/executor/main.go's main(), with the REPL
// itself replacing that teacher's plain stdin-less worker pool (spec.md
// puts an interactive CLI in scope where the teacher had none).
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/climbtree/chesszero/config"
	"github.com/climbtree/chesszero/coordinator"
	"github.com/climbtree/chesszero/logging"
	"github.com/climbtree/chesszero/model"
	"github.com/climbtree/chesszero/replay"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults are used if empty or unreadable)")
	backend := flag.String("backend", "deep", "model backend: \"deep\" (patrikeh/go-deep, trainable) or \"onnx\" (yalue/onnxruntime_go, inference-only)")
	hiddenLayers := flag.String("hidden", "256,256", "comma-separated hidden layer widths for the deep backend")
	listen := flag.String("listen", "", "if set, serve the websocket status/PGN broadcaster on this address")
	tui := flag.Bool("tui", false, "show a live bubbletea status dashboard instead of the plain REPL")
	flag.Parse()

	logger := slog.New(logging.NewPrettyJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath, logger)
	if err != nil {
		logger.Warn("using default config", "err", err)
	}

	m, err := buildModel(*backend, *hiddenLayers, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "enginectl:", err)
		os.Exit(1)
	}

	buf := replay.New(cfg.ReplayBufferSize)
	coord := coordinator.New(cfg, m, buf, logger)

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/ws", coord.Broadcaster())
		srv := &http.Server{Addr: *listen, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("broadcast server exited", "err", err)
			}
		}()
		go func() {
			<-sigCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("websocket broadcaster listening", "addr", *listen)
	}

	if err := coord.Start(); err != nil {
		fmt.Fprintln(os.Stderr, "enginectl:", err)
		os.Exit(1)
	}

	if *tui {
		runTUI(coord)
		coord.Stop()
		return
	}

	runREPL(sigCtx, coord)
	coord.Stop()
}

func buildModel(backend, hiddenSpec string, cfg config.Config) (model.Handle, error) {
	switch backend {
	case "onnx":
		m, err := model.NewOnnxModel(cfg.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("build onnx model: %w", err)
		}
		return m, nil
	case "deep":
		hidden, err := parseHidden(hiddenSpec)
		if err != nil {
			return nil, err
		}
		m := model.NewDeepModel(hidden, cfg.TrainingMLR)
		if _, err := os.Stat(cfg.ModelPath); err == nil {
			if err := m.Read(cfg.ModelPath); err != nil {
				return nil, fmt.Errorf("read checkpoint %s: %w", cfg.ModelPath, err)
			}
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown backend %q (want \"deep\" or \"onnx\")", backend)
	}
}

func parseHidden(spec string) ([]int, error) {
	parts := strings.Split(spec, ",")
	hidden := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(p, "%d", &n); err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid hidden layer width %q", p)
		}
		hidden = append(hidden, n)
	}
	if len(hidden) == 0 {
		return nil, fmt.Errorf("at least one hidden layer width is required")
	}
	return hidden, nil
}

const helpText = `commands:
  help          show this message
  write [path]  write a model checkpoint (default: configured model_path)
  read [path]   load a model checkpoint (default: configured model_path)
  pgn [path]    block until the next self-play game finishes (at most one
                minute); print it, or write it to path if given
  status        print coordinator status and replay buffer occupancy
  quit          stop the coordinator and exit
`

// runREPL implements spec.md §6's CLI surface over stdin/stdout, in the
// teacher's plain-loop style (executor/main.go's headless fallback event
// loop) rather than a TUI.
func runREPL(ctx context.Context, coord *coordinator.Coordinator) {
	fmt.Println("chesszero engine running. Type 'help' for commands.")
	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println("\nshutting down")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := dispatch(ctx, coord, line); quit {
				return
			}
		}
	}
}

// dispatch runs one REPL command line and reports whether the caller
// should exit ("quit").
func dispatch(ctx context.Context, coord *coordinator.Coordinator, line string) (quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		fmt.Print(helpText)
	case "write":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		if err := coord.WriteModel(path); err != nil {
			fmt.Println("write:", err)
			break
		}
		fmt.Println("checkpoint written")
	case "read":
		path := ""
		if len(args) > 0 {
			path = args[0]
		}
		if err := coord.ReadModel(path); err != nil {
			fmt.Println("read:", err)
			break
		}
		fmt.Println("checkpoint loaded")
	case "pgn":
		pgnCtx, cancel := context.WithTimeout(ctx, time.Minute)
		pgn, err := coord.GetNextPGN(pgnCtx, 200*time.Millisecond)
		cancel()
		if err != nil {
			fmt.Println("pgn:", err)
			break
		}
		if len(args) > 0 {
			if err := os.WriteFile(args[0], []byte(pgn), 0o644); err != nil {
				fmt.Println("pgn: write failed:", err)
				break
			}
			fmt.Println("pgn written to", args[0])
		} else {
			fmt.Println(pgn)
		}
	case "status":
		code, msg := coord.Status()
		size, count := coord.GetRbuf()
		fmt.Printf("status=%s (%s) rbuf=%d/%d\n", statusName(code), msg, count, size)
	case "quit":
		return true
	default:
		fmt.Printf("unknown command %q, type 'help'\n", cmd)
	}
	return false
}

func statusName(code int32) string {
	switch code {
	case coordinator.StatusStopped:
		return "stopped"
	case coordinator.StatusRunning:
		return "running"
	case coordinator.StatusWaiting:
		return "waiting"
	default:
		return "unknown"
	}
}

// runTUI blocks until the dashboard model requests a quit, driving a
// bubbletea program the way brensch-snek2/executor/main.go's commented-out
// tea.NewProgram(initialModel(updates), tea.WithAltScreen()) call does,
// fed by a ticker that polls the coordinator instead of that teacher's
// worker-update channel (this engine has no per-worker update channel to
// multiplex — status is centralized in the Coordinator).
func runTUI(coord *coordinator.Coordinator) {
	p := tea.NewProgram(newDashboard(coord), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "enginectl: tui exited:", err)
	}
}
