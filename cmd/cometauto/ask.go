package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"comet-auto/internal/adapter/browser"
	"comet-auto/internal/domain"
	"comet-auto/internal/infra/config"
	"comet-auto/internal/infra/logger"
	"comet-auto/internal/infra/tracer"
	"comet-auto/internal/usecase"
)

// askFlags holds the parsed ask command line.
type askFlags struct {
	ConfigPath string
	NewChat    bool
	TimeoutSec int
	JSON       bool
	Debug      bool
	Prompt     string
}

func parseAskFlags(args []string) (askFlags, error) {
	flags := askFlags{ConfigPath: "config.yaml"}
	var promptParts []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			flags.ConfigPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "--config="):
			flags.ConfigPath = strings.TrimPrefix(args[i], "--config=")
		case args[i] == "--new-chat":
			flags.NewChat = true
		case args[i] == "--timeout" && i+1 < len(args):
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return flags, fmt.Errorf("invalid --timeout value %q", args[i+1])
			}
			flags.TimeoutSec = n
			i++
		case strings.HasPrefix(args[i], "--timeout="):
			n, err := strconv.Atoi(strings.TrimPrefix(args[i], "--timeout="))
			if err != nil {
				return flags, fmt.Errorf("invalid --timeout value %q", args[i])
			}
			flags.TimeoutSec = n
		case args[i] == "--json":
			flags.JSON = true
		case args[i] == "--debug":
			flags.Debug = true
		case strings.HasPrefix(args[i], "--"):
			return flags, fmt.Errorf("unknown flag %s", args[i])
		default:
			promptParts = append(promptParts, args[i])
		}
	}

	flags.Prompt = strings.Join(promptParts, " ")
	return flags, nil
}

// askJSONResult is the --json output shape.
type askJSONResult struct {
	OK        bool   `json:"ok"`
	Status    string `json:"status"`
	Text      string `json:"text,omitempty"`
	Code      string `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsed_ms"`
}

// runAsk executes one prompt and returns the process exit code.
func runAsk(args []string) int {
	flags, err := parseAskFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		return 1
	}
	if flags.Prompt == "" {
		fmt.Fprintln(os.Stderr, "ask: no prompt given")
		return 1
	}

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		return 1
	}
	if flags.Debug {
		cfg.Logger.Level = "debug"
	}
	// Keep stdout clean for the response; logs go to stderr.
	cfg.Logger.Output = "stderr"

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask: %v\n", err)
		return 1
	}
	defer shutdownTracer(context.Background())

	var output io.Writer = os.Stdout
	if flags.JSON {
		output = io.Discard
	}

	outcome, err := askOnce(ctx, cfg, flags, output, log)
	if err != nil {
		if flags.JSON {
			printJSON(askJSONResult{
				Status: "error",
				Code:   string(domain.ErrorCodeOf(err)),
				Error:  err.Error(),
			})
		} else {
			fmt.Fprintf(os.Stderr, "ask: %v\n", err)
			if errors.Is(err, domain.ErrHandshakeForbidden) {
				fmt.Fprintln(os.Stderr, "hint: restart the browser with --remote-allow-origins=*")
			}
		}
		return 1
	}

	if flags.JSON {
		printJSON(askJSONResult{
			OK:        outcome.Completed(),
			Status:    string(outcome.Kind),
			Text:      outcome.Text,
			Code:      codeOf(outcome.Err),
			Error:     reasonOf(outcome),
			ElapsedMS: outcome.Elapsed.Milliseconds(),
		})
	} else if !outcome.Completed() {
		fmt.Fprintf(os.Stderr, "ask: %s\n", outcome.Status())
	}

	return exitCode(outcome)
}

// askOnce connects, locates the chat tab, and runs a single ask.
func askOnce(ctx context.Context, cfg *config.Config, flags askFlags, output io.Writer, log *slog.Logger) (domain.Outcome, error) {
	remote, err := browser.Connect(ctx, cfg.Browser, log)
	if err != nil {
		return domain.Outcome{}, err
	}
	defer remote.Close()

	locator := browser.NewLocator(remote, log)
	session := usecase.NewSession(remote, locator, usecase.NewClock(), cfg.Engine, cfg.Browser.PageURL, output, log)

	return session.Ask(ctx, domain.PromptRequest{
		Prompt:  flags.Prompt,
		NewChat: flags.NewChat,
		Timeout: time.Duration(flags.TimeoutSec) * time.Second,
		Debug:   flags.Debug,
	})
}

func exitCode(out domain.Outcome) int {
	switch out.Kind {
	case domain.OutcomeCompleted:
		return 0
	case domain.OutcomeSkipped:
		return 2
	case domain.OutcomeTimedOut:
		return 3
	case domain.OutcomeDisconnected:
		return 4
	default:
		return 1
	}
}

func codeOf(err error) string {
	if err == nil {
		return ""
	}
	return string(domain.ErrorCodeOf(err))
}

func reasonOf(out domain.Outcome) string {
	if out.Completed() {
		return ""
	}
	return out.Status()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
