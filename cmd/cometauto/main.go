package main

import (
	"fmt"
	"os"
	"strings"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 {
		showUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "ask":
		os.Exit(runAsk(os.Args[2:]))
	case "serve":
		if err := runServe(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "serve: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'cometauto --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`cometauto - drive a chat page through an already-running browser

USAGE:
    cometauto COMMAND [FLAGS]

COMMANDS:
    ask       Submit a prompt and print the finished reply
    serve     Run the local HTTP API
    doctor    Check browser connectivity and page readiness

ASK FLAGS:
    --config PATH      Config file path (default: ./config.yaml)
    --new-chat         Reset the conversation before sending
    --timeout SECONDS  Overall deadline for the ask (default: 120)
    --json             Print the outcome as a JSON object
    --debug            Verbose logging to stderr

SERVE / DOCTOR FLAGS:
    --config PATH      Config file path (default: ./config.yaml)

CONFIGURATION:
    Config file: ./config.yaml
    Environment: COMETAUTO_* variables override config

EXAMPLES:
    cometauto ask "summarize the open tabs"
    cometauto ask --new-chat --timeout 180 "long research question"
    cometauto serve
    cometauto doctor

EXIT CODES (ask):
    0  completed    2  skipped      3  timed out
    4  disconnected 1  other error

The browser must be running with remote debugging enabled, e.g.:
    --remote-debugging-port=9223 --remote-allow-origins=*`)
}

// configPath extracts --config from args, defaulting to ./config.yaml.
func configPath(args []string) string {
	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "--config" && i+1 < len(args):
			return args[i+1]
		case strings.HasPrefix(args[i], "--config="):
			return strings.TrimPrefix(args[i], "--config=")
		}
	}
	return "config.yaml"
}
