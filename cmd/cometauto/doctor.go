package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"comet-auto/internal/adapter/browser"
	"comet-auto/internal/domain"
	"comet-auto/internal/infra/config"
	"comet-auto/internal/infra/logger"
)

// CheckStatus is the verdict of one doctor check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult is the outcome of a single connectivity check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string
}

// runDoctor walks the whole attachment path in order: config, endpoint,
// handshake, chat tab, login state. Each layer only makes sense if the one
// before it passed, so the first FAIL short-circuits the deeper checks.
func runDoctor(args []string) error {
	cfgPath := configPath(args)
	cfg, cfgErr := config.Load(cfgPath)

	fmt.Println("cometauto doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	results := []CheckResult{checkConfig(cfgPath, cfgErr)}
	if cfgErr == nil {
		results = append(results, runConnectivityChecks(cfg)...)
	}

	var pass, warn, fail int
	for _, r := range results {
		fmt.Printf("  [%s] %s: %s\n", r.Status, r.Name, r.Message)
		if r.Fix != "" {
			fmt.Printf("      Fix: %s\n", r.Fix)
		}
		switch r.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if pass > 0 && warn == 0 {
		fmt.Println("\nAll checks passed, cometauto is ready.")
	}
	return nil
}

func checkConfig(path string, err error) CheckResult {
	if err != nil {
		return CheckResult{
			Name:    "Config",
			Status:  StatusFail,
			Message: err.Error(),
			Fix:     fmt.Sprintf("fix or remove %s; defaults apply when the file is absent", path),
		}
	}
	return CheckResult{Name: "Config", Status: StatusPass, Message: path + " (or defaults)"}
}

func runConnectivityChecks(cfg *config.Config) []CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	log, _, err := logger.New(config.LoggerConfig{Level: "error", Output: "stderr"})
	if err != nil {
		return []CheckResult{{Name: "Logger", Status: StatusFail, Message: err.Error()}}
	}

	endpoint := cfg.Browser.Endpoint()

	// Endpoint reachability.
	if _, err := browser.Probe(ctx, endpoint, cfg.Browser.ConnectTimeout); err != nil {
		return []CheckResult{{
			Name:    "Debug endpoint",
			Status:  StatusFail,
			Message: fmt.Sprintf("%s unreachable: %v", endpoint, err),
			Fix:     fmt.Sprintf("start the browser with --remote-debugging-port=%d", cfg.Browser.Port),
		}}
	}
	results := []CheckResult{{Name: "Debug endpoint", Status: StatusPass, Message: endpoint}}

	// Browser-level WebSocket handshake.
	remote, err := browser.Connect(ctx, cfg.Browser, log)
	if err != nil {
		r := CheckResult{Name: "Debugging handshake", Status: StatusFail, Message: err.Error()}
		if errors.Is(err, domain.ErrHandshakeForbidden) {
			r.Fix = "restart the browser with --remote-allow-origins=*"
		}
		return append(results, r)
	}
	defer remote.Close()
	results = append(results, CheckResult{Name: "Debugging handshake", Status: StatusPass, Message: "attached"})

	// Chat tab presence. A missing tab is only a warning; ask opens one.
	host := chatHost(cfg.Browser.PageURL)
	targets, err := remote.Targets(ctx)
	if err != nil {
		return append(results, CheckResult{Name: "Chat tab", Status: StatusFail, Message: err.Error()})
	}
	tabOpen := false
	for _, t := range targets {
		if strings.Contains(t.URL, host) {
			tabOpen = true
			break
		}
	}
	if !tabOpen {
		return append(results, CheckResult{
			Name:    "Chat tab",
			Status:  StatusWarn,
			Message: fmt.Sprintf("no open tab matches %s (%d tabs total)", host, len(targets)),
			Fix:     "open " + cfg.Browser.PageURL + " in the browser, or let 'ask' open it",
		})
	}
	results = append(results, CheckResult{Name: "Chat tab", Status: StatusPass, Message: "open"})

	// Login state of the chat tab.
	locator := browser.NewLocator(remote, log)
	if _, err := locator.Locate(ctx, cfg.Browser.PageURL, false); err != nil {
		r := CheckResult{Name: "Login state", Status: StatusFail, Message: err.Error()}
		if errors.Is(err, domain.ErrLoginRequired) {
			r.Fix = "sign in to " + cfg.Browser.PageURL + " in the browser"
		}
		return append(results, r)
	}
	return append(results, CheckResult{Name: "Login state", Status: StatusPass, Message: "signed in"})
}

func chatHost(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return pageURL
	}
	return strings.TrimPrefix(u.Host, "www.")
}
