package browser

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"comet-auto/internal/domain"
)

// mockTabClient implements TabClient for testing.
type mockTabClient struct {
	targets    []TargetInfo
	targetsErr error
	attachErr  error
	newTabID   string
	newTabErr  error
	navErr     error
	evalResult string // JSON the login probe returns
	evalErr    error

	attachedIDs   []string
	navigatedURLs []string
	openedURLs    []string
}

func (m *mockTabClient) Targets(ctx context.Context) ([]TargetInfo, error) {
	return m.targets, m.targetsErr
}
func (m *mockTabClient) AttachTab(ctx context.Context, targetID string) error {
	m.attachedIDs = append(m.attachedIDs, targetID)
	return m.attachErr
}
func (m *mockTabClient) NewTab(ctx context.Context, url string) (string, error) {
	m.openedURLs = append(m.openedURLs, url)
	return m.newTabID, m.newTabErr
}
func (m *mockTabClient) Navigate(ctx context.Context, url string) error {
	m.navigatedURLs = append(m.navigatedURLs, url)
	return m.navErr
}
func (m *mockTabClient) Evaluate(ctx context.Context, expr string, out any) error {
	if m.evalErr != nil {
		return m.evalErr
	}
	if out != nil && m.evalResult != "" {
		return json.Unmarshal([]byte(m.evalResult), out)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const chatURL = "https://www.perplexity.ai/"

func TestLocatePrefersMatchingTab(t *testing.T) {
	client := &mockTabClient{
		targets: []TargetInfo{
			{ID: "t1", URL: "https://example.com/"},
			{ID: "t2", URL: "https://www.perplexity.ai/search/abc"},
		},
		evalResult: `{"loginWall":false}`,
	}
	l := NewLocator(client, testLogger())

	id, err := l.Locate(context.Background(), chatURL, true)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if id != "t2" {
		t.Errorf("attached %q, want t2", id)
	}
	if len(client.navigatedURLs) != 0 {
		t.Errorf("unexpected navigation: %v", client.navigatedURLs)
	}
}

func TestLocateNavigatesFallbackTab(t *testing.T) {
	client := &mockTabClient{
		targets: []TargetInfo{
			{ID: "t1", URL: "https://example.com/"},
		},
		evalResult: `{"loginWall":false}`,
	}
	l := NewLocator(client, testLogger())

	id, err := l.Locate(context.Background(), chatURL, true)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if id != "t1" {
		t.Errorf("attached %q, want t1", id)
	}
	if len(client.navigatedURLs) != 1 || client.navigatedURLs[0] != chatURL {
		t.Errorf("navigations = %v, want [%s]", client.navigatedURLs, chatURL)
	}
}

func TestLocateOpensTabWhenNoneExist(t *testing.T) {
	client := &mockTabClient{
		newTabID:   "t9",
		evalResult: `{"loginWall":false}`,
	}
	l := NewLocator(client, testLogger())

	id, err := l.Locate(context.Background(), chatURL, true)
	if err != nil {
		t.Fatalf("Locate: %v", err)
	}
	if id != "t9" {
		t.Errorf("attached %q, want t9", id)
	}
	if len(client.openedURLs) != 1 || client.openedURLs[0] != chatURL {
		t.Errorf("opened = %v, want [%s]", client.openedURLs, chatURL)
	}
}

func TestLocateNoMatchWithoutAutoNavigate(t *testing.T) {
	client := &mockTabClient{
		targets: []TargetInfo{{ID: "t1", URL: "https://example.com/"}},
	}
	l := NewLocator(client, testLogger())

	if _, err := l.Locate(context.Background(), chatURL, false); err == nil {
		t.Fatal("expected error when no tab matches and auto-navigate is off")
	}
	if len(client.attachedIDs) != 0 {
		t.Errorf("attached %v, want none", client.attachedIDs)
	}
}

func TestLocateLoginWall(t *testing.T) {
	client := &mockTabClient{
		targets:    []TargetInfo{{ID: "t2", URL: "https://www.perplexity.ai/"}},
		evalResult: `{"loginWall":true}`,
	}
	l := NewLocator(client, testLogger())

	_, err := l.Locate(context.Background(), chatURL, true)
	if !errors.Is(err, domain.ErrLoginRequired) {
		t.Fatalf("err = %v, want ErrLoginRequired", err)
	}
}

func TestLocatePropagatesHandshakeForbidden(t *testing.T) {
	client := &mockTabClient{
		targetsErr: domain.NewDomainError("browser.Targets", domain.ErrHandshakeForbidden, "403"),
	}
	l := NewLocator(client, testLogger())

	_, err := l.Locate(context.Background(), chatURL, true)
	if !errors.Is(err, domain.ErrHandshakeForbidden) {
		t.Fatalf("err = %v, want ErrHandshakeForbidden", err)
	}
}
