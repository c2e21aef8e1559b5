// Package cli implements the aegis command groups.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/aegis-security/aegis/internal/anomaly"
	"github.com/aegis-security/aegis/internal/audit"
	"github.com/aegis-security/aegis/internal/clock"
	"github.com/aegis-security/aegis/internal/config"
	"github.com/aegis-security/aegis/internal/core"
	"github.com/aegis-security/aegis/internal/cryptostore"
	"github.com/aegis-security/aegis/internal/kvstore"
	"github.com/aegis-security/aegis/internal/ledger"
	"github.com/aegis-security/aegis/internal/logging"
	"github.com/aegis-security/aegis/internal/orchestrator"
	"github.com/aegis-security/aegis/internal/session"
)

// buildOrchestrator wires the full security stack from config. The master
// key is derived from the operator passphrase and the stored salt; a
// missing passphrase is fatal.
func buildOrchestrator() (*orchestrator.Orchestrator, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("loading config: %w", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var kv kvstore.Store
	if cfg.StoreDriver == "memory" {
		kv = kvstore.NewMemory()
	} else {
		s, err := kvstore.OpenSQLite(cfg.StorePath)
		if err != nil {
			return nil, logger, fmt.Errorf("opening store: %w", err)
		}
		kv = s
	}

	salt, err := config.LoadOrCreateSalt(config.Dir())
	if err != nil {
		return nil, logger, fmt.Errorf("loading master salt: %w", err)
	}
	passphrase, err := readPassphrase()
	if err != nil {
		return nil, logger, err
	}

	crypto, err := cryptostore.New(cryptostore.DeriveKey(passphrase, salt), kv, logger)
	if err != nil {
		return nil, logger, fmt.Errorf("initializing crypto store: %w", err)
	}

	verifier := &httpVerifier{
		url:    cfg.VerifierURL,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	var alerts core.AlertDispatcher = logDispatcher{log: logger}
	if cfg.AlertURL != "" {
		alerts = &webhookDispatcher{
			url:    cfg.AlertURL,
			client: &http.Client{Timeout: 5 * time.Second},
		}
	}

	clk := clock.System{}
	led := ledger.New(crypto, clk, logger)
	sessions := session.NewManager(crypto, verifier, clk, logger)
	detector := anomaly.New(crypto, clk, logger)
	auditLog := audit.New(crypto, clk, logger)

	orch := orchestrator.New(orchestrator.Deps{
		Ledger:   led,
		Sessions: sessions,
		Detector: detector,
		Audit:    auditLog,
		Crypto:   crypto,
		Verifier: verifier,
		Alerts:   alerts,
		Clock:    clk,
		Logger:   logger,
	})
	return orch, logger, nil
}

// readPassphrase reads the vault passphrase from AEGIS_PASSPHRASE or
// prompts for it. Secrets never come from argv.
func readPassphrase() (string, error) {
	if p := os.Getenv("AEGIS_PASSPHRASE"); p != "" {
		return p, nil
	}
	fmt.Fprint(os.Stderr, "Passphrase: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("passphrase must not be empty")
	}
	return string(raw), nil
}

// promptSecret reads a secret interactively.
func promptSecret(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", label, err)
	}
	return string(raw), nil
}

// httpVerifier delegates credential checks to the configured backend
// endpoint. This layer never checks credentials itself.
type httpVerifier struct {
	url    string
	client *http.Client
}

func (v *httpVerifier) Verify(ctx context.Context, identity, secret string) (core.VerifiedUser, error) {
	if v.url == "" {
		return core.VerifiedUser{}, fmt.Errorf("no verifier endpoint configured")
	}

	body, _ := json.Marshal(map[string]string{"identity": identity, "secret": secret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url, bytes.NewReader(body))
	if err != nil {
		return core.VerifiedUser{}, fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return core.VerifiedUser{}, fmt.Errorf("calling verifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return core.VerifiedUser{}, core.ErrInvalidCredentials
	}
	if resp.StatusCode != http.StatusOK {
		return core.VerifiedUser{}, fmt.Errorf("verifier returned status %d", resp.StatusCode)
	}

	var user core.VerifiedUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return core.VerifiedUser{}, fmt.Errorf("decoding verifier response: %w", err)
	}
	return user, nil
}

// logDispatcher writes alerts to the logger when no webhook is configured.
type logDispatcher struct {
	log zerolog.Logger
}

func (d logDispatcher) Notify(a core.Alert) error {
	d.log.Warn().Str("title", a.Title).Str("body", a.Body).Msg("security alert")
	return nil
}

// webhookDispatcher posts alerts to the configured admin webhook,
// best effort.
type webhookDispatcher struct {
	url    string
	client *http.Client
}

func (d *webhookDispatcher) Notify(a core.Alert) error {
	body, _ := json.Marshal(a)
	resp, err := d.client.Post(d.url, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("posting alert: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert webhook returned status %d", resp.StatusCode)
	}
	return nil
}
