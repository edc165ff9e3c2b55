package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MuhammadDanishgtr/AI-Employee/internal/httpapi"
	"github.com/MuhammadDanishgtr/AI-Employee/internal/vault"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the watchers, the approval loop, and the tool API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe wires the whole deployment from the environment and blocks
// until the context is canceled. A component whose own configuration is
// missing is skipped with an audit entry; the rest of the system runs.
func runServe(ctx context.Context) error {
	store, audit, err := openVault()
	if err != nil {
		return err
	}
	if err := store.Init(); err != nil {
		return fmt.Errorf("init vault: %w", err)
	}

	tracker, err := buildTrackerFromEnv(store)
	if err != nil {
		return err
	}

	bridge := buildBridgeFromEnv(audit)

	dropFolder, err := vault.NewDropFolderWatcher(vault.DropFolderWatcherOptions{
		Store:         store,
		Audit:         audit,
		QueueCapacity: intEnv("VAULT_DROP_QUEUE_CAPACITY", 0),
	})
	if err != nil {
		return err
	}

	var inbox *vault.InboxWatcher
	if bridge != nil {
		inbox, err = vault.NewInboxWatcher(vault.InboxWatcherOptions{
			Store:       store,
			Audit:       audit,
			Source:      bridge,
			MaxPerCycle: intEnv("VAULT_INBOX_MAX_PER_CYCLE", 0),
		})
		if err != nil {
			return err
		}
	}

	approval, err := vault.NewApprovalWatcher(vault.ApprovalWatcherOptions{
		Store:     store,
		Audit:     audit,
		Effectors: buildEffectorsFromEnv(audit, bridge),
	})
	if err != nil {
		return err
	}

	aggregator, err := vault.NewAggregator(vault.AggregatorOptions{
		Store: store,
		Audit: audit,
	})
	if err != nil {
		return err
	}

	supervisor, err := vault.NewSupervisor(vault.SupervisorOptions{
		Audit:        audit,
		PollInterval: durationEnv("VAULT_SUPERVISION_INTERVAL", 0),
	})
	if err != nil {
		return err
	}

	orchestrator, err := vault.NewOrchestrator(vault.OrchestratorOptions{
		Store:             store,
		Audit:             audit,
		Tracker:           tracker,
		DropFolder:        dropFolder,
		Inbox:             inbox,
		Approval:          approval,
		Aggregator:        aggregator,
		Supervisor:        supervisor,
		InboxInterval:     durationEnv("VAULT_INBOX_INTERVAL", 0),
		ApprovalInterval:  durationEnv("VAULT_APPROVAL_INTERVAL", 0),
		DashboardInterval: durationEnv("VAULT_DASHBOARD_INTERVAL", 0),
	})
	if err != nil {
		return err
	}

	apiAddr := strings.TrimSpace(os.Getenv("VAULT_API_ADDR"))
	if apiAddr == "" {
		apiAddr = ":8780"
	}
	var drafts vault.DraftStore
	if bridge != nil {
		drafts = bridge
	}
	server, err := httpapi.NewServerWithOptions(httpapi.ServerOptions{
		Store:      store,
		Audit:      audit,
		Aggregator: aggregator,
		Drafts:     drafts,
		Config: httpapi.ServerConfig{
			Addr:            apiAddr,
			AuthToken:       os.Getenv("VAULT_API_TOKEN"),
			RateLimitMax:    intEnv("VAULT_API_RATE_LIMIT_MAX", 0),
			RateLimitWindow: durationEnv("VAULT_API_RATE_LIMIT_WINDOW", time.Minute),
			MaxBodyBytes:    int64Env("VAULT_API_MAX_BODY_BYTES", 0),
		},
	})
	if err != nil {
		return err
	}

	log.Printf("serve: vault root %s, api listening on %s", store.Root(), apiAddr)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Either half going down takes the other with it; shutdown drains
	// in-flight cycles before Run returns.
	errCh := make(chan error, 2)
	go func() {
		defer cancel()
		errCh <- orchestrator.Run(runCtx)
	}()
	go func() {
		defer cancel()
		errCh <- server.Serve(runCtx)
	}()

	var firstErr error
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// buildTrackerFromEnv loads the dedup tracker from VAULT_STATE_DSN,
// falling back to a JSON file at the vault root so processed-set state
// survives restarts out of the box.
func buildTrackerFromEnv(store *vault.Store) (*vault.Tracker, error) {
	dsn := strings.TrimSpace(os.Getenv("VAULT_STATE_DSN"))
	if dsn == "" {
		dsn = "file://" + filepath.Join(store.Root(), "watcher-state.json")
	}
	backend, err := vault.BuildStateBackendFromDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("state backend: %w", err)
	}
	return vault.NewTracker(backend)
}

// buildBridgeFromEnv returns the external-service bridge, or nil when
// its configuration is absent. The inbox watcher, the mail effector,
// and the draft routes all hang off it.
func buildBridgeFromEnv(audit *vault.AuditLog) *vault.BridgeClient {
	baseURL := strings.TrimSpace(os.Getenv("VAULT_BRIDGE_URL"))
	token := strings.TrimSpace(os.Getenv("VAULT_BRIDGE_TOKEN"))
	switch {
	case baseURL == "":
		logConfigError(audit, "bridge disabled: VAULT_BRIDGE_URL is not set; inbox watcher and draft routes are off")
		return nil
	case token == "":
		logConfigError(audit, "bridge disabled: VAULT_BRIDGE_TOKEN is not set; inbox watcher and draft routes are off")
		return nil
	}
	return vault.NewBridgeClient(vault.BridgeClientOptions{
		BaseURL:       baseURL,
		TokenProvider: vault.StaticBridgeToken(token),
		MaxRetries:    intEnv("VAULT_BRIDGE_MAX_RETRIES", 0),
	})
}

// buildEffectorsFromEnv registers an effector per outbound kind that has
// a configured transport. Kinds without one stay unregistered, so their
// approved records wait in place instead of failing.
func buildEffectorsFromEnv(audit *vault.AuditLog, bridge *vault.BridgeClient) *vault.EffectorRegistry {
	effectors := vault.NewEffectorRegistry()

	if bridge != nil {
		effectors.Register(&vault.MailSendEffector{Sender: bridge})
	} else {
		logConfigError(audit, fmt.Sprintf("%s effector disabled: bridge is not configured", vault.KindEmailSend))
	}

	publisher, detail := buildPublisherFromEnv(bridge)
	if publisher != nil {
		effectors.Register(&vault.SocialPostEffector{Publisher: publisher})
	} else {
		logConfigError(audit, detail)
	}
	return effectors
}

// buildPublisherFromEnv prefers a direct webhook URL and falls back to
// publishing through the bridge.
func buildPublisherFromEnv(bridge *vault.BridgeClient) (vault.Publisher, string) {
	webhookURL := strings.TrimSpace(os.Getenv("VAULT_WEBHOOK_URL"))
	if webhookURL != "" {
		publisher, err := vault.NewWebhookPublisher(webhookURL, nil)
		if err != nil {
			return nil, fmt.Sprintf("%s effector disabled: %v", vault.KindSocialPost, err)
		}
		return publisher, ""
	}
	if bridge != nil {
		return bridge, ""
	}
	return nil, fmt.Sprintf("%s effector disabled: VAULT_WEBHOOK_URL is not set and the bridge is not configured", vault.KindSocialPost)
}

func logConfigError(audit *vault.AuditLog, details string) {
	log.Printf("serve: %s", details)
	if err := audit.Append("watcher_config", "orchestrator", details, vault.ResultError); err != nil {
		log.Printf("serve: audit append failed: %v", err)
	}
}
