package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/MuhammadDanishgtr/AI-Employee/internal/vault"
)

// defaultVaultRoot is used when VAULT_ROOT is unset.
const defaultVaultRoot = "AI_Employee_Vault"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "vault: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "AI employee working out of a plain-Markdown vault",
		Long: `vault runs an AI employee over a local folder of Markdown records.
Watchers turn external events into records, a human moves records through
the approval folders, and each approved record triggers exactly one
outbound effect. Everything the system knows is a file you can open.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Best-effort .env autoload; a missing file is fine.
			_ = godotenv.Load()
		},
	}
	cmd.AddCommand(
		newServeCommand(),
		newInitCommand(),
		newStatusCommand(),
		newApproveCommand(),
		newRejectCommand(),
	)
	return cmd
}

func vaultRootFromEnv() string {
	root := strings.TrimSpace(os.Getenv("VAULT_ROOT"))
	if root == "" {
		root = defaultVaultRoot
	}
	return root
}

func openStore() (*vault.Store, error) {
	return vault.NewStore(vaultRootFromEnv())
}

func openVault() (*vault.Store, *vault.AuditLog, error) {
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	audit, err := vault.NewAuditLog(store.LogsDir())
	if err != nil {
		return nil, nil, err
	}
	return store, audit, nil
}

func openGate() (*vault.Gate, error) {
	store, audit, err := openVault()
	if err != nil {
		return nil, err
	}
	return vault.NewGate(store, audit, nil)
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
