// Command missionrelayd runs the full daemon: the multi-account credential
// stores, the chain resolver, the provider health tracker, the mission
// supervisor driving Backend Driver turns, and the OpenAI-compatible
// failover proxy, all wired together from MISSIONRELAY_* environment
// configuration. Run `missionrelayd onboard` first to add a provider
// account.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/missionrelay/missionrelay/internal/backend"
	"github.com/missionrelay/missionrelay/internal/chain"
	"github.com/missionrelay/missionrelay/internal/cli/onboard"
	"github.com/missionrelay/missionrelay/internal/config"
	"github.com/missionrelay/missionrelay/internal/credentials"
	"github.com/missionrelay/missionrelay/internal/events"
	"github.com/missionrelay/missionrelay/internal/health"
	"github.com/missionrelay/missionrelay/internal/mission"
	"github.com/missionrelay/missionrelay/internal/proxy"
	"github.com/missionrelay/missionrelay/internal/workspace"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "onboard" {
		if err := runOnboard(); err != nil {
			log.Fatalf("[missionrelayd] %v", err)
		}
		return
	}

	if err := run(); err != nil {
		log.Fatalf("[missionrelayd] %v", err)
	}
}

// runOnboard drives `missionrelayd onboard`: add one provider account to
// the store without starting the daemon.
func runOnboard() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	accounts := credentials.NewAccountStore(cfg.CredentialsDir)
	_, err = onboard.NewWizard().Run(accounts)
	return err
}

func run() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	claudeDir, _ := os.UserHomeDir()
	claudeDir = filepath.Join(claudeDir, ".claude")

	credStore := credentials.NewStore(cfg.CredentialsDir, claudeDir)
	accounts := credentials.NewAccountStore(cfg.CredentialsDir)
	proxyKeys := credentials.NewProxyKeyStore(cfg.CredentialsDir)
	chains := chain.NewStore(cfg.CredentialsDir)

	if all, err := accounts.List(); err == nil && len(all) == 0 {
		log.Printf("[missionrelayd] no accounts configured; run `missionrelayd onboard` to add one")
	}

	var redisStore *health.RedisStore
	if cfg.RedisAddr != "" {
		redisStore, err = health.NewRedisStore(health.RedisStoreOptions{Addr: cfg.RedisAddr})
		if err != nil {
			return fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
	}
	tracker := health.NewTracker(redisStore)

	bus := events.NewBus()
	exec := workspace.NewExecutor()
	broker := backend.NewFrontendToolBroker()
	driver := backend.NewClaudeCodeDriver(exec, credStore, broker, "", true)

	missionsRoot := filepath.Join(cfg.CredentialsDir, "missions")
	ws := workspace.Workspace{ID: "local", HostRoot: missionsRoot}
	supervisor := mission.NewSupervisor(bus, func(missionID string) (*mission.Runner, error) {
		return mission.NewRunner(missionID, ws, filepath.Join(missionsRoot, missionID), driver, defaultAccount(accounts), bus), nil
	})

	server := proxy.NewServer(cfg, chains, accounts, proxyKeys, tracker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := supervisor.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[missionrelayd] mission supervisor stopped: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	log.Printf("[missionrelayd] starting on port %d (credentials: %s)", cfg.Port, cfg.CredentialsDir)
	return server.Start()
}

// defaultAccount picks the account new mission runners authenticate with:
// the store's marked default, falling back to the first enabled account.
// A fresh install with no accounts yet returns a zero-value Account; the
// Backend Driver will surface the missing-credentials error on first turn,
// prompting the operator to run `missionrelayd onboard`.
func defaultAccount(accounts *credentials.AccountStore) credentials.Account {
	all, err := accounts.List()
	if err != nil || len(all) == 0 {
		log.Printf("[missionrelayd] no accounts configured yet; run `missionrelayd onboard` to add one")
		return credentials.Account{}
	}
	for _, a := range all {
		if a.Default {
			return a
		}
	}
	for _, a := range all {
		if a.Enabled {
			return a
		}
	}
	return all[0]
}
