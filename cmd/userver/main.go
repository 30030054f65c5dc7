// Command userver boots a components manager from a config file and runs
// until it receives SIGINT/SIGTERM, mirroring a typical cmd/server
// entrypoint's flag parsing and graceful-shutdown signal handling, adapted
// to this module's Manager/component.Context boot sequence.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
	"github.com/shuva10v/userver-go/internal/hooks"
	"github.com/shuva10v/userver-go/internal/manager"
	"github.com/shuva10v/userver-go/internal/registry"
)

func main() {
	env := flag.String("env", consts.EnvDevelopment, "deployment environment (production|development|test)")
	configPath := flag.String("config", consts.DefaultConfigPath, "path to the manager config file")
	flag.Parse()

	if err := run(*env, *configPath); err != nil {
		log.Fatalf("userver: %v", err)
	}
}

func run(env, configPath string) error {
	cfg, err := config.NewLoader(env, configPath).Load()
	if err != nil {
		return err
	}

	hm := hooks.NewManager()
	m, err := manager.New(cfg, registry.Register(cfg, nil), hm)
	if err != nil {
		return err
	}

	if v, getErr := m.Components().Get(consts.ComponentLogging); getErr == nil {
		if lg, ok := v.(logging.Logger); ok {
			defer lg.Sync()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("userver: shutdown signal received")
	return m.Shutdown(context.Background())
}
