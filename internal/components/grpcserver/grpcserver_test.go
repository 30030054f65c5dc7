package grpcserver

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
	"github.com/shuva10v/userver-go/internal/taskproc"
)

func sectionFromYAML(t *testing.T, doc string) *config.ComponentSection {
	t.Helper()
	var s config.ComponentSection
	if err := yaml.Unmarshal([]byte(doc), &s); err != nil {
		t.Fatalf("unmarshal section: %v", err)
	}
	return &s
}

func newTestContext(t *testing.T) *component.Context {
	t.Helper()
	proc := taskproc.New(taskproc.Config{Name: "test", WorkerThreads: 2})
	t.Cleanup(func() {
		proc.InitiateShutdown()
		proc.Wait()
	})
	return component.New(proc, component.Config{})
}

func TestFactoryStartsServerAndServesHealth(t *testing.T) {
	ctx := newTestContext(t)
	if err := ctx.AddComponent(consts.ComponentLogging, logging.Factory(sectionFromYAML(t, "enabled: true\nlevel: error\n"))); err != nil {
		t.Fatalf("AddComponent logging: %v", err)
	}
	section := sectionFromYAML(t, "enabled: true\naddress: \"127.0.0.1:0\"\nenable_health: true\n")
	if err := ctx.AddComponent(consts.ComponentGRPCServer, Factory(section)); err != nil {
		t.Fatalf("AddComponent grpcserver: %v", err)
	}
	if err := ctx.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(ctx.ClearAll)

	v, err := ctx.Get(consts.ComponentGRPCServer)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	s := v.(*Server)
	if s.HealthServer() == nil {
		t.Fatal("HealthServer() returned nil")
	}
	if !s.started {
		t.Fatal("server not marked started")
	}
}

func TestFactoryDisabledFailsFast(t *testing.T) {
	ctx := newTestContext(t)
	section := sectionFromYAML(t, "enabled: false\n")
	if err := ctx.AddComponent(consts.ComponentGRPCServer, Factory(section)); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if err := ctx.Load(); err == nil {
		t.Fatal("Load succeeded, want error for disabled component")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	if cfg.Address != ":50051" {
		t.Fatalf("Address = %q, want :50051", cfg.Address)
	}
	if cfg.MaxRecvMsgSize != 4<<20 {
		t.Fatalf("MaxRecvMsgSize = %d", cfg.MaxRecvMsgSize)
	}
	if cfg.GracefulTimeout != 10*time.Second {
		t.Fatalf("GracefulTimeout = %v", cfg.GracefulTimeout)
	}
}
