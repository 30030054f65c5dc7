package grpcclient

import (
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
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

// startTestServer launches a bare grpc.Server with only the health service
// registered, returning its listen address.
func startTestServer(t *testing.T) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, health.NewServer())
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestFactoryDialsEagerClient(t *testing.T) {
	addr := startTestServer(t)
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}

	ctx := newTestContext(t)
	if err := ctx.AddComponent(consts.ComponentLogging, logging.Factory(sectionFromYAML(t, "enabled: true\nlevel: error\n"))); err != nil {
		t.Fatalf("AddComponent logging: %v", err)
	}
	doc := "enabled: true\nclients:\n  svc:\n    host: " + host + "\n    port: " + portStr + "\n    connect_on_start: true\n"
	section := sectionFromYAML(t, doc)
	if err := ctx.AddComponent(consts.ComponentGRPCClients, Factory(section)); err != nil {
		t.Fatalf("AddComponent grpcclient: %v", err)
	}
	if err := ctx.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(ctx.ClearAll)

	v, err := ctx.Get(consts.ComponentGRPCClients)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	clients := v.(*Clients)
	conn, err := clients.Client("svc")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if conn == nil {
		t.Fatal("conn is nil")
	}
}

func TestFactoryDisabledFailsFast(t *testing.T) {
	ctx := newTestContext(t)
	section := sectionFromYAML(t, "enabled: false\n")
	if err := ctx.AddComponent(consts.ComponentGRPCClients, Factory(section)); err != nil {
		t.Fatalf("AddComponent: %v", err)
	}
	if err := ctx.Load(); err == nil {
		t.Fatal("Load succeeded, want error for disabled component")
	}
}

func TestClientUnknownName(t *testing.T) {
	c := &Clients{conns: map[string]*grpc.ClientConn{}, clientConfigs: map[string]*ClientConfig{}}
	if _, err := c.Client("missing"); err == nil {
		t.Fatal("want error for unknown client")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{Clients: map[string]*ClientConfig{"a": {}}}
	applyDefaults(&cfg)
	if cfg.DefaultTimeout != 30*time.Second {
		t.Fatalf("DefaultTimeout = %v", cfg.DefaultTimeout)
	}
	if cfg.Clients["a"].MaxReceiveMessageLength != 4<<20 {
		t.Fatalf("MaxReceiveMessageLength = %d", cfg.Clients["a"].MaxReceiveMessageLength)
	}
	if cfg.Clients["a"].Timeout != 30*time.Second {
		t.Fatalf("Timeout = %v", cfg.Clients["a"].Timeout)
	}
}
