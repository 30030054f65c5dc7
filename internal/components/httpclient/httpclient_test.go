package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

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

func TestFactoryBuildsDefaultClientWithoutTelemetry(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(ts.Close)

	ctx := newTestContext(t)
	if err := ctx.AddComponent(consts.ComponentLogging, logging.Factory(sectionFromYAML(t, "enabled: true\nlevel: error\n"))); err != nil {
		t.Fatalf("AddComponent logging: %v", err)
	}
	httpClientsSection := sectionFromYAML(t, "enabled: true\ndefault: api\nclients:\n  api:\n    base_url: \""+ts.URL+"\"\n")
	if err := ctx.AddComponent(consts.ComponentHTTPClients, Factory(httpClientsSection)); err != nil {
		t.Fatalf("AddComponent http_clients: %v", err)
	}

	if err := ctx.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(ctx.ClearAll)

	v, err := ctx.Get(consts.ComponentHTTPClients)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	clients := v.(*Clients)
	cli, err := clients.Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}

	var out map[string]bool
	if _, err := cli.Get(context.Background(), "/", nil, nil, &out); err != nil {
		t.Fatalf("Get request: %v", err)
	}
	if !out["ok"] {
		t.Fatalf("out = %v, want ok=true", out)
	}
}

func TestFactoryDisabledFailsFast(t *testing.T) {
	ctx := newTestContext(t)
	if err := ctx.AddComponent(consts.ComponentLogging, logging.Factory(sectionFromYAML(t, "enabled: true\n"))); err != nil {
		t.Fatalf("AddComponent logging: %v", err)
	}
	if err := ctx.AddComponent(consts.ComponentHTTPClients, Factory(sectionFromYAML(t, "enabled: false\n"))); err != nil {
		t.Fatalf("AddComponent http_clients: %v", err)
	}
	if err := ctx.Load(); err == nil {
		t.Fatal("Load succeeded, want error for disabled http_clients component")
	}
}

func TestApplyDefaultsSeedsDefaultClient(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if cfg.Default != "default" {
		t.Fatalf("Default = %q, want %q", cfg.Default, "default")
	}
	c, ok := cfg.Clients["default"]
	if !ok {
		t.Fatal("applyDefaults did not seed the default client")
	}
	if c.Timeout <= 0 {
		t.Fatal("Timeout not defaulted")
	}
}
