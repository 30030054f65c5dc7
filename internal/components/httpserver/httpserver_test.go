package httpserver

import (
	"net/http"
	"net/http/httptest"
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

func TestFactoryStartsServerAndRespondsHealthz(t *testing.T) {
	ctx := newTestContext(t)

	loggingSection := sectionFromYAML(t, "enabled: true\nlevel: error\noutput: stdout\n")
	if err := ctx.AddComponent(consts.ComponentLogging, logging.Factory(loggingSection)); err != nil {
		t.Fatalf("AddComponent logging: %v", err)
	}

	httpSection := sectionFromYAML(t, "enabled: true\naddress: \"127.0.0.1:0\"\nenable_health: true\n")
	if err := ctx.AddComponent(consts.ComponentHTTPServer, Factory(httpSection)); err != nil {
		t.Fatalf("AddComponent http_server: %v", err)
	}

	if err := ctx.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(ctx.ClearAll)

	v, err := ctx.Get(consts.ComponentHTTPServer)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	srv, ok := v.(*Server)
	if !ok {
		t.Fatalf("got %T, want *Server", v)
	}
	if srv.Router() == nil {
		t.Fatal("Router() returned nil")
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("GET /healthz = %d %q, want 200 \"ok\"", rec.Code, rec.Body.String())
	}
}

func TestFactoryDisabledFailsFast(t *testing.T) {
	ctx := newTestContext(t)

	loggingSection := sectionFromYAML(t, "enabled: true\n")
	if err := ctx.AddComponent(consts.ComponentLogging, logging.Factory(loggingSection)); err != nil {
		t.Fatalf("AddComponent logging: %v", err)
	}

	httpSection := sectionFromYAML(t, "enabled: false\n")
	if err := ctx.AddComponent(consts.ComponentHTTPServer, Factory(httpSection)); err != nil {
		t.Fatalf("AddComponent http_server: %v", err)
	}

	if err := ctx.Load(); err == nil {
		t.Fatal("Load succeeded, want error for disabled http_server component")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	applyDefaults(&cfg)
	if cfg.Address != ":8080" {
		t.Fatalf("Address = %q, want :8080", cfg.Address)
	}
	if cfg.GracefulTimeout != 10*time.Second {
		t.Fatalf("GracefulTimeout = %v, want 10s", cfg.GracefulTimeout)
	}
}
