package prometheus

import (
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

func TestFactoryStartsExporter(t *testing.T) {
	ctx := newTestContext(t)
	if err := ctx.AddComponent(consts.ComponentLogging, logging.Factory(sectionFromYAML(t, "enabled: true\nlevel: error\n"))); err != nil {
		t.Fatalf("AddComponent logging: %v", err)
	}
	section := sectionFromYAML(t, "enabled: true\naddress: \"127.0.0.1:0\"\n")
	if err := ctx.AddComponent(consts.ComponentPrometheus, Factory(section)); err != nil {
		t.Fatalf("AddComponent prometheus: %v", err)
	}
	if err := ctx.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(ctx.ClearAll)

	v, err := ctx.Get(consts.ComponentPrometheus)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	exp := v.(*Exporter)
	if exp.Registry() == nil {
		t.Fatal("Registry() returned nil")
	}
}

func TestFqName(t *testing.T) {
	e := &Exporter{namespace: "userver", subsystem: "http"}
	if got := e.fqName("requests_total"); got != "userver_http_requests_total" {
		t.Fatalf("fqName = %q", got)
	}
	e2 := &Exporter{}
	if got := e2.fqName("requests_total"); got != "requests_total" {
		t.Fatalf("fqName = %q", got)
	}
}
