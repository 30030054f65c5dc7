package mysqlgorm

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/components/logging"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
	"github.com/shuva10v/userver-go/internal/taskproc"
	"github.com/shuva10v/userver-go/internal/testutil"
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

func TestFactoryOpensGormDataSource(t *testing.T) {
	dsn := testutil.GetMySQLDSN(t)

	ctx := newTestContext(t)
	if err := ctx.AddComponent(consts.ComponentLogging, logging.Factory(sectionFromYAML(t, "enabled: true\nlevel: error\n"))); err != nil {
		t.Fatalf("AddComponent logging: %v", err)
	}
	section := sectionFromYAML(t, "enabled: true\ndata_sources:\n  main:\n    dsn: \""+dsn+"\"\n    ping_on_start: true\n")
	if err := ctx.AddComponent(consts.ComponentMySQLGorm, Factory(section)); err != nil {
		t.Fatalf("AddComponent mysqlgorm: %v", err)
	}

	if err := ctx.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	t.Cleanup(ctx.ClearAll)

	v, err := ctx.Get(consts.ComponentMySQLGorm)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	ds := v.(*DataSources)
	db, err := ds.DB("main")
	if err != nil {
		t.Fatalf("DB: %v", err)
	}
	if db == nil {
		t.Fatal("DB returned nil gorm.DB")
	}
}

func TestBuildDSN(t *testing.T) {
	dsn, err := buildDSN(&DataSourceConfig{Host: "127.0.0.1", User: "root", Database: "app"})
	if err != nil {
		t.Fatalf("buildDSN: %v", err)
	}
	if dsn == "" {
		t.Fatal("buildDSN returned empty string")
	}
}
