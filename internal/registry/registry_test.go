package registry

import (
	"context"
	"errors"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/consts"
	"github.com/shuva10v/userver-go/internal/hooks"
	"github.com/shuva10v/userver-go/internal/manager"
)

func testManagerConfig(t *testing.T, componentsYAML string) *config.ManagerConfig {
	t.Helper()
	doc := "coro_pool:\n  initial_size: 4\n  max_size: 64\n  stack_size: 65536\n" +
		"event_thread_pool:\n  threads: 1\n" +
		"default_task_processor: main\n" +
		"task_processors:\n  - name: main\n    worker_threads: 4\n" +
		"components:\n" + componentsYAML
	var cfg config.ManagerConfig
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	return &cfg
}

func TestRegisterBuildsBuiltinComponents(t *testing.T) {
	cfg := testManagerConfig(t, ""+
		"  logging:\n    enabled: true\n    level: error\n"+
		"  http_server:\n    enabled: true\n    address: \"127.0.0.1:0\"\n")

	m, err := manager.New(cfg, Register(cfg, nil), hooks.NewManager())
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	defer m.Shutdown(context.Background())

	if _, err := m.Components().Get(consts.ComponentLogging); err != nil {
		t.Fatalf("Get logging: %v", err)
	}
	if _, err := m.Components().Get(consts.ComponentHTTPServer); err != nil {
		t.Fatalf("Get http_server: %v", err)
	}
}

func TestRegisterSkipsUnsetSections(t *testing.T) {
	cfg := testManagerConfig(t, "  logging:\n    enabled: true\n    level: error\n")

	m, err := manager.New(cfg, Register(cfg, nil), hooks.NewManager())
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	defer m.Shutdown(context.Background())

	if _, err := m.Components().Get(consts.ComponentHTTPServer); err == nil {
		t.Fatal("Get http_server succeeded, want error since it was never configured")
	}
}

func TestRegisterRejectsUnknownComponentName(t *testing.T) {
	cfg := testManagerConfig(t, "  not_a_real_component:\n    enabled: true\n")

	_, err := manager.New(cfg, Register(cfg, nil), hooks.NewManager())
	if err == nil {
		t.Fatal("manager.New succeeded, want error for unregistered component name")
	}
	if !errors.Is(err, component.ErrMissingComponent) {
		t.Fatalf("err = %v, want wrapping component.ErrMissingComponent", err)
	}
}

func TestRegisterDisablesLoadDisabledComponents(t *testing.T) {
	cfg := testManagerConfig(t, ""+
		"  logging:\n    enabled: true\n    level: error\n"+
		"  http_server:\n    enabled: true\n    address: \"127.0.0.1:0\"\n    load-enabled: false\n")

	m, err := manager.New(cfg, Register(cfg, nil), hooks.NewManager())
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	defer m.Shutdown(context.Background())

	if _, err := m.Components().Get(consts.ComponentHTTPServer); !errors.Is(err, component.ErrMissingComponent) {
		t.Fatalf("Get http_server = %v, want a not-ready error since it was disabled before Load", err)
	}
}

func TestRegisterHonorsExtraOverrides(t *testing.T) {
	cfg := testManagerConfig(t, "  custom:\n    enabled: true\n")
	called := false
	extra := map[string]Builder{
		"custom": func(section *config.ComponentSection) component.Factory {
			return func(bc *component.BuildContext) (component.Component, error) {
				called = true
				return "custom-value", nil
			}
		},
	}

	m, err := manager.New(cfg, Register(cfg, extra), hooks.NewManager())
	if err != nil {
		t.Fatalf("manager.New: %v", err)
	}
	defer m.Shutdown(context.Background())

	if !called {
		t.Fatal("custom builder was not invoked")
	}
	v, err := m.Components().Get("custom")
	if err != nil {
		t.Fatalf("Get custom: %v", err)
	}
	if v.(string) != "custom-value" {
		t.Fatalf("custom value = %v", v)
	}
}
