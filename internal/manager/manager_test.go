package manager

import (
	"context"
	"errors"
	"testing"

	"github.com/shuva10v/userver-go/internal/component"
	"github.com/shuva10v/userver-go/internal/config"
	"github.com/shuva10v/userver-go/internal/hooks"
)

func testConfig() *config.ManagerConfig {
	return &config.ManagerConfig{
		CoroPool:             config.CoroPoolConfig{InitialSize: 4, MaxSize: 64, StackSize: 1 << 16},
		EventThreadPool:      config.EventThreadPoolConfig{Threads: 1},
		DefaultTaskProcessor: "main",
		TaskProcessors: []config.TaskProcessorConfig{
			{Name: "main", WorkerThreads: 4},
			{Name: "io", WorkerThreads: 2},
		},
	}
}

func TestManagerBootAndShutdown(t *testing.T) {
	var built []string
	register := func(ctx *component.Context) error {
		if err := ctx.AddComponent("a", func(bc *component.BuildContext) (component.Component, error) {
			built = append(built, "a")
			return "a", nil
		}); err != nil {
			return err
		}
		return ctx.AddComponent("b", func(bc *component.BuildContext) (component.Component, error) {
			if _, err := bc.FindComponent("a"); err != nil {
				return nil, err
			}
			built = append(built, "b")
			return "b", nil
		})
	}

	m, err := New(testConfig(), register, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(built) != 2 {
		t.Fatalf("built = %v, want 2 components", built)
	}
	if m.TaskProcessor("io") == nil {
		t.Fatal("io task processor not constructed")
	}

	if err := m.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := m.Shutdown(context.Background()); !errors.Is(err, ErrAlreadyCleared) {
		t.Fatalf("second Shutdown = %v, want ErrAlreadyCleared", err)
	}
}

func TestManagerMissingDefaultProcessor(t *testing.T) {
	cfg := testConfig()
	cfg.DefaultTaskProcessor = "does-not-exist"
	_, err := New(cfg, nil, nil)
	if !errors.Is(err, ErrMissingDefaultProcessor) {
		t.Fatalf("New err = %v, want ErrMissingDefaultProcessor", err)
	}
}

func TestManagerFailedLoadTearsDown(t *testing.T) {
	register := func(ctx *component.Context) error {
		return ctx.AddComponent("broken", func(bc *component.BuildContext) (component.Component, error) {
			return nil, errors.New("boom")
		})
	}
	_, err := New(testConfig(), register, nil)
	if err == nil {
		t.Fatal("New succeeded, want load failure")
	}
}

func TestManagerRunsHooks(t *testing.T) {
	hm := hooks.NewManager()
	var order []string
	for _, ph := range []hooks.Phase{hooks.BeforeStart, hooks.OnAllComponentsLoaded, hooks.AfterStart} {
		phase := ph
		if err := hm.Register(&hooks.Hook{Name: string(phase), Phase: phase, Function: func(ctx context.Context) error {
			order = append(order, string(phase))
			return nil
		}}); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}

	m, err := New(testConfig(), nil, hm)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Shutdown(context.Background())

	want := []string{string(hooks.BeforeStart), string(hooks.OnAllComponentsLoaded), string(hooks.AfterStart)}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}
