// Package config loads the manager configuration: the
// coro_pool, event_thread_pool, task_processors, default_task_processor and
// components sections. Grounded on a config.Loader pattern: one YAML/JSON
// file parsed into a typed top-level struct, with component-specific
// sub-sections left opaque and decoded lazily on demand — the same
// re-marshal/re-unmarshal trick used for a single business-config section
// elsewhere, generalized from "one business struct" to "one struct per
// named component."
package config

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// CoroPoolConfig describes the shared coroutine-stack pool's sizing.
type CoroPoolConfig struct {
	InitialSize uint64 `yaml:"initial_size" json:"initial_size"`
	MaxSize     uint64 `yaml:"max_size" json:"max_size"`
	StackSize   uint64 `yaml:"stack_size" json:"stack_size"`
}

// EventThreadPoolConfig describes the event-thread pool's size.
type EventThreadPoolConfig struct {
	Threads int `yaml:"threads" json:"threads"`
}

// TaskProcessorConfig describes one named task processor's settings.
type TaskProcessorConfig struct {
	Name                string `yaml:"name" json:"name"`
	WorkerThreads       int    `yaml:"worker_threads" json:"worker_threads"`
	ThreadName          string `yaml:"thread_name" json:"thread_name"`
	TaskTraceEnabled    bool   `yaml:"task_trace_enabled" json:"task_trace_enabled"`
	TaskTraceMaxTasks   int    `yaml:"task_trace_max_tasks" json:"task_trace_max_tasks"`
	ShouldGuessCPULimit bool   `yaml:"should_guess_cpu_limit" json:"should_guess_cpu_limit"`
	QueueHighWaterMark  int    `yaml:"queue_high_water_mark" json:"queue_high_water_mark"`
}

// ComponentSection is one component's opaque configuration subtree: the
// manager never needs to know its shape, only the component's own factory
// does, via Decode.
type ComponentSection struct {
	raw         any
	isSet       bool
	loadEnabled bool
}

func (s *ComponentSection) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	s.raw = raw
	s.isSet = true
	s.loadEnabled = true
	var peek struct {
		LoadEnabled *bool `yaml:"load-enabled"`
	}
	if err := node.Decode(&peek); err == nil && peek.LoadEnabled != nil {
		s.loadEnabled = *peek.LoadEnabled
	}
	return nil
}

// UnmarshalJSON is the JSON counterpart of UnmarshalYAML.
func (s *ComponentSection) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.raw = raw
	s.isSet = true
	s.loadEnabled = true
	if m, ok := raw.(map[string]any); ok {
		if v, ok := m["load-enabled"].(bool); ok {
			s.loadEnabled = v
		}
	}
	return nil
}

// IsSet reports whether this component had an explicit config section
// (absent sections decode to disabled).
func (s *ComponentSection) IsSet() bool { return s.isSet }

// LoadEnabled reports this component's load-enabled setting, true by
// default. A component with load-enabled: false is still registered so it
// shows up in diagnostics, but registry.Register disables it in the
// Context before Load runs, so FindComponent on it fails with ErrDisabled
// instead of ever running its factory.
func (s *ComponentSection) LoadEnabled() bool { return s.loadEnabled }

// Decode re-marshals the opaque subtree and unmarshals it into target,
// following a decode-on-demand pattern, so each component can
// use its own strongly typed config struct without the top-level
// ManagerConfig needing to know about it.
func (s *ComponentSection) Decode(target any) error {
	if !s.isSet {
		return nil
	}
	bytes, err := yaml.Marshal(s.raw)
	if err != nil {
		return fmt.Errorf("re-marshal component config: %w", err)
	}
	if err := yaml.Unmarshal(bytes, target); err != nil {
		return fmt.Errorf("decode component config: %w", err)
	}
	return nil
}

// ManagerConfig is the top-level configuration document.
type ManagerConfig struct {
	CoroPool             CoroPoolConfig                  `yaml:"coro_pool" json:"coro_pool"`
	EventThreadPool      EventThreadPoolConfig            `yaml:"event_thread_pool" json:"event_thread_pool"`
	TaskProcessors       []TaskProcessorConfig             `yaml:"task_processors" json:"task_processors"`
	DefaultTaskProcessor string                            `yaml:"default_task_processor" json:"default_task_processor"`
	Components           map[string]*ComponentSection      `yaml:"components" json:"components"`
}

// FindTaskProcessor returns the TaskProcessorConfig named name.
func (c *ManagerConfig) FindTaskProcessor(name string) (TaskProcessorConfig, bool) {
	for _, tp := range c.TaskProcessors {
		if tp.Name == name {
			return tp, true
		}
	}
	return TaskProcessorConfig{}, false
}

// MarshalForDiagnostics renders the config as JSON for log lines; grounded
// on the practice of dumping the resolved config at boot.
func (c *ManagerConfig) MarshalForDiagnostics() string {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<unmarshalable config: %v>", err)
	}
	return string(b)
}
