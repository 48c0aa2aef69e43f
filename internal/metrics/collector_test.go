package metrics

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewCollector(t *testing.T) {
	t.Parallel()

	t.Run("with valid config", func(t *testing.T) {
		config := &Config{
			Enabled:   true,
			Port:      9090,
			Path:      "/metrics",
			Namespace: "ebucket",
			Subsystem: "test",
		}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector() returned nil collector")
		}
		if collector.config != config {
			t.Error("collector.config does not match input config")
		}
		if collector.registry == nil {
			t.Error("collector.registry is nil")
		}
		if collector.selections == nil {
			t.Error("collector.selections map is nil")
		}
	})

	t.Run("with nil config uses defaults", func(t *testing.T) {
		collector, err := NewCollector(nil)
		if err != nil {
			t.Fatalf("NewCollector(nil) error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector(nil) returned nil collector")
		}
		if collector.config == nil {
			t.Fatal("default config is nil")
		}
		if collector.config.Port != 8080 {
			t.Errorf("default port = %d, want 8080", collector.config.Port)
		}
		if collector.config.Path != "/metrics" {
			t.Errorf("default path = %q, want %q", collector.config.Path, "/metrics")
		}
		if collector.config.Namespace != "ebucket" {
			t.Errorf("default namespace = %q, want %q", collector.config.Namespace, "ebucket")
		}
	})

	t.Run("with disabled config", func(t *testing.T) {
		config := &Config{
			Enabled: false,
		}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v, want nil", err)
		}
		if collector == nil {
			t.Fatal("NewCollector() returned nil collector")
		}
		if collector.registry != nil {
			t.Error("disabled collector should not have registry")
		}
	})
}

func TestRecordSelection(t *testing.T) {
	t.Parallel()

	t.Run("record successful selection", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9091, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordSelection("bucket-1", 100*time.Microsecond, 1024, true)

		metrics := collector.GetMetrics()
		selections, ok := metrics["selections"].(map[string]*SelectionMetrics)
		if !ok {
			t.Fatal("selections not found in metrics")
		}

		sel, exists := selections["bucket-1"]
		if !exists {
			t.Fatal("bucket-1 selection not recorded")
		}
		if sel.Count != 1 {
			t.Errorf("sel.Count = %d, want 1", sel.Count)
		}
		if sel.TotalSize != 1024 {
			t.Errorf("sel.TotalSize = %d, want 1024", sel.TotalSize)
		}
		if sel.Errors != 0 {
			t.Errorf("sel.Errors = %d, want 0", sel.Errors)
		}
		if sel.AvgSize != 1024.0 {
			t.Errorf("sel.AvgSize = %.2f, want 1024.00", sel.AvgSize)
		}
	})

	t.Run("record failed selection", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9092, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordSelection("bucket-2", 50*time.Microsecond, 512, false)

		selections := collector.GetMetrics()["selections"].(map[string]*SelectionMetrics)
		sel := selections["bucket-2"]
		if sel.Errors != 1 {
			t.Errorf("sel.Errors = %d, want 1", sel.Errors)
		}
	})

	t.Run("record multiple selections", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9093, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordSelection("bucket-3", 100*time.Microsecond, 1000, true)
		collector.RecordSelection("bucket-3", 200*time.Microsecond, 2000, true)
		collector.RecordSelection("bucket-3", 300*time.Microsecond, 3000, false)

		selections := collector.GetMetrics()["selections"].(map[string]*SelectionMetrics)
		sel := selections["bucket-3"]
		if sel.Count != 3 {
			t.Errorf("sel.Count = %d, want 3", sel.Count)
		}
		if sel.TotalSize != 6000 {
			t.Errorf("sel.TotalSize = %d, want 6000", sel.TotalSize)
		}
		if sel.Errors != 1 {
			t.Errorf("sel.Errors = %d, want 1", sel.Errors)
		}
		expectedAvgSize := 6000.0 / 3.0
		if sel.AvgSize != expectedAvgSize {
			t.Errorf("sel.AvgSize = %.2f, want %.2f", sel.AvgSize, expectedAvgSize)
		}
	})

	t.Run("disabled collector ignores selections", func(t *testing.T) {
		config := &Config{Enabled: false}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.RecordSelection("bucket-1", 100*time.Microsecond, 1024, true)

		if len(collector.selections) != 0 {
			t.Error("disabled collector should not track selections")
		}
	})
}

func TestRecordReload(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9094, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordReload(10*time.Millisecond, true)
	collector.RecordReload(10*time.Millisecond, false)
}

func TestRecordError(t *testing.T) {
	t.Parallel()

	t.Run("record error", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9096, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		testErr := errors.New("test error")
		collector.RecordError("reload", testErr)
	})

	t.Run("disabled collector ignores errors", func(t *testing.T) {
		config := &Config{Enabled: false}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		testErr := errors.New("test error")
		collector.RecordError("reload", testErr)
	})
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9097, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	tests := []struct {
		name         string
		err          error
		expectedType string
	}{
		{"timeout error", errors.New("operation timeout"), "timeout"},
		{"connection error", errors.New("connection refused"), "connection"},
		{"not found error", errors.New("bucket not found"), "not_found"},
		{"permission error", errors.New("permission denied"), "permission"},
		{"throttling error", errors.New("rate throttled"), "throttling"},
		{"other error", errors.New("unknown error"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := collector.classifyError(tt.err)
			if result != tt.expectedType {
				t.Errorf("classifyError() = %q, want %q", result, tt.expectedType)
			}
		})
	}
}

func TestUpdateCatalogSize(t *testing.T) {
	t.Parallel()

	t.Run("update catalog size", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9098, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.UpdateCatalogSize(42)
	})

	t.Run("disabled collector ignores catalog size", func(t *testing.T) {
		config := &Config{Enabled: false}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.UpdateCatalogSize(42)
	})
}

func TestUpdateGroupReachable(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9099, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.UpdateGroupReachable(1, true)
	collector.UpdateGroupReachable(2, false)
}

func TestUpdateActiveSessions(t *testing.T) {
	t.Parallel()

	t.Run("update active sessions", func(t *testing.T) {
		config := &Config{Enabled: true, Port: 9100, Namespace: "test"}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.UpdateActiveSessions(1, 10)
		collector.UpdateActiveSessions(1, 5)
	})

	t.Run("disabled collector ignores sessions", func(t *testing.T) {
		config := &Config{Enabled: false}
		collector, err := NewCollector(config)
		if err != nil {
			t.Fatalf("NewCollector() error = %v", err)
		}

		collector.UpdateActiveSessions(1, 10)
	})
}

func TestGetMetrics(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9101, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordSelection("bucket-1", 100*time.Microsecond, 1024, true)
	collector.RecordSelection("bucket-2", 50*time.Microsecond, 512, true)

	metrics := collector.GetMetrics()

	if metrics == nil {
		t.Fatal("GetMetrics() returned nil")
	}

	if _, ok := metrics["selections"]; !ok {
		t.Error("metrics missing 'selections' key")
	}

	if _, ok := metrics["last_reset"]; !ok {
		t.Error("metrics missing 'last_reset' key")
	}

	if _, ok := metrics["uptime"]; !ok {
		t.Error("metrics missing 'uptime' key")
	}

	selections, ok := metrics["selections"].(map[string]*SelectionMetrics)
	if !ok {
		t.Fatal("selections is not map[string]*SelectionMetrics")
	}

	if len(selections) != 2 {
		t.Errorf("len(selections) = %d, want 2", len(selections))
	}

	if _, exists := selections["bucket-1"]; !exists {
		t.Error("bucket-1 selection not in metrics")
	}

	if _, exists := selections["bucket-2"]; !exists {
		t.Error("bucket-2 selection not in metrics")
	}
}

func TestResetMetrics(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9102, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	collector.RecordSelection("bucket-1", 100*time.Microsecond, 1024, true)
	collector.RecordSelection("bucket-2", 50*time.Microsecond, 512, true)

	metrics := collector.GetMetrics()
	selections := metrics["selections"].(map[string]*SelectionMetrics)
	if len(selections) != 2 {
		t.Errorf("before reset: len(selections) = %d, want 2", len(selections))
	}

	oldResetTime := collector.lastReset

	time.Sleep(10 * time.Millisecond)
	collector.ResetMetrics()

	metrics = collector.GetMetrics()
	selections = metrics["selections"].(map[string]*SelectionMetrics)
	if len(selections) != 0 {
		t.Errorf("after reset: len(selections) = %d, want 0", len(selections))
	}

	if !collector.lastReset.After(oldResetTime) {
		t.Error("lastReset should be updated after reset")
	}
}

func TestStopWithoutStart(t *testing.T) {
	t.Parallel()

	config := &Config{Enabled: true, Port: 9103, Namespace: "test"}
	collector, err := NewCollector(config)
	if err != nil {
		t.Fatalf("NewCollector() error = %v", err)
	}

	ctx := context.Background()
	err = collector.Stop(ctx)
	if err != nil {
		t.Errorf("Stop() without Start() error = %v, want nil", err)
	}
}

func TestContainsHelper(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		s      string
		substr string
		want   bool
	}{
		{"substring at start", "hello world", "hello", true},
		{"substring in middle", "hello world", "lo wo", true},
		{"substring at end", "hello world", "world", true},
		{"substring not found", "hello world", "foo", false},
		{"empty substring", "hello", "", true},
		{"exact match", "hello", "hello", true},
		{"substring longer than string", "hi", "hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := contains(tt.s, tt.substr)
			if result != tt.want {
				t.Errorf("contains(%q, %q) = %v, want %v", tt.s, tt.substr, result, tt.want)
			}
		})
	}
}

func TestIndexOfHelper(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		s      string
		substr string
		want   int
	}{
		{"substring at start", "hello world", "hello", 0},
		{"substring in middle", "hello world", "world", 6},
		{"substring not found", "hello world", "foo", -1},
		{"empty substring", "hello", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := indexOf(tt.s, tt.substr)
			if result != tt.want {
				t.Errorf("indexOf(%q, %q) = %d, want %d", tt.s, tt.substr, result, tt.want)
			}
		})
	}
}
