package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const TestDebugLevel = "DEBUG"

func validGroups() []int32 { return []int32{1, 2, 3} }

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 8080 {
		t.Errorf("Expected MetricsPort to be 8080, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Global.HealthPort != 8081 {
		t.Errorf("Expected HealthPort to be 8081, got %d", cfg.Global.HealthPort)
	}

	if cfg.Storage.ConnectionPoolSize != 8 {
		t.Errorf("Expected ConnectionPoolSize to be 8, got %d", cfg.Storage.ConnectionPoolSize)
	}
	if cfg.Refresh.Interval != 30*time.Second {
		t.Errorf("Expected Refresh.Interval to be 30s, got %v", cfg.Refresh.Interval)
	}
	if cfg.Limits.Size.Hard != 0.05 || cfg.Limits.Size.Soft != 0.15 {
		t.Errorf("Expected default limits 0.05/0.15, got %v/%v", cfg.Limits.Size.Hard, cfg.Limits.Size.Soft)
	}
	if !cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected Metrics.Enabled to be true by default")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid static config",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Metadata.Groups = validGroups()
				cfg.Buckets.Names = []string{"bucket-1", "bucket-2"}
				return cfg
			},
			wantErr: false,
		},
		{
			name: "valid dynamic config",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Metadata.Groups = validGroups()
				cfg.Buckets.CatalogKey = "catalog/buckets"
				return cfg
			},
			wantErr: false,
		},
		{
			name: "missing metadata groups",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Buckets.Names = []string{"bucket-1"}
				return cfg
			},
			wantErr: true,
			errMsg:  "metadata.groups",
		},
		{
			name: "both static and dynamic buckets set",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Metadata.Groups = validGroups()
				cfg.Buckets.Names = []string{"bucket-1"}
				cfg.Buckets.CatalogKey = "catalog/buckets"
				return cfg
			},
			wantErr: true,
			errMsg:  "exactly one",
		},
		{
			name: "neither static nor dynamic buckets set",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Metadata.Groups = validGroups()
				return cfg
			},
			wantErr: true,
			errMsg:  "exactly one",
		},
		{
			name: "invalid connection pool size",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Metadata.Groups = validGroups()
				cfg.Buckets.Names = []string{"bucket-1"}
				cfg.Storage.ConnectionPoolSize = 0
				return cfg
			},
			wantErr: true,
			errMsg:  "connection_pool_size must be greater than 0",
		},
		{
			name: "invalid limits ordering",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Metadata.Groups = validGroups()
				cfg.Buckets.Names = []string{"bucket-1"}
				cfg.Limits.Size.Hard = 0.2
				cfg.Limits.Size.Soft = 0.1
				return cfg
			},
			wantErr: true,
			errMsg:  "limits.size",
		},
		{
			name: "same metrics and health ports",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Metadata.Groups = validGroups()
				cfg.Buckets.Names = []string{"bucket-1"}
				cfg.Global.MetricsPort = 8080
				cfg.Global.HealthPort = 8080
				return cfg
			},
			wantErr: true,
			errMsg:  "metrics_port and health_port cannot be the same",
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Metadata.Groups = validGroups()
				cfg.Buckets.Names = []string{"bucket-1"}
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
			errMsg:  "invalid log_level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config()
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if err != nil && tt.errMsg != "" && !contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %v, want error containing %v", err, tt.errMsg)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  metrics_port: 9090
  health_port: 9091

metadata:
  groups: [1, 2, 3]

buckets:
  names:
    - bucket-1
    - bucket-2

storage:
  connection_pool_size: 16

refresh:
  interval: 10s
`

	err := os.WriteFile(configFile, []byte(configContent), 0600)
	if err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	err = cfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}
	if len(cfg.Metadata.Groups) != 3 {
		t.Errorf("Expected 3 metadata groups, got %d", len(cfg.Metadata.Groups))
	}
	if len(cfg.Buckets.Names) != 2 {
		t.Errorf("Expected 2 bucket names, got %d", len(cfg.Buckets.Names))
	}
	if cfg.Storage.ConnectionPoolSize != 16 {
		t.Errorf("Expected ConnectionPoolSize to be 16, got %d", cfg.Storage.ConnectionPoolSize)
	}
	if cfg.Refresh.Interval != 10*time.Second {
		t.Errorf("Expected Refresh.Interval to be 10s, got %v", cfg.Refresh.Interval)
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	err := cfg.LoadFromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	testEnvVars := map[string]string{
		"EBUCKET_LOG_LEVEL":            "ERROR",
		"EBUCKET_METRICS_PORT":         "9090",
		"EBUCKET_CATALOG_KEY":          "catalog/buckets",
		"EBUCKET_CONNECTION_POOL_SIZE": "32",
		"EBUCKET_REFRESH_INTERVAL":     "1m",
		"EBUCKET_METRICS_ENABLED":      "false",
	}

	for key, value := range testEnvVars {
		t.Setenv(key, value)
	}

	cfg := NewDefault()
	err := cfg.LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Buckets.CatalogKey != "catalog/buckets" {
		t.Errorf("Expected CatalogKey to be catalog/buckets, got %s", cfg.Buckets.CatalogKey)
	}
	if cfg.Storage.ConnectionPoolSize != 32 {
		t.Errorf("Expected ConnectionPoolSize to be 32, got %d", cfg.Storage.ConnectionPoolSize)
	}
	if cfg.Refresh.Interval != time.Minute {
		t.Errorf("Expected Refresh.Interval to be 1m, got %v", cfg.Refresh.Interval)
	}
	if cfg.Monitoring.Metrics.Enabled {
		t.Error("Expected Metrics.Enabled to be false")
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = TestDebugLevel
	cfg.Metadata.Groups = validGroups()
	cfg.Buckets.Names = []string{"bucket-1"}

	err := cfg.SaveToFile(configFile)
	if err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	newCfg := NewDefault()
	err = newCfg.LoadFromFile(configFile)
	if err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}

	if newCfg.Global.LogLevel != TestDebugLevel {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if len(newCfg.Buckets.Names) != 1 {
		t.Errorf("Expected 1 bucket name, got %d", len(newCfg.Buckets.Names))
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	err := cfg.SaveToFile(configFile)
	if err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	if _, err := os.Stat(filepath.Dir(configFile)); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i <= len(s)-len(substr); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
