package utils

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RotationConfig controls when and how a LogRotator cuts a new file.
type RotationConfig struct {
	Filename   string
	MaxSize    int64 // megabytes; 0 disables size-based rotation
	MaxAge     int   // days; 0 disables age-based rotation
	MaxBackups int   // 0 retains every backup
	Compress   bool
	LocalTime  bool
}

// LogRotator is an io.Writer over a file that transparently rotates to a
// timestamped backup once the active file crosses a size or age
// threshold, optionally gzipping the backup and pruning old ones.
type LogRotator struct {
	mu sync.Mutex

	config   *RotationConfig
	file     *os.File
	size     int64
	openedAt time.Time
}

// NewLogRotator opens (creating if needed) config.Filename for append.
func NewLogRotator(config *RotationConfig) (*LogRotator, error) {
	if config == nil {
		return nil, fmt.Errorf("rotation config is required")
	}
	if config.Filename == "" {
		return nil, fmt.Errorf("filename is required")
	}

	lr := &LogRotator{config: config}
	if err := lr.openFile(); err != nil {
		return nil, err
	}
	return lr, nil
}

// Write satisfies io.Writer, rotating first if the write would push the
// active file past its size threshold, or if it's past its age threshold.
func (lr *LogRotator) Write(p []byte) (int, error) {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.needsRotation(int64(len(p))) {
		if err := lr.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := lr.file.Write(p)
	lr.size += int64(n)
	return n, err
}

func (lr *LogRotator) Close() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return nil
	}
	err := lr.file.Close()
	lr.file = nil
	return err
}

func (lr *LogRotator) Sync() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	if lr.file == nil {
		return nil
	}
	return lr.file.Sync()
}

func (lr *LogRotator) needsRotation(pendingWrite int64) bool {
	if lr.config.MaxSize > 0 && lr.size+pendingWrite >= lr.config.MaxSize*1024*1024 {
		return true
	}
	if lr.config.MaxAge > 0 && time.Since(lr.openedAt) >= time.Duration(lr.config.MaxAge)*24*time.Hour {
		return true
	}
	return false
}

func (lr *LogRotator) rotate() error {
	if lr.file != nil {
		if err := lr.file.Close(); err != nil {
			return fmt.Errorf("close active log file: %w", err)
		}
		lr.file = nil
	}

	backupName := lr.backupFilename(lr.backupTimestamp())
	if err := os.Rename(lr.config.Filename, backupName); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if lr.config.Compress {
		if err := lr.compressFile(backupName); err != nil {
			fmt.Fprintf(os.Stderr, "compress log file %s: %v\n", backupName, err)
		}
	}

	if err := lr.pruneBackups(); err != nil {
		fmt.Fprintf(os.Stderr, "prune old log backups: %v\n", err)
	}

	return lr.openFile()
}

func (lr *LogRotator) openFile() error {
	dir := filepath.Dir(lr.config.Filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	file, err := os.OpenFile(lr.config.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("stat log file: %w", err)
	}

	lr.file = file
	lr.openedAt = time.Now()
	lr.size = info.Size()
	return nil
}

func (lr *LogRotator) backupTimestamp() time.Time {
	if lr.config.LocalTime {
		return time.Now()
	}
	return time.Now().UTC()
}

func (lr *LogRotator) backupFilename(ts time.Time) string {
	dir := filepath.Dir(lr.config.Filename)
	filename := filepath.Base(lr.config.Filename)
	ext := filepath.Ext(filename)
	prefix := filename[:len(filename)-len(ext)]
	return filepath.Join(dir, fmt.Sprintf("%s-%s%s", prefix, ts.Format("2006-01-02T15-04-05"), ext))
}

func (lr *LogRotator) compressFile(filename string) error {
	src, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(filename + ".gz")
	if err != nil {
		return err
	}
	defer func() { _ = dst.Close() }()

	gw := gzip.NewWriter(dst)
	if _, err := io.Copy(gw, src); err != nil {
		_ = gw.Close()
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}

	return os.Remove(filename)
}

// pruneBackups deletes backups past MaxBackups (oldest first) and any
// backup older than MaxAge, regardless of count.
func (lr *LogRotator) pruneBackups() error {
	backups, err := lr.backupFiles()
	if err != nil {
		return err
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].ModTime().Before(backups[j].ModTime())
	})

	toDelete := make(map[string]struct{})

	if lr.config.MaxBackups > 0 && len(backups) > lr.config.MaxBackups {
		for _, b := range backups[:len(backups)-lr.config.MaxBackups] {
			toDelete[b.Name()] = struct{}{}
		}
	}

	if lr.config.MaxAge > 0 {
		cutoff := time.Now().Add(-time.Duration(lr.config.MaxAge) * 24 * time.Hour)
		for _, b := range backups {
			if b.ModTime().Before(cutoff) {
				toDelete[b.Name()] = struct{}{}
			}
		}
	}

	dir := filepath.Dir(lr.config.Filename)
	for name := range toDelete {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			fmt.Fprintf(os.Stderr, "remove old log backup %s: %v\n", name, err)
		}
	}
	return nil
}

func (lr *LogRotator) backupFiles() ([]os.FileInfo, error) {
	dir := filepath.Dir(lr.config.Filename)
	filename := filepath.Base(lr.config.Filename)
	ext := filepath.Ext(filename)
	prefix := filename[:len(filename)-len(ext)]

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var backups []os.FileInfo
	for _, entry := range entries {
		name := entry.Name()
		if name == filename || !strings.HasPrefix(name, prefix+"-") {
			continue
		}
		if !strings.HasSuffix(name, ext) && !strings.HasSuffix(name, ext+".gz") {
			continue
		}
		if info, err := entry.Info(); err == nil {
			backups = append(backups, info)
		}
	}
	return backups, nil
}

// ForceRotate rotates immediately, regardless of size or age thresholds.
func (lr *LogRotator) ForceRotate() error {
	lr.mu.Lock()
	defer lr.mu.Unlock()
	return lr.rotate()
}

// Rotate is an exported alias for ForceRotate.
func (lr *LogRotator) Rotate() error {
	return lr.ForceRotate()
}
