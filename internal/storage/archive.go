package storage

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

// ScanBundle is the archived form of a finished scan.
type ScanBundle struct {
	Scan            models.ScanRecord         `json:"scan"`
	Aggregate       *models.ReconAggregate    `json:"aggregate,omitempty"`
	Vulnerabilities []models.Vulnerability    `json:"vulnerabilities"`
	Mappings        []models.TechniqueMapping `json:"mappings"`
	ArchivedAt      time.Time                 `json:"archivedAt"`
}

type Archive struct {
	baseDir     string
	logger      *logrus.Logger
	mu          sync.RWMutex
	compression bool
	retention   time.Duration
	now         func() time.Time
}

func NewArchive(baseDir string, compression bool, retention time.Duration, logger *logrus.Logger) (*Archive, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &Archive{
		baseDir:     baseDir,
		logger:      logger,
		compression: compression,
		retention:   retention,
		now:         time.Now,
	}, nil
}

func (a *Archive) path(scanID string) string {
	name := scanID + ".json"
	if a.compression {
		name += ".gz"
	}
	return filepath.Join(a.baseDir, name)
}

// Save writes the bundle to a temp file in the archive directory and renames
// it into place, replacing any earlier bundle for the same scan.
func (a *Archive) Save(bundle *ScanBundle) (string, error) {
	if bundle.Scan.ID == "" || strings.ContainsAny(bundle.Scan.ID, `/\`) {
		return "", fmt.Errorf("invalid scan id %q", bundle.Scan.ID)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	if bundle.ArchivedAt.IsZero() {
		bundle.ArchivedAt = a.now().UTC()
	}

	finalPath := a.path(bundle.Scan.ID)
	tmpFile, err := os.CreateTemp(a.baseDir, ".bundle_*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	fail := func(step string, err error) (string, error) {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("%s: %w", step, err)
	}

	var w io.Writer = tmpFile
	var gzw *gzip.Writer
	if a.compression {
		gzw = gzip.NewWriter(tmpFile)
		w = gzw
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		return fail("encode bundle", err)
	}
	if gzw != nil {
		if err := gzw.Close(); err != nil {
			return fail("close gzip", err)
		}
	}
	if err := tmpFile.Sync(); err != nil {
		return fail("sync temp file", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), finalPath); err != nil {
		_ = os.Remove(tmpFile.Name())
		return "", fmt.Errorf("atomic rename: %w", err)
	}

	a.logger.WithField("scan_id", bundle.Scan.ID).Debugf("Bundle archived to %s", finalPath)
	return finalPath, nil
}

func (a *Archive) Load(scanID string) (*ScanBundle, error) {
	if scanID == "" || strings.ContainsAny(scanID, `/\`) {
		return nil, fmt.Errorf("invalid scan id %q", scanID)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, path := range []string{
		filepath.Join(a.baseDir, scanID+".json.gz"),
		filepath.Join(a.baseDir, scanID+".json"),
	} {
		bundle, err := readBundle(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return bundle, nil
	}
	return nil, fmt.Errorf("archived scan %s: %w", scanID, ErrNotFound)
}

func readBundle(path string) (*ScanBundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		defer gzr.Close()
		r = gzr
	}

	var bundle ScanBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", filepath.Base(path), err)
	}
	return &bundle, nil
}

type ArchiveEntry struct {
	ScanID   string
	Path     string
	Size     int64
	Modified time.Time
}

// List returns the archived bundles, most recently written first.
func (a *Archive) List() ([]ArchiveEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		return nil, fmt.Errorf("read archive dir: %w", err)
	}
	var out []ArchiveEntry
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimSuffix(name, ".gz"), ".json")
		if id == name {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, ArchiveEntry{
			ScanID:   id,
			Path:     filepath.Join(a.baseDir, name),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Modified.Equal(out[j].Modified) {
			return out[i].ScanID < out[j].ScanID
		}
		return out[i].Modified.After(out[j].Modified)
	})
	return out, nil
}

// Cleanup removes bundles last modified before now minus the retention.
func (a *Archive) Cleanup() (int, error) {
	if a.retention <= 0 {
		return 0, nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := os.ReadDir(a.baseDir)
	if err != nil {
		return 0, fmt.Errorf("read archive dir: %w", err)
	}
	cutoff := a.now().Add(-a.retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.Contains(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(a.baseDir, e.Name())); err != nil {
				a.logger.Warnf("Failed to remove expired bundle %s: %v", e.Name(), err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		a.logger.Infof("Removed %d expired bundles", removed)
	}
	return removed, nil
}

// RunRetention runs Cleanup on every tick until ctx is done.
func (a *Archive) RunRetention(ctx context.Context, every time.Duration) {
	if a.retention <= 0 {
		return
	}
	if every <= 0 {
		every = 24 * time.Hour
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Cleanup(); err != nil {
				a.logger.Warnf("Archive cleanup failed: %v", err)
			}
		}
	}
}

func (a *Archive) GetStorageStats() (map[string]interface{}, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	var size int64
	count := 0
	err := filepath.Walk(a.baseDir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
			count++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("calculate dir size: %w", err)
	}
	return map[string]interface{}{
		"total_size_bytes":    size,
		"total_size_human":    fmt.Sprintf("%.2f MB", float64(size)/1024.0/1024.0),
		"bundles":             count,
		"compression_enabled": a.compression,
		"retention_period":    a.retention.String(),
	}, nil
}
