package reporting

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/bl4ck0w1/threatlynx/pkg/utils"
)

var SupportedFormats = []string{"json", "yaml"}

type Writer struct {
	outputDir string
	compress  bool
	logger    *logrus.Logger
}

func NewWriter(outputDir string, compress bool, logger *logrus.Logger) *Writer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Writer{outputDir: outputDir, compress: compress, logger: logger}
}

// Write encodes report into dir using the given format and returns the path.
func Write(report *AttackReport, format, dir string) (string, error) {
	return NewWriter(dir, false, nil).Write(report, format)
}

func Encode(report *AttackReport, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json", "":
		return json.MarshalIndent(report, "", "  ")
	case "yaml", "yml":
		return yaml.Marshal(report)
	default:
		return nil, fmt.Errorf("unsupported report format: %s", format)
	}
}

func (w *Writer) Write(report *AttackReport, format string) (string, error) {
	data, err := Encode(report, format)
	if err != nil {
		return "", err
	}
	if format == "" {
		format = "json"
	}

	outPath := filepath.Join(w.outputDir, w.filename(report.Metadata, format))
	if w.compress {
		data, err = gzipBytes(data, filepath.Base(outPath))
		if err != nil {
			return "", fmt.Errorf("failed to compress report: %w", err)
		}
		outPath += ".gz"
	}
	if err := utils.SafeWriteFile(outPath, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	w.logger.Infof("Report exported to %s", outPath)
	return outPath, nil
}

func (w *Writer) filename(meta ReportMetadata, format string) string {
	ts := meta.GeneratedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return fmt.Sprintf("threatlynx_%s_%s_%s.%s",
		sanitizeFilename(meta.Target), shortID(meta.ScanID), ts.Format("20060102_150405"), strings.ToLower(format))
}

func gzipBytes(data []byte, name string) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	gw.Name = name
	gw.ModTime = time.Now()
	if _, err := gw.Write(data); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeFilename(s string) string {
	var out []rune
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '_' || r == '-' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	return string(out)
}
