package recon

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/threatlynx/pkg/models"
)

// CommandRunner runs an external program and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type RegistryLookup struct {
	command string
	timeout time.Duration
	run     CommandRunner
	logger  *logrus.Logger
}

func NewRegistryLookup(command string, timeout time.Duration, run CommandRunner, logger *logrus.Logger) *RegistryLookup {
	if logger == nil {
		logger = logrus.New()
	}
	if command == "" {
		command = "whois"
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if run == nil {
		run = ExecRunner
	}
	return &RegistryLookup{command: command, timeout: timeout, run: run, logger: logger}
}

// Lookup always returns a usable map. A failing registry client yields an
// empty map alongside the error.
func (r *RegistryLookup) Lookup(ctx context.Context, target models.ScanTarget) (map[string]string, error) {
	lctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := r.run(lctx, r.command, target.String())
	if err != nil {
		r.logger.WithFields(logrus.Fields{"target": target.String(), "error": err}).Debug("registry lookup failed")
		return map[string]string{}, fmt.Errorf("%s %s: %w", r.command, target.String(), err)
	}
	return ParseRegistryOutput(string(out)), nil
}

// ParseRegistryOutput splits each line on its first colon. Keys are
// lower-cased; the first occurrence of a key wins.
func ParseRegistryOutput(text string) map[string]string {
	fields := make(map[string]string)
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		if _, seen := fields[key]; !seen {
			fields[key] = value
		}
	}
	return fields
}
