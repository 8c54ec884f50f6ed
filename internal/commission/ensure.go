package commission

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureConfig returns immediately when the configuration file exists.
// Otherwise it prepares the configs directory and runs Generate. On failure
// the configs directory listing is logged to help diagnose what the
// generator did write. The Result is nil when no run was needed.
func (a *Automaton) EnsureConfig(ctx context.Context, command string) (*Result, error) {
	if _, err := os.Stat(a.opts.ConfigPath); err == nil {
		return nil, nil
	}

	log := a.logger
	log.Info("config file not found, generating", "path", a.opts.ConfigPath)

	if _, err := os.Stat(command); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("generator not found at %s", command)
		}
		return nil, &GenerationError{Kind: KindSpawn, State: StateAwaitingTrigger, Err: err}
	}

	dir := filepath.Dir(a.opts.ConfigPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &GenerationError{Kind: KindSpawn, State: StateAwaitingTrigger, Err: fmt.Errorf("creating configs directory: %w", err)}
	}

	res, err := a.Generate(ctx, command)
	if err != nil {
		log.Warn("configs directory after failed generation", "dir", dir, "files", listDir(dir))
	}
	return res, err
}

func listDir(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "unreadable: " + err.Error()
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return strings.Join(names, ", ")
}
