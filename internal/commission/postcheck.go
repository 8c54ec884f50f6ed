package commission

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/gnb-webdashboard/gnbdash/internal/devconfig"
	"github.com/gnb-webdashboard/gnbdash/internal/events"
)

// postCheck verifies the artifact exists and injects the default field.
// Injection problems are logged; only a missing file fails the run.
func (a *Automaton) postCheck(res *Result, log *slog.Logger) error {
	if _, err := os.Stat(a.opts.ConfigPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = errors.New("generator completed without producing output")
		}
		return &GenerationError{Kind: KindPostCheckMissingArtifact, State: StateDone, Step: res.Steps, Err: err}
	}
	log.Info("config file created", "path", a.opts.ConfigPath)

	if a.opts.DefaultField == "" {
		return nil
	}
	change, err := devconfig.EnsureField(a.opts.ConfigPath, a.opts.DefaultField, a.opts.DefaultValue)
	if err != nil {
		log.Error("injecting default field", "field", a.opts.DefaultField, "error", err)
		return nil
	}
	if change == nil {
		log.Info("default field already present", "field", a.opts.DefaultField)
		return nil
	}

	res.Injected = true
	patch := LinePatch(string(change.Before), string(change.After))
	log.Info("injected default field", "field", change.Field, "value", change.New)
	log.Debug("config patch", "patch", patch)
	a.diag.Emit(events.EventFieldInjected, res.RunID, map[string]interface{}{
		"field": change.Field,
		"value": change.New,
		"patch": patch,
	})
	return nil
}

// LinePatch returns a line-level diff-match-patch patch from before to after.
func LinePatch(before, after string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)
	return dmp.PatchToText(dmp.PatchMake(before, diffs))
}

// Describe formats a result for humans.
func (r *Result) Describe() string {
	return fmt.Sprintf("%s after %d steps in %s", r.StateName, r.Steps, r.Duration.Round(time.Millisecond))
}
