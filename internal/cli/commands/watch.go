package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/leaptrace/internal/cli/config"
	"github.com/leapstack-labs/leaptrace/internal/cli/output"
	"github.com/leapstack-labs/leaptrace/internal/engine"
	"github.com/spf13/cobra"
)

// debounceInterval batches rapid editor events into one re-run.
const debounceInterval = 300 * time.Millisecond

// runWatch executes pipelines, then re-runs on file changes until the
// command context is cancelled. With selectors given, every change re-runs
// that selection; without, only pipelines affected by the change run.
func runWatch(cmd *cobra.Command, cmdCtx *CommandContext, selectors []string) error {
	cfg := cmdCtx.Cfg
	r := cmdCtx.Renderer

	// Initial full pass. Failures are reported but keep the watcher alive.
	if err := runOnce(cmd, cmdCtx, selectors); err != nil {
		r.Warning(err.Error())
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	watched := 0
	for _, dir := range []string{cfg.PipelinesDir, cfg.StepsDir, cfg.SeedsDir} {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
		watched++
	}
	if watched == 0 {
		return fmt.Errorf("no directories to watch (checked %s, %s, %s)", cfg.PipelinesDir, cfg.StepsDir, cfg.SeedsDir)
	}

	r.Println("")
	r.Muted("Watching for changes. Press Ctrl+C to stop.")

	pending := make(map[string]struct{})
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-cmd.Context().Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevantWatchEvent(cfg, ev) {
				continue
			}
			pending[ev.Name] = struct{}{}
			timer.Reset(debounceInterval)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.Warning(fmt.Sprintf("watch error: %v", err))

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := pending
			pending = make(map[string]struct{})
			if err := rerunChanged(cmd, cmdCtx, selectors, changed); err != nil {
				r.Warning(err.Error())
			}
			r.Println("")
			r.Muted("Watching for changes. Press Ctrl+C to stop.")
		}
	}
}

// relevantWatchEvent filters events down to project files discovery reads.
func relevantWatchEvent(cfg *config.Config, ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	ext := strings.ToLower(filepath.Ext(ev.Name))
	dir := filepath.Dir(ev.Name)

	switch dir {
	case cfg.PipelinesDir:
		return ext == ".yaml" || ext == ".yml"
	case cfg.StepsDir:
		return ext == ".star"
	case cfg.SeedsDir:
		return ext == ".csv" || ext == ".json" || ext == ".xlsx"
	}
	return false
}

// rerunChanged re-discovers the project and runs what the change touches.
func rerunChanged(cmd *cobra.Command, cmdCtx *CommandContext, selectors []string, changed map[string]struct{}) error {
	cfg := cmdCtx.Cfg
	eng := cmdCtx.Engine
	r := cmdCtx.Renderer

	files := make([]string, 0, len(changed))
	for path := range changed {
		files = append(files, filepath.Base(path))
	}
	sort.Strings(files)
	r.Println("")
	r.Printf("Changed: %s\n", strings.Join(files, ", "))

	// An explicit selection always re-runs as given.
	if len(selectors) > 0 {
		return runOnce(cmd, cmdCtx, selectors)
	}

	result, err := eng.Discover()
	if err != nil {
		return fmt.Errorf("discovery failed: %w", err)
	}

	// A step module change can affect any pipeline.
	for path := range changed {
		if filepath.Dir(path) == cfg.StepsDir {
			return runDiscovered(cmd, cmdCtx, result, nil)
		}
	}

	// Otherwise run the changed pipelines, the readers of changed seeds, and
	// everything downstream of both.
	roots := append([]string{}, result.ChangedPipelines...)
	for path := range changed {
		if filepath.Dir(path) == cfg.SeedsDir {
			roots = append(roots, eng.PipelinesReadingSeed(filepath.Base(path))...)
		}
	}

	affected := eng.GetGraph().Affected(roots)
	if len(affected) == 0 {
		r.Muted("No pipelines affected.")
		return nil
	}

	return runDiscovered(cmd, cmdCtx, result, affected)
}

// runDiscovered renders a run over an already-discovered project.
func runDiscovered(cmd *cobra.Command, cmdCtx *CommandContext, result *engine.DiscoveryResult, names []string) error {
	switch cmdCtx.Renderer.EffectiveMode() {
	case output.ModeJSON:
		return runWithJSON(cmd, cmdCtx, result, names)
	case output.ModeMarkdown:
		return runWithMarkdown(cmd, cmdCtx, result, names)
	default:
		return runWithText(cmd, cmdCtx, result, names)
	}
}
