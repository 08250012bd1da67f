package rules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"hostalerts/internal/logger"
	"hostalerts/internal/metrics"
)

// File is the on-disk rule document.
type File struct {
	Rules []AlertRule `yaml:"rules"`
}

// LoadFile reads a YAML rule document. Rules are returned as written,
// including disabled and invalid ones.
func LoadFile(path string) ([]AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule file %s: %w", path, err)
	}
	return f.Rules, nil
}

// Usable keeps enabled rules that pass validation, preserving order.
// Invalid rules are logged and dropped.
func Usable(all []AlertRule, log zerolog.Logger) []AlertRule {
	out := make([]AlertRule, 0, len(all))
	seen := map[string]struct{}{}
	for _, rule := range all {
		if !rule.Enabled {
			continue
		}
		if verr := Validate(rule); verr != nil {
			log.Warn().Str("rule_id", rule.ID).Interface("details", verr.Details).Msg("skipping invalid rule")
			continue
		}
		if _, dup := seen[rule.ID]; dup {
			log.Warn().Str("rule_id", rule.ID).Msg("skipping duplicate rule id")
			continue
		}
		seen[rule.ID] = struct{}{}
		out = append(out, rule)
	}
	return out
}

// Watch calls onChange with the reloaded rules each time path changes.
// The parent directory is watched so that editors replacing the file by
// rename keep triggering reloads. A file that fails to parse keeps the
// previous rules. It runs until ctx is done.
func Watch(ctx context.Context, path string, onChange func([]AlertRule)) error {
	log := logger.WithComponent("rules")
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}
	log.Info().Str("path", target).Msg("watching rule file")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			// Atomic saves show up as Create or Rename onto the target.
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			loaded, err := LoadFile(target)
			if err != nil {
				metrics.RuleReloadsTotal.WithLabelValues("error").Inc()
				log.Error().Err(err).Str("path", target).Msg("rule reload failed, keeping previous rules")
				continue
			}
			metrics.RuleReloadsTotal.WithLabelValues("ok").Inc()
			log.Info().Str("path", target).Int("rules", len(loaded)).Msg("rule file reloaded")
			onChange(loaded)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("rule watcher error")
		}
	}
}

// FileRegistry serves rules from a YAML file held in memory.
type FileRegistry struct {
	path string
	log  zerolog.Logger

	mu    sync.RWMutex
	rules []AlertRule
}

func NewFileRegistry(path string) (*FileRegistry, error) {
	r := &FileRegistry{path: path, log: logger.WithComponent("rules")}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the file and replaces the loaded rules.
func (r *FileRegistry) Reload() error {
	loaded, err := LoadFile(r.path)
	if err != nil {
		return err
	}
	r.Replace(loaded)
	return nil
}

// Replace swaps in a new rule set after filtering it with Usable.
func (r *FileRegistry) Replace(all []AlertRule) {
	usable := Usable(all, r.log)
	r.mu.Lock()
	r.rules = usable
	r.mu.Unlock()
	metrics.RulesLoaded.Set(float64(len(usable)))
}

// EnabledRules returns a copy of the enabled rules in file order.
func (r *FileRegistry) EnabledRules(ctx context.Context) ([]AlertRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AlertRule, len(r.rules))
	copy(out, r.rules)
	return out, nil
}

// GetRule returns an enabled rule by id.
func (r *FileRegistry) GetRule(ctx context.Context, id string) (AlertRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rule := range r.rules {
		if rule.ID == id {
			return rule, nil
		}
	}
	return AlertRule{}, ErrNotFound
}

// Watch keeps the registry in sync with the file until ctx is done.
func (r *FileRegistry) Watch(ctx context.Context) error {
	return Watch(ctx, r.path, r.Replace)
}
