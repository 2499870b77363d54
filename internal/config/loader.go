package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/pipeline"
	"github.com/roach88/cadence/internal/rules"
)

// RulesFile is the learned-rules document the loader reads from the config
// directory when present.
const RulesFile = "rules.yaml"

// ServiceChecker validates service references at load time.
// pipeline.Registry implements it.
type ServiceChecker interface {
	Known(category, id string) bool
}

// Loader reads a config directory into snapshots.
type Loader struct {
	dir      string
	services ServiceChecker
	log      *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithServiceChecker enables load-time validation of service paths against
// the runner's registry.
func WithServiceChecker(c ServiceChecker) LoaderOption {
	return func(l *Loader) { l.services = c }
}

// WithLogger sets the loader's logger.
func WithLogger(log *slog.Logger) LoaderOption {
	return func(l *Loader) { l.log = log }
}

// NewLoader creates a loader over a config directory.
func NewLoader(dir string, opts ...LoaderOption) *Loader {
	l := &Loader{dir: dir, log: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads every config document and returns a fresh immutable snapshot.
// All validation happens here: a snapshot that loads is a snapshot the
// orchestrator can run without mid-run config surprises.
func (l *Loader) Load() (*Snapshot, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		return nil, fmt.Errorf("config directory %s: %w", l.dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config path %s is not a directory", l.dir)
	}

	value, err := l.buildCUE()
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		pipelines: map[string]*pipeline.Definition{},
		channels:  map[string]*pipeline.ChannelProfile{},
	}

	if err := l.loadBounds(value, snap); err != nil {
		return nil, err
	}
	if err := l.loadChannels(value, snap); err != nil {
		return nil, err
	}
	if err := l.loadPipelines(value, snap); err != nil {
		return nil, err
	}
	if err := l.loadRules(snap); err != nil {
		return nil, err
	}

	l.log.Info("config loaded",
		"pipelines", len(snap.pipelines),
		"channels", len(snap.channels),
		"rules_version", snap.state.Version,
	)
	return snap, nil
}

// buildCUE loads and unifies every .cue file in the config directory.
func (l *Loader) buildCUE() (cue.Value, error) {
	cueFiles, err := findCUEFiles(l.dir)
	if err != nil {
		return cue.Value{}, fmt.Errorf("scan config directory: %w", err)
	}
	if len(cueFiles) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE files found in %s", l.dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: l.dir})
	if len(instances) == 0 {
		return cue.Value{}, fmt.Errorf("no CUE instances loaded from %s", l.dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, fmt.Errorf("loading CUE files: %w", inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("building CUE value: %w", err)
	}
	return value, nil
}

// boundLimitPaths are the authored action limits inside the bounds
// document. An authored limit must be positive: zero would read as "never
// allowed" to an operator but as "unbounded" to the engine, so it is
// rejected here. Omitting a field is the way to leave an action unbounded.
var boundLimitPaths = []string{
	"posting.max_per_day",
	"posting.min_interval_minutes",
	"engagement.max_likes_per_day",
	"engagement.max_follows_per_day",
	"engagement.max_unfollows_per_day",
	"engagement.max_comments_per_day",
	"engagement.max_reposts_per_day",
	"engagement.max_dms_per_day",
}

func (l *Loader) loadBounds(value cue.Value, snap *Snapshot) error {
	boundsVal := value.LookupPath(cue.ParsePath("bounds"))
	if !boundsVal.Exists() {
		return &ValidationError{Doc: "bounds", Message: "bounds document is required"}
	}

	for _, path := range boundLimitPaths {
		v := boundsVal.LookupPath(cue.ParsePath(path))
		if !v.Exists() {
			continue
		}
		n, err := v.Int64()
		if err != nil {
			return &ValidationError{Doc: "bounds", Field: path, Message: err.Error()}
		}
		if n <= 0 {
			return &ValidationError{Doc: "bounds", Field: path,
				Message: "limit must be positive; omit the field to leave it unbounded"}
		}
	}

	var b rules.Bounds
	if err := boundsVal.Decode(&b); err != nil {
		return &ValidationError{Doc: "bounds", Message: err.Error()}
	}
	snap.bounds = applyBoundsDefaults(b)
	return nil
}

func (l *Loader) loadChannels(value cue.Value, snap *Snapshot) error {
	channelsVal := value.LookupPath(cue.ParsePath("channels"))
	if !channelsVal.Exists() {
		return nil
	}

	iter, err := channelsVal.Fields()
	if err != nil {
		return &ValidationError{Doc: "channels", Message: err.Error()}
	}
	for iter.Next() {
		id := iter.Selector().Unquoted()
		var raw struct {
			Platform string         `json:"platform"`
			Persona  map[string]any `json:"persona"`
		}
		if err := iter.Value().Decode(&raw); err != nil {
			return &ValidationError{Doc: "channel:" + id, Message: err.Error()}
		}
		if raw.Platform == "" {
			return &ValidationError{Doc: "channel:" + id, Field: "platform", Message: "platform is required"}
		}
		snap.channels[id] = &pipeline.ChannelProfile{
			ID:       id,
			Platform: raw.Platform,
			Persona:  raw.Persona,
		}
	}
	return nil
}

func (l *Loader) loadPipelines(value cue.Value, snap *Snapshot) error {
	pipelinesVal := value.LookupPath(cue.ParsePath("pipelines"))
	if !pipelinesVal.Exists() {
		return nil
	}

	iter, err := pipelinesVal.Fields()
	if err != nil {
		return &ValidationError{Doc: "pipelines", Message: err.Error()}
	}
	for iter.Next() {
		id := iter.Selector().Unquoted()
		var raw rawPipeline
		if err := iter.Value().Decode(&raw); err != nil {
			return &ValidationError{Doc: "pipeline:" + id, Message: err.Error()}
		}
		def, err := l.buildPipeline(id, raw)
		if err != nil {
			return err
		}
		snap.pipelines[id] = def
	}
	return nil
}

// loadRules reads the learned-rules YAML when present. A missing file
// yields an empty state, which the engine treats as no learned rules.
func (l *Loader) loadRules(snap *Snapshot) error {
	path := filepath.Join(l.dir, RulesFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		l.log.Debug("no learned rules file, starting with empty state", "path", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var state rules.State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return &ValidationError{Doc: "rules", Message: err.Error()}
	}
	snap.state = state
	return nil
}

// findCUEFiles walks the directory and returns all .cue file paths.
func findCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
