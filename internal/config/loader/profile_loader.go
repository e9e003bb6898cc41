package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"quantbt/internal/logger"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// ProfileDefinition binds a named parameter set to a strategy. Profiles let
// run requests reference a tuned configuration instead of repeating raw
// parameter values.
type ProfileDefinition struct {
	Name      string         `mapstructure:"-"`
	Strategy  string         `mapstructure:"strategy"`
	Symbol    string         `mapstructure:"symbol"`
	Timeframe string         `mapstructure:"timeframe"`
	Params    map[string]any `mapstructure:"params"`
	Default   bool           `mapstructure:"default"`
}

// FileConfig is the full profile file structure.
type FileConfig struct {
	Profiles map[string]ProfileDefinition `mapstructure:"profiles"`
}

// ProfileSnapshot is the read-only view handed to consumers.
type ProfileSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Profiles map[string]ProfileDefinition
}

// Profile returns the named profile, falling back to the default one when
// name is empty.
func (s ProfileSnapshot) Profile(name string) (ProfileDefinition, bool) {
	if name != "" {
		def, ok := s.Profiles[name]
		return def, ok
	}
	for _, def := range s.Profiles {
		if def.Default {
			return def, true
		}
	}
	return ProfileDefinition{}, false
}

// ChangeListener is invoked after every successful reload.
type ChangeListener func(ProfileSnapshot)

// profileSchema rejects malformed profile files before decoding. Parameter
// values stay loosely typed; each strategy validates its own ranges.
const profileSchema = `{
	"type": "object",
	"properties": {
		"profiles": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"strategy": {"type": "string", "minLength": 1},
					"symbol": {"type": "string"},
					"timeframe": {"type": "string"},
					"params": {"type": "object"},
					"default": {"type": "boolean"}
				},
				"required": ["strategy"]
			}
		}
	},
	"required": ["profiles"]
}`

// ProfileLoader reads strategy profiles from a YAML file and watches it for
// changes.
type ProfileLoader struct {
	path   string
	v      *viper.Viper
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  ProfileSnapshot
	listeners []ChangeListener
}

// NewProfileLoader reads the profile file and starts watching FS events.
func NewProfileLoader(path string) (*ProfileLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile loader requires path")
	}
	schema, err := jsonschema.CompileString("profiles.schema.json", profileSchema)
	if err != nil {
		return nil, fmt.Errorf("compile profile schema failed: %w", err)
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	loader := &ProfileLoader{path: path, v: v, schema: schema}
	if err := loader.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := loader.reload(); err != nil {
			logger.Errorf("profile reload failed (%s): %v", evt.Name, err)
			return
		}
		loader.notify()
	})
	v.WatchConfig()
	return loader, nil
}

// Snapshot returns a copy of the current profile set.
func (l *ProfileLoader) Snapshot() ProfileSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers a listener and immediately delivers a full snapshot.
func (l *ProfileLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("profile listener panic: %v", r)
			}
		}()
		fn(snap)
	}()
}

func (l *ProfileLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		go func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("profile listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func (l *ProfileLoader) reload() error {
	if err := l.validateFile(); err != nil {
		return err
	}
	var fileCfg FileConfig
	if err := l.v.Unmarshal(&fileCfg); err != nil {
		return fmt.Errorf("parse profile config failed: %w", err)
	}
	normalized := make(map[string]ProfileDefinition)
	for name, def := range fileCfg.Profiles {
		normalized[name] = normalizeProfileDefinition(name, def)
	}
	l.mu.Lock()
	l.snapshot = ProfileSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profiles: normalized,
	}
	l.mu.Unlock()
	logger.Infof("Profile loader reloaded %d profiles from %s", len(normalized), filepath.Base(l.path))
	return nil
}

// validateFile runs the schema over the raw YAML document, so decode errors
// come with a field path instead of a mapstructure type mismatch.
func (l *ProfileLoader) validateFile() error {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("profile file is not valid yaml: %w", err)
	}
	if err := l.schema.Validate(normalizeYAML(doc)); err != nil {
		return fmt.Errorf("profile file schema violation: %w", err)
	}
	return nil
}

// normalizeYAML converts yaml.v3 map[string]any trees into the shape the
// schema validator expects, recursing through nested values.
func normalizeYAML(node any) any {
	switch val := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeYAML(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeYAML(v)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

func normalizeProfileDefinition(name string, def ProfileDefinition) ProfileDefinition {
	def.Name = name
	def.Strategy = strings.ToLower(strings.TrimSpace(def.Strategy))
	def.Symbol = strings.ToUpper(strings.TrimSpace(def.Symbol))
	def.Timeframe = strings.ToLower(strings.TrimSpace(def.Timeframe))
	if def.Params == nil {
		def.Params = make(map[string]any)
	}
	return def
}

func cloneSnapshot(src ProfileSnapshot) ProfileSnapshot {
	dst := ProfileSnapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Profiles: make(map[string]ProfileDefinition, len(src.Profiles)),
	}
	for name, def := range src.Profiles {
		dst.Profiles[name] = def
	}
	return dst
}
