package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	// PathEnv overrides DefaultPath.
	PathEnv     = "SANMETRICS_CONFIG"
	DefaultPath = "configs/config.yaml"

	includeKey = "include"
)

// PathFromEnv returns the config path named by PathEnv, or DefaultPath.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(PathEnv)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path and every file it includes (depth first, includes before
// the including file), applies defaults to keys that were not set and
// validates the result.
func Load(path string) (*Config, error) {
	files, err := readTree(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, f := range files {
		if err := v.MergeConfigMap(f.settings); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", f.path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	setKeys := make(keySet)
	for _, k := range v.AllKeys() {
		setKeys.mark(k)
	}
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Files lists path and everything it includes, in merge order.
func Files(path string) ([]string, error) {
	files, err := readTree(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.path)
	}
	return out, nil
}

type configFile struct {
	path     string
	settings map[string]any
}

// includeWalker reads each file once. stack holds the files on the current
// include chain, seen every file already emitted.
type includeWalker struct {
	seen  map[string]bool
	stack map[string]bool
	out   []configFile
}

func readTree(path string) ([]configFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &includeWalker{seen: make(map[string]bool), stack: make(map[string]bool)}
	if err := w.walk(abs); err != nil {
		return nil, err
	}
	return w.out, nil
}

func (w *includeWalker) walk(path string) error {
	path = filepath.Clean(path)
	if w.stack[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if w.seen[path] {
		return nil
	}
	w.stack[path] = true
	defer delete(w.stack, path)

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	includes, err := includeList(v.Get(includeKey))
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	dir := filepath.Dir(path)
	for _, inc := range includes {
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(dir, inc)
		}
		if err := w.walk(inc); err != nil {
			return err
		}
	}

	settings := v.AllSettings()
	delete(settings, includeKey)
	w.seen[path] = true
	w.out = append(w.out, configFile{path: path, settings: settings})
	return nil
}

// includeList accepts a single path or a list of paths.
func includeList(raw any) ([]string, error) {
	var items []any
	switch val := raw.(type) {
	case nil:
		return nil, nil
	case string:
		items = []any{val}
	case []string:
		for _, s := range val {
			items = append(items, s)
		}
	case []any:
		items = val
	default:
		return nil, fmt.Errorf("include must be a path or a list of paths")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}
