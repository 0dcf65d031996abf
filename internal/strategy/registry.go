package strategy

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"perpbot/internal/logger"
)

//go:embed variants.schema.json
var variantsSchema string

// FileConfig maps the strategies file.
type FileConfig struct {
	Variants []Variant `yaml:"variants"`
}

// Snapshot is an immutable view of the loaded variants.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Variants map[string]Variant
}

type ChangeListener func(Snapshot)

// Registry holds the configured variants and reloads them when the file changes.
type Registry struct {
	path   string
	schema *jsonschema.Schema

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy registry requires path")
	}
	schema, err := compileSchema()
	if err != nil {
		return nil, fmt.Errorf("compile variants schema: %w", err)
	}
	r := &Registry{path: path, schema: schema}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

func (r *Registry) Variant(botID string) (Variant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.snapshot.Variants[strings.TrimSpace(botID)]
	return v, ok
}

// Variants returns the variants ordered by bot id.
func (r *Registry) Variants() []Variant {
	snap := r.Snapshot()
	out := make([]Variant, 0, len(snap.Variants))
	for _, v := range snap.Variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BotID < out[j].BotID })
	return out
}

func (r *Registry) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Version
}

func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Watch reloads on file changes until ctx is done. A file that fails to load
// leaves the previous snapshot in place.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("strategy watcher: %w", err)
	}
	defer w.Close()
	// Watch the directory: editors replace files by rename.
	if err := w.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("watch %s: %w", r.path, err)
	}
	target := filepath.Clean(r.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != target || !evt.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := r.reload(); err != nil {
				logger.Errorf("[strategy] reload failed, keeping version %d: %v", r.Version(), err)
				continue
			}
			r.notifyListeners()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("[strategy] watcher error: %v", err)
		}
	}
}

func (r *Registry) reload() error {
	variants, err := loadVariants(r.path, r.schema)
	if err != nil {
		return err
	}
	byID := make(map[string]Variant, len(variants))
	for _, v := range variants {
		byID[v.BotID] = v
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Variants: byID,
	}
	r.mu.Unlock()
	logger.Infof("[strategy] loaded %d variants from %s", len(byID), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		func() {
			defer safeRecover("strategy listener")
			fn(snap)
		}()
	}
}

// LoadVariants reads, schema-checks and validates a strategies file.
func LoadVariants(path string) ([]Variant, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return loadVariants(path, schema)
}

func loadVariants(path string, schema *jsonschema.Schema) ([]Variant, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategies failed: %w", err)
	}
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse strategies failed: %w", err)
	}
	doc, err = toJSONValue(doc)
	if err != nil {
		return nil, fmt.Errorf("parse strategies failed: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("strategies schema: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode strategies failed: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Variants))
	out := make([]Variant, 0, len(cfg.Variants))
	for _, v := range cfg.Variants {
		v.normalize()
		if err := v.Validate(); err != nil {
			return nil, err
		}
		if seen[v.BotID] {
			return nil, fmt.Errorf("duplicate bot_id %s", v.BotID)
		}
		seen[v.BotID] = true
		out = append(out, v)
	}
	return out, nil
}

func compileSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("variants.schema.json", strings.NewReader(variantsSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile("variants.schema.json")
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Variants: make(map[string]Variant, len(src.Variants)),
	}
	for id, v := range src.Variants {
		dst.Variants[id] = v
	}
	return dst
}

// toJSONValue reshapes a YAML document into the types json.Unmarshal yields.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	err = json.Unmarshal(raw, &out)
	return out, err
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
