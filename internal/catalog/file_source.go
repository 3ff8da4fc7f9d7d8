package catalog

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk layout of a catalog snapshot:
//
//	metrics:
//	  price_usd: [bitcoin, ethereum]
type seedFile struct {
	Metrics map[string][]string `yaml:"metrics"`
}

// FileSource serves catalog lookups from a yaml snapshot instead of the
// network.
type FileSource struct {
	metrics  []string
	perAsset map[string][]string
}

func LoadFileSource(path string) (*FileSource, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog seed failed: %w", err)
	}
	return ParseFileSource(raw)
}

func ParseFileSource(raw []byte) (*FileSource, error) {
	var seed seedFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return nil, fmt.Errorf("parse catalog seed failed: %w", err)
	}
	fs := &FileSource{perAsset: make(map[string][]string)}
	for metric, assets := range seed.Metrics {
		metric = strings.TrimSpace(metric)
		if metric == "" {
			continue
		}
		fs.metrics = append(fs.metrics, metric)
		for _, a := range assets {
			a = strings.TrimSpace(a)
			if a != "" {
				fs.perAsset[a] = append(fs.perAsset[a], metric)
			}
		}
	}
	sort.Strings(fs.metrics)
	for a := range fs.perAsset {
		sort.Strings(fs.perAsset[a])
	}
	return fs, nil
}

func (f *FileSource) AllMetrics(context.Context) ([]string, error) {
	return append([]string(nil), f.metrics...), nil
}

func (f *FileSource) MetricsForAsset(_ context.Context, asset string) ([]string, error) {
	list, ok := f.perAsset[asset]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset)
	}
	return append([]string(nil), list...), nil
}
