package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Manifest describes a scripted demo run: which source to stand up and
// which steps to replay against it.
type Manifest struct {
	Source SourceSpec `yaml:"source"`
	Steps  []Step     `yaml:"steps"`
}

// SourceSpec names which concrete source backs the demo and its
// connection details.
type SourceSpec struct {
	// Kind is one of "memory", "bolt", "kv", "jsonapi", "grpc".
	Kind string `yaml:"kind"`
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"` // bolt/kv file path
	URL  string `yaml:"url,omitempty"`  // jsonapi base URL
	Addr string `yaml:"addr,omitempty"` // grpc dial address
}

// Step is one scripted action: either an update (an addRecord) or a query
// against the wired source.
type Step struct {
	Op     string         `yaml:"op"` // "addRecord", "findRecord", "findRecords"
	Type   string         `yaml:"type,omitempty"`
	ID     string         `yaml:"id,omitempty"`
	Attrs  map[string]any `yaml:"attrs,omitempty"`
}

// LoadManifest reads and parses a YAML manifest from path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}
