// Package config loads the engine's on-disk configuration file and
// converts it into the structs the rest of the engine constructs from.
// A YAML file is optional: every field defaults to the same values
// engine.DefaultConfig returns, and a missing file is not an error.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/synapsedb/engine/pkg/engine"
)

// File is the YAML-serializable shape of engine.Config. Durations are
// strings ("5ms", "200ms") rather than time.Duration's raw nanosecond
// integer, matching how operators actually write these files by hand.
type File struct {
	DataDir   string `yaml:"data_dir"`
	NumShards int    `yaml:"num_shards"`

	Vector VectorFile `yaml:"vector"`
	HNSW   HNSWFile   `yaml:"hnsw"`

	ReconcileMinInterval string `yaml:"reconcile_min_interval"`
	ReconcileMaxInterval string `yaml:"reconcile_max_interval"`
	TxTimeout            string `yaml:"tx_timeout"`
}

type VectorFile struct {
	Dim                 int `yaml:"dim"`
	PQSubspaces         int `yaml:"pq_subspaces"`
	PQCentroids         int `yaml:"pq_centroids"`
	MaxTrainIterations  int `yaml:"max_train_iterations"`
	MinTrainingVectors  int `yaml:"min_training_vectors"`
}

type HNSWFile struct {
	M              int `yaml:"m"`
	EfConstruction int `yaml:"ef_construction"`
	EfSearch       int `yaml:"ef_search"`
}

// Load reads and parses a YAML config file at path, returning
// engine.DefaultConfig() unchanged if path is empty or the file doesn't
// exist. Any other read or parse error is returned.
func Load(path string) (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return engine.Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return engine.Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return merge(cfg, f)
}

// merge overlays non-zero fields of f onto base, so a config file only
// needs to name the fields an operator wants to change.
func merge(base engine.Config, f File) (engine.Config, error) {
	if f.DataDir != "" {
		base.DataDir = f.DataDir
	}
	if f.NumShards != 0 {
		base.NumShards = f.NumShards
	}

	if f.Vector.Dim != 0 {
		base.VectorConfig.D = f.Vector.Dim
	}
	if f.Vector.PQSubspaces != 0 {
		base.VectorConfig.M = f.Vector.PQSubspaces
	}
	if f.Vector.PQCentroids != 0 {
		base.VectorConfig.K = f.Vector.PQCentroids
	}
	if f.Vector.MaxTrainIterations != 0 {
		base.VectorConfig.MaxTrainIterations = f.Vector.MaxTrainIterations
	}
	if f.Vector.MinTrainingVectors != 0 {
		base.VectorConfig.MinTrainingVectors = f.Vector.MinTrainingVectors
	}

	if f.HNSW.M != 0 {
		base.HNSWConfig.M = f.HNSW.M
	}
	if f.HNSW.EfConstruction != 0 {
		base.HNSWConfig.EfConstruction = f.HNSW.EfConstruction
	}
	if f.HNSW.EfSearch != 0 {
		base.HNSWConfig.EfSearch = f.HNSW.EfSearch
	}

	var err error
	if f.ReconcileMinInterval != "" {
		if base.ReconcileMinInterval, err = time.ParseDuration(f.ReconcileMinInterval); err != nil {
			return engine.Config{}, fmt.Errorf("config: reconcile_min_interval: %w", err)
		}
	}
	if f.ReconcileMaxInterval != "" {
		if base.ReconcileMaxInterval, err = time.ParseDuration(f.ReconcileMaxInterval); err != nil {
			return engine.Config{}, fmt.Errorf("config: reconcile_max_interval: %w", err)
		}
	}
	if f.TxTimeout != "" {
		if base.TxTimeout, err = time.ParseDuration(f.TxTimeout); err != nil {
			return engine.Config{}, fmt.Errorf("config: tx_timeout: %w", err)
		}
	}

	return base, nil
}
