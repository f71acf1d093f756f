// Package config defines the learner and trainer configuration surface
// and a manager that overlays YAML files on top of defaults, handing
// out an atomically-swapped snapshot.
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree.
type Config struct {
	Model   ModelConfig   `yaml:"model"`
	Optim   OptimConfig   `yaml:"optim"`
	Trainer TrainerConfig `yaml:"trainer"`
}

// ModelConfig holds the construction parameters of the contrastive
// learner.
type ModelConfig struct {
	Backbone           string  `yaml:"backbone"`
	InputDim           int     `yaml:"input_dim"`
	EmbDim             int     `yaml:"emb_dim"`
	NumNegatives       int     `yaml:"num_negatives"`
	EncoderMomentum    float32 `yaml:"encoder_momentum"`
	SoftmaxTemperature float32 `yaml:"softmax_temperature"`
	BatchSize          int     `yaml:"batch_size"`
	UseMLP             bool    `yaml:"use_mlp"`

	UseKNN bool   `yaml:"use_knn"`
	TopK   int    `yaml:"topk"`
	Metric string `yaml:"metric"`

	UseClustering    bool    `yaml:"use_clustering"`
	TargetCategories int     `yaml:"target_categories"`
	Alpha            float32 `yaml:"alpha"`

	Seed int64 `yaml:"seed"`
}

// OptimConfig holds optimizer hyperparameters.
type OptimConfig struct {
	LearningRate float32 `yaml:"learning_rate"`
	Momentum     float32 `yaml:"momentum"`
	WeightDecay  float32 `yaml:"weight_decay"`
}

// TrainerConfig holds training-loop parameters.
type TrainerConfig struct {
	MaxEpochs      int    `yaml:"max_epochs"`
	StepsPerEpoch  int    `yaml:"steps_per_epoch"`
	ValSteps       int    `yaml:"val_steps"`
	LogInterval    int    `yaml:"log_interval"`
	Workers        int    `yaml:"workers"`
	CheckpointPath string `yaml:"checkpoint_path"`
}

// DefaultConfig returns the standard hyperparameters for momentum
// contrastive training.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Backbone:           "mlp",
			InputDim:           3072,
			EmbDim:             128,
			NumNegatives:       65536,
			EncoderMomentum:    0.999,
			SoftmaxTemperature: 0.07,
			BatchSize:          256,
			UseMLP:             true,
			UseKNN:             false,
			TopK:               500,
			Metric:             "euclidean",
			UseClustering:      false,
			TargetCategories:   10,
			Alpha:              0.1,
			Seed:               1,
		},
		Optim: OptimConfig{
			LearningRate: 0.03,
			Momentum:     0.9,
			WeightDecay:  1e-4,
		},
		Trainer: TrainerConfig{
			MaxEpochs:     10,
			StepsPerEpoch: 100,
			ValSteps:      10,
			LogInterval:   10,
			Workers:       1,
		},
	}
}

// Validate rejects configurations the learner cannot be built from.
func (c *Config) Validate() error {
	m := c.Model
	if m.EmbDim <= 0 {
		return fmt.Errorf("config: emb_dim must be positive, got %d", m.EmbDim)
	}
	if m.NumNegatives <= 0 {
		return fmt.Errorf("config: num_negatives must be positive, got %d", m.NumNegatives)
	}
	if m.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive, got %d", m.BatchSize)
	}
	if m.EncoderMomentum < 0 || m.EncoderMomentum >= 1 {
		return fmt.Errorf("config: encoder_momentum must be in [0,1), got %v", m.EncoderMomentum)
	}
	if m.SoftmaxTemperature <= 0 {
		return fmt.Errorf("config: softmax_temperature must be positive, got %v", m.SoftmaxTemperature)
	}
	if m.UseKNN && m.TopK <= 0 {
		return fmt.Errorf("config: topk must be positive when KNN mining is enabled, got %d", m.TopK)
	}
	if m.UseClustering && m.TargetCategories <= 0 {
		return fmt.Errorf("config: target_categories must be positive when clustering is enabled, got %d", m.TargetCategories)
	}
	if c.Trainer.Workers < 1 {
		return fmt.Errorf("config: workers must be >= 1, got %d", c.Trainer.Workers)
	}
	return nil
}

// Manager owns the live configuration snapshot.
type Manager struct {
	configPtr unsafe.Pointer
	path      string
}

// NewManager creates a manager seeded with defaults. path may be empty,
// in which case Load keeps the defaults.
func NewManager(path string) *Manager {
	m := &Manager{path: path}
	atomic.StorePointer(&m.configPtr, unsafe.Pointer(DefaultConfig()))
	return m
}

// Get returns the current snapshot. The returned value must be treated
// as read-only.
func (m *Manager) Get() *Config {
	return (*Config)(atomic.LoadPointer(&m.configPtr))
}

// Load overlays the YAML file on top of defaults, validates, and swaps
// the snapshot. A missing file is not an error.
func (m *Manager) Load() error {
	cfg := DefaultConfig()

	if m.path != "" {
		data, err := os.ReadFile(m.path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return fmt.Errorf("parse config %s: %w", m.path, err)
			}
		}
	}

	applyEnvironment(cfg)

	if err := cfg.Validate(); err != nil {
		return err
	}

	atomic.StorePointer(&m.configPtr, unsafe.Pointer(cfg))
	return nil
}

// applyEnvironment overlays CONTRAIL_* environment variables on top of
// file and default values. Unparseable values are ignored.
func applyEnvironment(cfg *Config) {
	if v := os.Getenv("CONTRAIL_EMB_DIM"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Model.EmbDim = n
		}
	}
	if v := os.Getenv("CONTRAIL_NUM_NEGATIVES"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Model.NumNegatives = n
		}
	}
	if v := os.Getenv("CONTRAIL_BATCH_SIZE"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Model.BatchSize = n
		}
	}
	if v := os.Getenv("CONTRAIL_METRIC"); v != "" {
		cfg.Model.Metric = v
	}
	if v := os.Getenv("CONTRAIL_LEARNING_RATE"); v != "" {
		if f, err := parseFloat(v); err == nil {
			cfg.Optim.LearningRate = float32(f)
		}
	}
	if v := os.Getenv("CONTRAIL_WORKERS"); v != "" {
		if n, err := parseInt(v); err == nil {
			cfg.Trainer.Workers = n
		}
	}
	if v := os.Getenv("CONTRAIL_CHECKPOINT_PATH"); v != "" {
		cfg.Trainer.CheckpointPath = v
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

func parseFloat(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(s, "%f", &f)
	return f, err
}

// Save writes the current snapshot back to the manager's path.
func (m *Manager) Save() error {
	if m.path == "" {
		return fmt.Errorf("config: no path configured")
	}
	data, err := yaml.Marshal(m.Get())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
