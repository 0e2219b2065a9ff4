// Package config loads wearsense settings from YAML or TOML files with
// environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sbl8/wearsense/dataset"
	"github.com/sbl8/wearsense/importance"
	"github.com/sbl8/wearsense/model"
	"github.com/sbl8/wearsense/runtime"
	"github.com/sbl8/wearsense/train"
)

// Config holds all wearsense configuration.
type Config struct {
	Data       DataConfig       `yaml:"data" toml:"data"`
	Model      ModelConfig      `yaml:"model" toml:"model"`
	Training   TrainingConfig   `yaml:"training" toml:"training"`
	Importance ImportanceConfig `yaml:"importance" toml:"importance"`
	Runtime    RuntimeConfig    `yaml:"runtime" toml:"runtime"`
	Store      StoreConfig      `yaml:"store" toml:"store"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
}

// DataConfig describes the input files and how to turn them into samples.
type DataConfig struct {
	Paths      []string           `yaml:"paths" toml:"paths"`
	IDColumn   string             `yaml:"id_column" toml:"id_column"`
	WeekColumn string             `yaml:"week_column" toml:"week_column"`
	SeqCols    []string           `yaml:"seq_cols" toml:"seq_cols"`
	TargetCols []string           `yaml:"target_cols" toml:"target_cols"`
	Thresholds map[string]float64 `yaml:"thresholds,omitempty" toml:"thresholds,omitempty"` // per target, default 1
	TestSize   float64            `yaml:"test_size" toml:"test_size"`
	Seed       uint64             `yaml:"seed" toml:"seed"`
}

// ModelConfig holds the CNN-GRU hyperparameters. Input and output sizes come
// from the data columns.
type ModelConfig struct {
	CNNOutChannels int     `yaml:"cnn_out_channels" toml:"cnn_out_channels"`
	CNNKernelSize  int     `yaml:"cnn_kernel_size" toml:"cnn_kernel_size"`
	GRUHiddenDim   int     `yaml:"gru_hidden_dim" toml:"gru_hidden_dim"`
	DropoutProb    float64 `yaml:"dropout_prob" toml:"dropout_prob"`
}

// TrainingConfig configures the optimizer and training loop.
type TrainingConfig struct {
	Epochs     int               `yaml:"epochs" toml:"epochs"`
	BatchSize  int               `yaml:"batch_size" toml:"batch_size"`
	AdamW      train.AdamWConfig `yaml:"adamw" toml:"adamw"`
	Checkpoint string            `yaml:"checkpoint" toml:"checkpoint"`
}

// ImportanceConfig configures permutation importance.
type ImportanceConfig struct {
	Repeats int                `yaml:"repeats" toml:"repeats"`
	Workers int                `yaml:"workers" toml:"workers"`
	Groups  []importance.Group `yaml:"groups,omitempty" toml:"groups,omitempty"`
	Output  string             `yaml:"output" toml:"output"`
}

// RuntimeConfig configures the inference engine. Zero workers means one per CPU.
type RuntimeConfig struct {
	Workers   int `yaml:"workers" toml:"workers"`
	BatchSize int `yaml:"batch_size" toml:"batch_size"`
}

// StoreConfig locates the run database.
type StoreConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, console
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Data: DataConfig{
			IDColumn:   "key_id",
			WeekColumn: "week",
			TestSize:   0.2,
			Seed:       42,
		},
		Model: ModelConfig{
			CNNOutChannels: 256,
			CNNKernelSize:  4,
			GRUHiddenDim:   64,
			DropoutProb:    0.5,
		},
		Training: TrainingConfig{
			Epochs:     50,
			BatchSize:  32,
			AdamW:      train.DefaultAdamW(),
			Checkpoint: "wearsense.ckpt",
		},
		Importance: ImportanceConfig{
			Repeats: 5,
			Workers: 2,
			Output:  "importance.csv",
		},
		Runtime: RuntimeConfig{BatchSize: 64},
		Store:   StoreConfig{Path: "wearsense.db"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Load loads configuration from a YAML or TOML file, chosen by extension.
// A missing file yields the defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := cfg.decode(path, data); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	if isTOML(path) {
		meta, err := toml.Decode(string(data), c)
		if err != nil {
			return err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown keys: %v", undecoded)
		}
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Save writes the configuration as TOML for .toml paths and YAML otherwise.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		data = buf.Bytes()
	} else {
		var err error
		if data, err = yaml.Marshal(c); err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// applyEnvOverrides applies WEARSENSE_* environment variables.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("WEARSENSE_DATA_PATHS"); v != "" {
		c.Data.Paths = splitList(v)
	}
	if v := os.Getenv("WEARSENSE_STORE"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("WEARSENSE_CHECKPOINT"); v != "" {
		c.Training.Checkpoint = v
	}
	if v := os.Getenv("WEARSENSE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("WEARSENSE_EPOCHS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WEARSENSE_EPOCHS: %w", err)
		}
		c.Training.Epochs = n
	}
	if v := os.Getenv("WEARSENSE_LR"); v != "" {
		lr, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("WEARSENSE_LR: %w", err)
		}
		c.Training.AdamW.LR = lr
	}
	if v := os.Getenv("WEARSENSE_SEED"); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("WEARSENSE_SEED: %w", err)
		}
		c.Data.Seed = seed
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the settings needed to build and train a model.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Data.Paths) == 0 {
		errs = append(errs, errors.New("data.paths is empty (set WEARSENSE_DATA_PATHS or data.paths)"))
	}
	if c.Data.IDColumn == "" || c.Data.WeekColumn == "" {
		errs = append(errs, errors.New("data.id_column and data.week_column are required"))
	}
	if len(c.Data.SeqCols) == 0 {
		errs = append(errs, errors.New("data.seq_cols is empty"))
	}
	if len(c.Data.TargetCols) == 0 {
		errs = append(errs, errors.New("data.target_cols is empty"))
	}
	if c.Data.TestSize <= 0 || c.Data.TestSize >= 1 {
		errs = append(errs, fmt.Errorf("data.test_size must be in (0, 1), got %g", c.Data.TestSize))
	}
	if err := c.Model.Build(max(len(c.Data.SeqCols), 1), max(len(c.Data.TargetCols), 1)).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("model: %w", err))
	}
	if c.Training.Epochs <= 0 {
		errs = append(errs, fmt.Errorf("training.epochs must be positive, got %d", c.Training.Epochs))
	}
	if c.Training.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("training.batch_size must be positive, got %d", c.Training.BatchSize))
	}
	if c.Training.AdamW.LR <= 0 {
		errs = append(errs, fmt.Errorf("training.adamw.lr must be positive, got %g", c.Training.AdamW.LR))
	}
	if c.Importance.Repeats <= 0 {
		errs = append(errs, fmt.Errorf("importance.repeats must be positive, got %d", c.Importance.Repeats))
	}
	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	return errors.Join(errs...)
}

// Build returns the model configuration for the given input and output sizes.
func (m ModelConfig) Build(inputDim, outputDim int) model.Config {
	return model.Config{
		InputDim:       inputDim,
		CNNOutChannels: m.CNNOutChannels,
		CNNKernelSize:  m.CNNKernelSize,
		GRUHiddenDim:   m.GRUHiddenDim,
		OutputDim:      outputDim,
		DropoutProb:    m.DropoutProb,
	}
}

// PrepareOptions returns the dataset pipeline options.
func (c *Config) PrepareOptions(log *zap.Logger) dataset.PrepareOptions {
	return dataset.PrepareOptions{
		Paths:      c.Data.Paths,
		IDColumn:   c.Data.IDColumn,
		WeekColumn: c.Data.WeekColumn,
		SeqCols:    c.Data.SeqCols,
		TargetCols: c.Data.TargetCols,
		Thresholds: c.Data.Thresholds,
		TestSize:   c.Data.TestSize,
		Seed:       c.Data.Seed,
		Logger:     log,
	}
}

// TrainOptions returns the trainer options.
func (c *Config) TrainOptions(log *zap.Logger) train.Options {
	return train.Options{
		Epochs: c.Training.Epochs,
		AdamW:  c.Training.AdamW,
		Seed:   c.Data.Seed,
		Logger: log,
	}
}

// EngineOptions returns the inference engine options.
func (c *Config) EngineOptions(log *zap.Logger) *runtime.EngineOptions {
	opts := runtime.DefaultEngineOptions()
	if c.Runtime.Workers > 0 {
		opts.Workers = c.Runtime.Workers
	}
	if c.Runtime.BatchSize > 0 {
		opts.BatchSize = c.Runtime.BatchSize
	}
	opts.Logger = log
	return &opts
}

// ImportanceOptions returns the permutation importance settings.
func (c *Config) ImportanceOptions(log *zap.Logger) importance.Config {
	return importance.Config{
		Repeats: c.Importance.Repeats,
		Seed:    c.Data.Seed,
		Workers: c.Importance.Workers,
		Groups:  c.Importance.Groups,
		Logger:  log,
	}
}
