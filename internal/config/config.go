package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultDataDir   = "./data"
	DefaultOutputDir = "./figures"
	DefaultDPI       = 300.0
	DefaultWidthIn   = 16.0
	DefaultHeightIn  = 6.0
	DefaultFormat    = "png"
	DefaultAdjust    = "tukey"
	DefaultMethod    = "REML"
)

// Normalizer method names.
const (
	BaselineMean = "baseline-mean"
	Paired       = "paired"
)

// Plot kinds.
const (
	PlotTrajectories = "trajectories"
	PlotCoefficients = "coefficients"
	PlotFactorEffect = "factor-effect"
)

var ErrInvalid = errors.New("config: invalid study")

// Config is one study: a dataset, its normalizations and the models fitted
// to it.
type Config struct {
	Study       string            `yaml:"study"`
	Description string            `yaml:"description,omitempty"`
	Dataset     DatasetConfig     `yaml:"dataset"`
	Normalize   []NormalizeConfig `yaml:"normalize,omitempty"`
	Models      []ModelConfig     `yaml:"models"`
	Output      OutputConfig      `yaml:"output"`
}

type DatasetConfig struct {
	Source string `yaml:"source"`
	Sheet  string `yaml:"sheet,omitempty"`
}

// NormalizeConfig selects a per-subject normalizer. baseline-mean uses
// Subject, Condition, Baseline and Columns; paired uses Reference and either
// Columns or FromIndex.
type NormalizeConfig struct {
	Method    string   `yaml:"method"`
	Subject   string   `yaml:"subject,omitempty"`
	Condition string   `yaml:"condition,omitempty"`
	Baseline  string   `yaml:"baseline,omitempty"`
	Reference string   `yaml:"reference,omitempty"`
	Columns   []string `yaml:"columns,omitempty"`
	FromIndex int      `yaml:"from_index,omitempty"`
}

type ModelConfig struct {
	Formula string              `yaml:"formula"`
	Factors map[string][]string `yaml:"factors,omitempty"`
	Method  string              `yaml:"method,omitempty"`
	Posthoc []PosthocConfig     `yaml:"posthoc,omitempty"`
	// Subjects enables the per-subject coefficient summary.
	Subjects *SubjectsConfig `yaml:"subjects,omitempty"`
	Plots    []PlotConfig    `yaml:"plots,omitempty"`
}

type PosthocConfig struct {
	Marginal string `yaml:"marginal"`
	By       string `yaml:"by,omitempty"`
	Adjust   string `yaml:"adjust,omitempty"`
}

type SubjectsConfig struct {
	Group    string   `yaml:"group"`
	Variable string   `yaml:"variable"`
	Order    []string `yaml:"order,omitempty"`
	Labels   []string `yaml:"labels,omitempty"`
}

type PlotConfig struct {
	Kind     string   `yaml:"kind"`
	File     string   `yaml:"file,omitempty"`
	YLabel   string   `yaml:"ylabel,omitempty"`
	Group    string   `yaml:"group,omitempty"`
	Variable string   `yaml:"variable,omitempty"`
	YMin     *float64 `yaml:"ymin,omitempty"`
	YMax     *float64 `yaml:"ymax,omitempty"`
}

type OutputConfig struct {
	// Dir receives figures; DataDir receives stored runs.
	Dir      string  `yaml:"dir"`
	DataDir  string  `yaml:"data_dir"`
	Format   string  `yaml:"format"`
	DPI      float64 `yaml:"dpi"`
	WidthIn  float64 `yaml:"width_in"`
	HeightIn float64 `yaml:"height_in"`
	NoPlots  bool    `yaml:"no_plots,omitempty"`
}

func DefaultOutput() OutputConfig {
	return OutputConfig{
		Dir:      DefaultOutputDir,
		DataDir:  DefaultDataDir,
		Format:   DefaultFormat,
		DPI:      DefaultDPI,
		WidthIn:  DefaultWidthIn,
		HeightIn: DefaultHeightIn,
	}
}

func DefaultConfig() *Config {
	return &Config{Output: DefaultOutput()}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks the fields every study needs. Names of normalizers,
// adjustments and plot kinds are resolved later by the study runner.
func (c *Config) Validate() error {
	if c.Study == "" {
		return fmt.Errorf("%w: missing study name", ErrInvalid)
	}
	if c.Dataset.Source == "" {
		return fmt.Errorf("%w: %s: missing dataset source", ErrInvalid, c.Study)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("%w: %s: no models", ErrInvalid, c.Study)
	}
	for i, m := range c.Models {
		if m.Formula == "" {
			return fmt.Errorf("%w: %s: model %d has no formula", ErrInvalid, c.Study, i+1)
		}
		for _, p := range m.Posthoc {
			if p.Marginal == "" {
				return fmt.Errorf("%w: %s: post-hoc without marginal variable", ErrInvalid, c.Study)
			}
		}
	}
	return nil
}

// Clone returns a deep copy, so presets can be modified by flags.
func (c *Config) Clone() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		panic(err)
	}
	out := &Config{}
	if err := yaml.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}
