package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Tool           Tool       `yaml:"tool"`
	Dataset        string     `yaml:"dataset" validate:"required"`
	Script         string     `yaml:"script" validate:"required"`
	PredictDataset string     `yaml:"predict_dataset"`
	Results        Results    `yaml:"results"`
	Evaluation     Evaluation `yaml:"evaluation"`
	History        History    `yaml:"history"`
	Metrics        Metrics    `yaml:"metrics"`
	Log            Log        `yaml:"log"`
}

type Tool struct {
	Path     string            `yaml:"path" validate:"required"`
	Executor string            `yaml:"executor" validate:"oneof=local docker"`
	Image    string            `yaml:"image" validate:"required_if=Executor docker"`
	WorkDir  string            `yaml:"workdir"`
	Timeout  time.Duration     `yaml:"timeout" validate:"gte=0"`
	Env      map[string]string `yaml:"env"`
}

type Results struct {
	Root        string `yaml:"root" validate:"required"`
	ArtifactExt string `yaml:"artifact_ext"`
}

type Evaluation struct {
	Marker     string `yaml:"marker" validate:"required"`
	TokenIndex int    `yaml:"token_index" validate:"gte=0"`
	Parallel   int    `yaml:"parallel" validate:"gte=1"`
}

type History struct {
	DB string `yaml:"db"`
}

type Metrics struct {
	Textfile string `yaml:"textfile"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

const (
	ExecutorLocal  = "local"
	ExecutorDocker = "docker"
)

// Directory names under the results root. FUGE-LC writes the first and third
// itself; the runner owns the other two.
const (
	ArtifactsDir  = "fuzzySystems"
	EvaluationDir = "evaluation"
	TempDir       = "temp"
	PredictionDir = "prediction"
)

// Default returns the configuration used for keys absent from the file.
func Default() Config {
	return Config{
		Tool:       Tool{Executor: ExecutorLocal},
		Results:    Results{ArtifactExt: ".ffs"},
		Evaluation: Evaluation{Marker: "Accuracy", TokenIndex: 2, Parallel: 1},
		Log:        Log{Level: "info", Format: "console"},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func normalize(cfg *Config) {
	ext := strings.TrimSpace(cfg.Results.ArtifactExt)
	switch {
	case ext == "*":
		ext = ""
	case ext != "" && !strings.HasPrefix(ext, "."):
		ext = "." + ext
	}
	cfg.Results.ArtifactExt = ext
	if cfg.Tool.Executor == "" {
		cfg.Tool.Executor = ExecutorLocal
	}
	if cfg.Evaluation.Parallel < 1 {
		cfg.Evaluation.Parallel = 1
	}
}

var validate = validator.New()

// Validate checks struct constraints. Callers that change fields after Load
// (CLI overrides) should call it again.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

func (c *Config) ArtifactsPath() string  { return filepath.Join(c.Results.Root, ArtifactsDir) }
func (c *Config) EvaluationPath() string { return filepath.Join(c.Results.Root, EvaluationDir) }
func (c *Config) TempPath() string       { return filepath.Join(c.Results.Root, TempDir) }
func (c *Config) PredictionPath() string { return filepath.Join(c.Results.Root, PredictionDir) }
