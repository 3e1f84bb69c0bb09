// Package config loads run settings from an optional config file,
// SPM_PACK_* environment variables and command line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wbrown/spm_pack"
	"github.com/wbrown/spm_pack/pkg/logging"
	"github.com/wbrown/spm_pack/pkg/packer"
	"github.com/wbrown/spm_pack/pkg/pipeline"
	"github.com/wbrown/spm_pack/pkg/publish"
	"github.com/wbrown/spm_pack/types"
)

const EnvPrefix = "SPM_PACK"

// Config holds every setting of a run. The mapstructure tags are the keys
// used in config files and, upper-cased, in the environment.
type Config struct {
	DataDir            string `mapstructure:"data_dir"`
	ModelDir           string `mapstructure:"model_dir"`
	ModelPrefix        string `mapstructure:"model_prefix"`
	OutputDir          string `mapstructure:"output_dir"`
	MaxSeqLength       int    `mapstructure:"max_seq_length"`
	NumProcesses       int    `mapstructure:"num_processes"`
	DoLowerCase        bool   `mapstructure:"do_lower_case"`
	BlanksSeparateDocs bool   `mapstructure:"blanks_separate_docs"`
	ShardsPerWorker    int    `mapstructure:"shards_per_worker"`
	Segmenter          string `mapstructure:"segmenter"`
	BoundaryId         int64  `mapstructure:"boundary_id"`
	PadId              int64  `mapstructure:"pad_id"`
	Sanitize           bool   `mapstructure:"sanitize"`
	Seed               int64  `mapstructure:"seed"`
	CacheSize          int    `mapstructure:"cache_size"`
	MetricsFile        string `mapstructure:"metrics_file"`
	OutputURI          string `mapstructure:"output_uri"`
	AwsRegion          string `mapstructure:"aws_region"`
	AwsEndpoint        string `mapstructure:"aws_endpoint"`
	LogLevel           string `mapstructure:"log_level"`
	LogFile            string `mapstructure:"log_file"`
}

// ConfigError names the setting that failed validation.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: invalid `%s`: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

type setting struct {
	key   string
	value interface{}
	usage string
}

var settings = []setting{
	{"data_dir", "", "input root; every entry without a `.` is a unit"},
	{"model_dir", "", "directory holding the model and vocabulary"},
	{"model_prefix", "wiki-ja", "model and vocabulary file name prefix"},
	{"output_dir", "", "shard directory (default <model_dir>/" +
		pipeline.DefaultOutputName + ")"},
	{"max_seq_length", 128, "token ids per example"},
	{"num_processes", 1, "number of workers"},
	{"do_lower_case", true, "lower-case text before segmentation"},
	{"blanks_separate_docs", false, "treat blank lines as document " +
		"boundaries"},
	{"shards_per_worker", 8, "shard files written by each worker"},
	{"segmenter", string(spm_pack.SentencePiece),
		"sentencepiece, wordpiece or whitespace"},
	{"boundary_id", int64(packer.NoBoundary), "id inserted at each " +
		"document start, -1 for none"},
	{"pad_id", int64(0), "id used to pad short examples"},
	{"sanitize", false, "normalize whitespace in input lines"},
	{"seed", int64(0), "unit shuffle seed, 0 for unseeded"},
	{"cache_size", spm_pack.DefaultCacheSize, "tokenizer cache entries"},
	{"metrics_file", "", "write Prometheus counters to this file"},
	{"output_uri", "", "s3://bucket/prefix to upload shards to"},
	{"aws_region", "us-east-1", "S3 region"},
	{"aws_endpoint", "", "S3 endpoint override"},
	{"log_level", "info", "log level"},
	{"log_file", "", "write logs to this rotating file"},
}

// FlagName is the command line spelling of a config key.
func FlagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

// RegisterFlags defines one flag per setting on flags.
func RegisterFlags(flags *pflag.FlagSet) {
	for _, s := range settings {
		name := FlagName(s.key)
		switch value := s.value.(type) {
		case string:
			flags.String(name, value, s.usage)
		case bool:
			flags.Bool(name, value, s.usage)
		case int:
			flags.Int(name, value, s.usage)
		case int64:
			flags.Int64(name, value, s.usage)
		}
	}
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	for _, s := range settings {
		v.SetDefault(s.key, s.value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the settings like Read and validates them.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg, err := Read(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read
// Reads `configFile` if given, then the environment, then any flags of
// `flags` that were set. Either argument may be empty or nil.
func Read(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := New()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, &ConfigError{Key: "config", Err: err}
		}
		log.Debugf("Using config file %s", v.ConfigFileUsed())
	}
	if flags != nil {
		for _, s := range settings {
			if flag := flags.Lookup(FlagName(s.key)); flag != nil {
				if err := v.BindPFlag(s.key, flag); err != nil {
					return nil, err
				}
			}
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &ConfigError{Key: "config", Err: err}
	}
	return cfg, nil
}

func (cfg *Config) Validate() error {
	switch {
	case cfg.DataDir == "":
		return &ConfigError{"data_dir", errors.New("required")}
	case cfg.ModelDir == "":
		return &ConfigError{"model_dir", errors.New("required")}
	case cfg.ModelPrefix == "":
		return &ConfigError{"model_prefix", errors.New("required")}
	case cfg.MaxSeqLength < 1:
		return &ConfigError{"max_seq_length", errors.New("must be >= 1")}
	case cfg.NumProcesses < 1:
		return &ConfigError{"num_processes", errors.New("must be >= 1")}
	case cfg.ShardsPerWorker < 1:
		return &ConfigError{"shards_per_worker", errors.New("must be >= 1")}
	case cfg.BoundaryId < packer.NoBoundary:
		return &ConfigError{"boundary_id", errors.New("must be >= -1")}
	case cfg.PadId < 0 || cfg.PadId > 0xffffffff:
		return &ConfigError{"pad_id", errors.New("out of range")}
	case cfg.CacheSize < 0:
		return &ConfigError{"cache_size", errors.New("must be >= 0")}
	}
	if _, err := spm_pack.ParseSegmenterKind(cfg.Segmenter); err != nil {
		return &ConfigError{"segmenter", err}
	}
	if _, err := log.ParseLevel(cfg.LogLevel); err != nil {
		return &ConfigError{"log_level", err}
	}
	opts := cfg.PipelineOptions()
	if err := pipeline.CheckOutputDir(opts.OutputPath(), cfg.DataDir,
		cfg.ModelDir); err != nil {
		return &ConfigError{"output_dir", err}
	}
	if cfg.OutputURI != "" {
		if _, _, err := publish.ParseS3URI(cfg.OutputURI); err != nil {
			return &ConfigError{"output_uri", err}
		}
	}
	return nil
}

// PipelineOptions converts a validated Config into worker options.
func (cfg *Config) PipelineOptions() pipeline.Options {
	segmenter, _ := spm_pack.ParseSegmenterKind(cfg.Segmenter)
	return pipeline.Options{
		DataDir:            cfg.DataDir,
		ModelDir:           cfg.ModelDir,
		ModelPrefix:        cfg.ModelPrefix,
		OutputDir:          cfg.OutputDir,
		MaxSeqLength:       cfg.MaxSeqLength,
		NumProcesses:       cfg.NumProcesses,
		ShardsPerWorker:    cfg.ShardsPerWorker,
		DoLowerCase:        cfg.DoLowerCase,
		BlanksSeparateDocs: cfg.BlanksSeparateDocs,
		Sanitize:           cfg.Sanitize,
		Segmenter:          segmenter,
		BoundaryId:         cfg.BoundaryId,
		PadId:              types.Token(cfg.PadId),
		Seed:               cfg.Seed,
		CacheSize:          cfg.CacheSize,
		MetricsFile:        cfg.MetricsFile,
		OutputURI:          cfg.OutputURI,
		AwsRegion:          cfg.AwsRegion,
		AwsEndpoint:        cfg.AwsEndpoint,
	}
}

func (cfg *Config) Logging() logging.Config {
	return logging.Config{Level: cfg.LogLevel, File: cfg.LogFile}
}
