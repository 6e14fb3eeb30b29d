package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Vision   VisionConfig   `yaml:"vision"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// NATSConfig is optional; an empty URL disables the bus.
type NATSConfig struct {
	URL            string `yaml:"url"`
	CountsSubject  string `yaml:"counts_subject"`
	ControlSubject string `yaml:"control_subject"`
}

// MinIOConfig is optional; an empty endpoint disables minio:// feeds.
type MinIOConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	Bucket        string        `yaml:"bucket"`
	UseSSL        bool          `yaml:"use_ssl"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

type VisionConfig struct {
	ModelPath      string  `yaml:"model_path"`
	ONNXLibPath    string  `yaml:"onnx_lib_path"`
	ConfThreshold  float64 `yaml:"conf_threshold"`
	IoUThreshold   float64 `yaml:"iou_threshold"`
	InputSize      int     `yaml:"input_size"`
	IntraOpThreads int     `yaml:"intra_op_threads"`
}

type AnalysisConfig struct {
	FrameWidth  int    `yaml:"frame_width"`
	FrameHeight int    `yaml:"frame_height"`
	TargetFPS   int    `yaml:"target_fps"`
	FFmpegPath  string `yaml:"ffmpeg_path"`
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// FrameInterval is the pacing budget of one loop iteration.
func (a AnalysisConfig) FrameInterval() time.Duration {
	if a.TargetFPS <= 0 {
		return 0
	}
	return time.Second / time.Duration(a.TargetFPS)
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 3000
	}
	if cfg.NATS.CountsSubject == "" {
		cfg.NATS.CountsSubject = "crowdcount.counts"
	}
	if cfg.NATS.ControlSubject == "" {
		cfg.NATS.ControlSubject = "crowdcount.control"
	}
	if cfg.MinIO.PresignExpiry == 0 {
		cfg.MinIO.PresignExpiry = time.Hour
	}
	if cfg.Vision.ModelPath == "" {
		cfg.Vision.ModelPath = "models/yolov8n.onnx"
	}
	if cfg.Vision.ConfThreshold == 0 {
		cfg.Vision.ConfThreshold = 0.25
	}
	if cfg.Vision.IoUThreshold == 0 {
		cfg.Vision.IoUThreshold = 0.45
	}
	if cfg.Vision.InputSize == 0 {
		cfg.Vision.InputSize = 640
	}
	if cfg.Analysis.FrameWidth == 0 {
		cfg.Analysis.FrameWidth = 1280
	}
	if cfg.Analysis.FrameHeight == 0 {
		cfg.Analysis.FrameHeight = 720
	}
	if cfg.Analysis.TargetFPS == 0 {
		cfg.Analysis.TargetFPS = 15
	}
	if cfg.Analysis.FFmpegPath == "" {
		cfg.Analysis.FFmpegPath = "ffmpeg"
	}
	if cfg.Analysis.JPEGQuality == 0 {
		cfg.Analysis.JPEGQuality = 80
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CC_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CC_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("CC_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CC_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("CC_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("CC_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("CC_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("CC_MODEL_PATH"); v != "" {
		cfg.Vision.ModelPath = v
	}
	if v := os.Getenv("CC_ONNX_LIB_PATH"); v != "" {
		cfg.Vision.ONNXLibPath = v
	}
	if v := os.Getenv("CC_TARGET_FPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analysis.TargetFPS = n
		}
	}
	if v := os.Getenv("CC_FFMPEG_PATH"); v != "" {
		cfg.Analysis.FFmpegPath = v
	}
	if v := os.Getenv("CC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
