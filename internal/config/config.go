// Package config loads go-spider configuration.
//
// Values come from three layers, later ones winning: built-in defaults,
// an optional YAML file (--config or SPIDER_CONFIG), and environment
// variables for secrets and deployment-specific endpoints.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the spider process.
type Config struct {
	Log        LogConfig        `yaml:"log"`
	Robot      RobotConfig      `yaml:"robot"`
	Gait       GaitConfig       `yaml:"gait"`
	Perception PerceptionConfig `yaml:"perception"`
	Decision   DecisionConfig   `yaml:"decision"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	Voice      VoiceConfig      `yaml:"voice"`
	Autonomy   AutonomyConfig   `yaml:"autonomy"`
	Web        WebConfig        `yaml:"web"`
	Storage    StorageConfig    `yaml:"storage"`
	Drive      DriveConfig      `yaml:"drive"`
}

// LogConfig configures internal/log.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// RobotConfig configures the servo bus and distance sensor.
type RobotConfig struct {
	// Driver selects the hardware backend: "feetech" or "sim".
	Driver   string `yaml:"driver"`
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
	// ServoIDs maps joint index (leg*3+joint) to bus ID.
	ServoIDs []int `yaml:"servo_ids"`

	MinAngle     float64       `yaml:"min_angle"`
	MaxAngle     float64       `yaml:"max_angle"`
	MaxStep      float64       `yaml:"max_step"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	// RecoveryInterval is how often a degraded bus retries the hardware.
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	// DistancePath is the IIO file of the ultrasonic ranger. Empty means
	// no sensor, which disables the obstacle guard.
	DistancePath string `yaml:"distance_path"`
}

// GaitConfig holds the stride geometry shared by all walking templates.
type GaitConfig struct {
	StepHeight float64       `yaml:"step_height"`
	Stride     float64       `yaml:"stride"`
	TurnStep   float64       `yaml:"turn_step"`
	Hold       time.Duration `yaml:"hold"`
	Steps      int           `yaml:"default_steps"`
	TurnAngle  float64       `yaml:"default_turn_angle"`
}

// PerceptionConfig configures the camera and detector.
type PerceptionConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Device           int     `yaml:"device"`
	FPS              float64 `yaml:"fps"`
	ModelPath        string  `yaml:"model_path"`
	Confidence       float32 `yaml:"confidence"`
	FailureThreshold int     `yaml:"failure_threshold"`
}

// DecisionConfig configures the command arbitration loop.
type DecisionConfig struct {
	QueueSize        int           `yaml:"queue_size"`
	ReasoningTimeout time.Duration `yaml:"reasoning_timeout"`
}

// ReasoningConfig configures the OpenAI-compatible reasoning endpoint.
type ReasoningConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"-"`
	// FallbackURL is tried when the primary endpoint fails, typically a
	// local Ollama server. Empty disables the fallback.
	FallbackURL   string `yaml:"fallback_url"`
	FallbackModel string `yaml:"fallback_model"`
}

// VoiceConfig configures the transcript stream.
type VoiceConfig struct {
	URL        string `yaml:"url"`
	WakePhrase string `yaml:"wake_phrase"`
}

// AutonomyConfig configures the thinking loop and obstacle guard.
type AutonomyConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	ObstacleStop  float64       `yaml:"obstacle_stop_cm"`
	DistancePoll  time.Duration `yaml:"distance_poll"`
	ActOnThoughts bool          `yaml:"act_on_thoughts"`
}

// WebConfig configures the dashboard server.
type WebConfig struct {
	Addr string `yaml:"addr"`
	// CommandRate is the sustained commands/second accepted from the dashboard.
	CommandRate  float64 `yaml:"command_rate"`
	CommandBurst int     `yaml:"command_burst"`
}

// StorageConfig configures local persistence.
type StorageConfig struct {
	JournalPath string `yaml:"journal_path"`
	ImagesDir   string `yaml:"images_dir"`
}

// DriveConfig configures optional photo upload to Google Drive.
type DriveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
	TokenFile       string `yaml:"token_file"`
	FolderID        string `yaml:"folder_id"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Robot: RobotConfig{
			Driver:           "sim",
			Port:             "/dev/ttyUSB0",
			BaudRate:         1_000_000,
			ServoIDs:         []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12},
			MinAngle:         0,
			MaxAngle:         180,
			MaxStep:          30,
			WriteTimeout:     500 * time.Millisecond,
			RecoveryInterval: 2 * time.Second,
		},
		Gait: GaitConfig{
			StepHeight: 20,
			Stride:     12,
			TurnStep:   15,
			Hold:       20 * time.Millisecond,
			Steps:      3,
			TurnAngle:  45,
		},
		Perception: PerceptionConfig{
			Enabled:          true,
			Device:           0,
			FPS:              5,
			ModelPath:        "models/yolov8n.onnx",
			Confidence:       0.5,
			FailureThreshold: 3,
		},
		Decision: DecisionConfig{
			QueueSize:        16,
			ReasoningTimeout: 5 * time.Second,
		},
		Reasoning: ReasoningConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			FallbackModel: "llama3.2",
		},
		Voice: VoiceConfig{
			WakePhrase: "hey spider",
		},
		Autonomy: AutonomyConfig{
			Enabled:      false,
			Interval:     15 * time.Second,
			ObstacleStop: 15,
			DistancePoll: 200 * time.Millisecond,
		},
		Web: WebConfig{
			Addr:         ":8080",
			CommandRate:  2,
			CommandBurst: 4,
		},
		Storage: StorageConfig{
			JournalPath: "spider.db",
			ImagesDir:   "images",
		},
	}
}

// Load reads path (if non-empty) over the defaults, then applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("SPIDER_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Log.Level = envOr("LOG_LEVEL", c.Log.Level)
	c.Robot.Driver = envOr("SPIDER_DRIVER", c.Robot.Driver)
	c.Robot.Port = envOr("SPIDER_SERIAL_PORT", c.Robot.Port)
	c.Robot.DistancePath = envOr("SPIDER_DISTANCE_PATH", c.Robot.DistancePath)
	c.Reasoning.BaseURL = envOr("SPIDER_REASONING_URL", c.Reasoning.BaseURL)
	c.Reasoning.Model = envOr("SPIDER_REASONING_MODEL", c.Reasoning.Model)
	c.Reasoning.APIKey = envOr("OPENAI_API_KEY", c.Reasoning.APIKey)
	c.Voice.URL = envOr("SPIDER_VOICE_URL", c.Voice.URL)
	c.Web.Addr = envOr("SPIDER_ADDR", c.Web.Addr)
	if v := os.Getenv("SPIDER_AUTONOMY"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Autonomy.Enabled = b
		}
	}
}

// envOr returns the env var value, or def if unset.
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Validate reports every invalid field, joined.
func (c *Config) Validate() error {
	var errs []error
	switch c.Robot.Driver {
	case "sim", "feetech":
	default:
		errs = append(errs, fmt.Errorf("robot.driver: unknown driver %q", c.Robot.Driver))
	}
	if len(c.Robot.ServoIDs) != 12 {
		errs = append(errs, fmt.Errorf("robot.servo_ids: need 12 ids, got %d", len(c.Robot.ServoIDs)))
	}
	if c.Robot.MinAngle >= c.Robot.MaxAngle {
		errs = append(errs, errors.New("robot: min_angle must be below max_angle"))
	}
	if c.Robot.MaxStep <= 0 {
		errs = append(errs, errors.New("robot.max_step must be positive"))
	}
	if c.Gait.StepHeight > c.Robot.MaxStep || c.Gait.TurnStep > c.Robot.MaxStep {
		errs = append(errs, errors.New("gait: step_height and turn_step must not exceed robot.max_step"))
	}
	if 2*c.Gait.Stride > c.Robot.MaxStep {
		errs = append(errs, errors.New("gait: a full stride swing (2*stride) must not exceed robot.max_step"))
	}
	if c.Gait.Steps <= 0 {
		errs = append(errs, errors.New("gait.default_steps must be positive"))
	}
	if c.Perception.FPS <= 0 {
		errs = append(errs, errors.New("perception.fps must be positive"))
	}
	if c.Perception.FailureThreshold <= 0 {
		errs = append(errs, errors.New("perception.failure_threshold must be positive"))
	}
	if c.Decision.QueueSize <= 0 {
		errs = append(errs, errors.New("decision.queue_size must be positive"))
	}
	if c.Decision.ReasoningTimeout <= 0 {
		errs = append(errs, errors.New("decision.reasoning_timeout must be positive"))
	}
	if c.Drive.Enabled && c.Drive.CredentialsFile == "" {
		errs = append(errs, errors.New("drive.credentials_file required when drive is enabled"))
	}
	return errors.Join(errs...)
}
