package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr string `yaml:"addr"`
}

type AssemblyAI struct {
	URL           string `yaml:"url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	SampleRate    int    `yaml:"sample_rate"`
	FormatTurns   bool   `yaml:"format_turns"`
	SpeakerLabels bool   `yaml:"speaker_labels"`
}

// APIKey reads the key from the configured environment variable.
func (a AssemblyAI) APIKey() string { return os.Getenv(a.APIKeyEnv) }

type Audio struct {
	MinChunkMs int `yaml:"min_chunk_ms"`
	MaxChunkMs int `yaml:"max_chunk_ms"`
}

// BytesPerSecond of 16-bit mono PCM at the given rate.
func BytesPerSecond(sampleRate int) int { return sampleRate * 2 }

type Session struct {
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	ReapInterval time.Duration `yaml:"reap_interval"`
}

type Profiles struct {
	Path string `yaml:"path"`
}

type Enrollment struct {
	MinReference time.Duration `yaml:"min_reference"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Root struct {
	Server     Server     `yaml:"server"`
	AssemblyAI AssemblyAI `yaml:"assemblyai"`
	Audio      Audio      `yaml:"audio"`
	Session    Session    `yaml:"session"`
	Profiles   Profiles   `yaml:"profiles"`
	Enrollment Enrollment `yaml:"enrollment"`
	Log        Log        `yaml:"log"`
}

func Default() *Root {
	return &Root{
		Server: Server{Addr: ":8080"},
		AssemblyAI: AssemblyAI{
			URL:           "wss://streaming.assemblyai.com/v3/ws",
			APIKeyEnv:     "ASSEMBLY_AI_API_KEY",
			SampleRate:    16000,
			FormatTurns:   true,
			SpeakerLabels: true,
		},
		Audio:      Audio{MinChunkMs: 50, MaxChunkMs: 1000},
		Session:    Session{IdleTimeout: 10 * time.Minute, ReapInterval: time.Minute},
		Profiles:   Profiles{Path: filepath.Join("data", "profiles.json")},
		Enrollment: Enrollment{MinReference: 10 * time.Second},
		Log:        Log{Level: "info", Format: "text"},
	}
}

// Load reads .env, then the yaml file at path. With an empty path it tries CONFIG_PATH and
// then config/<CONFIG_ENV>/config.yaml and config.yaml. No file at all yields the defaults.
func Load(path string) (*Root, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	guess := []string{
		filepath.Join("config", env, "config.yaml"),
		"config.yaml",
	}
	for _, p := range guess {
		err := decodeFile(p, cfg)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

func decodeFile(path string, cfg *Root) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Root) Validate() error {
	switch {
	case c.AssemblyAI.SampleRate <= 0:
		return fmt.Errorf("assemblyai.sample_rate must be positive, got %d", c.AssemblyAI.SampleRate)
	case c.Audio.MinChunkMs <= 0 || c.Audio.MaxChunkMs <= 0:
		return fmt.Errorf("audio chunk bounds must be positive, got %d..%d", c.Audio.MinChunkMs, c.Audio.MaxChunkMs)
	case c.Audio.MinChunkMs > c.Audio.MaxChunkMs:
		return fmt.Errorf("audio.min_chunk_ms %d exceeds audio.max_chunk_ms %d", c.Audio.MinChunkMs, c.Audio.MaxChunkMs)
	case c.Session.IdleTimeout <= 0:
		return fmt.Errorf("session.idle_timeout must be positive, got %s", c.Session.IdleTimeout)
	case c.Session.ReapInterval <= 0:
		return fmt.Errorf("session.reap_interval must be positive, got %s", c.Session.ReapInterval)
	case c.Enrollment.MinReference < 0:
		return fmt.Errorf("enrollment.min_reference must not be negative, got %s", c.Enrollment.MinReference)
	case c.Profiles.Path == "":
		return errors.New("profiles.path is required")
	}
	return nil
}
