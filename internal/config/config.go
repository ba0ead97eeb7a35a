// Package config loads the YAML configuration recognized by both
// dispatcherd and workerd (spec.md §6.5), grounded on rclone's yaml.v2 +
// go-homedir pairing for reading a dotted config file from the user's home
// directory.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	yaml "gopkg.in/yaml.v2"
)

// Inotify mirrors spec.md §6.5 inotify.* keys.
type Inotify struct {
	InputPath        string `yaml:"input_path"`
	Watch            string `yaml:"watch"`
	IndexType        string `yaml:"index_type"`
	IndexFormat      string `yaml:"index_format"`
	DownloadPath     string `yaml:"download_path"`
	OutputPath       string `yaml:"output_path"`
	DailyOutput      bool   `yaml:"daily_output"`
	UniqueOutput     bool   `yaml:"unique_output"`
	DeleteOnSuccess  bool   `yaml:"delete_on_success"`
	MaximumJobs      int    `yaml:"maximum_jobs"`
	FSThresholdYN    bool   `yaml:"fs_threshold_yn"`
	FSThreshold      string `yaml:"fs_threshold"`
	Preprocess       string `yaml:"preprocess"`
	Postprocess      string `yaml:"postprocess"`
}

// API mirrors spec.md §6.5 api.* keys.
type API struct {
	URL     string        `yaml:"url"`
	Service string        `yaml:"service"`
	Version string        `yaml:"version"`
	APIKey  string        `yaml:"apikey"`
	Passwd  string        `yaml:"passwd"`
	Port    int           `yaml:"port"`
	Limits  int           `yaml:"limits"`
	Timeout int           `yaml:"timeout"`
}

// STT mirrors spec.md §6.5 stt.* keys.
type STT struct {
	Worker           int      `yaml:"worker"`
	EngineCore       string   `yaml:"engine_core"`
	MFCCSize         int      `yaml:"mfcc_size"`
	MiniBatch        int      `yaml:"mini_batch"`
	PriorWeight      float64  `yaml:"prior_weight"`
	UseGPU           bool     `yaml:"useGPU"`
	IDGPU            int      `yaml:"idGPU"`
	GPUNum           int      `yaml:"gpu_num"`
	ResetPeriod      int      `yaml:"reset_period"`
	MinimumConfidence float64 `yaml:"minimum_confidence"`
	Decoder          string   `yaml:"decoder"`
	Separator        string   `yaml:"separator"`
	UnsegmentPause   float64  `yaml:"unsegment_pause"`
	ModelPaths       []string `yaml:"model_paths"`
}

// Realtime mirrors spec.md §6.5 realtime.* keys.
type Realtime struct {
	Worker      int  `yaml:"worker"`
	ResetPeriod int  `yaml:"reset_period"`
	StartNum    int  `yaml:"startnum"`
	Pooled      bool `yaml:"pooled"` // spec.md §9 open question, resolved as a runtime switch
}

// Protocol mirrors spec.md §6.5 protocol.* keys.
type Protocol struct {
	Use      bool   `yaml:"use"`
	Type     string `yaml:"type"` // sftp | ftps
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Encrypt  bool   `yaml:"encrypt"`
}

// SSP mirrors spec.md §6.5 ssp.* keys.
type SSP struct {
	Util string `yaml:"util"`
}

// Spk mirrors the original's spk.* keys gating the realtime speaker-
// separation header (spec.md §6.4 "Realtime with speaker-separation
// enabled..."), independent of protocol.use (which only selects local-file
// vs. fetched-and-stored input).
type Spk struct {
	Enable bool `yaml:"enable"`
}

// Config is the full recognized configuration surface.
type Config struct {
	Inotify  Inotify  `yaml:"inotify"`
	API      API      `yaml:"api"`
	STT      STT      `yaml:"stt"`
	Realtime Realtime `yaml:"realtime"`
	Protocol Protocol `yaml:"protocol"`
	SSP      SSP      `yaml:"ssp"`
	Spk      Spk      `yaml:"spk"`
}

// Load reads and parses a YAML config file at path, expanding a leading "~"
// via go-homedir.
func Load(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("config: expanding path %q: %w", path, err)
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", expanded, err)
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("config: parsing %q: %w", expanded, err)
	}
	return &c, nil
}

// DefaultPath returns ~/.vrstt/config.yaml, the default dispatcherd/workerd
// config location.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".vrstt", "config.yaml"), nil
}
