package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log     LogConfig     `yaml:"log"`
	Tools   ToolsConfig   `yaml:"tools"`
	Audio   AudioConfig   `yaml:"audio"`
	Visuals VisualsConfig `yaml:"visuals"`
	Stock   StockConfig   `yaml:"stock"`
	Render  RenderConfig  `yaml:"render"`
	Paths   PathsConfig   `yaml:"paths"`
	Publish PublishConfig `yaml:"publish"`
	Server  ServerConfig  `yaml:"server"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ToolsConfig struct {
	FFmpegBundled   string   `yaml:"ffmpeg_bundled"`
	FFmpegName      string   `yaml:"ffmpeg_name"`
	FFmpegKnownDirs []string `yaml:"ffmpeg_known_dirs"`
	FFprobe         string   `yaml:"ffprobe"`
	VersionTimeout  int      `yaml:"version_timeout_sec"`
}

type AudioConfig struct {
	TTSCommand string `yaml:"tts_command"`
	BaseVoice  string `yaml:"base_voice"`
	Language   string `yaml:"language"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type VisualsConfig struct {
	Mode          string  `yaml:"mode"`
	Width         int     `yaml:"width"`
	Height        int     `yaml:"height"`
	FPS           int     `yaml:"fps"`
	TemplatesDir  string  `yaml:"templates_dir"`
	ImageTimeout  int     `yaml:"image_timeout_sec"`
	TitleFont     string  `yaml:"title_font"`
	FallbackColor string  `yaml:"fallback_color"`
	FadeSec       float64 `yaml:"fade_sec"`
}

type StockConfig struct {
	APIURL            string  `yaml:"api_url"`
	PerPage           int     `yaml:"per_page"`
	RequestIntervalMS int     `yaml:"request_interval_ms"`
	Workers           int     `yaml:"workers"`
	MinDurationSec    float64 `yaml:"min_duration_sec"`
	MaxDurationSec    float64 `yaml:"max_duration_sec"`
	HDWidth           int     `yaml:"hd_width"`
	DownloadTimeout   int     `yaml:"download_timeout_sec"`
}

type RenderConfig struct {
	Workers            int     `yaml:"workers"`
	ClipTimeoutSec     int     `yaml:"clip_timeout_sec"`
	AssemblyTimeoutSec int     `yaml:"assembly_timeout_sec"`
	PerSceneTimeoutSec int     `yaml:"per_scene_timeout_sec"`
	MaxLogBytes        int     `yaml:"max_log_bytes"`
	MinSceneSec        float64 `yaml:"min_scene_sec"`
	AudioBitrate       string  `yaml:"audio_bitrate"`
	CRF                int     `yaml:"crf"`
}

type PathsConfig struct {
	Temp   string `yaml:"temp"`
	Output string `yaml:"output"`
	JobsDB string `yaml:"jobs_db"`
}

type PublishConfig struct {
	YouTube YouTubeConfig `yaml:"youtube"`
	GCS     GCSConfig     `yaml:"gcs"`
}

type YouTubeConfig struct {
	Enabled           bool     `yaml:"enabled"`
	CategoryID        string   `yaml:"category_id"`
	Visibility        string   `yaml:"visibility"`
	Tags              []string `yaml:"tags"`
	DefaultLanguage   string   `yaml:"default_language"`
	NotifySubscribers bool     `yaml:"notify_subscribers"`
	MadeForKids       bool     `yaml:"made_for_kids"`
	TitleMaxChars     int      `yaml:"title_max_chars"`
}

type GCSConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	c := &Config{}
	c.Log.Level = "info"

	c.Tools.FFmpegName = "ffmpeg"
	c.Tools.FFmpegKnownDirs = []string{"/usr/bin", "/usr/local/bin", "/opt/homebrew/bin"}
	c.Tools.VersionTimeout = 5

	c.Audio.BaseVoice = "en-US-GuyNeural"
	c.Audio.Language = "en"
	c.Audio.TimeoutSec = 180

	c.Visuals.Mode = "stock-footage"
	c.Visuals.Width = 1280
	c.Visuals.Height = 720
	c.Visuals.FPS = 30
	c.Visuals.TemplatesDir = filepath.Join("public", "ai-images")
	c.Visuals.ImageTimeout = 60
	c.Visuals.TitleFont = "/usr/share/fonts/truetype/dejavu/DejaVuSans-Bold.ttf"
	c.Visuals.FallbackColor = "0x1e40af"
	c.Visuals.FadeSec = 0.5

	c.Stock.APIURL = "https://api.pexels.com"
	c.Stock.PerPage = 15
	c.Stock.RequestIntervalMS = 500
	c.Stock.Workers = 3
	c.Stock.MinDurationSec = 5
	c.Stock.MaxDurationSec = 30
	c.Stock.HDWidth = 1280
	c.Stock.DownloadTimeout = 120

	c.Render.Workers = 3
	c.Render.ClipTimeoutSec = 120
	c.Render.AssemblyTimeoutSec = 600
	c.Render.PerSceneTimeoutSec = 30
	c.Render.MaxLogBytes = 10 * 1024 * 1024
	c.Render.MinSceneSec = 1.0
	c.Render.AudioBitrate = "192k"
	c.Render.CRF = 23

	c.Paths.Temp = "temp"
	c.Paths.Output = "output"
	c.Paths.JobsDB = "jobs.db"

	c.Publish.YouTube.CategoryID = "25"
	c.Publish.YouTube.Visibility = "private"
	c.Publish.YouTube.DefaultLanguage = "en"
	c.Publish.YouTube.TitleMaxChars = 100
	c.Publish.GCS.Prefix = "videos"

	c.Server.Addr = ":8000"
	c.Server.MaxConcurrent = 2
	return c
}

// Load reads config.yaml over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}

// normalize puts back defaults for values a config file zeroed out
func (c *Config) normalize() {
	d := Default()

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}

	c.Tools.FFmpegName = strings.TrimSpace(c.Tools.FFmpegName)
	if c.Tools.FFmpegName == "" {
		c.Tools.FFmpegName = d.Tools.FFmpegName
	}
	if c.Tools.VersionTimeout <= 0 {
		c.Tools.VersionTimeout = d.Tools.VersionTimeout
	}

	if c.Audio.TimeoutSec <= 0 {
		c.Audio.TimeoutSec = d.Audio.TimeoutSec
	}
	if c.Audio.Language == "" {
		c.Audio.Language = d.Audio.Language
	}

	c.Visuals.Mode = strings.ToLower(strings.TrimSpace(c.Visuals.Mode))
	if c.Visuals.Mode == "" {
		c.Visuals.Mode = d.Visuals.Mode
	}
	if c.Visuals.Width <= 0 || c.Visuals.Height <= 0 {
		c.Visuals.Width, c.Visuals.Height = d.Visuals.Width, d.Visuals.Height
	}
	if c.Visuals.FPS <= 0 {
		c.Visuals.FPS = d.Visuals.FPS
	}
	if c.Visuals.FallbackColor == "" {
		c.Visuals.FallbackColor = d.Visuals.FallbackColor
	}
	if c.Visuals.FadeSec < 0 {
		c.Visuals.FadeSec = d.Visuals.FadeSec
	}
	if c.Visuals.ImageTimeout <= 0 {
		c.Visuals.ImageTimeout = d.Visuals.ImageTimeout
	}
	if c.Visuals.TemplatesDir == "" {
		c.Visuals.TemplatesDir = d.Visuals.TemplatesDir
	}

	c.Stock.APIURL = strings.TrimRight(c.Stock.APIURL, "/")
	if c.Stock.APIURL == "" {
		c.Stock.APIURL = d.Stock.APIURL
	}
	if c.Stock.PerPage <= 0 {
		c.Stock.PerPage = d.Stock.PerPage
	}
	// 500ms is the floor for Pexels courtesy spacing
	if c.Stock.RequestIntervalMS < d.Stock.RequestIntervalMS {
		c.Stock.RequestIntervalMS = d.Stock.RequestIntervalMS
	}
	if c.Stock.Workers <= 0 {
		c.Stock.Workers = 1
	}
	if c.Stock.MinDurationSec <= 0 {
		c.Stock.MinDurationSec = d.Stock.MinDurationSec
	}
	if c.Stock.MaxDurationSec <= 0 {
		c.Stock.MaxDurationSec = d.Stock.MaxDurationSec
	}
	if c.Stock.HDWidth <= 0 {
		c.Stock.HDWidth = d.Stock.HDWidth
	}
	if c.Stock.DownloadTimeout <= 0 {
		c.Stock.DownloadTimeout = d.Stock.DownloadTimeout
	}

	if c.Render.Workers <= 0 {
		c.Render.Workers = 1
	}
	if c.Render.ClipTimeoutSec <= 0 {
		c.Render.ClipTimeoutSec = d.Render.ClipTimeoutSec
	}
	if c.Render.AssemblyTimeoutSec <= 0 {
		c.Render.AssemblyTimeoutSec = d.Render.AssemblyTimeoutSec
	}
	if c.Render.PerSceneTimeoutSec <= 0 {
		c.Render.PerSceneTimeoutSec = d.Render.PerSceneTimeoutSec
	}
	if c.Render.MaxLogBytes <= 0 {
		c.Render.MaxLogBytes = d.Render.MaxLogBytes
	}
	if c.Render.MinSceneSec <= 0 {
		c.Render.MinSceneSec = d.Render.MinSceneSec
	}
	if c.Render.AudioBitrate == "" {
		c.Render.AudioBitrate = d.Render.AudioBitrate
	}
	if c.Render.CRF <= 0 {
		c.Render.CRF = d.Render.CRF
	}

	if c.Paths.Temp == "" {
		c.Paths.Temp = d.Paths.Temp
	}
	if c.Paths.Output == "" {
		c.Paths.Output = d.Paths.Output
	}
	if c.Paths.JobsDB == "" {
		c.Paths.JobsDB = d.Paths.JobsDB
	}
	c.Paths.Temp = filepath.Clean(c.Paths.Temp)
	c.Paths.Output = filepath.Clean(c.Paths.Output)

	if c.Publish.YouTube.TitleMaxChars <= 0 {
		c.Publish.YouTube.TitleMaxChars = d.Publish.YouTube.TitleMaxChars
	}
	if c.Publish.YouTube.Visibility == "" {
		c.Publish.YouTube.Visibility = d.Publish.YouTube.Visibility
	}

	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Server.MaxConcurrent <= 0 {
		c.Server.MaxConcurrent = d.Server.MaxConcurrent
	}
}
