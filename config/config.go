// Package config - YAML configuration for the traywatch server and CLI.
package config

import (
	"bytes"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/traywatch/controller"
	"github.com/nvr-ai/traywatch/detector"
	"github.com/nvr-ai/traywatch/images"
	"github.com/nvr-ai/traywatch/inference"
	"github.com/nvr-ai/traywatch/logging"
	"github.com/nvr-ai/traywatch/queue"
	"github.com/nvr-ai/traywatch/tracking"
	"github.com/nvr-ai/traywatch/video"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Journal and queue backends.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config is the root of the YAML document.
type Config struct {
	Tracking TrackingConfig `yaml:"tracking"`
	Detector DetectorConfig `yaml:"detector"`
	Video    VideoConfig    `yaml:"video"`
	Alarm    AlarmConfig    `yaml:"alarm"`
	Queue    QueueConfig    `yaml:"queue"`
	Store    StoreConfig    `yaml:"store"`
	Worker   WorkerConfig   `yaml:"worker"`
	API      APIConfig      `yaml:"api"`
	Logging  logging.Config `yaml:"logging"`
}

// TrackingConfig holds the association and alarm thresholds.
type TrackingConfig struct {
	OverlapThreshold    float64 `yaml:"overlap_threshold"`
	StableConfirmFrames int     `yaml:"stable_confirm_frames"`
	MaxLost             int     `yaml:"max_lost"`
	FirstTrackID        int     `yaml:"first_track_id"`
	MatchPolicy         string  `yaml:"match_policy"`
}

// DetectorConfig describes the model and its post-processing.
type DetectorConfig struct {
	ModelPath           string  `yaml:"model_path"`
	SharedLibraryPath   string  `yaml:"shared_library_path"`
	Provider            string  `yaml:"provider"`
	ContainerClass      int     `yaml:"container_class"`
	ItemClass           int     `yaml:"item_class"`
	ConfidenceThreshold float32 `yaml:"confidence_threshold"`
	NMSThreshold        float32 `yaml:"nms_threshold"`
	InputSize           int     `yaml:"input_size"`
	NumClasses          int     `yaml:"num_classes"`
}

// VideoConfig is the frame preprocessing applied before detection.
type VideoConfig struct {
	CropLeft        int `yaml:"crop_left"`
	CropRight       int `yaml:"crop_right"`
	BrightnessLimit int `yaml:"brightness_limit"`
}

// AlarmConfig controls proofs, the webhook and the journal.
type AlarmConfig struct {
	ProofDir       string        `yaml:"proof_dir"`
	ProofBaseURL   string        `yaml:"proof_base_url"`
	ImageFormat    string        `yaml:"image_format"`
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	Journal        string        `yaml:"journal"`
	JournalDir     string        `yaml:"journal_dir"`
}

// QueueConfig selects the work queue backend.
type QueueConfig struct {
	Backend      string        `yaml:"backend"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Capacity     int           `yaml:"capacity"`
}

// StoreConfig locates the SQLite database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// WorkerConfig sizes the worker pool.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// APIConfig is the HTTP listener.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	det := detector.DefaultConfig()
	return Config{
		Tracking: TrackingConfig{
			OverlapThreshold:    tracking.DefaultOverlapThreshold,
			StableConfirmFrames: 2,
			MaxLost:             10,
			FirstTrackID:        1,
			MatchPolicy:         tracking.MatchFirst.String(),
		},
		Detector: DetectorConfig{
			ModelPath:           "detector.onnx",
			Provider:            string(inference.ProviderCPU),
			ContainerClass:      det.ContainerClass,
			ItemClass:           det.ItemClass,
			ConfidenceThreshold: det.ConfidenceThreshold,
			NMSThreshold:        det.NMSThreshold,
			InputSize:           det.InputSize,
			NumClasses:          det.NumClasses,
		},
		Video: VideoConfig{
			CropLeft:        250,
			CropRight:       1750,
			BrightnessLimit: 150,
		},
		Alarm: AlarmConfig{
			ProofDir:       "proofs",
			ProofBaseURL:   "http://localhost:8000/proofs",
			ImageFormat:    string(images.FormatJPEG),
			WebhookTimeout: 5 * time.Second,
			Journal:        BackendFile,
			JournalDir:     "alarms",
		},
		Queue: QueueConfig{
			Backend:      BackendMemory,
			PollInterval: queue.DefaultPollInterval,
			Capacity:     64,
		},
		Store:   StoreConfig{Path: "traywatch.db"},
		Worker:  WorkerConfig{Concurrency: 1},
		API:     APIConfig{Listen: ":8000"},
		Logging: logging.DefaultConfig(),
	}
}

// Load reads path over the defaults and validates the result. An empty path
// yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		cfg := DefaultConfig()
		return cfg, cfg.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "reading config %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML document over the defaults. Unknown keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, errors.Wrap(err, "parsing config")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	t := c.Tracking
	if t.OverlapThreshold <= 0 || t.OverlapThreshold >= 1 {
		return errors.Wrapf(ErrInvalid, "tracking.overlap_threshold %v must be in (0,1)", t.OverlapThreshold)
	}
	if t.StableConfirmFrames <= 0 {
		return errors.Wrapf(ErrInvalid, "tracking.stable_confirm_frames %d must be positive", t.StableConfirmFrames)
	}
	if t.MaxLost < 0 {
		return errors.Wrapf(ErrInvalid, "tracking.max_lost %d must not be negative", t.MaxLost)
	}
	if _, err := tracking.ParseMatchPolicy(t.MatchPolicy); err != nil {
		return errors.Wrapf(ErrInvalid, "tracking.match_policy: %v", err)
	}

	d := c.Detector
	if d.ConfidenceThreshold <= 0 || d.ConfidenceThreshold >= 1 {
		return errors.Wrapf(ErrInvalid, "detector.confidence_threshold %v must be in (0,1)", d.ConfidenceThreshold)
	}
	if d.NMSThreshold <= 0 || d.NMSThreshold >= 1 {
		return errors.Wrapf(ErrInvalid, "detector.nms_threshold %v must be in (0,1)", d.NMSThreshold)
	}
	if d.InputSize <= 0 || d.InputSize%32 != 0 {
		return errors.Wrapf(ErrInvalid, "detector.input_size %d must be a positive multiple of 32", d.InputSize)
	}
	for _, class := range []int{d.ContainerClass, d.ItemClass} {
		if class < 0 || class >= d.NumClasses {
			return errors.Wrapf(ErrInvalid, "detector class %d outside [0,%d)", class, d.NumClasses)
		}
	}
	if d.ContainerClass == d.ItemClass {
		return errors.Wrap(ErrInvalid, "detector.container_class and detector.item_class must differ")
	}
	if _, err := inference.ParseProvider(d.Provider); err != nil {
		return errors.Wrapf(ErrInvalid, "detector.provider: %v", err)
	}

	v := c.Video
	if v.CropLeft < 0 || v.CropRight < 0 {
		return errors.Wrap(ErrInvalid, "video crop bounds must not be negative")
	}
	if v.CropLeft > 0 && v.CropRight > 0 && v.CropRight <= v.CropLeft {
		return errors.Wrapf(ErrInvalid, "video.crop_right %d must exceed crop_left %d", v.CropRight, v.CropLeft)
	}
	if v.BrightnessLimit < 0 || v.BrightnessLimit > 255 {
		return errors.Wrapf(ErrInvalid, "video.brightness_limit %d must be in [0,255]", v.BrightnessLimit)
	}

	a := c.Alarm
	if _, err := images.ParseImageFormat(a.ImageFormat); err != nil {
		return errors.Wrapf(ErrInvalid, "alarm.image_format: %v", err)
	}
	if a.WebhookTimeout <= 0 {
		return errors.Wrap(ErrInvalid, "alarm.webhook_timeout must be positive")
	}
	if a.Journal != BackendFile && a.Journal != BackendSQLite {
		return errors.Wrapf(ErrInvalid, "alarm.journal %q must be file or sqlite", a.Journal)
	}

	if c.Queue.Backend != BackendMemory && c.Queue.Backend != BackendSQLite {
		return errors.Wrapf(ErrInvalid, "queue.backend %q must be memory or sqlite", c.Queue.Backend)
	}
	if c.Queue.PollInterval <= 0 {
		return errors.Wrap(ErrInvalid, "queue.poll_interval must be positive")
	}
	if c.Queue.Backend == BackendMemory && c.Queue.Capacity <= 0 {
		return errors.Wrap(ErrInvalid, "queue.capacity must be positive")
	}
	if c.Worker.Concurrency <= 0 {
		return errors.Wrapf(ErrInvalid, "worker.concurrency %d must be positive", c.Worker.Concurrency)
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrapf(ErrInvalid, "logging.level: %v", err)
	}
	return nil
}

// UsesStore reports whether any backend needs the SQLite database.
func (c Config) UsesStore() bool {
	return c.Alarm.Journal == BackendSQLite || c.Queue.Backend == BackendSQLite
}

// Controller converts the tracking section. The config must be valid.
func (t TrackingConfig) Controller() controller.Config {
	policy, _ := tracking.ParseMatchPolicy(t.MatchPolicy)
	return controller.Config{
		OverlapThreshold:    t.OverlapThreshold,
		StableConfirmFrames: t.StableConfirmFrames,
		MaxLost:             t.MaxLost,
		FirstTrackID:        t.FirstTrackID,
		MatchPolicy:         policy,
	}
}

// Detection converts the post-processing settings.
func (d DetectorConfig) Detection() detector.Config {
	return detector.Config{
		ContainerClass:      d.ContainerClass,
		ItemClass:           d.ItemClass,
		ConfidenceThreshold: d.ConfidenceThreshold,
		NMSThreshold:        d.NMSThreshold,
		InputSize:           d.InputSize,
		NumClasses:          d.NumClasses,
	}
}

// Inference converts the model settings. The config must be valid.
func (d DetectorConfig) Inference() inference.Options {
	provider, _ := inference.ParseProvider(d.Provider)
	return inference.Options{
		ModelPath:   d.ModelPath,
		LibraryPath: d.SharedLibraryPath,
		InputSize:   d.InputSize,
		NumClasses:  d.NumClasses,
		Anchors:     inference.DefaultAnchors(d.InputSize),
		Provider:    provider,
	}
}

// Preprocessor converts the video section.
func (v VideoConfig) Preprocessor() video.Preprocessor {
	return video.Preprocessor{
		CropLeft:        v.CropLeft,
		CropRight:       v.CropRight,
		BrightnessLimit: v.BrightnessLimit,
	}
}
