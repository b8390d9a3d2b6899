package main

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/Elameen123/Blazers-Image-Analysis-Station/clustering"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/detections"
	"github.com/Elameen123/Blazers-Image-Analysis-Station/mission"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize          = 4
	DefaultAcquireTimeout    = 5 * time.Second
	DefaultHealthCheckPeriod = 60 * time.Second
	DefaultMaxUpload         = "10MiB"
)

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

type Config struct {
	Host string
	Port int

	ModelPath  string
	LabelsPath string
	LibPath    string
	LibDir     string
	Variant    detections.Variant
	InputSize  int

	ConfidenceThreshold float64
	NMSThreshold        float64
	OverlapThreshold    float64

	PoolSize          int
	AcquireTimeout    time.Duration
	HealthCheckPeriod time.Duration
	LazyLoad          bool
	UseCUDA           bool
	IntraOpThreads    int

	MaxUploadBytes int64
	HistoryWindow  time.Duration
	Deadband       int

	CORSOrigins     []string
	StaticDir       string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	Log LogConfig
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) Validate() error {
	if c.ModelPath == "" {
		return errors.New("model path is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("port %d out of range", c.Port)
	}
	for name, v := range map[string]float64{
		"confidence threshold": c.ConfidenceThreshold,
		"nms threshold":        c.NMSThreshold,
		"overlap threshold":    c.OverlapThreshold,
	} {
		if v < 0 || v > 1 {
			return errors.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	if c.PoolSize <= 0 {
		return errors.Errorf("pool size must be positive, got %d", c.PoolSize)
	}
	if c.InputSize < 32 || c.InputSize%32 != 0 {
		return errors.Errorf("input size must be a positive multiple of 32, got %d", c.InputSize)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload size must be positive")
	}
	if c.Deadband < 0 {
		return errors.Errorf("deadband must not be negative, got %d", c.Deadband)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.Errorf("log format must be console or json, got %q", c.Log.Format)
	}
	return nil
}

func configFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "host", Value: "0.0.0.0", Usage: "listen host", EnvVars: []string{"ROVER_HOST"}},
		&cli.IntFlag{Name: "port", Value: 5000, Usage: "listen port", EnvVars: []string{"ROVER_PORT", "PORT"}},
		&cli.StringFlag{Name: "model", Value: "models/yolov5s.onnx", Usage: "path to the YOLO `ONNX` model", EnvVars: []string{"ROVER_MODEL_PATH", "MODEL_PATH"}},
		&cli.StringFlag{Name: "labels", Usage: "class names file, one per line (default: COCO)", EnvVars: []string{"ROVER_LABELS_PATH"}},
		&cli.StringFlag{Name: "onnxruntime-lib", Usage: "path to the onnxruntime shared library", EnvVars: []string{"ROVER_ONNXRUNTIME_LIB", "ONNXRUNTIME_SHARED_LIBRARY_PATH"}},
		&cli.StringFlag{Name: "onnxruntime-dir", Value: "third_party", Usage: "directory holding per-platform onnxruntime libraries", EnvVars: []string{"ROVER_ONNXRUNTIME_DIR"}},
		&cli.StringFlag{Name: "model-variant", Value: "auto", Usage: "output layout: auto, yolov5 or yolov8", EnvVars: []string{"ROVER_MODEL_VARIANT"}},
		&cli.IntFlag{Name: "input-size", Value: detections.InputWidth, Usage: "input size for models with a dynamic input shape", EnvVars: []string{"ROVER_INPUT_SIZE"}},
		&cli.Float64Flag{Name: "confidence", Value: detections.ConfThreshold, Usage: "initial confidence threshold", EnvVars: []string{"ROVER_CONFIDENCE_THRESHOLD"}},
		&cli.Float64Flag{Name: "nms-iou", Value: clustering.NMSThreshold, Usage: "per-class NMS IoU threshold", EnvVars: []string{"ROVER_NMS_IOU"}},
		&cli.Float64Flag{Name: "overlap-iou", Value: clustering.OverlapThreshold, Usage: "cross-class duplicate IoU threshold", EnvVars: []string{"ROVER_OVERLAP_IOU"}},
		&cli.IntFlag{Name: "pool-size", Value: DefaultPoolSize, Usage: "number of model sessions", EnvVars: []string{"ROVER_POOL_SIZE"}},
		&cli.DurationFlag{Name: "acquire-timeout", Value: DefaultAcquireTimeout, Usage: "max wait for a free model session", EnvVars: []string{"ROVER_ACQUIRE_TIMEOUT"}},
		&cli.DurationFlag{Name: "health-check-period", Value: DefaultHealthCheckPeriod, Usage: "how often broken sessions are replaced", EnvVars: []string{"ROVER_HEALTH_CHECK_PERIOD"}},
		&cli.BoolFlag{Name: "lazy-load", Usage: "load the model on the first detection request", EnvVars: []string{"ROVER_LAZY_LOAD"}},
		&cli.BoolFlag{Name: "cuda", Usage: "run sessions on the CUDA execution provider", EnvVars: []string{"ROVER_CUDA"}},
		&cli.IntFlag{Name: "intra-op-threads", Usage: "onnxruntime intra-op threads per session (0: runtime default)", EnvVars: []string{"ROVER_INTRA_OP_THREADS"}},
		&cli.StringFlag{Name: "max-upload", Value: DefaultMaxUpload, Usage: "largest accepted upload, e.g. 10MiB", EnvVars: []string{"ROVER_MAX_UPLOAD"}},
		&cli.DurationFlag{Name: "history-window", Value: mission.DefaultHistoryWindow, Usage: "rolling detection log window", EnvVars: []string{"ROVER_HISTORY_WINDOW"}},
		&cli.IntFlag{Name: "deadband", Value: mission.DefaultDeadband, Usage: "pixels from center within which the rover moves forward", EnvVars: []string{"ROVER_DEADBAND"}},
		&cli.StringFlag{Name: "cors-origins", Value: "*", Usage: "comma separated allowed origins", EnvVars: []string{"ROVER_CORS_ORIGINS"}},
		&cli.StringFlag{Name: "static-dir", Usage: "serve frontend files from this directory", EnvVars: []string{"ROVER_STATIC_DIR"}},
		&cli.DurationFlag{Name: "read-timeout", Value: 60 * time.Second, EnvVars: []string{"ROVER_READ_TIMEOUT"}},
		&cli.DurationFlag{Name: "write-timeout", Value: 60 * time.Second, EnvVars: []string{"ROVER_WRITE_TIMEOUT"}},
		&cli.DurationFlag{Name: "shutdown-timeout", Value: 10 * time.Second, EnvVars: []string{"ROVER_SHUTDOWN_TIMEOUT"}},
		&cli.StringFlag{Name: "log-level", Value: "info", Usage: "debug, info, warn or error", EnvVars: []string{"ROVER_LOG_LEVEL"}},
		&cli.StringFlag{Name: "log-format", Value: "console", Usage: "console or json", EnvVars: []string{"ROVER_LOG_FORMAT"}},
		&cli.StringFlag{Name: "log-file", Usage: "also write logs to this file, rotated", EnvVars: []string{"ROVER_LOG_FILE"}},
		&cli.IntFlag{Name: "log-max-size", Value: 100, Usage: "log file size in megabytes before rotation", EnvVars: []string{"ROVER_LOG_MAX_SIZE"}},
		&cli.IntFlag{Name: "log-max-backups", Value: 3, EnvVars: []string{"ROVER_LOG_MAX_BACKUPS"}},
	}
}

func configFromContext(c *cli.Context) (*Config, error) {
	variant, err := detections.ParseVariant(c.String("model-variant"))
	if err != nil {
		return nil, err
	}
	maxUpload, err := units.RAMInBytes(c.String("max-upload"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse max upload size %q", c.String("max-upload"))
	}

	cfg := &Config{
		Host:                c.String("host"),
		Port:                c.Int("port"),
		ModelPath:           c.String("model"),
		LabelsPath:          c.String("labels"),
		LibPath:             c.String("onnxruntime-lib"),
		LibDir:              c.String("onnxruntime-dir"),
		Variant:             variant,
		InputSize:           c.Int("input-size"),
		ConfidenceThreshold: c.Float64("confidence"),
		NMSThreshold:        c.Float64("nms-iou"),
		OverlapThreshold:    c.Float64("overlap-iou"),
		PoolSize:            c.Int("pool-size"),
		AcquireTimeout:      c.Duration("acquire-timeout"),
		HealthCheckPeriod:   c.Duration("health-check-period"),
		LazyLoad:            c.Bool("lazy-load"),
		UseCUDA:             c.Bool("cuda"),
		IntraOpThreads:      c.Int("intra-op-threads"),
		MaxUploadBytes:      maxUpload,
		HistoryWindow:       c.Duration("history-window"),
		Deadband:            c.Int("deadband"),
		CORSOrigins:         splitList(c.String("cors-origins")),
		StaticDir:           c.String("static-dir"),
		ReadTimeout:         c.Duration("read-timeout"),
		WriteTimeout:        c.Duration("write-timeout"),
		ShutdownTimeout:     c.Duration("shutdown-timeout"),
		Log: LogConfig{
			Level:      c.String("log-level"),
			Format:     c.String("log-format"),
			File:       c.String("log-file"),
			MaxSizeMB:  c.Int("log-max-size"),
			MaxBackups: c.Int("log-max-backups"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
