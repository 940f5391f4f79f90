package config

import (
	"database/sql"
	"errors"
	"fmt"
	_ "github.com/lib/pq"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/viper"
	"strings"
	"testimonial-recorder/constant"
	"time"
)

const envPrefix = "RECORDER"

type Config struct {
	App      App       `yaml:"app"`
	Server   Server    `yaml:"server"`
	Recorder Recorder  `yaml:"recorder"`
	Upload   Upload    `yaml:"upload"`
	Capture  Capture   `yaml:"capture"`
	Backend  Backend   `yaml:"backend"`
	MinIO    MinIO     `yaml:"minio"`
	Postgres Postgres  `yaml:"postgresql"`
	Queue    *RabbitMQ `yaml:"rabbitmq"`
}

type App struct {
	Environment string `yaml:"environment"`
	Host        string `yaml:"host"`
	Protocol    string `yaml:"protocol"`
}

type Server struct {
	HttpPort string `yaml:"http_port"`
}

type Recorder struct {
	Countdown       int           `yaml:"countdown"`
	SegmentDuration time.Duration `yaml:"segment_duration"`
	MimeType        string        `yaml:"mime_type"`
	Width           int           `yaml:"width"`
	Height          int           `yaml:"height"`
	FrameRate       int           `yaml:"frame_rate"`
	Audio           bool          `yaml:"audio"`
	Video           bool          `yaml:"video"`
}

type Upload struct {
	Workers              int           `yaml:"workers"`
	QueueSize            int           `yaml:"queue_size"`
	MetadataTimeout      time.Duration `yaml:"metadata_timeout"`
	CleanupTimeout       time.Duration `yaml:"cleanup_timeout"`
	UploadTimeout        time.Duration `yaml:"upload_timeout"`
	FinalizeTimeout      time.Duration `yaml:"finalize_timeout"`
	SettleTimeout        time.Duration `yaml:"settle_timeout"`
	FinalizeRetries      int           `yaml:"finalize_retries"`
	RetryInitialInterval time.Duration `yaml:"retry_initial_interval"`
	ProbeChunks          bool          `yaml:"probe_chunks"`
}

type Capture struct {
	Command      string        `yaml:"command"`
	VideoFormat  string        `yaml:"video_format"`
	VideoDevice  string        `yaml:"video_device"`
	AudioFormat  string        `yaml:"audio_format"`
	AudioDevice  string        `yaml:"audio_device"`
	VideoCodec   string        `yaml:"video_codec"`
	AudioCodec   string        `yaml:"audio_codec"`
	VideoBitrate string        `yaml:"video_bitrate"`
	StartupGrace time.Duration `yaml:"startup_grace"`
	StopGrace    time.Duration `yaml:"stop_grace"`
}

type Backend struct {
	Transport constant.Transport `yaml:"transport"`
	BaseURL   string             `yaml:"base_url"`
	Token     string             `yaml:"token"`
}

type MinIO struct {
	URL             string `yaml:"url"`
	AccessID        string `yaml:"access_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Bucket          string `yaml:"bucket"`
	Secure          bool   `yaml:"secure"`
}

type Postgres struct {
	DSN   string `yaml:"dsn"`
	Debug bool   `yaml:"debug"`
}

type RabbitMQ struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	User         string `json:"user"`
	Pass         string `json:"pass"`
	ExchangeName string `json:"exchange_name"`
	RoutingKey   string `json:"routing_key"`
	Kind         string `json:"kind"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", constant.EnvironmentDevelop.String())
	v.SetDefault("server.port", "8090")

	v.SetDefault("recorder.countdown", 3)
	v.SetDefault("recorder.segment_duration", 3*time.Second)
	v.SetDefault("recorder.mime_type", constant.MimeTypeWebM)
	v.SetDefault("recorder.width", 1280)
	v.SetDefault("recorder.height", 720)
	v.SetDefault("recorder.frame_rate", 30)
	v.SetDefault("recorder.audio", true)
	v.SetDefault("recorder.video", true)

	v.SetDefault("upload.workers", 2)
	v.SetDefault("upload.queue_size", 256)
	v.SetDefault("upload.metadata_timeout", 10*time.Second)
	v.SetDefault("upload.cleanup_timeout", 15*time.Second)
	v.SetDefault("upload.upload_timeout", 30*time.Second)
	v.SetDefault("upload.finalize_timeout", 30*time.Second)
	v.SetDefault("upload.settle_timeout", 60*time.Second)
	v.SetDefault("upload.finalize_retries", 0)
	v.SetDefault("upload.retry_initial_interval", 500*time.Millisecond)
	v.SetDefault("upload.probe_chunks", true)

	v.SetDefault("capture.command", "ffmpeg")
	v.SetDefault("capture.startup_grace", 250*time.Millisecond)
	v.SetDefault("capture.stop_grace", 1200*time.Millisecond)

	v.SetDefault("backend.transport", string(constant.TransportREST))

	v.SetDefault("minio.bucket", "videos")
	v.SetDefault("rabbitmq_port", 5672)
	v.SetDefault("rabbitmq_kind", "direct")
}

// Load reads config.yaml from path. The file is optional; every key can be
// set through RECORDER_-prefixed environment variables instead.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{
		App: App{
			Environment: v.GetString("app.environment"),
			Host:        v.GetString("app.host"),
			Protocol:    v.GetString("app.protocol"),
		},
		Server: Server{
			HttpPort: v.GetString("server.port"),
		},
		Recorder: Recorder{
			Countdown:       v.GetInt("recorder.countdown"),
			SegmentDuration: v.GetDuration("recorder.segment_duration"),
			MimeType:        v.GetString("recorder.mime_type"),
			Width:           v.GetInt("recorder.width"),
			Height:          v.GetInt("recorder.height"),
			FrameRate:       v.GetInt("recorder.frame_rate"),
			Audio:           v.GetBool("recorder.audio"),
			Video:           v.GetBool("recorder.video"),
		},
		Upload: Upload{
			Workers:              v.GetInt("upload.workers"),
			QueueSize:            v.GetInt("upload.queue_size"),
			MetadataTimeout:      v.GetDuration("upload.metadata_timeout"),
			CleanupTimeout:       v.GetDuration("upload.cleanup_timeout"),
			UploadTimeout:        v.GetDuration("upload.upload_timeout"),
			FinalizeTimeout:      v.GetDuration("upload.finalize_timeout"),
			SettleTimeout:        v.GetDuration("upload.settle_timeout"),
			FinalizeRetries:      v.GetInt("upload.finalize_retries"),
			RetryInitialInterval: v.GetDuration("upload.retry_initial_interval"),
			ProbeChunks:          v.GetBool("upload.probe_chunks"),
		},
		Capture: Capture{
			Command:      v.GetString("capture.command"),
			VideoFormat:  v.GetString("capture.video_format"),
			VideoDevice:  v.GetString("capture.video_device"),
			AudioFormat:  v.GetString("capture.audio_format"),
			AudioDevice:  v.GetString("capture.audio_device"),
			VideoCodec:   v.GetString("capture.video_codec"),
			AudioCodec:   v.GetString("capture.audio_codec"),
			VideoBitrate: v.GetString("capture.video_bitrate"),
			StartupGrace: v.GetDuration("capture.startup_grace"),
			StopGrace:    v.GetDuration("capture.stop_grace"),
		},
		Backend: Backend{
			Transport: constant.Transport(strings.ToLower(v.GetString("backend.transport"))),
			BaseURL:   v.GetString("backend.base_url"),
			Token:     v.GetString("backend.token"),
		},
		MinIO: MinIO{
			URL:             v.GetString("minio.url"),
			AccessID:        v.GetString("minio.access_id"),
			SecretAccessKey: v.GetString("minio.secret_access_key"),
			Bucket:          v.GetString("minio.bucket"),
			Secure:          v.GetBool("minio.secure"),
		},
		Postgres: Postgres{
			DSN:   v.GetString("postgresql_host"),
			Debug: v.GetBool("postgresql_debug"),
		},
		Queue: &RabbitMQ{
			Host:         v.GetString("rabbitmq_host"),
			Port:         v.GetInt("rabbitmq_port"),
			User:         v.GetString("rabbitmq_user"),
			Pass:         v.GetString("rabbitmq_pass"),
			ExchangeName: v.GetString("rabbitmq_exchange"),
			RoutingKey:   v.GetString("rabbitmq_routing_key"),
			Kind:         v.GetString("rabbitmq_kind"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Recorder.SegmentDuration < 500*time.Millisecond {
		errs = append(errs, fmt.Errorf("recorder.segment_duration must be at least 500ms, got %s", c.Recorder.SegmentDuration))
	}
	if c.Recorder.Countdown < 0 {
		errs = append(errs, fmt.Errorf("recorder.countdown must not be negative"))
	}
	if !c.Recorder.Audio && !c.Recorder.Video {
		errs = append(errs, fmt.Errorf("recorder needs audio or video enabled"))
	}
	if c.Upload.Workers < 1 {
		errs = append(errs, fmt.Errorf("upload.workers must be at least 1"))
	}
	if c.Upload.FinalizeRetries < 0 {
		errs = append(errs, fmt.Errorf("upload.finalize_retries must not be negative"))
	}

	switch c.Backend.Transport {
	case constant.TransportREST:
		if c.Backend.BaseURL == "" {
			errs = append(errs, fmt.Errorf("backend.base_url is required for the rest transport"))
		}
	case constant.TransportDirect:
		if c.MinIO.URL == "" || c.MinIO.Bucket == "" {
			errs = append(errs, fmt.Errorf("minio.url and minio.bucket are required for the direct transport"))
		}
		if c.Postgres.DSN == "" {
			errs = append(errs, fmt.Errorf("postgresql_host is required for the direct transport"))
		}
		if c.Queue == nil || c.Queue.Host == "" {
			errs = append(errs, fmt.Errorf("rabbitmq_host is required for the direct transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend.transport %q", c.Backend.Transport))
	}
	return errors.Join(errs...)
}

func OpenDB(cfg Postgres) (*sql.DB, error) {
	return sql.Open("postgres", cfg.DSN)
}

func NewMinioClient(cfg MinIO) (*minio.Client, error) {
	return minio.New(cfg.URL, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessID, cfg.SecretAccessKey, ""),
		Secure: cfg.Secure,
	})
}
