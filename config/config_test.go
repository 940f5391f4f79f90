package config

import (
	"os"
	"path/filepath"
	"strings"
	"testimonial-recorder/constant"
	"testing"
	"time"
)

const sampleConfig = `
app:
  environment: production
server:
  port: "9000"
recorder:
  countdown: 0
  segment_duration: 5s
upload:
  workers: 1
  finalize_retries: 2
backend:
  transport: rest
  base_url: https://intake.example.com/api/
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadReadsFileAndDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.App.Environment != constant.EnvironmentProduction.String() || cfg.Server.HttpPort != "9000" {
		t.Fatalf("unexpected app/server: %+v %+v", cfg.App, cfg.Server)
	}
	if cfg.Recorder.Countdown != 0 || cfg.Recorder.SegmentDuration != 5*time.Second {
		t.Fatalf("unexpected recorder: %+v", cfg.Recorder)
	}
	if cfg.Upload.Workers != 1 || cfg.Upload.FinalizeRetries != 2 {
		t.Fatalf("unexpected upload: %+v", cfg.Upload)
	}
	if cfg.Upload.SettleTimeout != 60*time.Second || !cfg.Upload.ProbeChunks {
		t.Fatalf("defaults not applied: %+v", cfg.Upload)
	}
	if cfg.Recorder.MimeType != constant.MimeTypeWebM || !cfg.Recorder.Audio || !cfg.Recorder.Video {
		t.Fatalf("recorder defaults not applied: %+v", cfg.Recorder)
	}
	if cfg.Backend.Transport != constant.TransportREST {
		t.Fatalf("unexpected transport %q", cfg.Backend.Transport)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := writeConfig(t, sampleConfig)
	t.Setenv("RECORDER_RECORDER_SEGMENT_DURATION", "2s")
	t.Setenv("RECORDER_BACKEND_TOKEN", "secret")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Recorder.SegmentDuration != 2*time.Second {
		t.Fatalf("env override ignored: %s", cfg.Recorder.SegmentDuration)
	}
	if cfg.Backend.Token != "secret" {
		t.Fatalf("token not read from env")
	}
}

func TestLoadWithoutFileUsesEnv(t *testing.T) {
	t.Setenv("RECORDER_BACKEND_BASE_URL", "http://localhost:3000/api/")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Recorder.Countdown != 3 || cfg.Recorder.SegmentDuration != 3*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg.Recorder)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() *Config {
		return &Config{
			Recorder: Recorder{SegmentDuration: 3 * time.Second, Audio: true, Video: true},
			Upload:   Upload{Workers: 2},
			Backend:  Backend{Transport: constant.TransportREST, BaseURL: "http://localhost"},
			Queue:    &RabbitMQ{},
		}
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"valid", func(c *Config) {}, ""},
		{"short segment", func(c *Config) { c.Recorder.SegmentDuration = 100 * time.Millisecond }, "segment_duration"},
		{"no tracks", func(c *Config) { c.Recorder.Audio, c.Recorder.Video = false, false }, "audio or video"},
		{"no workers", func(c *Config) { c.Upload.Workers = 0 }, "upload.workers"},
		{"rest without url", func(c *Config) { c.Backend.BaseURL = "" }, "base_url"},
		{"direct without deps", func(c *Config) { c.Backend.Transport = constant.TransportDirect }, "minio.url"},
		{"unknown transport", func(c *Config) { c.Backend.Transport = "carrier-pigeon" }, "unknown backend.transport"},
	}
	for _, tc := range cases {
		cfg := valid()
		tc.mutate(cfg)
		err := cfg.Validate()
		if tc.want == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.want, err)
		}
	}
}

func TestRabbitMQURLEscapesCredentials(t *testing.T) {
	t.Parallel()

	cfg := &RabbitMQ{Host: "mq", Port: 5672, User: "rec", Pass: "p@ss/word"}
	if got := cfg.URL(); got != "amqp://rec:p%40ss%2Fword@mq:5672/" {
		t.Fatalf("unexpected url %q", got)
	}
}
