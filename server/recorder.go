package server

import (
	"context"
	"fmt"
	"testimonial-recorder/config"
	"testimonial-recorder/constant"
	"testimonial-recorder/pkg/api"
	"testimonial-recorder/pkg/capture"
	"testimonial-recorder/pkg/rabbitmq"
	"testimonial-recorder/pkg/storage"
	"testimonial-recorder/repository"
	"testimonial-recorder/service"
)

// BuildTransport connects the configured backend. Connections opened for the
// direct transport live until ctx is done.
func BuildTransport(ctx context.Context, cfg *config.Config) (service.Transport, error) {
	switch cfg.Backend.Transport {
	case constant.TransportREST:
		return api.NewClient(api.Config{
			BaseURL: cfg.Backend.BaseURL,
			Token:   cfg.Backend.Token,
		})
	case constant.TransportDirect:
		return buildDirectTransport(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Backend.Transport)
	}
}

func buildDirectTransport(ctx context.Context, cfg *config.Config) (service.Transport, error) {
	db, err := config.OpenDB(cfg.Postgres)
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = db.Close()
	}()

	repo, err := repository.NewRepo(db, cfg.Postgres.Debug)
	if err != nil {
		return nil, err
	}

	minioClient, err := config.NewMinioClient(cfg.MinIO)
	if err != nil {
		return nil, err
	}
	store := storage.NewMinioStore(minioClient, cfg.MinIO.Bucket)
	if err := store.EnsureBucket(ctx); err != nil {
		return nil, err
	}

	conn, err := config.NewRabbitMQConn(ctx, cfg.Queue)
	if err != nil {
		return nil, err
	}
	publisher, err := rabbitmq.NewRecordingPublisher(conn, cfg.Queue)
	if err != nil {
		return nil, err
	}

	return service.NewDirectTransport(repo, store, publisher), nil
}

func UploadConfig(cfg *config.Config) service.UploadConfig {
	return service.UploadConfig{
		Workers:              cfg.Upload.Workers,
		QueueSize:            cfg.Upload.QueueSize,
		MetadataTimeout:      cfg.Upload.MetadataTimeout,
		CleanupTimeout:       cfg.Upload.CleanupTimeout,
		UploadTimeout:        cfg.Upload.UploadTimeout,
		FinalizeTimeout:      cfg.Upload.FinalizeTimeout,
		SettleTimeout:        cfg.Upload.SettleTimeout,
		FinalizeRetries:      cfg.Upload.FinalizeRetries,
		RetryInitialInterval: cfg.Upload.RetryInitialInterval,
		ProbeChunks:          cfg.Upload.ProbeChunks,
	}
}

func captureConfig(cfg *config.Config) capture.Config {
	return capture.Config{
		Command:      cfg.Capture.Command,
		VideoFormat:  cfg.Capture.VideoFormat,
		VideoDevice:  cfg.Capture.VideoDevice,
		AudioFormat:  cfg.Capture.AudioFormat,
		AudioDevice:  cfg.Capture.AudioDevice,
		VideoCodec:   cfg.Capture.VideoCodec,
		AudioCodec:   cfg.Capture.AudioCodec,
		VideoBitrate: cfg.Capture.VideoBitrate,
		StartupGrace: cfg.Capture.StartupGrace,
		StopGrace:    cfg.Capture.StopGrace,
	}
}

// BuildRecorder wires ffmpeg capture, the upload coordinator and the
// configured transport into a Recorder publishing to sink.
func BuildRecorder(ctx context.Context, cfg *config.Config, sink service.EventSink) (*service.Recorder, error) {
	transport, err := BuildTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}

	capCfg := captureConfig(cfg)
	devices := service.NewDeviceManager(capture.NewDevices(capCfg), service.NopPreview{})
	clock := service.RealClock()
	uploads := service.NewUploadCoordinator(transport, UploadConfig(cfg), sink, clock)

	return service.NewRecorder(service.RecorderConfig{
		Countdown:       cfg.Recorder.Countdown,
		SegmentDuration: cfg.Recorder.SegmentDuration,
		MimeType:        cfg.Recorder.MimeType,
		Constraints: service.Constraints{
			Audio:     cfg.Recorder.Audio,
			Video:     cfg.Recorder.Video,
			Width:     cfg.Recorder.Width,
			Height:    cfg.Recorder.Height,
			FrameRate: cfg.Recorder.FrameRate,
		},
	}, service.RecorderDeps{
		Devices:   devices,
		Capturers: capture.NewSegmentEncoder(capCfg),
		Uploads:   uploads,
		Sink:      sink,
		Clock:     clock,
	}), nil
}
