package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"testimonial-recorder/config"
	"testimonial-recorder/constant"
	"testimonial-recorder/dto"
	server2 "testimonial-recorder/server"
	"testimonial-recorder/service"
	"time"
)

// idleWatcher reports when a session that became active falls back to idle
// without Finish, e.g. after a capture failure.
type idleWatcher struct {
	active atomic.Bool
	idle   chan struct{}
}

func newIdleWatcher() *idleWatcher {
	return &idleWatcher{idle: make(chan struct{}, 1)}
}

func (w *idleWatcher) Publish(event dto.Event) {
	if event.Type != constant.EventTypeState || event.Status == nil {
		return
	}
	switch event.Status.State {
	case constant.RecorderStateCountdown, constant.RecorderStateRecording:
		w.active.Store(true)
	case constant.RecorderStateIdle:
		if w.active.Load() {
			select {
			case w.idle <- struct{}{}:
			default:
			}
		}
	}
}

func record(config *config.Config) *cobra.Command {
	var (
		sessionID   string
		duration    time.Duration
		orientation string
		frameColor  string
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "record one session from the local camera and microphone",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(server2.SetupLogger(config), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			watcher := newIdleWatcher()
			sink := service.MultiSink{service.NewLogSink(*zerolog.Ctx(ctx)), watcher}
			recorder, err := server2.BuildRecorder(ctx, config, sink)
			if err != nil {
				return err
			}
			defer recorder.Close()

			err = recorder.Start(ctx, sessionID, dto.PresentationOptions{
				Orientation: constant.Orientation(orientation),
				FrameColor:  constant.FrameColor(frameColor),
			})
			if err != nil {
				return err
			}

			wait := duration + time.Duration(config.Recorder.Countdown)*time.Second
			timer := time.NewTimer(wait)
			defer timer.Stop()

			select {
			case <-timer.C:
			case <-ctx.Done():
				zerolog.Ctx(ctx).Info().Msg("interrupted, finishing recording")
			case <-watcher.idle:
				return errors.New("recording stopped before finish, see log for details")
			}

			result, err := recorder.Finish(context.WithoutCancel(ctx))
			if out, jsonErr := json.MarshalIndent(result, "", "  "); jsonErr == nil {
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
			}
			return err
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "", "doctor session uuid")
	cmd.Flags().DurationVar(&duration, "duration", 30*time.Second, "recording length after the countdown")
	cmd.Flags().StringVar(&orientation, "orientation", string(constant.OrientationPortrait), "portrait or landscape")
	cmd.Flags().StringVar(&frameColor, "frame-color", string(constant.FrameColorWhite), "frame color from the palette")
	_ = cmd.MarkFlagRequired("session")
	cmd.SetOut(os.Stdout)
	return cmd
}
