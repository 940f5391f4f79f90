package service

import (
	"github.com/rs/zerolog"
	"testimonial-recorder/constant"
	"testimonial-recorder/dto"
)

// EventSink receives recorder and upload events. Publish must not block and
// must not call back into the Recorder.
type EventSink interface {
	Publish(event dto.Event)
}

type SinkFunc func(event dto.Event)

func (f SinkFunc) Publish(event dto.Event) {
	f(event)
}

type MultiSink []EventSink

func (m MultiSink) Publish(event dto.Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Publish(event)
		}
	}
}

type nopSink struct{}

func (nopSink) Publish(dto.Event) {}

type logSink struct {
	logger zerolog.Logger
}

// NewLogSink mirrors events into the structured log. Elapsed ticks go to debug.
func NewLogSink(logger zerolog.Logger) EventSink {
	return &logSink{logger: logger}
}

func (s *logSink) Publish(event dto.Event) {
	var e *zerolog.Event
	switch event.Type {
	case constant.EventTypeNotice:
		e = s.logger.Info()
		if event.Notice != nil {
			switch event.Notice.Level {
			case constant.NoticeLevelError:
				e = s.logger.Error()
			case constant.NoticeLevelWarning:
				e = s.logger.Warn()
			}
			e = e.Str("code", string(event.Notice.Code)).Str("detail", event.Notice.Detail)
			e.Str("session_id", event.SessionID).Msg(event.Notice.Message)
			return
		}
	case constant.EventTypeElapsed, constant.EventTypeCountdown:
		e = s.logger.Debug()
	default:
		e = s.logger.Info()
	}

	e = e.Str("session_id", event.SessionID).Str("event", string(event.Type))
	if event.Status != nil {
		e = e.Str("state", string(event.Status.State)).
			Int("countdown", event.Status.Countdown).
			Str("elapsed", event.Status.Elapsed)
	}
	e.Msg("recorder event")
}

func noticeEvent(sessionID string, notice dto.Notice) dto.Event {
	return dto.Event{
		Type:      constant.EventTypeNotice,
		SessionID: sessionID,
		Notice:    &notice,
	}
}
