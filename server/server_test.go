package server

import (
	"context"
	"encoding/json"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"net/http"
	"net/http/httptest"
	"testimonial-recorder/config"
	"testimonial-recorder/constant"
	"testimonial-recorder/pkg/api"
	"testing"
	"time"
)

func TestBuildTransport(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{Backend: config.Backend{Transport: constant.TransportREST, BaseURL: "http://localhost:3000/api/"}}
	transport, err := BuildTransport(context.Background(), cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, ok := transport.(*api.Client); !ok {
		t.Fatalf("expected rest client, got %T", transport)
	}

	cfg.Backend.Transport = "smoke-signal"
	if _, err := BuildTransport(context.Background(), cfg); err == nil {
		t.Fatalf("expected unknown transport error")
	}
}

func TestBuildRecorderStartsIdle(t *testing.T) {
	t.Parallel()

	cfg := &config.Config{
		Recorder: config.Recorder{Countdown: 3, SegmentDuration: 3 * time.Second, Audio: true, Video: true},
		Upload:   config.Upload{Workers: 2},
		Backend:  config.Backend{Transport: constant.TransportREST, BaseURL: "http://localhost:3000/api/"},
	}
	recorder, err := BuildRecorder(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer recorder.Close()

	status := recorder.Status()
	if status.State != constant.RecorderStateIdle || !status.StartEnabled || status.FinishEnabled {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestLogger(zerolog.Nop().WithContext(context.Background())))
	addHealth(r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body["status"] != "ok" {
		t.Fatalf("unexpected health response %d %s", w.Code, w.Body.String())
	}
}
