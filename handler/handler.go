package handler

import (
	"context"
	"errors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"net/http"
	"testimonial-recorder/constant"
	"testimonial-recorder/dto"
	"testimonial-recorder/service"
)

// SessionController is the part of the recorder the control surface drives.
type SessionController interface {
	Start(ctx context.Context, sessionID string, options dto.PresentationOptions) error
	Finish(ctx context.Context) (dto.FinishResult, error)
	Status() dto.Status
}

type Dependencies struct {
	Recorder SessionController
	Events   *EventHub
}

func Register(r gin.IRouter, deps Dependencies) {
	api := r.Group("/api/v1")
	api.GET("/palette", Palette)

	session := api.Group("/session")
	session.GET("", StatusHandler(deps.Recorder))
	session.POST("/start", StartHandler(deps.Recorder))
	session.POST("/finish", FinishHandler(deps.Recorder))
	if deps.Events != nil {
		session.GET("/events", deps.Events.Handle(deps.Recorder))
	}
}

func Palette(c *gin.Context) {
	c.JSON(http.StatusOK, dto.Palette{
		Orientations: []constant.Orientation{constant.OrientationPortrait, constant.OrientationLandscape},
		FrameColors:  constant.FrameColors(),
	})
}

func StatusHandler(recorder SessionController) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, recorder.Status())
	}
}

func StartHandler(recorder SessionController) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.StartRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, err)
			return
		}

		ctx := c.Request.Context()
		err := recorder.Start(ctx, req.SessionID, dto.PresentationOptions{
			Orientation: req.Orientation,
			FrameColor:  req.FrameColor,
		})
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("session_id", req.SessionID).Msg("start refused")
			writeError(c, statusFor(err), err)
			return
		}
		c.JSON(http.StatusAccepted, recorder.Status())
	}
}

// FinishHandler answers 200 with the result even when finalize failed; the
// failure is reported in the result body.
func FinishHandler(recorder SessionController) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		result, err := recorder.Finish(ctx)
		if err != nil {
			var finalizeErr *service.FinalizeError
			if !errors.As(err, &finalizeErr) {
				zerolog.Ctx(ctx).Warn().Err(err).Msg("finish refused")
				writeError(c, statusFor(err), err)
				return
			}
		}
		c.JSON(http.StatusOK, result)
	}
}

func statusFor(err error) int {
	var cleanupErr *service.CleanupError
	switch {
	case errors.Is(err, service.ErrInvalidSession), errors.Is(err, service.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrSessionActive), errors.Is(err, service.ErrVideoProcessing), errors.Is(err, service.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, service.ErrSessionUnavailable):
		return http.StatusNotFound
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden
	case service.IsDeviceUnavailable(err), errors.Is(err, service.ErrRecorderClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &cleanupErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, status int, err error) {
	c.JSON(status, gin.H{
		"errors": gin.H{
			"message": err.Error(),
		},
	})
}
