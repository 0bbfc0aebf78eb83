package middleware

import (
	"fmt"
	"time"

	"appbridge/internal/ctx"
	"appbridge/internal/metrics"
	"appbridge/internal/shared"

	"github.com/aidarkhanov/nanoid"
	"github.com/labstack/echo/v4"
	emw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewTrackMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reqID, _ := nanoid.Generate(shared.RequestIDAlphabet, shared.RequestIDLength)
			reqID = "req_" + reqID
			externalID := c.Request().Header.Get(shared.RequestIDHeader)
			logger := log.With("request_id", reqID)
			if externalID != "" {
				logger = logger.With("externalid", externalID)
			}
			c.Response().Header().Set(shared.RequestIDHeader, reqID)

			lv := &ctx.ContextLogValues{
				RequestID:  reqID,
				ExternalID: externalID,
				StartTime:  time.Now(),
				Path:       c.Request().URL.Path,
				Method:     c.Request().Method,
			}
			cc := &ctx.Context{Context: c, Log: logger, Reqid: reqID, LogValues: lv}
			err := next(cc)
			if err != nil {
				lv.AddError(err)
				c.Error(err)
			}
			lv.RequestDuration = time.Since(lv.StartTime)
			lv.StatusCode = cc.Response().Status

			level := zapcore.InfoLevel
			switch {
			case lv.StatusCode >= 500 || lv.Fallback:
				level = zapcore.ErrorLevel
			case lv.StatusCode >= 400:
				level = zapcore.WarnLevel
			}
			log.Desugar().Check(level, "end_of_request").Write(zap.Object("request", lv))
			metrics.ResponseCodes.WithLabelValues(cc.Path(), fmt.Sprintf("%d", lv.StatusCode)).Inc()
			return nil
		}
	}
}

func NewRecoverMiddleware(log *zap.SugaredLogger) echo.MiddlewareFunc {
	return emw.RecoverWithConfig(emw.RecoverConfig{
		StackSize: 4 << 10,
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			defer func() {
				_ = log.Sync()
			}()
			log.Errorw("Host panic", "error", err.Error(), "stack", string(stack))
			return c.String(500, shared.ErrInternalServerError.Err.Error())
		},
	})
}
