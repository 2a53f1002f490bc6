// Package api serves stored capture sessions over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/chatcap/internal/capture"
	"github.com/dgnsrekt/chatcap/internal/controller"
	"github.com/dgnsrekt/chatcap/internal/extract"
	"github.com/dgnsrekt/chatcap/internal/sink"
	"github.com/dgnsrekt/chatcap/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	ListSessions(ctx context.Context) ([]types.SessionMeta, error)
	GetSession(ctx context.Context, id string) (types.SessionMeta, error)
	GetSummary(ctx context.Context, id string) (*types.Summary, error)
	RebuildSummary(ctx context.Context, id string) (*types.Summary, error)
	DeleteSession(ctx context.Context, id string) error
	ListRequests(ctx context.Context, id string) ([]types.RequestRecord, error)
	StartCapture(ctx context.Context, opts controller.CaptureOptions) (types.SessionMeta, error)
	Active() string
	Extract(ctx context.Context, raw string) (extract.Result, error)
	ListResults(ctx context.Context) ([]sink.Record, error)
}

type sessionIDInput struct {
	ID string `path:"id" doc:"Session UUID"`
}

// NewServer builds the router. events, when non-nil, is mounted as the live
// SSE feed at /api/v1/events.
func NewServer(svc Service, events http.Handler) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("chatcap Session API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	if events != nil {
		router.Get("/api/v1/events", events.ServeHTTP)
	}

	registerHealthHandlers(api, svc)
	registerSessionHandlers(api, svc)
	registerCaptureHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *capture.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case capture.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case capture.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case capture.CodeBusy:
			return huma.Error409Conflict(coded.Message)
		case capture.CodeTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case capture.CodeCDPUnavailable:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return huma.Error504GatewayTimeout(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
