package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/meet_torture/internal/controller"
	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/snapshot"
)

type Service interface {
	ListParticipants(ctx context.Context) ([]controller.Status, error)
	GetParticipant(ctx context.Context, name string) (controller.Status, error)
	HangUp(ctx context.Context, name string) (controller.Status, error)
	Screenshot(ctx context.Context, name string) ([]byte, error)
	ListDiagnostics(ctx context.Context, scenario string) ([]snapshot.Artifact, error)
	ReadDiagnostic(ctx context.Context, id string) ([]byte, snapshot.Artifact, error)
}

func NewServer(svc Service) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("Meet Torture Status API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})

	registerHealthHandlers(api)
	registerParticipantHandlers(api, svc)
	registerDiagnosticsHandlers(api, svc)

	return router
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, snapshot.ErrNotFound) {
		return huma.Error404NotFound(err.Error())
	}
	var coded *session.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case session.CodeValidation:
			return huma.Error400BadRequest(coded.Message)
		case session.CodeNotFound:
			return huma.Error404NotFound(coded.Message)
		case session.CodeClosed, session.CodeOrdering:
			return huma.Error409Conflict(coded.Message)
		case session.CodeTimeout:
			return huma.Error504GatewayTimeout(coded.Message)
		case session.CodeSession, session.CodeMultiplex:
			return huma.Error502BadGateway(err.Error())
		case session.CodeUnsupported:
			return huma.Error501NotImplemented(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
