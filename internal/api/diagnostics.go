package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/meet_torture/internal/snapshot"
)

var contentTypes = map[string]string{
	"png":  "image/png",
	"html": "text/html; charset=utf-8",
	"json": "application/json",
}

func registerDiagnosticsHandlers(api huma.API, svc Service) {
	type listDiagnosticsOutput struct {
		Body struct {
			Artifacts []snapshot.Artifact `json:"artifacts"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-diagnostics", Method: http.MethodGet, Path: "/api/v1/diagnostics", Summary: "List captured diagnostics", Tags: []string{"Diagnostics"}},
		func(ctx context.Context, input *struct {
			Scenario string `query:"scenario" doc:"Only artifacts captured by this scenario"`
		}) (*listDiagnosticsOutput, error) {
			artifacts, err := svc.ListDiagnostics(ctx, input.Scenario)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listDiagnosticsOutput{}
			out.Body.Artifacts = artifacts
			if out.Body.Artifacts == nil {
				out.Body.Artifacts = []snapshot.Artifact{}
			}
			for i := range out.Body.Artifacts {
				out.Body.Artifacts[i].URL = "/api/v1/diagnostics/" + out.Body.Artifacts[i].ID
			}
			return out, nil
		})

	type artifactOutput struct {
		ContentType string `header:"Content-Type"`
		Body        []byte
	}
	huma.Register(api, huma.Operation{OperationID: "get-diagnostic", Method: http.MethodGet, Path: "/api/v1/diagnostics/{id}", Summary: "Download one artifact", Tags: []string{"Diagnostics"}},
		func(ctx context.Context, input *struct {
			ID string `path:"id"`
		}) (*artifactOutput, error) {
			data, meta, err := svc.ReadDiagnostic(ctx, input.ID)
			if err != nil {
				return nil, mapErr(err)
			}
			ct, ok := contentTypes[meta.Format]
			if !ok {
				ct = "application/octet-stream"
			}
			return &artifactOutput{ContentType: ct, Body: data}, nil
		})
}
