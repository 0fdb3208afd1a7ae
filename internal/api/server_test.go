package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/meet_torture/internal/controller"
	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/snapshot"
)

type stubService struct {
	participants []controller.Status
	hungUp       []string
	err          error
	artifact     snapshot.Artifact
}

func (s *stubService) ListParticipants(ctx context.Context) ([]controller.Status, error) {
	return s.participants, s.err
}

func (s *stubService) GetParticipant(ctx context.Context, name string) (controller.Status, error) {
	if s.err != nil {
		return controller.Status{}, s.err
	}
	for _, p := range s.participants {
		if p.Name == name {
			return p, nil
		}
	}
	return controller.Status{}, session.NewError(session.CodeNotFound, "participant "+name+" not found", nil)
}

func (s *stubService) HangUp(ctx context.Context, name string) (controller.Status, error) {
	st, err := s.GetParticipant(ctx, name)
	if err != nil {
		return st, err
	}
	s.hungUp = append(s.hungUp, name)
	st.State = "not_joined"
	return st, nil
}

func (s *stubService) Screenshot(ctx context.Context, name string) ([]byte, error) {
	if _, err := s.GetParticipant(ctx, name); err != nil {
		return nil, err
	}
	return []byte("\x89PNG-" + name), nil
}

func (s *stubService) ListDiagnostics(ctx context.Context, scenario string) ([]snapshot.Artifact, error) {
	if s.artifact.ID == "" {
		return nil, s.err
	}
	return []snapshot.Artifact{s.artifact}, s.err
}

func (s *stubService) ReadDiagnostic(ctx context.Context, id string) ([]byte, snapshot.Artifact, error) {
	if id != s.artifact.ID {
		return nil, snapshot.Artifact{}, snapshot.ErrNotFound
	}
	return []byte("<html></html>"), s.artifact, nil
}

func serve(t *testing.T, svc Service, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	NewServer(svc).ServeHTTP(w, req)
	return w
}

func TestDocsDarkMode(t *testing.T) {
	w := serve(t, &stubService{}, http.MethodGet, "/docs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `data-theme="dark"`)
	assert.Contains(t, w.Body.String(), "/openapi.json")
}

func TestHealth(t *testing.T) {
	w := serve(t, &stubService{}, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, stripSchema(t, w.Body.Bytes()))
}

func TestListParticipantsNeverNull(t *testing.T) {
	w := serve(t, &stubService{}, http.MethodGet, "/api/v1/participants")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"participants":[]}`, stripSchema(t, w.Body.Bytes()))
}

func TestParticipantRoutes(t *testing.T) {
	svc := &stubService{participants: []controller.Status{{Name: "owner", Type: "chrome", State: "joined", Room: "torture1"}}}

	w := serve(t, svc, http.MethodGet, "/api/v1/participants/owner")
	require.Equal(t, http.StatusOK, w.Code)
	var st controller.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, "torture1", st.Room)

	w = serve(t, svc, http.MethodPost, "/api/v1/participants/owner/hangup")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"owner"}, svc.hungUp)

	w = serve(t, svc, http.MethodGet, "/api/v1/participants/owner/screenshot")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG-owner", w.Body.String())

	w = serve(t, svc, http.MethodGet, "/api/v1/participants/ghost")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDiagnosticsRoutes(t *testing.T) {
	art := snapshot.NewArtifact("Setup", "owner", snapshot.KindPageSource)
	svc := &stubService{artifact: art}

	w := serve(t, svc, http.MethodGet, "/api/v1/diagnostics?scenario=Setup")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Artifacts []snapshot.Artifact `json:"artifacts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Artifacts, 1)
	assert.Equal(t, "/api/v1/diagnostics/"+art.ID, body.Artifacts[0].URL)

	w = serve(t, svc, http.MethodGet, "/api/v1/diagnostics/"+art.ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")

	w = serve(t, svc, http.MethodGet, "/api/v1/diagnostics/00000000-0000-0000-0000-000000000000")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMapErr(t *testing.T) {
	cases := []struct {
		code string
		want int
	}{
		{session.CodeValidation, http.StatusBadRequest},
		{session.CodeNotFound, http.StatusNotFound},
		{session.CodeClosed, http.StatusConflict},
		{session.CodeTimeout, http.StatusGatewayTimeout},
		{session.CodeSession, http.StatusBadGateway},
		{session.CodeUnsupported, http.StatusNotImplemented},
		{"SOMETHING", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := serve(t, &stubService{err: session.NewError(tc.code, "boom", nil)}, http.MethodGet, "/api/v1/participants")
			assert.Equal(t, tc.want, w.Code)
		})
	}
	assert.Nil(t, mapErr(nil))
}

// stripSchema drops the $schema link huma adds to JSON bodies.
func stripSchema(t *testing.T, body []byte) string {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(body, &m))
	delete(m, "$schema")
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return string(out)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestRequestLoggerLevelsAndRoutes(t *testing.T) {
	buf := captureLogs(t)
	svc := &stubService{participants: []controller.Status{{Name: "owner"}}}

	serve(t, svc, http.MethodGet, "/health")
	serve(t, svc, http.MethodGet, "/api/v1/participants/owner")
	serve(t, svc, http.MethodGet, "/api/v1/participants/ghost")

	var lines []map[string]any
	dec := json.NewDecoder(buf)
	for dec.More() {
		var line map[string]any
		require.NoError(t, dec.Decode(&line))
		if line["msg"] == "status api request" {
			lines = append(lines, line)
		}
	}
	require.Len(t, lines, 3)
	assert.Equal(t, "DEBUG", lines[0]["level"])
	assert.Equal(t, "INFO", lines[1]["level"])
	assert.Equal(t, "/api/v1/participants/{name}", lines[1]["route"])
	assert.Equal(t, "/api/v1/participants/owner", lines[1]["path"])
	assert.Equal(t, "WARN", lines[2]["level"])
	assert.EqualValues(t, http.StatusNotFound, lines[2]["status"])
}
