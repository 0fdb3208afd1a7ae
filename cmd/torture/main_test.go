package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/meet_torture/internal/config"
	"github.com/dgnsrekt/meet_torture/internal/participant"
	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/session/sessiontest"
	"github.com/dgnsrekt/meet_torture/internal/testbase"
)

func testHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h, err := newHarness(&config.Config{
		InstanceURL:       "https://meet.example.org",
		ParticipantsFile:  filepath.Join(dir, "participants.yaml"),
		DiagnosticsDir:    filepath.Join(dir, "diagnostics"),
		LogFile:           filepath.Join(dir, "logs", "torture.log"),
		FlakyTypes:        []participant.Type{participant.Firefox},
		LongLivedDuration: time.Second,
	})
	require.NoError(t, err)
	return h
}

func TestNewHarnessRegistersChromium(t *testing.T) {
	h := testHarness(t)
	assert.Equal(t, []participant.Type{participant.Chrome, participant.Edge}, h.factory.Registered())
	assert.Empty(t, h.roster.All())
}

func TestApplyHeadlessKeepsExplicitChoice(t *testing.T) {
	p := &config.Participants{}
	applyHeadless(p, true)
	assert.Equal(t, "true", p.Global[participant.OptHeadless])

	p = &config.Participants{Global: map[string]string{participant.OptHeadless: "false"}}
	applyHeadless(p, true)
	assert.Equal(t, "false", p.Global[participant.OptHeadless])
}

func TestRunScenariosFiltersAndRecords(t *testing.T) {
	h := testHarness(t)
	var ran []string
	list := []scenario{
		{name: "Pass", run: func(ctx context.Context, b *testbase.Base, _ *harness) error {
			ran = append(ran, b.Name())
			return nil
		}},
		{name: "Fail", run: func(ctx context.Context, b *testbase.Base, _ *harness) error {
			ran = append(ran, b.Name())
			return errors.New("no media")
		}},
		{name: "Skipped", run: func(ctx context.Context, b *testbase.Base, _ *harness) error {
			ran = append(ran, b.Name())
			return nil
		}},
	}

	results := runScenarios(context.Background(), list, testbase.Selection{Exclude: []string{"skipped"}}, h.base, h)
	assert.Equal(t, []string{"Pass", "Fail"}, ran)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "no media")
	assert.NotEmpty(t, results[0].Room)
	assert.Contains(t, results[1].String(), "FAIL")
	assert.Contains(t, results[0].String(), "PASS")
}

func TestRunScenariosStopsWhenCancelled(t *testing.T) {
	h := testHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	list := []scenario{
		{name: "First", run: func(context.Context, *testbase.Base, *harness) error { cancel(); return nil }},
		{name: "Second", run: func(context.Context, *testbase.Base, *harness) error { t.Fatal("ran after cancel"); return nil }},
	}
	results := runScenarios(ctx, list, testbase.Selection{}, h.base, h)
	assert.Len(t, results, 1)
}

func TestEachScenarioGetsOwnParticipantsAndTeardown(t *testing.T) {
	h := testHarness(t)
	var fakes []*sessiontest.Session
	h.factory.Register(participant.Chrome, func(context.Context, participant.Options) (session.Session, error) {
		fake := sessiontest.New()
		fake.OnScript = func(string, string, []any) (any, error) { return "complete", nil }
		fakes = append(fakes, fake)
		return fake, nil
	})

	var owner *participant.Participant
	var seenByB int
	var ownerStateAtB participant.State
	list := []scenario{
		{name: "A", run: func(ctx context.Context, b *testbase.Base, _ *harness) error {
			p, err := b.Manager().EnsureParticipant(ctx, 0, b.MeetURL(), participant.NewOptions())
			if err != nil {
				return err
			}
			owner = p
			_, listed := h.roster.Find(p.Name())
			assert.True(t, listed, "status api follows the running scenario")
			return nil
		}},
		{name: "B", run: func(ctx context.Context, b *testbase.Base, _ *harness) error {
			seenByB = b.Manager().Len()
			ownerStateAtB = owner.State()
			return nil
		}},
	}

	results := runScenarios(context.Background(), list, testbase.Selection{}, h.base, h)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)
	assert.Zero(t, seenByB, "scenario B starts with no participants")
	assert.Equal(t, participant.Quit, ownerStateAtB, "scenario A tore down its participants")
	require.Len(t, fakes, 1)
	assert.Equal(t, 1, fakes[0].QuitCount())
	assert.Empty(t, h.roster.All())
}

func TestListCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"list"})
	require.NoError(t, root.Execute())
	for _, name := range scenarioNames() {
		assert.Contains(t, out.String(), name)
	}
}

func TestReportLogsAndNotifies(t *testing.T) {
	var summary string
	ntfy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		summary = string(raw)
	}))
	defer ntfy.Close()

	cfg := &config.Config{InstanceURL: "https://meet.example.org", DiagnosticsDir: t.TempDir(), NotifyURL: ntfy.URL}
	results := []result{
		{Name: "Setup", Room: "torture1", Duration: time.Second},
		{Name: "EndToEnd", Room: "torture1", Err: session.NewError(session.CodeTimeout, "owner: join MUC not reached", nil)},
	}

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	report(context.Background(), cfg, results, cmd)

	assert.Contains(t, out.String(), "PASS Setup")
	assert.Contains(t, summary, "1 passed, 1 failed")
	assert.Contains(t, summary, "EndToEnd: TIMEOUT")

	day := time.Now().UTC().Format(time.DateOnly)
	logged, err := os.ReadFile(filepath.Join(cfg.DiagnosticsDir, "results", day, "results.jsonl"))
	require.NoError(t, err)
	assert.Contains(t, string(logged), `"code":"TIMEOUT"`)
	assert.Contains(t, string(logged), `"scenario":"Setup"`)
}
