package main

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/dgnsrekt/meet_torture/internal/config"
	"github.com/dgnsrekt/meet_torture/internal/driver"
	"github.com/dgnsrekt/meet_torture/internal/participant"
	"github.com/dgnsrekt/meet_torture/internal/snapshot"
	"github.com/dgnsrekt/meet_torture/internal/testbase"
)

// harness is everything a run shares between scenarios.
type harness struct {
	cfg     *config.Config
	options participant.OptionsFunc
	roster  *roster
	store   *snapshot.Store
	factory *participant.Factory
}

func newHarness(cfg *config.Config) (*harness, error) {
	parts, err := config.LoadParticipants(cfg.ParticipantsFile)
	if err != nil {
		return nil, err
	}
	applyHeadless(parts, cfg.Headless)

	store, err := snapshot.NewStore(cfg.DiagnosticsDir)
	if err != nil {
		return nil, fmt.Errorf("open diagnostics store: %w", err)
	}

	factory := participant.NewFactory(participant.Settings{
		PageLoadTimeout:   cfg.PageLoadTimeout,
		KeepAliveInterval: cfg.KeepAliveInterval,
	}, participant.NewSharedBrowsers(nil, 0))
	(&driver.Builder{LogDir: filepath.Dir(cfg.LogFile)}).Register(factory)
	slog.Debug("session builders registered", "types", factory.Registered())

	return &harness{
		cfg:     cfg,
		options: parts.OptionsFunc(),
		roster:  &roster{},
		store:   store,
		factory: factory,
	}, nil
}

// applyHeadless sets the run-wide headless default on participants whose
// configuration does not choose.
func applyHeadless(p *config.Participants, headless bool) {
	if p.Global == nil {
		p.Global = map[string]string{}
	}
	if _, ok := p.Global[participant.OptHeadless]; !ok {
		p.Global[participant.OptHeadless] = strconv.FormatBool(headless)
	}
}

// base starts a scenario with a fresh participant manager and points the
// status API at it.
func (h *harness) base(name string) *testbase.Base {
	mgr := participant.NewManager(h.factory, h.options)
	h.roster.set(mgr)
	return testbase.New(name, testbase.Config{
		ServerURL:  h.cfg.InstanceURL,
		Tenant:     h.cfg.Tenant,
		RoomName:   h.cfg.RoomName,
		FlakyTypes: h.cfg.FlakyTypes,
		Timeouts:   testbase.Timeouts{MUC: h.cfg.JoinTimeout},
	}, mgr, h.store)
}
