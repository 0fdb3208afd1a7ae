package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/meet_torture/internal/participant"
	"github.com/dgnsrekt/meet_torture/internal/testbase"
)

const heartbeatInterval = 10 * time.Second

// scenario is one named conference check.
type scenario struct {
	name        string
	description string
	run         func(ctx context.Context, b *testbase.Base, h *harness) error
}

var scenarios = []scenario{
	{
		name:        "Setup",
		description: "owner joins an empty room and becomes moderator",
		run: func(ctx context.Context, b *testbase.Base, h *harness) error {
			if err := b.EnsureOneParticipant(ctx, testbase.Join{}); err != nil {
				return err
			}
			return b.Participant(0).WaitToBecomeModerator(ctx, participant.DefaultModeratorTimeout)
		},
	},
	{
		name:        "EndToEnd",
		description: "two participants exchange media, then the second leaves",
		run: func(ctx context.Context, b *testbase.Base, h *harness) error {
			if err := b.EnsureTwoParticipants(ctx, testbase.Join{}, testbase.Join{}); err != nil {
				return err
			}
			if err := b.Participant(0).WaitForRemoteStreams(ctx, 1, participant.DefaultStreamsTimeout); err != nil {
				return err
			}
			return b.HangUpAllExceptOwner(ctx)
		},
	},
	{
		name:        "ThreeParties",
		description: "three participants exchange media",
		run: func(ctx context.Context, b *testbase.Base, h *harness) error {
			return b.EnsureThreeParticipants(ctx, testbase.Join{}, testbase.Join{}, testbase.Join{})
		},
	},
	{
		name:        "LongLived",
		description: "two participants stay connected for the long-lived duration",
		run: func(ctx context.Context, b *testbase.Base, h *harness) error {
			if err := b.EnsureTwoParticipants(ctx, testbase.Join{}, testbase.Join{}); err != nil {
				return err
			}
			return testbase.NewHeartbeat(b.Participant(0), b.Participant(1)).
				Run(ctx, h.cfg.LongLivedDuration, heartbeatInterval)
		},
	},
}

func scenarioNames() []string {
	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.name
	}
	return names
}

// result records how one scenario ended.
type result struct {
	Name        string
	Room        string
	Err         error
	Duration    time.Duration
	Diagnostics int
}

func (r result) String() string {
	status := "PASS"
	if r.Err != nil {
		status = "FAIL"
	}
	s := fmt.Sprintf("%-4s %-14s %8s room=%s", status, r.Name, r.Duration.Round(time.Millisecond), r.Room)
	if r.Err != nil {
		s += fmt.Sprintf(" artifacts=%d error=%v", r.Diagnostics, r.Err)
	}
	return s
}

// runScenarios runs the selected scenarios in order, tearing down each
// scenario's participants once it finishes. A failing scenario
// captures diagnostics and the run moves on; a cancelled context stops it.
func runScenarios(ctx context.Context, list []scenario, sel testbase.Selection, newBase func(string) *testbase.Base, h *harness) []result {
	var out []result
	for _, sc := range list {
		if !sel.Enabled(sc.name) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		b := newBase(sc.name)
		log := slog.With("scenario", sc.name, "room", b.RoomName())
		log.Info("scenario starting", "description", sc.description)

		start := time.Now()
		err := sc.run(ctx, b, h)
		r := result{Name: sc.name, Room: b.RoomName(), Err: err, Duration: time.Since(start)}
		if err != nil {
			log.Error("scenario failed", "error", err)
			r.Diagnostics = len(b.CaptureDiagnostics(context.WithoutCancel(ctx), err.Error()))
		} else {
			log.Info("scenario passed", "duration", r.Duration.Round(time.Millisecond))
		}
		b.Cleanup(context.WithoutCancel(ctx))
		out = append(out, r)
	}
	return out
}
