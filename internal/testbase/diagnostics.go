package testbase

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dgnsrekt/meet_torture/internal/participant"
	"github.com/dgnsrekt/meet_torture/internal/snapshot"
)

const diagnosticsParallelism = 4

// CaptureDiagnostics stores a screenshot, the page source, the client debug
// log and RTP statistics for every live participant. Nothing here fails the
// scenario: capture errors are logged and the artifact is skipped.
func (b *Base) CaptureDiagnostics(ctx context.Context, reason string) []snapshot.Artifact {
	if b.store == nil {
		return nil
	}

	var (
		mu  sync.Mutex
		out []snapshot.Artifact
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(diagnosticsParallelism)
	for _, p := range b.mgr.All() {
		if p.State() == participant.Quit {
			continue
		}
		g.Go(func() error {
			saved := b.captureParticipant(gctx, p, reason)
			mu.Lock()
			out = append(out, saved...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("diagnostics captured", "scenario", b.name, "reason", reason, "artifacts", len(out))
	return out
}

func (b *Base) captureParticipant(ctx context.Context, p *participant.Participant, reason string) []snapshot.Artifact {
	log := slog.With("scenario", b.name, "participant", p.Name())
	sess := p.Session()
	url, _ := sess.CurrentURL(ctx)

	captures := []struct {
		kind  snapshot.Kind
		fetch func() ([]byte, error)
	}{
		{snapshot.KindScreenshot, func() ([]byte, error) { return sess.Screenshot(ctx) }},
		{snapshot.KindPageSource, func() ([]byte, error) {
			src, err := sess.PageSource(ctx)
			return []byte(src), err
		}},
		{snapshot.KindMeetLog, func() ([]byte, error) {
			logs, err := p.MeetDebugLog(ctx)
			return []byte(logs), err
		}},
		{snapshot.KindRTPStats, func() ([]byte, error) {
			stats, err := p.RTPStats(ctx)
			if err != nil {
				return nil, err
			}
			return json.MarshalIndent(stats, "", "  ")
		}},
	}

	var saved []snapshot.Artifact
	for _, c := range captures {
		data, err := c.fetch()
		if err != nil {
			log.Warn("diagnostic capture failed", "kind", c.kind, "error", err)
			continue
		}
		if len(data) == 0 {
			continue
		}
		meta := snapshot.NewArtifact(b.name, p.Name(), c.kind)
		meta.Reason = reason
		meta.URL = url
		stored, err := b.store.Save(meta, data)
		if err != nil {
			log.Error("saving diagnostic failed", "kind", c.kind, "error", err)
			continue
		}
		saved = append(saved, stored)
	}
	return saved
}
