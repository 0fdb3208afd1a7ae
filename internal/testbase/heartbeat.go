package testbase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/meet_torture/internal/participant"
)

// ErrConferenceLost is wrapped by every heartbeat failure.
var ErrConferenceLost = errors.New("conference lost")

// zeroDownloadLimit is how many consecutive samples without download
// bitrate a participant may report before the heartbeat fails.
const zeroDownloadLimit = 3

// Heartbeat watches a long running two-party conference and fails as soon
// as either side drops out of the room or stops receiving media.
type Heartbeat struct {
	owner  *participant.Participant
	second *participant.Participant
	// CheckSecondBitrate also counts zero-download samples of the second
	// participant.
	CheckSecondBitrate bool

	ownerZero  int
	secondZero int
}

func NewHeartbeat(owner, second *participant.Participant) *Heartbeat {
	return &Heartbeat{owner: owner, second: second, CheckSecondBitrate: true}
}

// Run checks the conference every interval until duration has passed. It
// returns nil if the conference survived, the first failure otherwise, or
// the context error.
func (h *Heartbeat) Run(ctx context.Context, duration, interval time.Duration) error {
	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	started := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			slog.Info("heartbeat finished", "ran", time.Since(started).Round(time.Second))
			return nil
		case <-ticker.C:
			slog.Debug("heartbeat check", "remaining", (duration - time.Since(started)).Round(time.Second))
			if err := h.Check(ctx); err != nil {
				slog.Error("heartbeat failed", "error", err)
				return err
			}
		}
	}
}

// Check runs one round of conference checks.
func (h *Heartbeat) Check(ctx context.Context) error {
	for _, p := range []*participant.Participant{h.owner, h.second} {
		if !p.IsICEConnected(ctx) {
			return lost(p, "ice is not connected")
		}
		if !p.IsInMUC(ctx) {
			return lost(p, "is not in the muc")
		}
	}

	if zeroDownload(ctx, h.owner, &h.ownerZero) {
		return lost(h.owner, "has had no download bitrate for %d checks", zeroDownloadLimit)
	}
	if h.CheckSecondBitrate && zeroDownload(ctx, h.second, &h.secondZero) {
		return lost(h.second, "has had no download bitrate for %d checks", zeroDownloadLimit)
	}

	for _, p := range []*participant.Participant{h.owner, h.second} {
		if !p.IsXMPPConnected(ctx) {
			return lost(p, "xmpp connection is not connected")
		}
	}
	return nil
}

// zeroDownload counts consecutive samples without download and reports
// whether the limit was reached. A failed read counts as no download.
func zeroDownload(ctx context.Context, p *participant.Participant, count *int) bool {
	rate, err := p.Bitrate(ctx)
	if err != nil || rate.Download <= 0 {
		*count++
		slog.Warn("no download bitrate", "participant", p.Name(), "samples", *count, "error", err)
	} else {
		*count = 0
	}
	return *count >= zeroDownloadLimit
}

func lost(p *participant.Participant, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s", ErrConferenceLost, p.Name(), fmt.Sprintf(format, args...))
}
