// Package driver builds browser sessions for participants. Chromium based
// types are driven over the DevTools protocol, either through chromedp or
// through a launched browser and a raw websocket connection.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dgnsrekt/meet_torture/internal/browser"
	"github.com/dgnsrekt/meet_torture/internal/cdp"
	"github.com/dgnsrekt/meet_torture/internal/netutil"
	"github.com/dgnsrekt/meet_torture/internal/participant"
	"github.com/dgnsrekt/meet_torture/internal/session"
)

// Driver names accepted in the "driver" option.
const (
	Chromedp = "chromedp"
	Raw      = "raw"
)

// Builder turns participant options into DevTools sessions.
type Builder struct {
	// LogDir receives one browser log per participant launched by the raw
	// driver. Empty discards browser output.
	LogDir string
}

// Register installs session builders for every type this package can drive.
func (b *Builder) Register(f *participant.Factory) {
	for _, t := range participant.Types {
		if t.IsChromium() {
			f.Register(t, b.builder(t))
		}
	}
}

func (b *Builder) builder(t participant.Type) participant.SessionBuilder {
	return func(ctx context.Context, opts participant.Options) (session.Session, error) {
		return b.Build(ctx, t, opts)
	}
}

// Build starts or attaches to a browser for a participant of type t.
func (b *Builder) Build(ctx context.Context, t participant.Type, opts participant.Options) (session.Session, error) {
	if !t.IsChromium() {
		return nil, session.NewError(session.CodeUnsupported, fmt.Sprintf("type %q cannot be driven over DevTools", t), nil)
	}
	cfg, err := BrowserConfig(t, opts)
	if err != nil {
		return nil, err
	}

	drv := strings.ToLower(opts.Get(participant.OptDriver))
	if drv == "" {
		drv = Chromedp
	}
	log := slog.With("type", t, "driver", drv, "participant", opts.Get(participant.OptName))

	if opts.Bool(participant.OptRemote) {
		addr := RemoteAddress(opts)
		log.Info("attaching to remote browser", "address", addr)
		switch drv {
		case Chromedp:
			return dialed(cdp.DialChromedp(ctx, cdp.ChromedpOptions{RemoteURL: addr}))
		case Raw:
			return dialed(cdp.DialRaw(ctx, addr, nil))
		}
		return nil, unknownDriver(drv)
	}

	switch drv {
	case Chromedp:
		flags := cfg.Flags()
		if cfg.ProfileDir != "" {
			flags = append(flags, "--user-data-dir="+cfg.ProfileDir)
		}
		log.Info("starting browser", "binary", cfg.Binary, "headless", cfg.Headless)
		return dialed(cdp.DialChromedp(ctx, cdp.ChromedpOptions{ExecPath: cfg.Binary, Flags: flags, Headless: cfg.Headless}))
	case Raw:
		return b.launchRaw(ctx, cfg, opts, log)
	}
	return nil, unknownDriver(drv)
}

// dialed keeps a failed dial from returning a typed nil session.
func dialed(s *cdp.Session, err error) (session.Session, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Builder) launchRaw(ctx context.Context, cfg browser.Config, opts participant.Options, log *slog.Logger) (session.Session, error) {
	port, err := netutil.FreePort("127.0.0.1")
	if err != nil {
		return nil, session.NewError(session.CodeSession, "allocate devtools port", err)
	}
	cfg.DebugAddress = "127.0.0.1"
	cfg.DebugPort = port
	if b.LogDir != "" {
		cfg.LogFile = filepath.Join(b.LogDir, "browser-"+logName(opts)+".log")
	}

	l := browser.NewLauncher(cfg)
	if err := l.Launch(ctx); err != nil {
		return nil, session.NewError(session.CodeSession, "launch browser", err)
	}
	log.Info("browser launched", "devtools", l.HTTPBase())

	s, err := cdp.DialRaw(ctx, l.HTTPBase(), l.Stop)
	if err != nil {
		if stopErr := l.Stop(); stopErr != nil {
			log.Warn("stopping browser after failed dial", "error", stopErr)
		}
		return nil, err
	}
	return s, nil
}

// BrowserConfig maps participant options onto launch settings.
func BrowserConfig(t participant.Type, opts participant.Options) (browser.Config, error) {
	size, err := windowSize(opts.Get(participant.OptWindowSize))
	if err != nil {
		return browser.Config{}, err
	}
	cfg := browser.Config{
		Binary:        opts.Get(participant.OptBinary),
		ProfileDir:    opts.Get(participant.OptProfileDir),
		Headless:      opts.Bool(participant.OptHeadless),
		NoSandbox:     opts.Bool(participant.OptDisableSandbox),
		WindowSize:    size,
		FakeAudioFile: absolute(opts.Get(participant.OptFakeAudio)),
		FakeVideoFile: absolute(opts.Get(participant.OptFakeVideo)),
	}
	if opts.Bool(participant.OptAllowInsecureOrigin) {
		cfg.ExtraFlags = append(cfg.ExtraFlags, "--allow-insecure-localhost")
	}
	if cfg.Binary == "" && t == participant.Edge {
		cfg.Binary = lookPath("microsoft-edge-stable", "microsoft-edge")
	}
	if v := opts.Get(participant.OptVersion); v != "" {
		slog.Debug("browser version pin is ignored for local browsers", "version", v)
	}
	return cfg, nil
}

// RemoteAddress is the DevTools endpoint of a remote browser: the address
// plus the optional resource path.
func RemoteAddress(opts participant.Options) string {
	addr := strings.TrimRight(opts.Get(participant.OptRemoteAddress), "/")
	if p := strings.Trim(opts.Get(participant.OptRemoteResourcePath), "/"); p != "" {
		addr += "/" + p
	}
	return addr
}

// windowSize validates "W,H" (or "WxH") and returns it in "W,H" form.
func windowSize(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	w, h, ok := strings.Cut(strings.ReplaceAll(s, "x", ","), ",")
	wi, werr := strconv.Atoi(strings.TrimSpace(w))
	hi, herr := strconv.Atoi(strings.TrimSpace(h))
	if !ok || werr != nil || herr != nil || wi <= 0 || hi <= 0 {
		return "", session.NewError(session.CodeValidation, fmt.Sprintf("invalid window size %q", s), nil)
	}
	return fmt.Sprintf("%d,%d", wi, hi), nil
}

func absolute(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

func lookPath(names ...string) string {
	for _, n := range names {
		if p, err := exec.LookPath(n); err == nil {
			return p
		}
	}
	return ""
}

func logName(opts participant.Options) string {
	name := opts.Get(participant.OptName)
	if name == "" {
		name = "participant"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, name)
}

func unknownDriver(name string) error {
	return session.NewError(session.CodeValidation, fmt.Sprintf("unknown driver %q (want %s or %s)", name, Chromedp, Raw), nil)
}
