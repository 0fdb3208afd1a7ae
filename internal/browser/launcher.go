// Package browser starts local Chromium-family browsers configured for
// conference testing: fake media devices, no permission prompts and a
// DevTools endpoint.
package browser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds browser launch configuration.
type Config struct {
	// Binary overrides browser detection.
	Binary       string
	DebugAddress string
	DebugPort    int
	ProfileDir   string
	Headless     bool
	NoSandbox    bool
	WindowSize   string
	// FakeAudioFile and FakeVideoFile replace the synthetic capture devices
	// (a .wav and a .y4m/.mjpeg file).
	FakeAudioFile string
	FakeVideoFile string
	// ExtraFlags are appended verbatim.
	ExtraFlags []string
	// LogFile receives the browser's stdout and stderr; empty discards them.
	LogFile  string
	StartURL string
}

// Flags returns the command line switches every harness browser gets,
// without DevTools or profile settings.
func (c Config) Flags() []string {
	size := c.WindowSize
	if size == "" {
		size = "1280,720"
	}
	flags := []string{
		"--use-fake-ui-for-media-stream",
		"--use-fake-device-for-media-stream",
		"--autoplay-policy=no-user-gesture-required",
		"--disable-dev-shm-usage",
		"--ignore-certificate-errors",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-breakpad",
		"--window-size=" + size,
	}
	if c.FakeAudioFile != "" {
		flags = append(flags, "--use-file-for-fake-audio-capture="+c.FakeAudioFile)
	}
	if c.FakeVideoFile != "" {
		flags = append(flags, "--use-file-for-fake-video-capture="+c.FakeVideoFile)
	}
	if c.Headless {
		flags = append(flags, "--headless=new", "--mute-audio")
	}
	if c.NoSandbox {
		flags = append(flags, "--no-sandbox")
	}
	return append(flags, c.ExtraFlags...)
}

// Args returns the full argument list used by Launch.
func (c Config) Args() []string {
	args := []string{
		fmt.Sprintf("--remote-debugging-port=%d", c.DebugPort),
		fmt.Sprintf("--remote-debugging-address=%s", c.DebugAddress),
		fmt.Sprintf("--user-data-dir=%s", c.ProfileDir),
	}
	args = append(args, c.Flags()...)
	if c.StartURL != "" {
		args = append(args, c.StartURL)
	}
	return args
}

// Launcher manages the lifecycle of a browser process.
type Launcher struct {
	cfg     Config
	cmd     *exec.Cmd
	logs    io.WriteCloser
	running bool
}

// NewLauncher creates a new browser launcher with the given config.
func NewLauncher(cfg Config) *Launcher {
	if cfg.DebugAddress == "" {
		cfg.DebugAddress = "127.0.0.1"
	}
	if cfg.StartURL == "" {
		cfg.StartURL = "about:blank"
	}
	return &Launcher{cfg: cfg}
}

// HTTPBase is the DevTools HTTP endpoint, e.g. http://127.0.0.1:9222.
func (l *Launcher) HTTPBase() string {
	return "http://" + net.JoinHostPort(l.cfg.DebugAddress, strconv.Itoa(l.cfg.DebugPort))
}

// detectBrowser finds an available Chrome/Chromium binary.
func detectBrowser() (string, error) {
	candidates := []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable", "microsoft-edge"}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried %v)", candidates)
}

// isPortInUse checks whether a TCP port is already listening.
func isPortInUse(address string, port int) bool {
	conn, err := net.DialTimeout("tcp", net.JoinHostPort(address, strconv.Itoa(port)), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// Launch starts the browser process unless the DevTools port is already in
// use, in which case the running browser is attached to as is.
func (l *Launcher) Launch(ctx context.Context) error {
	if isPortInUse(l.cfg.DebugAddress, l.cfg.DebugPort) {
		slog.Info("browser already running, skipping launch",
			"address", l.cfg.DebugAddress, "port", l.cfg.DebugPort)
		return nil
	}

	path := l.cfg.Binary
	if path == "" {
		var err error
		if path, err = detectBrowser(); err != nil {
			return err
		}
	}
	slog.Debug("launching browser", "path", path)

	if l.cfg.ProfileDir == "" {
		dir, err := os.MkdirTemp("", "torture-profile-*")
		if err != nil {
			return fmt.Errorf("create profile dir: %w", err)
		}
		l.cfg.ProfileDir = dir
	} else if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	l.cmd = exec.Command(path, l.cfg.Args()...)
	if l.cfg.LogFile != "" {
		l.logs = &lumberjack.Logger{Filename: l.cfg.LogFile, MaxSize: 20, MaxBackups: 2}
		l.cmd.Stdout = l.logs
		l.cmd.Stderr = l.logs
	}

	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	l.running = true
	slog.Info("browser process started", "pid", l.cmd.Process.Pid, "port", l.cfg.DebugPort)

	if err := l.waitForCDP(ctx); err != nil {
		_ = l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	return nil
}

// waitForCDP polls the /json/version endpoint until it responds.
func (l *Launcher) waitForCDP(ctx context.Context) error {
	url := l.HTTPBase() + "/json/version"
	deadline := time.After(15 * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("CDP did not become ready within 15s at %s", url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Running reports whether this launcher spawned a browser process.
func (l *Launcher) Running() bool {
	return l.running
}

// Stop terminates the browser process with SIGTERM, falling back to SIGKILL.
func (l *Launcher) Stop() error {
	if l.cmd == nil || l.cmd.Process == nil || !l.running {
		return nil
	}
	pid := l.cmd.Process.Pid
	slog.Debug("stopping browser", "pid", pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL", "pid", pid)
		_ = l.cmd.Process.Kill()
		<-done
	}
	l.running = false
	if l.logs != nil {
		return l.logs.Close()
	}
	return nil
}
