package browser

import (
	"context"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlagsFakeMedia(t *testing.T) {
	flags := Config{
		Headless:      true,
		NoSandbox:     true,
		FakeAudioFile: "/media/fakeAudioStream.wav",
		ExtraFlags:    []string{"--lang=en"},
	}.Flags()

	assert.Contains(t, flags, "--use-fake-ui-for-media-stream")
	assert.Contains(t, flags, "--use-fake-device-for-media-stream")
	assert.Contains(t, flags, "--use-file-for-fake-audio-capture=/media/fakeAudioStream.wav")
	assert.Contains(t, flags, "--headless=new")
	assert.Contains(t, flags, "--no-sandbox")
	assert.Contains(t, flags, "--window-size=1280,720")
	assert.Equal(t, "--lang=en", flags[len(flags)-1])
	for _, f := range flags {
		assert.False(t, strings.HasPrefix(f, "--use-file-for-fake-video-capture"), "no video file configured")
	}
}

func TestArgsCarryDevTools(t *testing.T) {
	l := NewLauncher(Config{DebugPort: 9333, ProfileDir: "/tmp/p"})
	args := l.cfg.Args()

	assert.Equal(t, "--remote-debugging-port=9333", args[0])
	assert.Equal(t, "--remote-debugging-address=127.0.0.1", args[1])
	assert.Equal(t, "--user-data-dir=/tmp/p", args[2])
	assert.Equal(t, "about:blank", args[len(args)-1])
	assert.Equal(t, "http://127.0.0.1:9333", l.HTTPBase())
}

func TestLaunchSkipsWhenPortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	l := NewLauncher(Config{DebugPort: port, Binary: "/nonexistent/browser"})
	require.NoError(t, l.Launch(context.Background()))
	assert.False(t, l.Running())
	assert.NoError(t, l.Stop())
}

func TestLaunchMissingBinary(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	l := NewLauncher(Config{DebugPort: port, Binary: "/nonexistent/browser", ProfileDir: t.TempDir()})
	err = l.Launch(context.Background())
	assert.ErrorContains(t, err, "start browser")
}
