package participant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgnsrekt/meet_torture/internal/meeturl"
	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/wait"
)

// Bitrate is the current RTP bitrate in kbps.
type Bitrate struct {
	Upload   float64 `json:"upload"`
	Download float64 `json:"download"`
}

// LoadOptions is passed to Platform.Load.
type LoadOptions struct {
	Name            string
	Type            Type
	PageLoadTimeout time.Duration
}

// PlatformQueries reads conference state from a running client. Every
// function runs against the participant's session and may fail.
type PlatformQueries struct {
	InMUC             func(ctx context.Context, s session.Session) (bool, error)
	ICEConnected      func(ctx context.Context, s session.Session) (bool, error)
	P2PConnected      func(ctx context.Context, s session.Session) (bool, error)
	XMPPConnected     func(ctx context.Context, s session.Session) (bool, error)
	Moderator         func(ctx context.Context, s session.Session) (bool, error)
	EndpointID        func(ctx context.Context, s session.Session) (string, error)
	RemoteEndpointIDs func(ctx context.Context, s session.Session) ([]string, error)
	Bitrate           func(ctx context.Context, s session.Session) (Bitrate, error)
	RemoteStreams     func(ctx context.Context, s session.Session) (int, error)
	MemberCount       func(ctx context.Context, s session.Session) (int, error)
	TransportProtocol func(ctx context.Context, s session.Session) (string, error)
	ConfigValue       func(ctx context.Context, s session.Session, key string) (any, error)
	RTPStats          func(ctx context.Context, s session.Session) (map[string]any, error)
	MeetDebugLog      func(ctx context.Context, s session.Session) (string, error)
	LibVersion        func(ctx context.Context, s session.Session) (string, error)
}

// Platform bundles the queries with the steps that enter and leave a
// conference on one kind of client.
type Platform struct {
	PlatformQueries
	// DefaultConfig is appended to every joined URL without overriding
	// keys the caller set.
	DefaultConfig string
	// Load navigates to the conference and prepares the page.
	Load func(ctx context.Context, s session.Session, u *meeturl.URL, opts LoadOptions) error
	// Leave triggers the client's own hang-up control.
	Leave func(ctx context.Context, s session.Session) error
}

// WebDefaultConfig keeps the web client quiet and deterministic under test.
const WebDefaultConfig = "config.requireDisplayName=false" +
	"&config.debug=true" +
	"&config.testing.testMode=true" +
	"&config.disableAEC=true" +
	"&config.disableNS=true" +
	"&config.enableTalkWhileMuted=false" +
	"&config.callStatsID=false" +
	"&config.alwaysVisibleToolbar=true" +
	"&config.p2p.enabled=false" +
	"&config.p2p.useStunTurn=false" +
	"&config.gatherStats=true" +
	"&config.disable1On1Mode=true" +
	"&config.analytics.disabled=true" +
	"&interfaceConfig.SHOW_CHROME_EXTENSION_BANNER=false" +
	"&interfaceConfig.DISABLE_FOCUS_INDICATOR=true"

const (
	scriptInMUC          = "return APP.conference.isJoined();"
	scriptICEConnected   = "return APP.conference.getConnectionState() === 'connected';"
	scriptP2PConnected   = "return APP.conference.getP2PConnectionState() === 'connected';"
	scriptXMPPConnected  = "return APP.conference._room.xmpp.connection.connected;"
	scriptModerator      = "return APP.conference._room.isModerator();"
	scriptEndpointID     = "return APP.conference.getMyUserId();"
	scriptRemoteIDs      = "return APP.conference._room.getParticipants().map(p => p._id);"
	scriptStats          = "return APP.conference.getStats();"
	scriptRemoteStreams  = "return APP.conference.getNumberOfParticipantsWithTracks();"
	scriptMemberCount    = "return APP.conference.listMembers().length;"
	scriptTransport      = "return APP.conference.getStats().transport[0].type;"
	scriptConfigValue    = "return arguments[0].split('.').reduce((o, k) => o == null ? o : o[k], config);"
	scriptMeetDebugLog   = "try { return JSON.stringify(APP.conference.getLogs(), null, '    '); } catch (e) { return null; }"
	scriptLibVersion     = "return JitsiMeetJS.version;"
	scriptReadyState     = "return document.readyState;"
	scriptNoAnimations   = "try { jQuery.fx.off = true; } catch(e) {}"
	scriptDockToolbar    = "APP.UI.dockToolbar(true);"
	scriptNoTransitions  = "var s = document.createElement('style'); s.textContent = '.notransition * { animation-duration: 0s !important; -webkit-animation-duration: 0s !important; transition: none; }'; document.head.appendChild(s); document.body.classList.toggle('notransition');"
	scriptFirefoxNoBlur  = "try { var blur = document.querySelector('.video_blurred_container'); if (blur) { blur.style.display = 'none'; } } catch(e) {}"
	scriptNoCallStats    = "config.callStatsID=false;"
	scriptStampTitle     = "document.title = arguments[0];"
	scriptHangUpFallback = "APP.conference.hangup();"
)

// HangUpButton locates the web toolbar's leave control.
var HangUpButton = session.CSS(`[aria-label="Leave the meeting"]`)

func scriptBool(script string) func(context.Context, session.Session) (bool, error) {
	return func(ctx context.Context, s session.Session) (bool, error) {
		v, err := s.ExecuteScript(ctx, script)
		if err != nil {
			return false, err
		}
		b, _ := v.(bool)
		return b, nil
	}
}

func scriptString(script string) func(context.Context, session.Session) (string, error) {
	return func(ctx context.Context, s session.Session) (string, error) {
		v, err := s.ExecuteScript(ctx, script)
		if err != nil {
			return "", err
		}
		return asString(v), nil
	}
}

func scriptInt(script string) func(context.Context, session.Session) (int, error) {
	return func(ctx context.Context, s session.Session) (int, error) {
		v, err := s.ExecuteScript(ctx, script)
		if err != nil {
			return 0, err
		}
		return int(asFloat(v)), nil
	}
}

func asString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func asFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		f, _ := x.Float64()
		return f
	default:
		return 0
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func webStats(ctx context.Context, s session.Session) (map[string]any, error) {
	v, err := s.ExecuteScript(ctx, scriptStats)
	if err != nil {
		return nil, err
	}
	return asMap(v), nil
}

func webBitrate(ctx context.Context, s session.Session) (Bitrate, error) {
	stats, err := webStats(ctx, s)
	if err != nil {
		return Bitrate{}, err
	}
	rate := asMap(stats["bitrate"])
	return Bitrate{Upload: asFloat(rate["upload"]), Download: asFloat(rate["download"])}, nil
}

func webRemoteIDs(ctx context.Context, s session.Session) ([]string, error) {
	v, err := s.ExecuteScript(ctx, scriptRemoteIDs)
	if err != nil {
		return nil, err
	}
	list, _ := v.([]any)
	out := make([]string, 0, len(list))
	for _, id := range list {
		out = append(out, asString(id))
	}
	return out, nil
}

// WebQueries reads state from the web client's global APP object.
func WebQueries() PlatformQueries {
	return PlatformQueries{
		InMUC:             scriptBool(scriptInMUC),
		ICEConnected:      scriptBool(scriptICEConnected),
		P2PConnected:      scriptBool(scriptP2PConnected),
		XMPPConnected:     scriptBool(scriptXMPPConnected),
		Moderator:         scriptBool(scriptModerator),
		EndpointID:        scriptString(scriptEndpointID),
		RemoteEndpointIDs: webRemoteIDs,
		Bitrate:           webBitrate,
		RemoteStreams:     scriptInt(scriptRemoteStreams),
		MemberCount:       scriptInt(scriptMemberCount),
		TransportProtocol: scriptString(scriptTransport),
		ConfigValue: func(ctx context.Context, s session.Session, key string) (any, error) {
			return s.ExecuteScript(ctx, scriptConfigValue, key)
		},
		RTPStats:     webStats,
		MeetDebugLog: scriptString(scriptMeetDebugLog),
		LibVersion:   scriptString(scriptLibVersion),
	}
}

// WebPlatform drives the browser client.
func WebPlatform() Platform {
	return Platform{
		PlatformQueries: WebQueries(),
		DefaultConfig:   WebDefaultConfig,
		Load:            webLoad,
		Leave:           webLeave,
	}
}

func webLoad(ctx context.Context, s session.Session, u *meeturl.URL, opts LoadOptions) error {
	log := slog.With("participant", opts.Name)
	log.Info("joining conference", "url", u.String())

	if err := s.Navigate(ctx, u.String(), opts.PageLoadTimeout); err != nil {
		if !session.IsCode(err, session.CodeTimeout) {
			return err
		}
		// The page is normally usable even when the load event is late.
		log.Warn("page load timed out, continuing", "error", err)
	}

	if frame := u.IframeToNavigateTo(); frame != "" {
		err := wait.For(ctx, 10*time.Second, 250*time.Millisecond, "iframe "+frame, func(ctx context.Context) (bool, error) {
			els, err := s.FindElements(ctx, session.ID(frame))
			return len(els) > 0, err
		})
		if err != nil {
			return err
		}
		if err := s.SwitchToFrame(ctx, frame); err != nil {
			return err
		}
	} else if err := waitForPageLoad(ctx, s); err != nil {
		return err
	}

	steps := []string{scriptNoAnimations, scriptDockToolbar, scriptNoTransitions}
	if opts.Type.IsFirefox() {
		steps = append(steps, scriptFirefoxNoBlur)
	}
	if v, ok := u.FragmentParam("config.callStatsID"); ok && v == "false" {
		steps = append(steps, scriptNoCallStats)
	}
	for _, script := range steps {
		if _, err := s.ExecuteScript(ctx, script); err != nil {
			log.Warn("post-load script failed", "script", script, "error", err)
		}
	}

	if v, err := s.ExecuteScript(ctx, scriptLibVersion); err == nil {
		log.Info("client library loaded", "version", asString(v))
	}
	if _, err := s.ExecuteScript(ctx, scriptStampTitle, opts.Name); err != nil {
		log.Warn("stamping document title failed", "error", err)
	}
	return nil
}

func waitForPageLoad(ctx context.Context, s session.Session) error {
	return wait.For(ctx, 10*time.Second, 100*time.Millisecond, "page load", func(ctx context.Context) (bool, error) {
		v, err := s.ExecuteScript(ctx, scriptReadyState)
		return asString(v) == "complete", err
	})
}

func webLeave(ctx context.Context, s session.Session) error {
	btn, err := s.FindElement(ctx, HangUpButton)
	if err != nil {
		_, scriptErr := s.ExecuteScript(ctx, scriptHangUpFallback)
		if scriptErr != nil {
			return fmt.Errorf("hang-up control not found: %w", err)
		}
		return nil
	}
	return btn.Click(ctx)
}
