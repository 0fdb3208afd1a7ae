package participant

import (
	"maps"
	"strconv"
	"strings"
	"time"
)

// Option keys understood by the factory and the session builders.
const (
	OptType                = "type"
	OptName                = "name"
	OptBinary              = "binary"
	OptDriver              = "driver"
	OptRemote              = "remote"
	OptRemoteAddress       = "remote.address"
	OptRemoteResourcePath  = "remote.resource.path"
	OptFakeAudio           = "fakeStreamAudioFile"
	OptFakeVideo           = "fakeStreamVideoFile"
	OptHeadless            = "headless"
	OptDisableSandbox      = "chrome.disable.sandbox"
	OptMultitab            = "multitab"
	OptProfileDir          = "profileDirectory"
	OptVersion             = "version"
	OptWindowSize          = "windowSize"
	OptPageLoadTimeout     = "pageLoadTimeout"
	OptAllowInsecureOrigin = "allowInsecureLocalhost"
)

// Defaults applied underneath every participant's options.
var defaultOptions = map[string]string{
	OptType:          string(Chrome),
	OptFakeAudio:     "resources/fakeAudioStream.wav",
	OptRemoteAddress: "http://127.0.0.1:9222",
	OptWindowSize:    "1200,600",
}

// Options is an immutable set of string properties describing how to build
// and run one participant. Unset keys fall back to built-in defaults.
type Options struct {
	props map[string]string
}

// NewOptions layers property maps; later layers win and a blank value
// removes a key set by an earlier layer.
func NewOptions(layers ...map[string]string) Options {
	props := map[string]string{}
	for _, layer := range layers {
		for k, v := range layer {
			if strings.TrimSpace(v) == "" {
				delete(props, k)
				continue
			}
			props[k] = v
		}
	}
	return Options{props: props}
}

// Merge returns o with other applied on top.
func (o Options) Merge(other Options) Options {
	return NewOptions(o.props, other.props)
}

// With returns a copy with key set to value.
func (o Options) With(key, value string) Options {
	return NewOptions(o.props, map[string]string{key: value})
}

// Map returns the explicitly set properties merged over the defaults.
func (o Options) Map() map[string]string {
	out := maps.Clone(defaultOptions)
	maps.Copy(out, o.props)
	return out
}

func (o Options) Get(key string) string {
	if v, ok := o.props[key]; ok {
		return v
	}
	return defaultOptions[key]
}

// Has reports whether key was set explicitly.
func (o Options) Has(key string) bool {
	_, ok := o.props[key]
	return ok
}

func (o Options) Bool(key string) bool {
	b, _ := strconv.ParseBool(o.Get(key))
	return b
}

func (o Options) Duration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(o.Get(key)); err == nil {
		return d
	}
	return def
}

// Type parses the configured participant type.
func (o Options) Type() (Type, error) { return ParseType(o.Get(OptType)) }

// Name returns the configured display name, or fallback when unset.
func (o Options) Name(fallback string) string {
	if n := o.Get(OptName); n != "" {
		return n
	}
	return fallback
}
