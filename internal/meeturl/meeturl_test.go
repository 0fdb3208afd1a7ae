package meeturl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringLayout(t *testing.T) {
	u := New("https://meet.example.org/", "torture42").
		SetTenant("acme").
		SetRoomParameters("jwt=abc").
		AppendConfig("config.debug=true&config.p2p.enabled=false", true)

	assert.Equal(t,
		"https://meet.example.org/acme/torture42?jwt=abc#config.debug=true&config.p2p.enabled=false",
		u.String())
}

func TestStringWithoutOptionalParts(t *testing.T) {
	assert.Equal(t, "https://meet.example.org/room", New("https://meet.example.org", "room").String())
}

func TestAppendConfigOverride(t *testing.T) {
	tests := []struct {
		name     string
		extra    string
		override bool
		want     string
	}{
		{name: "keeps existing without override", extra: "config.debug=false&config.new=1", override: false, want: "#config.debug=true&config.new=1"},
		{name: "replaces with override", extra: "config.debug=false", override: true, want: "#config.debug=false"},
		{name: "empty value removes", extra: "config.debug=", override: true, want: ""},
		{name: "bare key removes", extra: "config.debug", override: true, want: ""},
		{name: "bare key kept without override", extra: "config.debug", override: false, want: "#config.debug=true"},
		{name: "blank is ignored", extra: "  ", override: true, want: "#config.debug=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := New("https://m", "r").AppendConfig("config.debug=true", true)
			u.AppendConfig(tt.extra, tt.override)
			assert.Equal(t, "https://m/r"+tt.want, u.String())
		})
	}
}

func TestFragmentParamAccess(t *testing.T) {
	u := New("https://m", "r").AppendConfig("a=1&b=2", true)

	v, ok := u.FragmentParam("b")
	require.True(t, ok)
	assert.Equal(t, "2", v)

	assert.Equal(t, "1", u.RemoveFragmentParam("a"))
	assert.Equal(t, "", u.RemoveFragmentParam("missing"))
	assert.Equal(t, "https://m/r#b=2", u.String())
}

func TestCopyIsIndependent(t *testing.T) {
	orig := New("https://m", "r").AppendConfig("a=1", true)
	cp := orig.Copy().SetRoomName("other").AppendConfig("b=2", true)

	assert.Equal(t, "https://m/r#a=1", orig.String())
	assert.Equal(t, "https://m/other#a=1&b=2", cp.String())
}

func TestFragmentParamsJSON(t *testing.T) {
	u := New("https://m", "r").AppendConfig(
		"config.debug=true&interfaceConfig.SHOW_BANNER=FALSE&config.callStatsID=xyz&jwt=t", true)

	got := u.FragmentParamsJSON()
	assert.Equal(t, map[string]any{"debug": true, "callStatsID": "xyz"}, got["config"])
	assert.Equal(t, map[string]any{"SHOW_BANNER": false}, got["interfaceConfig"])
	assert.Equal(t, "t", got["jwt"])
}

func TestHost(t *testing.T) {
	host, err := New("https://meet.example.org:8443", "r").Host()
	require.NoError(t, err)
	assert.Equal(t, "meet.example.org", host)
}
