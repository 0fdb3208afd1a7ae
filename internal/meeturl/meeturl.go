// Package meeturl builds conference URLs of the form
// server[/tenant]/room[?params][#key=value&key=value].
package meeturl

import (
	"net/url"
	"strings"
)

// URL is a conference address. Fragment parameters keep insertion order so
// the rendered string is stable.
type URL struct {
	serverURL      string
	tenant         string
	roomName       string
	roomParameters string
	iframe         string

	keys   []string
	params map[string]string
}

// New returns a URL for room on server. A trailing slash on server is dropped.
func New(server, room string) *URL {
	u := &URL{params: make(map[string]string)}
	u.SetServerURL(server)
	u.roomName = room
	return u
}

func (u *URL) ServerURL() string      { return u.serverURL }
func (u *URL) Tenant() string         { return u.tenant }
func (u *URL) RoomName() string       { return u.roomName }
func (u *URL) RoomParameters() string { return u.roomParameters }

// IframeToNavigateTo returns the id of the iframe hosting the conference, if
// the page embeds it.
func (u *URL) IframeToNavigateTo() string { return u.iframe }

func (u *URL) SetServerURL(server string) *URL {
	u.serverURL = strings.TrimSuffix(server, "/")
	return u
}

func (u *URL) SetTenant(tenant string) *URL {
	u.tenant = tenant
	return u
}

func (u *URL) SetRoomName(room string) *URL {
	u.roomName = room
	return u
}

// SetRoomParameters sets the raw query string (without "?").
func (u *URL) SetRoomParameters(params string) *URL {
	u.roomParameters = params
	return u
}

func (u *URL) SetIframeToNavigateTo(id string) *URL {
	u.iframe = id
	return u
}

// FragmentParam returns the value of a fragment parameter.
func (u *URL) FragmentParam(key string) (string, bool) {
	v, ok := u.params[key]
	return v, ok
}

// RemoveFragmentParam deletes key and returns its previous value.
func (u *URL) RemoveFragmentParam(key string) string {
	v, ok := u.params[key]
	if !ok {
		return ""
	}
	delete(u.params, key)
	for i, k := range u.keys {
		if k == key {
			u.keys = append(u.keys[:i], u.keys[i+1:]...)
			break
		}
	}
	return v
}

func (u *URL) setParam(key, value string) {
	if _, ok := u.params[key]; !ok {
		u.keys = append(u.keys, key)
	}
	u.params[key] = value
}

// AppendConfig merges "k=v&k2=v2" into the fragment. Existing keys are only
// replaced when override is set. A pair without a value removes the key.
func (u *URL) AppendConfig(extra string, override bool) *URL {
	if strings.TrimSpace(extra) == "" {
		return u
	}
	for _, pair := range strings.Split(extra, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if _, exists := u.params[key]; exists && !override {
			continue
		}
		if value == "" {
			u.RemoveFragmentParam(key)
			continue
		}
		u.setParam(key, value)
	}
	return u
}

// FragmentParamsJSON groups fragment parameters into the objects the web
// client reads: "config" and "interfaceConfig", with everything else at the
// top level. "true"/"false" become booleans.
func (u *URL) FragmentParamsJSON() map[string]any {
	config := map[string]any{}
	iface := map[string]any{}
	out := map[string]any{"config": config, "interfaceConfig": iface}
	for _, key := range u.keys {
		target, name := out, key
		switch {
		case strings.HasPrefix(key, "config."):
			target, name = config, strings.TrimPrefix(key, "config.")
		case strings.HasPrefix(key, "interfaceConfig."):
			target, name = iface, strings.TrimPrefix(key, "interfaceConfig.")
		}
		v := u.params[key]
		switch strings.ToLower(v) {
		case "true":
			target[name] = true
		case "false":
			target[name] = false
		default:
			target[name] = v
		}
	}
	return out
}

// Copy returns an independent copy.
func (u *URL) Copy() *URL {
	c := *u
	c.keys = append([]string(nil), u.keys...)
	c.params = make(map[string]string, len(u.params))
	for k, v := range u.params {
		c.params[k] = v
	}
	return &c
}

// Host returns the host part of the rendered URL.
func (u *URL) Host() (string, error) {
	parsed, err := url.Parse(u.String())
	if err != nil {
		return "", err
	}
	return parsed.Hostname(), nil
}

func (u *URL) String() string {
	var b strings.Builder
	b.WriteString(u.serverURL)
	if strings.TrimSpace(u.tenant) != "" {
		b.WriteString("/" + u.tenant)
	}
	b.WriteString("/" + u.roomName)
	if strings.TrimSpace(u.roomParameters) != "" {
		b.WriteString("?" + u.roomParameters)
	}
	for i, key := range u.keys {
		if i == 0 {
			b.WriteByte('#')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(key + "=" + u.params[key])
	}
	return b.String()
}
