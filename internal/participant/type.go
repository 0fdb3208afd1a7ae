package participant

import (
	"fmt"
	"strings"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

// Type is the browser or mobile platform a participant runs on.
type Type string

const (
	Android Type = "android"
	Chrome  Type = "chrome"
	Edge    Type = "edge"
	Firefox Type = "firefox"
	IOS     Type = "ios"
	Safari  Type = "safari"
)

// Types lists every known participant type.
var Types = []Type{Android, Chrome, Edge, Firefox, IOS, Safari}

// ParseType converts a configuration value to a Type. Blank means Chrome.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return Chrome, nil
	}
	for _, t := range Types {
		if string(t) == s {
			return t, nil
		}
	}
	return "", session.NewError(session.CodeValidation, fmt.Sprintf("unknown participant type %q", s), nil)
}

func (t Type) IsMobile() bool { return t == Android || t == IOS }
func (t Type) IsWeb() bool    { return !t.IsMobile() }

// IsChromium reports whether the type is driven over the DevTools protocol.
func (t Type) IsChromium() bool { return t == Chrome || t == Edge }
func (t Type) IsFirefox() bool  { return t == Firefox }
func (t Type) IsSafari() bool   { return t == Safari }
