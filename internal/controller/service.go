package controller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dgnsrekt/meet_torture/internal/participant"
	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/snapshot"
)

// Roster is the view of the participant manager the service needs.
type Roster interface {
	All() []*participant.Participant
	Find(name string) (*participant.Participant, bool)
}

// Status is a point-in-time description of one participant.
type Status struct {
	Name         string  `json:"name"`
	ConfigKey    string  `json:"config_key"`
	Type         string  `json:"type"`
	State        string  `json:"state"`
	Room         string  `json:"room,omitempty"`
	URL          string  `json:"url,omitempty"`
	KeepAlive    bool    `json:"keep_alive"`
	InMUC        *bool   `json:"in_muc,omitempty"`
	ICEConnected *bool   `json:"ice_connected,omitempty"`
	EndpointID   string  `json:"endpoint_id,omitempty"`
	UploadKbps   float64 `json:"upload_kbps,omitempty"`
	DownloadKbps float64 `json:"download_kbps,omitempty"`
}

// Service answers status requests against a running torture session.
type Service struct {
	roster Roster
	store  *snapshot.Store
}

func NewService(roster Roster, store *snapshot.Store) *Service {
	return &Service{roster: roster, store: store}
}

func (s *Service) requireNonEmpty(value, fieldName string) error {
	if strings.TrimSpace(value) == "" {
		return session.NewError(session.CodeValidation, fieldName+" is required", nil)
	}
	return nil
}

func (s *Service) find(name string) (*participant.Participant, error) {
	if err := s.requireNonEmpty(name, "participant name"); err != nil {
		return nil, err
	}
	p, ok := s.roster.Find(strings.TrimSpace(name))
	if !ok {
		return nil, session.NewError(session.CodeNotFound, fmt.Sprintf("participant %q not found", name), nil)
	}
	return p, nil
}

// ListParticipants describes every participant slot without querying the
// conference client.
func (s *Service) ListParticipants(ctx context.Context) ([]Status, error) {
	all := s.roster.All()
	out := make([]Status, 0, len(all))
	for _, p := range all {
		if p == nil {
			continue
		}
		out = append(out, describe(p))
	}
	return out, nil
}

// GetParticipant describes one participant. Joined participants are also
// asked for their live conference state; query failures leave those
// fields empty.
func (s *Service) GetParticipant(ctx context.Context, name string) (Status, error) {
	p, err := s.find(name)
	if err != nil {
		return Status{}, err
	}
	st := describe(p)
	if p.State() != participant.Joined {
		return st, nil
	}

	inMUC, ice := p.IsInMUC(ctx), p.IsICEConnected(ctx)
	st.InMUC, st.ICEConnected = &inMUC, &ice
	if id, err := p.EndpointID(ctx); err == nil {
		st.EndpointID = id
	}
	if br, err := p.Bitrate(ctx); err == nil {
		st.UploadKbps, st.DownloadKbps = br.Upload, br.Download
	}
	return st, nil
}

// HangUp makes the named participant leave its conference.
func (s *Service) HangUp(ctx context.Context, name string) (Status, error) {
	p, err := s.find(name)
	if err != nil {
		return Status{}, err
	}
	if p.State() == participant.Quit {
		return Status{}, session.NewError(session.CodeClosed, p.Name()+": participant has quit", nil)
	}
	if err := p.HangUp(ctx); err != nil {
		return Status{}, err
	}
	return describe(p), nil
}

// Screenshot captures the named participant's current window as PNG.
func (s *Service) Screenshot(ctx context.Context, name string) ([]byte, error) {
	p, err := s.find(name)
	if err != nil {
		return nil, err
	}
	if p.State() == participant.Quit {
		return nil, session.NewError(session.CodeClosed, p.Name()+": participant has quit", nil)
	}
	return p.Session().Screenshot(ctx)
}

// ListDiagnostics lists stored artifacts, newest first.
func (s *Service) ListDiagnostics(ctx context.Context, scenario string) ([]snapshot.Artifact, error) {
	return s.store.List(strings.TrimSpace(scenario))
}

// ReadDiagnostic returns one artifact and its metadata.
func (s *Service) ReadDiagnostic(ctx context.Context, id string) ([]byte, snapshot.Artifact, error) {
	if err := s.requireNonEmpty(id, "artifact id"); err != nil {
		return nil, snapshot.Artifact{}, err
	}
	id = strings.ToLower(strings.TrimSpace(id))
	if _, err := uuid.Parse(id); err != nil {
		return nil, snapshot.Artifact{}, session.NewError(session.CodeValidation, fmt.Sprintf("invalid artifact id %q", id), nil)
	}
	data, meta, err := s.store.Read(id)
	if errors.Is(err, snapshot.ErrNotFound) {
		return nil, snapshot.Artifact{}, session.NewError(session.CodeNotFound, "artifact "+id+" not found", err)
	}
	return data, meta, err
}

func describe(p *participant.Participant) Status {
	st := Status{
		Name:      p.Name(),
		ConfigKey: p.ConfigKey(),
		Type:      string(p.Type()),
		State:     p.State().String(),
		Room:      p.JoinedRoomName(),
		KeepAlive: p.KeepAliveRunning(),
	}
	if u := p.MeetURL(); u != nil && st.Room != "" {
		st.URL = u.String()
	}
	return st
}
