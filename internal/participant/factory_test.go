package participant

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/meet_torture/internal/session"
)

func TestFactoryRejectsTypesWithoutBuilder(t *testing.T) {
	f := NewFactory(testSettings(&manualScheduler{}), nil)

	_, err := f.Create(context.Background(), "participant1", NewOptions(map[string]string{OptType: "android"}))
	require.Error(t, err)
	assert.True(t, session.IsCode(err, session.CodeValidation))

	_, err = f.Create(context.Background(), "participant1", NewOptions(map[string]string{OptType: "netscape"}))
	assert.True(t, session.IsCode(err, session.CodeValidation))
}

func TestFactoryNamesParticipantAfterConfigKey(t *testing.T) {
	fl := &fleet{failAt: map[int]error{}}
	f := NewFactory(testSettings(&manualScheduler{}), nil)
	f.Register(Chrome, fl.build)
	assert.Equal(t, []Type{Chrome}, f.Registered())

	p, err := f.Create(context.Background(), "participant3", NewOptions())
	require.NoError(t, err)
	assert.Equal(t, "participant3", p.Name())
	assert.Equal(t, Chrome, p.Type())
	assert.Same(t, fl.fake(0), p.Session())
}

func TestFactoryPageLoadTimeoutOption(t *testing.T) {
	fl := &fleet{failAt: map[int]error{}}
	f := NewFactory(testSettings(&manualScheduler{}), nil)
	f.Register(Chrome, fl.build)

	p, err := f.Create(context.Background(), "participant1", NewOptions(map[string]string{OptPageLoadTimeout: "7s"}))
	require.NoError(t, err)
	assert.Equal(t, "7s", p.Settings().PageLoadTimeout.String())
}

func TestMultitabParticipantsSharePooledBrowsers(t *testing.T) {
	fl := &fleet{failAt: map[int]error{}}
	shared := NewSharedBrowsers(nil, 2)
	f := NewFactory(testSettings(&manualScheduler{}), shared)
	f.Register(Chrome, fl.build)
	ctx := context.Background()
	opts := NewOptions(map[string]string{OptMultitab: "true"})

	var ps []*Participant
	for i := 0; i < 3; i++ {
		p, err := f.Create(ctx, ConfigKey(i), opts)
		require.NoError(t, err)
		ps = append(ps, p)
	}

	assert.Equal(t, 2, fl.built(), "third tab overflows into a second browser")
	assert.Equal(t, 2, shared.Browsers(Chrome))
	tab, ok := ps[1].Session().(*session.Tabbed)
	require.True(t, ok)
	assert.Same(t, fl.fake(0), tab.Base())

	for _, p := range ps {
		p.Quit(ctx)
	}
	assert.Equal(t, 1, fl.fake(0).QuitCount())
	assert.Equal(t, 1, fl.fake(1).QuitCount())
	assert.Zero(t, shared.Browsers(Chrome))
}

func TestFactoryKeepsCodedSessionErrors(t *testing.T) {
	fl := &fleet{failAt: map[int]error{}}
	f := NewFactory(testSettings(&manualScheduler{}), NewSharedBrowsers(nil, 4))
	f.Register(Chrome, fl.build)
	ctx := context.Background()
	opts := NewOptions(map[string]string{OptMultitab: "true"})

	first, err := f.Create(ctx, "participant1", opts)
	require.NoError(t, err)
	defer first.Quit(ctx)

	fl.fake(0).PopupsOnOpen = 1
	_, err = f.Create(ctx, "participant2", opts)
	require.Error(t, err)
	assert.True(t, session.IsCode(err, session.CodeMultiplex), "got %v", err)
	assert.Contains(t, err.Error(), "participant2")
}

func TestFactoryWrapsUncodedBuilderErrors(t *testing.T) {
	fl := &fleet{failAt: map[int]error{0: errors.New("connection refused")}}
	f := NewFactory(testSettings(&manualScheduler{}), nil)
	f.Register(Chrome, fl.build)

	_, err := f.Create(context.Background(), "participant1", NewOptions())
	assert.True(t, session.IsCode(err, session.CodeSession))
	assert.ErrorContains(t, err, "connection refused")
}
