package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/meet_torture/internal/session"
	"github.com/dgnsrekt/meet_torture/internal/session/sessiontest"
)

func newTabs(t *testing.T, n int) (*session.Registry, *sessiontest.Session, []*session.Tabbed) {
	t.Helper()
	reg := session.NewRegistry()
	base := sessiontest.New()
	tabs := make([]*session.Tabbed, 0, n)
	for i := 0; i < n; i++ {
		tab, err := session.NewTabbed(context.Background(), reg, base)
		require.NoError(t, err)
		tabs = append(tabs, tab)
	}
	return reg, base, tabs
}

func TestNewTabbedAdoptsExistingThenOpensWindows(t *testing.T) {
	reg, base, tabs := newTabs(t, 3)

	assert.Equal(t, "W1", tabs[0].TabID())
	assert.Equal(t, "W2", tabs[1].TabID())
	assert.Equal(t, "W3", tabs[2].TabID())
	assert.Len(t, base.Calls("OpenWindow"), 2)
	assert.Equal(t, 3, reg.RefCount(base))
}

func TestNewTabbedFailsOnAmbiguousNewWindow(t *testing.T) {
	reg, base, _ := newTabs(t, 1)
	base.PopupsOnOpen = 1

	_, err := session.NewTabbed(context.Background(), reg, base)
	require.Error(t, err)
	assert.True(t, session.IsCode(err, session.CodeMultiplex))
	assert.Equal(t, 1, reg.RefCount(base), "failed create must not leak a reference")
}

func TestNewTabbedFailsWhenFreshBaseHasSeveralWindows(t *testing.T) {
	reg := session.NewRegistry()
	base := sessiontest.New()
	require.NoError(t, base.OpenWindow(context.Background()))

	_, err := session.NewTabbed(context.Background(), reg, base)
	assert.True(t, session.IsCode(err, session.CodeMultiplex))
	assert.False(t, reg.Tracked(base))
}

func TestQuitClosesPhysicalSessionOnceInAnyOrder(t *testing.T) {
	orders := [][]int{{0, 1, 2}, {2, 1, 0}, {1, 0, 2}, {2, 0, 1}}
	for _, order := range orders {
		reg, base, tabs := newTabs(t, 3)
		ctx := context.Background()
		for i, idx := range order {
			require.NoError(t, tabs[idx].Quit(ctx))
			// Quitting the same tab again never double-decrements.
			require.NoError(t, tabs[idx].Quit(ctx))
			if i < len(order)-1 {
				assert.Equal(t, 0, base.QuitCount(), "order %v step %d", order, i)
				assert.Equal(t, len(order)-1-i, reg.RefCount(base))
			}
		}
		assert.Equal(t, 1, base.QuitCount(), "order %v", order)
		assert.False(t, reg.Tracked(base))
	}
}

func TestCloseOnlyClosesOwnWindow(t *testing.T) {
	reg, base, tabs := newTabs(t, 2)
	ctx := context.Background()

	require.NoError(t, tabs[1].Close(ctx))
	assert.Equal(t, []string{"W1"}, base.Handles())
	assert.Empty(t, tabs[1].TabID())
	assert.Equal(t, 2, reg.RefCount(base), "close keeps the reference until quit")

	_, err := tabs[1].Title(ctx)
	assert.True(t, session.IsCode(err, session.CodeClosed))

	require.NoError(t, tabs[1].Quit(ctx))
	assert.Equal(t, 1, reg.RefCount(base))
	assert.Len(t, base.Calls("Close"), 1)
}

func TestOperationsSwitchToOwnTab(t *testing.T) {
	_, base, tabs := newTabs(t, 2)
	ctx := context.Background()

	require.NoError(t, tabs[0].Navigate(ctx, "https://meet.example/a", time.Second))
	require.NoError(t, tabs[1].Navigate(ctx, "https://meet.example/b", time.Second))

	assert.Equal(t, "https://meet.example/a", base.URL("W1"))
	assert.Equal(t, "https://meet.example/b", base.URL("W2"))

	u, err := tabs[0].CurrentURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example/a", u)
}

func TestWindowHandlesReportsOnlyOwnTab(t *testing.T) {
	_, _, tabs := newTabs(t, 3)

	handles, err := tabs[1].WindowHandles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"W2"}, handles)
}

func TestUnsupportedOperationsFailFast(t *testing.T) {
	_, base, tabs := newTabs(t, 1)
	ctx := context.Background()
	tab := tabs[0]

	checks := map[string]error{
		"switch window": tab.SwitchToWindow(ctx, "W1"),
		"switch frame":  tab.SwitchToFrame(ctx, "frame"),
		"open window":   tab.OpenWindow(ctx),
		"back":          tab.Back(ctx),
		"forward":       tab.Forward(ctx),
		"window size":   tab.SetWindowSize(ctx, 800, 600),
	}
	_, printErr := tab.PrintPage(ctx)
	checks["print"] = printErr

	for name, err := range checks {
		assert.True(t, session.IsCode(err, session.CodeUnsupported), name)
	}
	assert.Empty(t, base.Calls("Back"))
	assert.Empty(t, base.Calls("PrintPage"))
}

func TestBaseErrorsPropagateUnchanged(t *testing.T) {
	_, base, tabs := newTabs(t, 1)
	boom := errors.New("script exploded")
	base.SetFail("ExecuteScript", boom)

	_, err := tabs[0].ExecuteScript(context.Background(), "return 1;")
	assert.Same(t, boom, err)
}

func TestElementCallsReselectTab(t *testing.T) {
	_, base, tabs := newTabs(t, 2)
	ctx := context.Background()
	button := &sessiontest.Element{TextValue: "Leave"}
	base.AddElement(session.CSS("#hangup"), button)

	el, err := tabs[0].FindElement(ctx, session.CSS("#hangup"))
	require.NoError(t, err)

	_, err = tabs[1].Title(ctx)
	require.NoError(t, err)

	require.NoError(t, el.Click(ctx))
	switches := base.Calls("SwitchToWindow")
	require.NotEmpty(t, switches)
	assert.Equal(t, "W1", switches[len(switches)-1].Arg)
	assert.Equal(t, 1, button.Clicks())
}

func TestTabsNeverInterleaveOnBase(t *testing.T) {
	_, base, tabs := newTabs(t, 2)
	base.Delay = 20 * time.Millisecond
	base.OnScript = func(handle, script string, args []any) (any, error) {
		return handle, nil
	}
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, tab := range tabs {
		wg.Add(1)
		go func(tab *session.Tabbed) {
			defer wg.Done()
			for i := 0; i < 3; i++ {
				got, err := tab.ExecuteScript(ctx, "return 1;")
				assert.NoError(t, err)
				assert.Equal(t, tab.TabID(), got)
			}
		}(tab)
	}
	wg.Wait()

	// Every switch is immediately followed by the script it guarded, and the
	// script completes before anything else touches the base.
	var ops []sessiontest.Event
	for _, e := range base.Journal() {
		if e.Method == "SwitchToWindow" || e.Method == "ExecuteScript" {
			ops = append(ops, e)
		}
	}
	scripts := 0
	for i, e := range ops {
		if e.Method != "ExecuteScript" || e.Phase != "begin" {
			continue
		}
		scripts++
		require.GreaterOrEqual(t, i, 2)
		assert.Equal(t, "SwitchToWindow", ops[i-1].Method)
		assert.Equal(t, "end", ops[i-1].Phase)
		assert.Equal(t, ops[i-1].Arg, e.Handle)
		require.Less(t, i+1, len(ops))
		assert.Equal(t, "ExecuteScript", ops[i+1].Method)
		assert.Equal(t, "end", ops[i+1].Phase)
	}
	assert.Equal(t, 6, scripts)
}

// flickeringBase hides one handle from the next WindowHandles call and
// opens no window, so an already adopted handle looks new.
type flickeringBase struct {
	*sessiontest.Session
	hide string
}

func (b *flickeringBase) WindowHandles(ctx context.Context) ([]string, error) {
	all, err := b.Session.WindowHandles(ctx)
	if err != nil || b.hide == "" {
		return all, err
	}
	var out []string
	for _, h := range all {
		if h != b.hide {
			out = append(out, h)
		}
	}
	b.hide = ""
	return out, nil
}

func (b *flickeringBase) OpenWindow(context.Context) error { return nil }

func TestNewTabbedRejectsHandleOwnedByAnotherTab(t *testing.T) {
	ctx := context.Background()
	reg := session.NewRegistry()
	fake := sessiontest.New()
	base := &flickeringBase{Session: fake}

	first, err := session.NewTabbed(ctx, reg, base)
	require.NoError(t, err)
	require.NoError(t, fake.OpenWindow(ctx))
	base.hide = "W2"
	second, err := session.NewTabbed(ctx, reg, base)
	require.NoError(t, err)
	assert.Equal(t, "W2", second.TabID())

	base.hide = "W2"
	_, err = session.NewTabbed(ctx, reg, base)
	require.Error(t, err)
	assert.True(t, session.IsCode(err, session.CodeMultiplex))
	assert.Contains(t, err.Error(), "already adopted")
	assert.Equal(t, 2, reg.RefCount(base))
	assert.Equal(t, "W1", first.TabID())
}
