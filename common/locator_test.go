package common

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	cdpa "github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/cdp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reclamefabriek/dashcheck/api"
	cdpclient "github.com/reclamefabriek/dashcheck/cdp"
	"github.com/reclamefabriek/dashcheck/log"
)

// fakeAccessibility answers QueryByRole with its script of results, one per
// call; the last one repeats.
type fakeAccessibility struct {
	mu      sync.Mutex
	calls   int
	results []axResult
	roles   []string
}

type axResult struct {
	nodes []*cdpa.Node
	err   error
}

func (f *fakeAccessibility) Enable(context.Context) error { return nil }

func (f *fakeAccessibility) QueryByRole(_ context.Context, role string) ([]*cdpa.Node, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.roles = append(f.roles, role)
	r := f.results[len(f.results)-1]
	if f.calls < len(f.results) {
		r = f.results[f.calls]
	}
	f.calls++

	return r.nodes, r.err
}

func (f *fakeAccessibility) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeRuntime struct {
	visible map[cdp.BackendNodeID]bool
}

func (f *fakeRuntime) CallOnNode(_ context.Context, node cdp.BackendNodeID, _ string, out interface{}) error {
	v, ok := out.(*bool)
	if !ok {
		return errors.New("unexpected result type")
	}
	*v = f.visible[node]
	return nil
}

func axNode(id cdp.BackendNodeID, name string) *cdpa.Node {
	return &cdpa.Node{
		NodeID:           cdpa.NodeID(strconv.Itoa(int(id))),
		BackendDOMNodeID: id,
		Name: &cdpa.Value{
			Type:  cdpa.ValueTypeComputedString,
			Value: []byte(strconv.Quote(name)),
		},
	}
}

func newFakePage(ax *fakeAccessibility, rt *fakeRuntime) *Page {
	return &Page{
		accessibility: ax,
		runtime:       rt,
		logger:        log.NewNullLogger(),
	}
}

func TestLocatorWaitVisible(t *testing.T) {
	t.Parallel()

	activeJobs := axNode(10, "Active Jobs")
	activeJobsCount := axNode(11, "Active Jobs (3)")
	ignored := axNode(12, "Active Jobs")
	ignored.Ignored = true
	noDOM := axNode(0, "Active Jobs")

	tests := []struct {
		name      string
		results   []axResult
		visible   map[cdp.BackendNodeID]bool
		wantErr   error
		wantCalls int // minimum
		fast      bool
	}{
		{
			name:    "visible",
			results: []axResult{{nodes: []*cdpa.Node{axNode(1, "Dashboard"), activeJobs}}},
			visible: map[cdp.BackendNodeID]bool{10: true},
			fast:    true,
		},
		{
			name: "appears_later",
			results: []axResult{
				{},
				{err: errors.New("document changed")},
				{nodes: []*cdpa.Node{activeJobs}},
			},
			visible:   map[cdp.BackendNodeID]bool{10: true},
			wantCalls: 3,
		},
		{
			name:    "ignored_and_detached_nodes",
			results: []axResult{{nodes: []*cdpa.Node{ignored, noDOM, activeJobs}}},
			visible: map[cdp.BackendNodeID]bool{10: true, 12: true},
			fast:    true,
		},
		{
			name:      "not_found",
			results:   []axResult{{nodes: []*cdpa.Node{axNode(1, "Active Tasks")}}},
			wantErr:   ErrElementNotFound,
			wantCalls: 2,
		},
		{
			name:    "not_visible",
			results: []axResult{{nodes: []*cdpa.Node{activeJobs}}},
			visible: map[cdp.BackendNodeID]bool{10: false},
			wantErr: ErrElementNotVisible,
		},
		{
			name:    "strict_mode_violation",
			results: []axResult{{nodes: []*cdpa.Node{activeJobs, activeJobsCount}}},
			wantErr: ErrStrictModeViolation,
			fast:    true,
		},
		{
			name:    "connection_closed",
			results: []axResult{{err: cdpclient.ErrConnectionClosed}},
			wantErr: cdpclient.ErrConnectionClosed,
			fast:    true,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ax := &fakeAccessibility{results: tt.results}
			p := newFakePage(ax, &fakeRuntime{visible: tt.visible})
			l := p.GetByRole("heading", &api.GetByRoleOptions{Name: "active jobs"})

			const timeout = 600 * time.Millisecond
			start := time.Now()
			err := l.WaitVisible(context.Background(), timeout)
			elapsed := time.Since(start)

			if tt.fast {
				assert.Less(t, elapsed, timeout)
			}
			assert.GreaterOrEqual(t, ax.callCount(), tt.wantCalls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)

			var terr *TimeoutError
			if errors.As(err, &terr) {
				assert.GreaterOrEqual(t, elapsed, timeout)
				assert.Equal(t, timeout, terr.After)
				assert.ErrorIs(t, err, context.DeadlineExceeded)
				assert.Contains(t, err.Error(), `getByRole("heading", name="active jobs")`)
			}
		})
	}
}

func TestLocatorWaitVisibleContextCanceled(t *testing.T) {
	t.Parallel()

	ax := &fakeAccessibility{results: []axResult{{}}}
	p := newFakePage(ax, &fakeRuntime{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(150*time.Millisecond, cancel)

	err := p.GetByRole("heading", nil).WaitVisible(ctx, 5*time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	var terr *TimeoutError
	assert.False(t, errors.As(err, &terr))
}

func TestLocatorCountAndIsVisible(t *testing.T) {
	t.Parallel()

	ax := &fakeAccessibility{results: []axResult{{nodes: []*cdpa.Node{
		axNode(1, "Dashboard"),
		axNode(2, "Active Jobs"),
		axNode(3, "Finished jobs"),
	}}}}
	p := newFakePage(ax, &fakeRuntime{visible: map[cdp.BackendNodeID]bool{2: true}})
	ctx := context.Background()

	n, err := p.GetByRole("heading", nil).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = p.GetByRole("heading", &api.GetByRoleOptions{Name: "jobs"}).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	visible, err := p.GetByRole("heading", &api.GetByRoleOptions{Name: "Active Jobs", Exact: true}).IsVisible(ctx)
	require.NoError(t, err)
	assert.True(t, visible)

	visible, err = p.GetByRole("heading", &api.GetByRoleOptions{Name: "Dashboard"}).IsVisible(ctx)
	require.NoError(t, err)
	assert.False(t, visible)

	visible, err = p.GetByRole("heading", &api.GetByRoleOptions{Name: "Settings"}).IsVisible(ctx)
	require.NoError(t, err)
	assert.False(t, visible)

	_, err = p.GetByRole("heading", &api.GetByRoleOptions{Name: "jobs"}).IsVisible(ctx)
	assert.ErrorIs(t, err, ErrStrictModeViolation)

	for _, role := range ax.roles {
		assert.Equal(t, "heading", role)
	}
}

func TestLocatorPageClosed(t *testing.T) {
	t.Parallel()

	ax := &fakeAccessibility{results: []axResult{{nodes: []*cdpa.Node{axNode(2, "Active Jobs")}}}}
	p := newFakePage(ax, &fakeRuntime{visible: map[cdp.BackendNodeID]bool{2: true}})
	p.markClosed()

	l := p.GetByRole("heading", &api.GetByRoleOptions{Name: "Active Jobs"})
	_, err := l.Count(context.Background())
	assert.ErrorIs(t, err, ErrPageClosed)
	assert.ErrorIs(t, l.WaitVisible(context.Background(), time.Second), ErrPageClosed)
	assert.Zero(t, ax.callCount())
}

func TestLocatorString(t *testing.T) {
	t.Parallel()

	p := newFakePage(&fakeAccessibility{}, &fakeRuntime{})
	assert.Equal(t, `getByRole("heading")`, p.GetByRole("heading", nil).(*Locator).String())
	assert.Equal(t, `getByRole("heading", name="Active Jobs")`,
		p.GetByRole("heading", &api.GetByRoleOptions{Name: "Active Jobs"}).(*Locator).String())
	assert.Equal(t, `getByRole("heading", name="Active Jobs", exact)`,
		p.GetByRole("heading", &api.GetByRoleOptions{Name: "Active Jobs", Exact: true}).(*Locator).String())
}
