package order

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atakdnz/fridge-order-agent/internal/catalog"
)

// fakeAdapter simulates a storefront without a browser.
type fakeAdapter struct {
	authenticated bool
	clearOK       bool
	searchFail    map[string]bool
	addFail       map[string]bool

	cleared     bool
	searched    []string
	added       []string
	cartOpened  bool
	smartCalled bool
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		authenticated: true,
		clearOK:       true,
		searchFail:    map[string]bool{},
		addFail:       map[string]bool{},
	}
}

func (f *fakeAdapter) Provider() catalog.Provider               { return catalog.ProviderGetir }
func (f *fakeAdapter) Start(ctx context.Context) error          { return nil }
func (f *fakeAdapter) Close() error                             { return nil }
func (f *fakeAdapter) IsAuthenticated(ctx context.Context) bool { return f.authenticated }

func (f *fakeAdapter) Search(ctx context.Context, term string) bool {
	f.searched = append(f.searched, term)
	return !f.searchFail[term]
}

func (f *fakeAdapter) ListCandidates(ctx context.Context, limit int) []catalog.Candidate {
	return []catalog.Candidate{{DisplayName: "item", Index: 0}}
}

func (f *fakeAdapter) AddByIndex(ctx context.Context, index, quantity int) bool {
	last := f.searched[len(f.searched)-1]
	if f.addFail[last] {
		return false
	}
	f.added = append(f.added, last)
	return true
}

func (f *fakeAdapter) AddProductSmart(ctx context.Context, term string, quantity int, preference string) bool {
	f.smartCalled = true
	if !f.Search(ctx, term) {
		return false
	}
	return f.AddByIndex(ctx, 0, quantity)
}

func (f *fakeAdapter) ClearCart(ctx context.Context) bool {
	f.cleared = true
	return f.clearOK
}

func (f *fakeAdapter) OpenCart(ctx context.Context)      { f.cartOpened = true }
func (f *fakeAdapter) CartCount(ctx context.Context) int { return len(f.added) }

func items(names ...string) []catalog.DesiredItem {
	out := make([]catalog.DesiredItem, len(names))
	for i, name := range names {
		out[i] = catalog.DesiredItem{SearchTerm: name, Quantity: 1}
	}
	return out
}

// runAsync starts Run in a goroutine and confirms checkout once the cart
// page is reached.
func runConfirmed(t *testing.T, o *Orchestrator, ctx context.Context, list []catalog.DesiredItem, smart bool) ([]ItemResult, error) {
	t.Helper()
	o.OnAwaitConfirm = o.ConfirmCheckout
	return o.Run(ctx, list, smart, "")
}

func TestRunNotAuthenticated(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.authenticated = false

	o := New(adapter)
	results, err := o.Run(context.Background(), items("Süt"), false, "")
	require.ErrorIs(t, err, ErrNotAuthenticated)
	assert.Nil(t, results)
	assert.False(t, adapter.cleared, "auth failure must stop before any cart mutation")
}

func TestRunSequentialOutcomes(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.searchFail["Yumurta"] = true
	adapter.addFail["Su"] = true

	o := New(adapter)
	results, err := runConfirmed(t, o, context.Background(), items("Süt", "Yumurta", "Su", "Ekmek"), false)
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Added)
	assert.False(t, results[1].Added)
	assert.Equal(t, "search failed", results[1].Detail)
	assert.False(t, results[2].Added)
	assert.Equal(t, "add failed", results[2].Detail)
	assert.True(t, results[3].Added)

	// One failed item never aborts the rest.
	assert.Equal(t, []string{"Süt", "Yumurta", "Su", "Ekmek"}, adapter.searched)
	assert.True(t, adapter.cleared)
	assert.True(t, adapter.cartOpened)
}

func TestRunSmartMode(t *testing.T) {
	adapter := newFakeAdapter()
	o := New(adapter)
	results, err := runConfirmed(t, o, context.Background(), items("Süt"), true)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, adapter.smartCalled)
	assert.True(t, results[0].Added)
}

func TestRunContinuesWhenClearFails(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.clearOK = false

	o := New(adapter)
	results, err := runConfirmed(t, o, context.Background(), items("Süt"), false)
	require.NoError(t, err)
	assert.True(t, results[0].Added)
}

func TestRunSuspendsUntilConfirm(t *testing.T) {
	adapter := newFakeAdapter()
	o := New(adapter)

	awaiting := make(chan struct{})
	o.OnAwaitConfirm = func() { close(awaiting) }

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := o.Run(context.Background(), items("Süt"), false, "")
		assert.NoError(t, err)
	}()

	select {
	case <-awaiting:
	case <-time.After(5 * time.Second):
		t.Fatal("run never reached the confirmation wait")
	}

	select {
	case <-done:
		t.Fatal("run finished without checkout confirmation")
	case <-time.After(50 * time.Millisecond):
	}

	o.ConfirmCheckout()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not resume after confirmation")
	}
}

func TestRunCanceledWhileAwaiting(t *testing.T) {
	adapter := newFakeAdapter()
	o := New(adapter)

	ctx, cancel := context.WithCancel(context.Background())
	o.OnAwaitConfirm = cancel

	results, err := o.Run(ctx, items("Süt"), false, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	// The per-item work still happened before the wait.
	require.Len(t, results, 1)
	assert.True(t, results[0].Added)
}

func TestRunBusy(t *testing.T) {
	adapter := newFakeAdapter()
	o := New(adapter)

	started := make(chan struct{})
	release := make(chan struct{})
	o.OnAwaitConfirm = func() {
		close(started)
		<-release
		o.ConfirmCheckout()
	}

	go o.Run(context.Background(), items("Süt"), false, "")
	<-started

	_, err := o.Run(context.Background(), items("Su"), false, "")
	assert.ErrorIs(t, err, ErrBusy)
	close(release)
}

func TestFlight(t *testing.T) {
	f := NewFlight()

	require.True(t, f.TryAcquire(catalog.ProviderGetir))
	assert.False(t, f.TryAcquire(catalog.ProviderGetir))
	// Other providers are independent.
	assert.True(t, f.TryAcquire(catalog.ProviderMigros))

	f.Release(catalog.ProviderGetir)
	assert.True(t, f.TryAcquire(catalog.ProviderGetir))
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	o := New(newFakeAdapter())

	id := tr.Create(catalog.ProviderGetir, o)
	run, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusRunning, run.Status)

	tr.SetStatus(id, StatusAwaiting)
	run, _ = tr.Get(id)
	assert.Equal(t, StatusAwaiting, run.Status)

	tr.Finish(id, []ItemResult{{Added: true}}, nil)
	run, _ = tr.Get(id)
	assert.Equal(t, StatusCompleted, run.Status)
	require.Len(t, run.Items, 1)

	_, ok = tr.Get("nope")
	assert.False(t, ok)
}

func TestTrackerFinishError(t *testing.T) {
	tr := NewTracker()
	id := tr.Create(catalog.ProviderAkbal, New(newFakeAdapter()))
	tr.Finish(id, nil, errors.New("browser crashed"))
	run, _ := tr.Get(id)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, "browser crashed", run.Error)
}

func TestTrackerConfirm(t *testing.T) {
	tr := NewTracker()
	o := New(newFakeAdapter())
	id := tr.Create(catalog.ProviderGetir, o)

	assert.True(t, tr.Confirm(id))
	assert.False(t, tr.Confirm("missing"))

	// The buffered confirmation releases the next wait immediately.
	results, err := o.Run(context.Background(), items("Süt"), false, "")
	require.NoError(t, err)
	require.Len(t, results, 1)
}
