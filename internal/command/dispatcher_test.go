package command

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/ashureev/commanddeck/internal/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeGateway struct {
	mu       sync.Mutex
	requests []gateway.Request
	result   gateway.Result
	err      error
	block    bool
}

func (f *fakeGateway) Lookup(ctx context.Context, req gateway.Request) (gateway.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return gateway.Result{}, ctx.Err()
	}
	if f.err != nil {
		return gateway.Result{}, f.err
	}
	if f.result == (gateway.Result{}) {
		return gateway.Result{Success: true, Data: "data for " + req.Arg, Status: 200}, nil
	}
	return f.result, nil
}

func (f *fakeGateway) calls() []gateway.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]gateway.Request(nil), f.requests...)
}

type fakeStore struct {
	err      error
	searches map[string][]string
	cleared  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{searches: make(map[string][]string)}
}

func (f *fakeStore) GetPreferences(_ context.Context, userID string) (*domain.Preferences, error) {
	if f.err != nil {
		return nil, f.err
	}
	return domain.DefaultPreferences(userID), nil
}

func (f *fakeStore) SaveSearch(_ context.Context, userID string, s domain.NewSearch) (*domain.SearchRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.searches[userID] = append([]string{s.Query}, f.searches[userID]...)
	return &domain.SearchRecord{ID: "s", UserID: userID, Query: s.Query}, nil
}

func (f *fakeStore) GetSearchHistory(_ context.Context, userID string, limit int) ([]*domain.SearchRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []*domain.SearchRecord
	for i, q := range f.searches[userID] {
		if limit > 0 && i >= limit {
			break
		}
		out = append(out, &domain.SearchRecord{Query: q})
	}
	return out, nil
}

func (f *fakeStore) ClearSearchHistory(_ context.Context, userID string) error {
	if f.err != nil {
		return f.err
	}
	delete(f.searches, userID)
	return nil
}

func (f *fakeStore) ClearChatMessages(_ context.Context, userID string) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.cleared = append(f.cleared, userID)
	return 1, nil
}

func authed() *domain.Session {
	return &domain.Session{
		ID:       "conn-1",
		Identity: domain.Identity{Subject: "sub-1"},
		User:     &domain.User{ID: "user-1"},
	}
}

func anonymous() *domain.Session {
	return &domain.Session{ID: "conn-2", Identity: domain.Identity{Subject: "sub-2"}}
}

func newTestDispatcher(gw *fakeGateway, st *fakeStore) *Dispatcher {
	return NewDispatcher(st, gw, Config{Timeout: time.Second, DefaultWeatherCity: "berlin"})
}

func TestDispatchRoutesToProviders(t *testing.T) {
	tests := []struct {
		input    string
		provider domain.Provider
		kind     gateway.Kind
	}{
		{"get cat fact", domain.ProviderCatFacts, gateway.KindCatFact},
		{"  GET CAT FACT  ", domain.ProviderCatFacts, gateway.KindCatFact},
		{"get chuck joke", domain.ProviderChuckNorris, gateway.KindJoke},
		{"Get Joke", domain.ProviderChuckNorris, gateway.KindJoke},
		{"search chuck kick", domain.ProviderChuckNorris, gateway.KindJokeSearch},
		{"get activity", domain.ProviderBored, gateway.KindActivity},
		{"search github octocat", domain.ProviderGitHub, gateway.KindGitHubUserSearch},
		{"define gopher", domain.ProviderDictionary, gateway.KindDefine},
		{"get weather", domain.ProviderWeather, gateway.KindWeather},
		{"get weather paris", domain.ProviderWeather, gateway.KindWeather},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			gw := &fakeGateway{}
			res, err := newTestDispatcher(gw, newFakeStore()).Dispatch(context.Background(), tt.input, authed())
			require.NoError(t, err)
			assert.Equal(t, tt.provider, res.Provider)
			require.Len(t, gw.calls(), 1)
			assert.Equal(t, tt.kind, gw.calls()[0].Kind)
			assert.Equal(t, string(tt.kind), res.Endpoint)
		})
	}
}

func TestDispatchLocalCommands(t *testing.T) {
	tests := []struct {
		input    string
		provider domain.Provider
	}{
		{"get my preferences", domain.ProviderCustomBackend},
		{"save search cats", domain.ProviderCustomBackend},
		{"get search history", domain.ProviderCustomBackend},
		{"clear search history", domain.ProviderCustomBackend},
		{"clear", domain.ProviderSystem},
		{"HELP", domain.ProviderSystem},
		{"make me a sandwich", domain.ProviderGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			gw := &fakeGateway{}
			res, err := newTestDispatcher(gw, newFakeStore()).Dispatch(context.Background(), tt.input, authed())
			require.NoError(t, err)
			assert.Equal(t, tt.provider, res.Provider)
			assert.Empty(t, gw.calls())
		})
	}
}

func TestDispatchEmptyArgumentsNeverReachGateway(t *testing.T) {
	tests := map[string]string{
		"SEARCH CHUCK   ": "Please provide a search term for Chuck Norris jokes.",
		"search chuck":    "Please provide a search term for Chuck Norris jokes.",
		"search github ":  "Please provide a username to search.",
		"define":          "Please provide a word to define.",
		"save search   ":  "Please provide a search query to save.",
	}

	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			gw := &fakeGateway{}
			res, err := newTestDispatcher(gw, newFakeStore()).Dispatch(context.Background(), input, authed())
			require.NoError(t, err)
			assert.Equal(t, want, res.Text)
			assert.Empty(t, gw.calls())
		})
	}
}

func TestDispatchWeatherCity(t *testing.T) {
	gw := &fakeGateway{}
	d := newTestDispatcher(gw, newFakeStore())

	_, err := d.Dispatch(context.Background(), "get weather", authed())
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), "get weather Tokyo", authed())
	require.NoError(t, err)

	calls := gw.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "berlin", calls[0].Arg)
	assert.Equal(t, "tokyo", calls[1].Arg)
}

func TestDispatchUnknownEchoesOriginal(t *testing.T) {
	res, err := newTestDispatcher(&fakeGateway{}, newFakeStore()).Dispatch(context.Background(), "Do The Thing", authed())
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderGeneral, res.Provider)
	assert.Contains(t, res.Text, "Do The Thing")
	assert.Contains(t, res.Text, "Type 'help' for available commands.")
}

func TestDispatchHelpIsStable(t *testing.T) {
	d := newTestDispatcher(&fakeGateway{}, newFakeStore())
	first, err := d.Dispatch(context.Background(), "help", nil)
	require.NoError(t, err)
	second, err := d.Dispatch(context.Background(), "help", nil)
	require.NoError(t, err)

	assert.Equal(t, first.Text, second.Text)
	for _, cmd := range []string{"get cat fact", "search chuck", "define", "get weather", "save search", "clear search history", "help"} {
		assert.True(t, strings.Contains(first.Text, cmd), "help text is missing %q", cmd)
	}
}

func TestDispatchSaveSearchEndToEnd(t *testing.T) {
	st := newFakeStore()
	res, err := newTestDispatcher(&fakeGateway{}, st).Dispatch(context.Background(), "save search get weather Berlin", authed())
	require.NoError(t, err)

	assert.Equal(t, domain.ProviderCustomBackend, res.Provider)
	assert.Equal(t, `Search "get weather berlin" saved successfully.`, res.Text)
	assert.Equal(t, []string{"get weather berlin"}, st.searches["user-1"])
}

func TestDispatchSearchHistoryShowsNewestThree(t *testing.T) {
	st := newFakeStore()
	d := newTestDispatcher(&fakeGateway{}, st)
	ctx := context.Background()

	res, err := d.Dispatch(ctx, "get search history", authed())
	require.NoError(t, err)
	assert.Equal(t, "No search history found.", res.Text)

	for _, q := range []string{"a", "b", "c", "d"} {
		_, err := d.Dispatch(ctx, "save search "+q, authed())
		require.NoError(t, err)
	}

	res, err = d.Dispatch(ctx, "get search history", authed())
	require.NoError(t, err)
	assert.Equal(t, "Recent searches: d, c, b", res.Text)
}

func TestDispatchPreferencesSummary(t *testing.T) {
	res, err := newTestDispatcher(&fakeGateway{}, newFakeStore()).Dispatch(context.Background(), "get my preferences", authed())
	require.NoError(t, err)
	assert.Equal(t, "Your preferences: Theme: light, Default APIs: Cat Facts, Weather, Notifications: true", res.Text)
}

func TestDispatchClearSignalsHistoryCleared(t *testing.T) {
	st := newFakeStore()
	res, err := newTestDispatcher(&fakeGateway{}, st).Dispatch(context.Background(), "clear", authed())
	require.NoError(t, err)
	assert.True(t, res.ClearsHistory())
	assert.Equal(t, []string{"user-1"}, st.cleared)
}

func TestDispatchRequiresUserForPersistence(t *testing.T) {
	for _, input := range []string{"get my preferences", "save search x", "get search history", "clear search history", "clear"} {
		t.Run(input, func(t *testing.T) {
			st := newFakeStore()
			res, err := newTestDispatcher(&fakeGateway{}, st).Dispatch(context.Background(), input, anonymous())
			require.NoError(t, err)
			assert.Equal(t, NotAuthenticatedText, res.Text)
			assert.False(t, res.ClearsHistory())
			assert.Empty(t, st.cleared)
		})
	}
}

func TestDispatchStoreFailuresDegrade(t *testing.T) {
	tests := map[string]string{
		"get my preferences":   "Failed to fetch preferences.",
		"save search x":        "Failed to save search.",
		"get search history":   "Failed to fetch search history.",
		"clear search history": "Failed to clear search history.",
		"clear":                "Failed to clear chat history.",
	}

	for input, want := range tests {
		t.Run(input, func(t *testing.T) {
			st := newFakeStore()
			st.err = errors.New("disk on fire")
			res, err := newTestDispatcher(&fakeGateway{}, st).Dispatch(context.Background(), input, authed())
			require.NoError(t, err)
			assert.Equal(t, want, res.Text)
			assert.False(t, res.Success)
		})
	}
}

func TestDispatchGatewaySoftFailurePropagatesText(t *testing.T) {
	gw := &fakeGateway{result: gateway.Result{Success: false, Error: `No GitHub users found for "zz".`, Status: 200}}
	res, err := newTestDispatcher(gw, newFakeStore()).Dispatch(context.Background(), "search github zz", authed())
	require.NoError(t, err)
	assert.Equal(t, `No GitHub users found for "zz".`, res.Text)
	assert.False(t, res.Success)
}

func TestDispatchGatewayTimeoutIsSoft(t *testing.T) {
	gw := &fakeGateway{block: true}
	d := NewDispatcher(newFakeStore(), gw, Config{Timeout: 20 * time.Millisecond})

	res, err := d.Dispatch(context.Background(), "get cat fact", authed())
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderCatFacts, res.Provider)
	assert.Equal(t, "Failed to fetch cat fact", res.Text)
}

func TestDispatchCallerCancelIsReturned(t *testing.T) {
	gw := &fakeGateway{block: true}
	d := NewDispatcher(newFakeStore(), gw, Config{Timeout: time.Minute})
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	_, err := d.Dispatch(ctx, "get cat fact", authed())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDispatchGatewayFaultIsReturned(t *testing.T) {
	gw := &fakeGateway{err: gateway.ErrUnknownKind}
	_, err := newTestDispatcher(gw, newFakeStore()).Dispatch(context.Background(), "get activity", authed())
	assert.ErrorIs(t, err, gateway.ErrUnknownKind)
}
