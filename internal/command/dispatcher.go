// Package command parses console commands and routes them to the API gateway
// or the user store.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/commanddeck/internal/domain"
	"github.com/ashureev/commanddeck/internal/gateway"
)

// NotAuthenticatedText answers persistence commands on sessions without a stored user.
const NotAuthenticatedText = "User not found. Please log in again."

const (
	defaultTimeout     = 10 * time.Second
	defaultWeatherCity = "berlin"
	historyPreviewSize = 3
)

// Store is the subset of the user store the dispatcher needs.
type Store interface {
	GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error)
	SaveSearch(ctx context.Context, userID string, search domain.NewSearch) (*domain.SearchRecord, error)
	GetSearchHistory(ctx context.Context, userID string, limit int) ([]*domain.SearchRecord, error)
	ClearSearchHistory(ctx context.Context, userID string) error
	ClearChatMessages(ctx context.Context, userID string) (int64, error)
}

// Result is a CommandResult plus what the caller needs to record usage.
type Result struct {
	domain.CommandResult
	// Endpoint names the lookup kind or local operation that served the command.
	Endpoint string
	Status   int
	// Success is false when a collaborator reported a failure.
	Success  bool
	Duration time.Duration
}

// Config tunes a Dispatcher.
type Config struct {
	// Timeout bounds every collaborator call.
	Timeout            time.Duration
	DefaultWeatherCity string
}

type handlerFunc func(ctx context.Context, arg string, sess *domain.Session) (Result, error)

// rule matches either a literal command (and its aliases) or, when prefix is
// set, the pattern followed by an argument. A bare prefix matches with an
// empty argument.
type rule struct {
	pattern string
	aliases []string
	prefix  bool
	handle  handlerFunc
}

func (r rule) match(cmd string) (string, bool) {
	if !r.prefix {
		return "", cmd == r.pattern || slices.Contains(r.aliases, cmd)
	}
	if cmd == r.pattern {
		return "", true
	}
	if rest, ok := strings.CutPrefix(cmd, r.pattern+" "); ok {
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// Dispatcher routes commands through an ordered first-match rule table.
type Dispatcher struct {
	store       Store
	gateway     gateway.Gateway
	timeout     time.Duration
	defaultCity string
	rules       []rule
}

// NewDispatcher builds a dispatcher over the given collaborators.
func NewDispatcher(store Store, gw gateway.Gateway, cfg Config) *Dispatcher {
	d := &Dispatcher{
		store:       store,
		gateway:     gw,
		timeout:     cfg.Timeout,
		defaultCity: strings.ToLower(strings.TrimSpace(cfg.DefaultWeatherCity)),
	}
	if d.timeout <= 0 {
		d.timeout = defaultTimeout
	}
	if d.defaultCity == "" {
		d.defaultCity = defaultWeatherCity
	}

	d.rules = []rule{
		{pattern: "get cat fact", handle: d.lookup(gateway.KindCatFact, domain.ProviderCatFacts, "Failed to fetch cat fact", "")},
		{pattern: "get chuck joke", aliases: []string{"get joke"}, handle: d.lookup(gateway.KindJoke, domain.ProviderChuckNorris, "Failed to fetch joke", "")},
		{pattern: "search chuck", prefix: true, handle: d.lookup(gateway.KindJokeSearch, domain.ProviderChuckNorris, "Failed to search jokes", "Please provide a search term for Chuck Norris jokes.")},
		{pattern: "get activity", handle: d.lookup(gateway.KindActivity, domain.ProviderBored, "Failed to fetch activity", "")},
		{pattern: "search github", prefix: true, handle: d.lookup(gateway.KindGitHubUserSearch, domain.ProviderGitHub, "Failed to search users", "Please provide a username to search.")},
		{pattern: "define", prefix: true, handle: d.lookup(gateway.KindDefine, domain.ProviderDictionary, "Failed to fetch definition", "Please provide a word to define.")},
		{pattern: "get weather", prefix: true, handle: d.weather},
		{pattern: "get my preferences", handle: d.preferences},
		{pattern: "save search", prefix: true, handle: d.saveSearch},
		{pattern: "get search history", handle: d.searchHistory},
		{pattern: "clear search history", handle: d.clearSearchHistory},
		{pattern: "clear", handle: d.clearChat},
		{pattern: "help", handle: d.help},
	}
	return d
}

// Dispatch matches raw against the rule table and runs the first match.
// Business failures come back as result text; only unexpected gateway faults
// are returned as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, raw string, sess *domain.Session) (Result, error) {
	cmd := strings.ToLower(strings.TrimSpace(raw))

	for _, r := range d.rules {
		arg, ok := r.match(cmd)
		if !ok {
			continue
		}
		return r.handle(ctx, arg, sess)
	}

	return reply(domain.ProviderGeneral, "unknown",
		fmt.Sprintf("Unknown command: %s. Type 'help' for available commands.", raw)), nil
}

func (d *Dispatcher) lookup(kind gateway.Kind, provider domain.Provider, fallback, prompt string) handlerFunc {
	return func(ctx context.Context, arg string, _ *domain.Session) (Result, error) {
		if prompt != "" && arg == "" {
			return reply(provider, string(kind), prompt), nil
		}
		return d.callGateway(ctx, gateway.Request{Kind: kind, Arg: arg}, provider, fallback)
	}
}

func (d *Dispatcher) weather(ctx context.Context, city string, _ *domain.Session) (Result, error) {
	if city == "" {
		city = d.defaultCity
	}
	return d.callGateway(ctx, gateway.Request{Kind: gateway.KindWeather, Arg: city}, domain.ProviderWeather, "Failed to fetch weather")
}

func (d *Dispatcher) callGateway(parent context.Context, req gateway.Request, provider domain.Provider, fallback string) (Result, error) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	res, err := d.gateway.Lookup(ctx, req)
	if err != nil {
		if parent.Err() != nil {
			return Result{}, fmt.Errorf("lookup %s: %w", req.Kind, parent.Err())
		}
		// HTTPGateway reports its own timeouts as soft results; this covers
		// gateways that surface the command deadline as an error.
		if ctx.Err() != nil {
			slog.Warn("gateway lookup exceeded command timeout", "kind", req.Kind, "timeout", d.timeout, "error", err)
			return Result{
				CommandResult: domain.CommandResult{Provider: provider, Text: fallback},
				Endpoint:      string(req.Kind),
			}, nil
		}
		return Result{}, fmt.Errorf("lookup %s: %w", req.Kind, err)
	}

	text := res.Text()
	if text == "" {
		text = fallback
	}
	return Result{
		CommandResult: domain.CommandResult{Provider: provider, Text: text},
		Endpoint:      string(req.Kind),
		Status:        res.Status,
		Success:       res.Success,
		Duration:      res.Duration,
	}, nil
}

func (d *Dispatcher) preferences(ctx context.Context, _ string, sess *domain.Session) (Result, error) {
	const endpoint = "preferences"
	userID := sess.UserID()
	if userID == "" {
		return notAuthenticated(domain.ProviderCustomBackend, endpoint), nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	prefs, err := d.store.GetPreferences(ctx, userID)
	if err != nil {
		return storeFailure(domain.ProviderCustomBackend, endpoint, "Failed to fetch preferences.", userID, err), nil
	}
	return reply(domain.ProviderCustomBackend, endpoint, prefs.Summary()), nil
}

func (d *Dispatcher) saveSearch(ctx context.Context, query string, sess *domain.Session) (Result, error) {
	const endpoint = "save-search"
	if query == "" {
		return reply(domain.ProviderCustomBackend, endpoint, "Please provide a search query to save."), nil
	}
	userID := sess.UserID()
	if userID == "" {
		return notAuthenticated(domain.ProviderCustomBackend, endpoint), nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if _, err := d.store.SaveSearch(ctx, userID, domain.NewSearch{Query: query, Success: true}); err != nil {
		return storeFailure(domain.ProviderCustomBackend, endpoint, "Failed to save search.", userID, err), nil
	}
	return reply(domain.ProviderCustomBackend, endpoint, fmt.Sprintf("Search \"%s\" saved successfully.", query)), nil
}

func (d *Dispatcher) searchHistory(ctx context.Context, _ string, sess *domain.Session) (Result, error) {
	const endpoint = "search-history"
	userID := sess.UserID()
	if userID == "" {
		return notAuthenticated(domain.ProviderCustomBackend, endpoint), nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	history, err := d.store.GetSearchHistory(ctx, userID, historyPreviewSize)
	if err != nil {
		return storeFailure(domain.ProviderCustomBackend, endpoint, "Failed to fetch search history.", userID, err), nil
	}
	if len(history) == 0 {
		return reply(domain.ProviderCustomBackend, endpoint, "No search history found."), nil
	}

	queries := make([]string, 0, historyPreviewSize)
	for _, h := range history[:min(len(history), historyPreviewSize)] {
		queries = append(queries, h.Query)
	}
	return reply(domain.ProviderCustomBackend, endpoint, "Recent searches: "+strings.Join(queries, ", ")), nil
}

func (d *Dispatcher) clearSearchHistory(ctx context.Context, _ string, sess *domain.Session) (Result, error) {
	const endpoint = "clear-search-history"
	userID := sess.UserID()
	if userID == "" {
		return notAuthenticated(domain.ProviderCustomBackend, endpoint), nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if err := d.store.ClearSearchHistory(ctx, userID); err != nil {
		return storeFailure(domain.ProviderCustomBackend, endpoint, "Failed to clear search history.", userID, err), nil
	}
	return reply(domain.ProviderCustomBackend, endpoint, "Search history cleared successfully."), nil
}

func (d *Dispatcher) clearChat(ctx context.Context, _ string, sess *domain.Session) (Result, error) {
	const endpoint = "clear"
	userID := sess.UserID()
	if userID == "" {
		return notAuthenticated(domain.ProviderSystem, endpoint), nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	if _, err := d.store.ClearChatMessages(ctx, userID); err != nil {
		return storeFailure(domain.ProviderSystem, endpoint, "Failed to clear chat history.", userID, err), nil
	}
	return reply(domain.ProviderSystem, endpoint, domain.HistoryClearedText), nil
}

func (d *Dispatcher) help(context.Context, string, *domain.Session) (Result, error) {
	return reply(domain.ProviderSystem, "help", HelpText), nil
}

func reply(provider domain.Provider, endpoint, text string) Result {
	return Result{
		CommandResult: domain.CommandResult{Provider: provider, Text: text},
		Endpoint:      endpoint,
		Success:       true,
	}
}

func notAuthenticated(provider domain.Provider, endpoint string) Result {
	r := reply(provider, endpoint, NotAuthenticatedText)
	r.Success = false
	return r
}

func storeFailure(provider domain.Provider, endpoint, text, userID string, err error) Result {
	level := slog.LevelError
	if errors.Is(err, context.DeadlineExceeded) {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "store call failed", "endpoint", endpoint, "user_id", userID, "error", err)

	r := reply(provider, endpoint, text)
	r.Success = false
	return r
}
