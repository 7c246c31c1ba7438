package domain

// Provider tags the surface a command result belongs to.
type Provider string

const (
	ProviderCatFacts      Provider = "Cat Facts"
	ProviderChuckNorris   Provider = "Chuck Norris Jokes"
	ProviderBored         Provider = "Bored API"
	ProviderGitHub        Provider = "GitHub Users"
	ProviderDictionary    Provider = "Dictionary"
	ProviderWeather       Provider = "Weather"
	ProviderCustomBackend Provider = "Custom Backend"
	ProviderSystem        Provider = "System"
	ProviderGeneral       Provider = "General"
)

var knownProviders = map[Provider]struct{}{
	ProviderCatFacts:      {},
	ProviderChuckNorris:   {},
	ProviderBored:         {},
	ProviderGitHub:        {},
	ProviderDictionary:    {},
	ProviderWeather:       {},
	ProviderCustomBackend: {},
	ProviderSystem:        {},
	ProviderGeneral:       {},
}

// Valid reports whether p is one of the known provider tags.
func (p Provider) Valid() bool {
	_, ok := knownProviders[p]
	return ok
}

func (p Provider) String() string { return string(p) }

// HistoryClearedText is the result text of the clear command.
// A System result carrying it tells connected clients to drop their local view.
const HistoryClearedText = "Chat history cleared."

// CommandResult is the provenance-tagged outcome of dispatching one command.
type CommandResult struct {
	Provider Provider `json:"api"`
	Text     string   `json:"result"`
}

// ClearsHistory reports whether the result is the history-cleared signal.
func (r CommandResult) ClearsHistory() bool {
	return r.Provider == ProviderSystem && r.Text == HistoryClearedText
}
