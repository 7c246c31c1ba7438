// Package gateway performs lookups against the third-party APIs the console
// exposes and normalizes each answer to a single line of text.
package gateway

import (
	"context"
	"errors"
	"time"
)

// Kind names a lookup the gateway can perform.
type Kind string

const (
	KindCatFact          Kind = "cat-fact"
	KindJoke             Kind = "joke"
	KindJokeSearch       Kind = "joke-search"
	KindActivity         Kind = "activity"
	KindGitHubUserSearch Kind = "github-user-search"
	KindDefine           Kind = "dictionary-define"
	KindWeather          Kind = "weather"
)

// ErrUnknownKind is returned by Lookup for a kind it does not serve.
var ErrUnknownKind = errors.New("unknown lookup kind")

// Request is a single lookup. Arg is the search term, word or city.
type Request struct {
	Kind Kind
	Arg  string
}

// Result is the normalized outcome of a lookup. Upstream failures are soft:
// Success is false and Error holds a user-facing message.
type Result struct {
	Success  bool
	Data     string
	Error    string
	Status   int
	Duration time.Duration
}

// Text returns Data on success and Error otherwise.
func (r Result) Text() string {
	if r.Success {
		return r.Data
	}
	return r.Error
}

// Gateway performs named external lookups.
type Gateway interface {
	Lookup(ctx context.Context, req Request) (Result, error)
}

type coordinates struct {
	lat, lon float64
}

const defaultWeatherCity = "berlin"

var cityCoordinates = map[string]coordinates{
	"berlin": {lat: 52.52, lon: 13.41},
	"london": {lat: 51.51, lon: -0.13},
	"paris":  {lat: 48.85, lon: 2.35},
	"tokyo":  {lat: 35.68, lon: 139.76},
}

// coordinatesFor returns the coordinates of a known city, or Berlin's.
func coordinatesFor(city string) coordinates {
	if c, ok := cityCoordinates[city]; ok {
		return c
	}
	return cityCoordinates[defaultWeatherCity]
}
