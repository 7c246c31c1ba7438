package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Endpoints holds the upstream base URLs.
type Endpoints struct {
	CatFact     string
	ChuckNorris string
	Bored       string
	GitHub      string
	Dictionary  string
	OpenMeteo   string
}

// HTTPGateway implements Gateway over the public upstream APIs.
type HTTPGateway struct {
	catFacts   *resty.Client
	chuck      *resty.Client
	bored      *resty.Client
	github     *resty.Client
	dictionary *resty.Client
	meteo      *resty.Client
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTP builds a gateway with one client per upstream.
func NewHTTP(endpoints Endpoints, timeout time.Duration, userAgent string) *HTTPGateway {
	newClient := func(baseURL string) *resty.Client {
		return resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(timeout).
			SetHeader("User-Agent", userAgent).
			SetHeader("Accept", "application/json")
	}

	return &HTTPGateway{
		catFacts:   newClient(endpoints.CatFact),
		chuck:      newClient(endpoints.ChuckNorris),
		bored:      newClient(endpoints.Bored),
		github:     newClient(endpoints.GitHub),
		dictionary: newClient(endpoints.Dictionary),
		meteo:      newClient(endpoints.OpenMeteo),
	}
}

// Lookup dispatches req to its upstream.
func (g *HTTPGateway) Lookup(ctx context.Context, req Request) (Result, error) {
	start := time.Now()

	var res Result
	switch req.Kind {
	case KindCatFact:
		res = g.catFact(ctx)
	case KindJoke:
		res = g.joke(ctx)
	case KindJokeSearch:
		res = g.searchJokes(ctx, req.Arg)
	case KindActivity:
		res = g.activity(ctx)
	case KindGitHubUserSearch:
		res = g.searchGitHubUsers(ctx, req.Arg)
	case KindDefine:
		res = g.define(ctx, req.Arg)
	case KindWeather:
		res = g.weather(ctx, req.Arg)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownKind, req.Kind)
	}

	res.Duration = time.Since(start)
	return res, nil
}

func (g *HTTPGateway) catFact(ctx context.Context) Result {
	var body struct {
		Fact string `json:"fact"`
	}
	resp, err := g.catFacts.R().SetContext(ctx).SetResult(&body).Get("/fact")
	if failed(resp, err) {
		return softFailure(KindCatFact, resp, err, "Failed to fetch cat fact")
	}
	if body.Fact == "" {
		return success(resp, "No fact found.")
	}
	return success(resp, body.Fact)
}

func (g *HTTPGateway) joke(ctx context.Context) Result {
	var body struct {
		Value string `json:"value"`
	}
	resp, err := g.chuck.R().SetContext(ctx).SetResult(&body).Get("/jokes/random")
	if failed(resp, err) {
		return softFailure(KindJoke, resp, err, "Failed to fetch Chuck Norris joke")
	}
	if body.Value == "" {
		return success(resp, "No joke found.")
	}
	return success(resp, body.Value)
}

func (g *HTTPGateway) searchJokes(ctx context.Context, term string) Result {
	var body struct {
		Result []struct {
			Value string `json:"value"`
		} `json:"result"`
	}
	resp, err := g.chuck.R().
		SetContext(ctx).
		SetQueryParam("query", term).
		SetResult(&body).
		Get("/jokes/search")
	if failed(resp, err) {
		return softFailure(KindJokeSearch, resp, err, "Failed to search Chuck Norris jokes")
	}
	if len(body.Result) == 0 {
		return notFound(resp, fmt.Sprintf("No Chuck Norris jokes found for \"%s\".", term))
	}
	return success(resp, body.Result[0].Value)
}

func (g *HTTPGateway) activity(ctx context.Context) Result {
	var body struct {
		Activity     string `json:"activity"`
		Type         string `json:"type"`
		Participants int    `json:"participants"`
	}
	resp, err := g.bored.R().SetContext(ctx).SetResult(&body).Get("/api/activity/")
	if failed(resp, err) {
		return softFailure(KindActivity, resp, err, "Failed to fetch activity")
	}
	if body.Activity == "" {
		return notFound(resp, "No activity found.")
	}
	return success(resp, fmt.Sprintf("%s (Type: %s, Participants: %d)", body.Activity, body.Type, body.Participants))
}

func (g *HTTPGateway) searchGitHubUsers(ctx context.Context, query string) Result {
	var body struct {
		Items []struct {
			Login   string `json:"login"`
			Type    string `json:"type"`
			HTMLURL string `json:"html_url"`
		} `json:"items"`
	}
	resp, err := g.github.R().
		SetContext(ctx).
		SetHeader("Accept", "application/vnd.github+json").
		SetQueryParam("q", query).
		SetResult(&body).
		Get("/search/users")
	if failed(resp, err) {
		return softFailure(KindGitHubUserSearch, resp, err, "Failed to search GitHub users")
	}
	if len(body.Items) == 0 {
		return notFound(resp, fmt.Sprintf("No GitHub users found for \"%s\".", query))
	}
	u := body.Items[0]
	return success(resp, fmt.Sprintf("Found: %s (%s) - %s", u.Login, u.Type, u.HTMLURL))
}

type dictionaryEntry struct {
	Meanings []struct {
		Definitions []struct {
			Definition string `json:"definition"`
		} `json:"definitions"`
	} `json:"meanings"`
}

func (g *HTTPGateway) define(ctx context.Context, word string) Result {
	var body []dictionaryEntry
	resp, err := g.dictionary.R().
		SetContext(ctx).
		SetPathParam("word", word).
		SetResult(&body).
		Get("/api/v2/entries/en/{word}")
	if err != nil {
		return softFailure(KindDefine, resp, err, "Failed to fetch word definition")
	}

	missing := fmt.Sprintf("No definition found for \"%s\".", word)
	if !resp.IsSuccess() {
		// The dictionary answers unknown words with 404.
		return notFound(resp, missing)
	}
	if len(body) == 0 || len(body[0].Meanings) == 0 || len(body[0].Meanings[0].Definitions) == 0 ||
		body[0].Meanings[0].Definitions[0].Definition == "" {
		return notFound(resp, missing)
	}
	return success(resp, fmt.Sprintf("%s: %s", word, body[0].Meanings[0].Definitions[0].Definition))
}

func (g *HTTPGateway) weather(ctx context.Context, city string) Result {
	coords := coordinatesFor(city)
	var body struct {
		CurrentWeather *struct {
			Temperature float64 `json:"temperature"`
			Windspeed   float64 `json:"windspeed"`
		} `json:"current_weather"`
	}
	resp, err := g.meteo.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":        formatFloat(coords.lat),
			"longitude":       formatFloat(coords.lon),
			"current_weather": "true",
		}).
		SetResult(&body).
		Get("/v1/forecast")
	if failed(resp, err) {
		return softFailure(KindWeather, resp, err, "Failed to fetch weather data")
	}
	if body.CurrentWeather == nil {
		return notFound(resp, "Weather data not found.")
	}
	return success(resp, fmt.Sprintf("Weather in %s: %s°C, wind %s km/h",
		city, formatFloat(body.CurrentWeather.Temperature), formatFloat(body.CurrentWeather.Windspeed)))
}

func failed(resp *resty.Response, err error) bool {
	return err != nil || !resp.IsSuccess()
}

func statusOf(resp *resty.Response) int {
	if resp == nil {
		return 0
	}
	return resp.StatusCode()
}

func success(resp *resty.Response, data string) Result {
	return Result{Success: true, Data: data, Status: statusOf(resp)}
}

func notFound(resp *resty.Response, msg string) Result {
	return Result{Success: false, Error: msg, Status: statusOf(resp)}
}

func softFailure(kind Kind, resp *resty.Response, err error, msg string) Result {
	status := statusOf(resp)
	slog.Warn("upstream lookup failed", "kind", kind, "status", status, "error", err)
	return Result{Success: false, Error: msg, Status: status}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
