package sentiment

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

// Source returns recent free-text items about the traded asset.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]string, error)
}

// NewsAPI reads the /v2/everything endpoint. The first five articles are used.
type NewsAPI struct {
	client *resty.Client
	apiKey string
	query  string
}

func NewNewsAPI(apiKey, query string) *NewsAPI {
	return NewNewsAPIWithBaseURL(apiKey, query, "https://newsapi.org")
}

func NewNewsAPIWithBaseURL(apiKey, query, baseURL string) *NewsAPI {
	return &NewsAPI{client: resty.New().SetBaseURL(baseURL), apiKey: apiKey, query: query}
}

func (n *NewsAPI) Name() string { return "newsapi" }

type newsResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	} `json:"articles"`
}

func (n *NewsAPI) Fetch(ctx context.Context) ([]string, error) {
	var out newsResponse
	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"q": n.query, "apiKey": n.apiKey}).
		SetResult(&out).
		SetError(&out).
		Get("/v2/everything")
	if err != nil {
		return nil, errors.Wrap(err, "newsapi")
	}
	if resp.IsError() {
		return nil, errors.Errorf("newsapi: %s: %s", resp.Status(), out.Message)
	}
	texts := make([]string, 0, 5)
	for i, a := range out.Articles {
		if i == 5 {
			break
		}
		texts = append(texts, strings.TrimSpace(a.Title+" "+a.Description))
	}
	return texts, nil
}

// Twitter uses the v2 recent search endpoint with an app bearer token.
type Twitter struct {
	client *resty.Client
	query  string
}

func NewTwitter(bearer, query string) *Twitter {
	return NewTwitterWithBaseURL(bearer, query, "https://api.twitter.com")
}

func NewTwitterWithBaseURL(bearer, query, baseURL string) *Twitter {
	return &Twitter{client: resty.New().SetBaseURL(baseURL).SetAuthToken(bearer), query: query}
}

func (t *Twitter) Name() string { return "twitter" }

type tweetsResponse struct {
	Data []struct {
		Text string `json:"text"`
	} `json:"data"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

func (t *Twitter) Fetch(ctx context.Context) ([]string, error) {
	var out tweetsResponse
	resp, err := t.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"query":        t.query,
			"max_results":  "10",
			"tweet.fields": "text",
		}).
		SetResult(&out).
		SetError(&out).
		Get("/2/tweets/search/recent")
	if err != nil {
		return nil, errors.Wrap(err, "twitter")
	}
	if resp.IsError() {
		return nil, errors.Errorf("twitter: %s: %s %s", resp.Status(), out.Title, out.Detail)
	}
	texts := make([]string, 0, len(out.Data))
	for _, tw := range out.Data {
		texts = append(texts, tw.Text)
	}
	return texts, nil
}

// Reddit authenticates with the application-only OAuth flow and searches one
// subreddit.
type Reddit struct {
	auth      *resty.Client
	api       *resty.Client
	id        string
	secret    string
	subreddit string
	query     string
	limit     int
}

func NewReddit(clientID, clientSecret, userAgent, query string) *Reddit {
	return NewRedditWithBaseURLs(clientID, clientSecret, userAgent, query, "https://www.reddit.com", "https://oauth.reddit.com")
}

func NewRedditWithBaseURLs(clientID, clientSecret, userAgent, query, authURL, apiURL string) *Reddit {
	return &Reddit{
		auth:      resty.New().SetBaseURL(authURL).SetHeader("User-Agent", userAgent),
		api:       resty.New().SetBaseURL(apiURL).SetHeader("User-Agent", userAgent),
		id:        clientID,
		secret:    clientSecret,
		subreddit: query,
		query:     query,
		limit:     10,
	}
}

func (r *Reddit) Name() string { return "reddit" }

type redditToken struct {
	AccessToken string `json:"access_token"`
	Error       string `json:"error"`
}

type redditListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title    string `json:"title"`
				Selftext string `json:"selftext"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (r *Reddit) Fetch(ctx context.Context) ([]string, error) {
	var tok redditToken
	resp, err := r.auth.R().
		SetContext(ctx).
		SetBasicAuth(r.id, r.secret).
		SetFormData(map[string]string{"grant_type": "client_credentials"}).
		SetResult(&tok).
		SetError(&tok).
		Post("/api/v1/access_token")
	if err != nil {
		return nil, errors.Wrap(err, "reddit token")
	}
	if resp.IsError() || tok.AccessToken == "" {
		return nil, errors.Errorf("reddit token: %s %s", resp.Status(), tok.Error)
	}

	var listing redditListing
	resp, err = r.api.R().
		SetContext(ctx).
		SetAuthToken(tok.AccessToken).
		SetQueryParams(map[string]string{
			"q":           r.query,
			"limit":       strconv.Itoa(r.limit),
			"restrict_sr": "1",
		}).
		SetResult(&listing).
		Get("/r/" + r.subreddit + "/search")
	if err != nil {
		return nil, errors.Wrap(err, "reddit search")
	}
	if resp.IsError() {
		return nil, errors.Errorf("reddit search: %s", resp.Status())
	}
	texts := make([]string, 0, len(listing.Data.Children))
	for _, c := range listing.Data.Children {
		texts = append(texts, strings.TrimSpace(c.Data.Title+" "+c.Data.Selftext))
	}
	return texts, nil
}
