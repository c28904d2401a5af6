package tool

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
)

const ToolWikipedia = "Wikipedia"

type WikipediaConfig struct {
	Enabled         bool          `envconfig:"ENABLED" split_words:"true" default:"true"`
	BaseURL         string        `envconfig:"BASE_URL" split_words:"true" default:"https://en.wikipedia.org"`
	TopK            int           `envconfig:"TOP_K" split_words:"true" default:"3"`
	TruncationLimit int           `envconfig:"TRUNCATION_LIMIT" split_words:"true" default:"4000"`
	Timeout         time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"20s"`
}

// Wikipedia searches the MediaWiki API and returns page summaries as text.
type Wikipedia struct {
	fetch *fetcher
	topK  int
	limit int
}

func NewWikipedia(cfg WikipediaConfig, opts ...Option) (*Wikipedia, error) {
	f, err := newFetcher(cfg.BaseURL, cfg.Timeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("wikipedia: %w", err)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Wikipedia{fetch: f, topK: topK, limit: cfg.TruncationLimit}, nil
}

func (w *Wikipedia) Descriptor() contractx.ToolDescriptor {
	return contractx.ToolDescriptor{
		Name: ToolWikipedia,
		Description: "Look up general knowledge on Wikipedia: people, places, events, definitions. " +
			"Input is a search query. Returns page titles and summaries as metadata text only, without tabular data.",
		Tool: w,
	}
}

type wikiPage struct {
	index   int64
	title   string
	extract string
}

func (w *Wikipedia) Invoke(ctx context.Context, query string) contractx.ToolResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return contractx.Fail(ToolWikipedia, contractx.ErrToolInvocation, "a search query is required for Wikipedia")
	}

	raw, err := w.fetch.get(ctx, "/w/api.php", url.Values{
		"action":        {"query"},
		"format":        {"json"},
		"formatversion": {"2"},
		"generator":     {"search"},
		"gsrsearch":     {q},
		"gsrlimit":      {strconv.Itoa(w.topK)},
		"prop":          {"extracts"},
		"exintro":       {"1"},
		"explaintext":   {"1"},
		"redirects":     {"1"},
	})
	if err != nil {
		return contractx.Fail(ToolWikipedia, err, fmt.Sprintf("%v error found while querying %s", err, q))
	}
	if !gjson.ValidBytes(raw) {
		return contractx.Fail(ToolWikipedia, contractx.ErrToolInvocation, fmt.Sprintf("invalid response error found while querying %s", q))
	}
	if info := gjson.GetBytes(raw, "error.info"); info.Exists() {
		err := fmt.Errorf("%w: %s", contractx.ErrToolInvocation, info.String())
		return contractx.Fail(ToolWikipedia, err, fmt.Sprintf("%v error found while querying %s", err, q))
	}

	var pages []wikiPage
	gjson.GetBytes(raw, "query.pages").ForEach(func(_, p gjson.Result) bool {
		if p.Get("missing").Bool() {
			return true
		}
		pages = append(pages, wikiPage{
			index:   p.Get("index").Int(),
			title:   p.Get("title").String(),
			extract: p.Get("extract").String(),
		})
		return true
	})
	if len(pages) == 0 {
		return contractx.Fail(ToolWikipedia, contractx.ErrUpstreamNotFound, fmt.Sprintf("Wikipedia has no page related to %s", q))
	}
	sort.SliceStable(pages, func(i, j int) bool { return pages[i].index < pages[j].index })

	summaries := make([]string, 0, len(pages))
	for _, p := range pages {
		summaries = append(summaries, composeMetadata(p.title, p.extract, 0))
	}
	return contractx.Succeed(ToolWikipedia, truncateRunes(strings.Join(summaries, "\n\n"), w.limit), nil, nil)
}
