package tool

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

const ToolArxiv = "Arxiv"

type ArxivConfig struct {
	Enabled         bool          `envconfig:"ENABLED" split_words:"true" default:"true"`
	BaseURL         string        `envconfig:"BASE_URL" split_words:"true" default:"https://export.arxiv.org"`
	TopK            int           `envconfig:"TOP_K" split_words:"true" default:"3"`
	TruncationLimit int           `envconfig:"TRUNCATION_LIMIT" split_words:"true" default:"4000"`
	Timeout         time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"20s"`
}

// Arxiv queries the arXiv Atom API. Matches are summarised as metadata and
// listed inline as a small records table.
type Arxiv struct {
	fetch *fetcher
	topK  int
	limit int
}

func NewArxiv(cfg ArxivConfig, opts ...Option) (*Arxiv, error) {
	f, err := newFetcher(cfg.BaseURL, cfg.Timeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("arxiv: %w", err)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 3
	}
	return &Arxiv{fetch: f, topK: topK, limit: cfg.TruncationLimit}, nil
}

func (a *Arxiv) Descriptor() contractx.ToolDescriptor {
	return contractx.ToolDescriptor{
		Name: ToolArxiv,
		Description: "Search arXiv for scientific papers in physics, mathematics, computer science, " +
			"quantitative biology and finance, statistics and economics. Input is a search query or an arXiv id. " +
			"Returns titles and abstracts as metadata plus an inline df table of Published, Title, Authors and Link.",
		Tool: a,
	}
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

var arxivID = regexp.MustCompile(`^\d{4}\.\d{4,5}(v\d+)?$`)

func (a *Arxiv) Invoke(ctx context.Context, query string) contractx.ToolResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return contractx.Fail(ToolArxiv, contractx.ErrToolInvocation, "a search query is required for arXiv")
	}

	params := url.Values{
		"start":       {"0"},
		"max_results": {strconv.Itoa(a.topK)},
	}
	if arxivID.MatchString(q) {
		params.Set("id_list", q)
	} else {
		params.Set("search_query", "all:"+q)
	}

	raw, err := a.fetch.get(ctx, "/api/query", params)
	if err != nil {
		return contractx.Fail(ToolArxiv, err, fmt.Sprintf("%v error found while querying %s", err, q))
	}

	var feed atomFeed
	if err := xml.Unmarshal(raw, &feed); err != nil {
		err = fmt.Errorf("%w: decode atom feed: %v", contractx.ErrToolInvocation, err)
		return contractx.Fail(ToolArxiv, err, fmt.Sprintf("%v error found while querying %s", err, q))
	}
	if len(feed.Entries) == 0 {
		return contractx.Fail(ToolArxiv, contractx.ErrUpstreamNotFound, fmt.Sprintf("arXiv has no papers related to %s", q))
	}

	preview := &contractx.Frame{Columns: []string{"Published", "Title", "Authors", "Link"}}
	summaries := make([]string, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		title := collapseSpace(e.Title)
		summaries = append(summaries, composeMetadata(title, collapseSpace(e.Summary), 0))

		names := make([]string, 0, len(e.Authors))
		for _, au := range e.Authors {
			names = append(names, strings.TrimSpace(au.Name))
		}
		published := strings.TrimSpace(e.Published)
		if len(published) >= 10 {
			published = published[:10]
		}
		preview.Rows = append(preview.Rows, []any{published, title, strings.Join(names, ", "), strings.TrimSpace(e.ID)})
	}

	records, err := envelopex.EncodeRecords(preview.Columns, preview.Rows)
	if err != nil {
		err = fmt.Errorf("%w: %v", contractx.ErrToolInvocation, err)
		return contractx.Fail(ToolArxiv, err, fmt.Sprintf("%v error found while querying %s", err, q))
	}
	return contractx.Succeed(ToolArxiv, truncateRunes(strings.Join(summaries, "\n\n"), a.limit), preview, records)
}
