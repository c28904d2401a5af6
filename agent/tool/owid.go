package tool

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

const ToolOWID = "Our-world-in-data"

type OWIDConfig struct {
	BaseURL         string        `envconfig:"BASE_URL" split_words:"true" default:"https://ourworldindata.org"`
	TruncationLimit int           `envconfig:"TRUNCATION_LIMIT" split_words:"true" default:"5000"`
	PreviewRows     int           `envconfig:"PREVIEW_ROWS" split_words:"true" default:"5"`
	ArtifactPath    string        `envconfig:"ARTIFACT_PATH" split_words:"true"`
	Timeout         time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"20s"`
}

// OWID looks up Our World in Data grapher charts. The preview rows travel
// inline as JSON records under the df key; the full dataset optionally lands
// in a local side artifact.
type OWID struct {
	fetch       *fetcher
	limit       int
	previewRows int
	artifact    *ArtifactWriter
}

func NewOWID(cfg OWIDConfig, opts ...Option) (*OWID, error) {
	f, err := newFetcher(cfg.BaseURL, cfg.Timeout, opts...)
	if err != nil {
		return nil, fmt.Errorf("owid: %w", err)
	}

	o := &OWID{
		fetch:       f,
		limit:       cfg.TruncationLimit,
		previewRows: cfg.PreviewRows,
	}
	if o.previewRows <= 0 {
		o.previewRows = 5
	}
	if path := strings.TrimSpace(cfg.ArtifactPath); path != "" {
		o.artifact, err = NewArtifactWriter(path)
		if err != nil {
			return nil, fmt.Errorf("owid: %w", err)
		}
	}
	return o, nil
}

func (o *OWID) Descriptor() contractx.ToolDescriptor {
	return contractx.ToolDescriptor{
		Name: ToolOWID,
		Description: "Search Our World in Data for a dataset about global development " +
			"(emissions, energy, population, health, economy). Input is a short topic such as " +
			"'co2 emissions per capita' or a chart slug. Returns the dataset title and description " +
			"as metadata and the first rows inline as JSON records under df. " +
			"The result is shown to the user directly.",
		ReturnDirect: true,
		Tool:         o,
	}
}

func (o *OWID) Invoke(ctx context.Context, query string) contractx.ToolResult {
	q := strings.TrimSpace(query)
	if q == "" {
		return contractx.Fail(ToolOWID, contractx.ErrToolInvocation, "a topic is required to search Our World in Data")
	}
	slug := chartSlug(q)
	if slug == "" {
		return contractx.Fail(ToolOWID, contractx.ErrUpstreamNotFound, notFoundReason(q))
	}

	title, description, err := o.metadata(ctx, slug)
	if err != nil {
		return o.failure(q, err)
	}

	frame, err := o.dataset(ctx, slug)
	if err != nil {
		return o.failure(q, err)
	}

	metadata := composeMetadata(title, description, o.limit)
	if frame.Empty() {
		return contractx.Succeed(ToolOWID, metadata, nil, nil)
	}

	preview := head(frame, o.previewRows)
	records, err := envelopex.EncodeRecords(preview.Columns, preview.Rows)
	if err != nil {
		return o.failure(q, err)
	}

	if o.artifact != nil {
		if err := o.artifact.Write(frame); err != nil {
			log.Warn().Err(err).Str("path", o.artifact.Path()).Msg("owid: write side artifact")
		}
	}

	return contractx.Succeed(ToolOWID, metadata, preview, records)
}

func (o *OWID) failure(query string, err error) contractx.ToolResult {
	if errors.Is(err, contractx.ErrUpstreamNotFound) {
		return contractx.Fail(ToolOWID, err, notFoundReason(query))
	}
	if !errors.Is(err, contractx.ErrToolInvocation) {
		err = fmt.Errorf("%w: %v", contractx.ErrToolInvocation, err)
	}
	return contractx.Fail(ToolOWID, err, fmt.Sprintf("%v error found while querying %s", err, query))
}

func notFoundReason(query string) string {
	return fmt.Sprintf("Our World in Data has no data related to %s", query)
}

func (o *OWID) metadata(ctx context.Context, slug string) (string, string, error) {
	raw, err := o.fetch.get(ctx, "/grapher/"+slug+".metadata.json", nil)
	if err != nil {
		return "", "", err
	}
	if !gjson.ValidBytes(raw) {
		return "", "", fmt.Errorf("%w: metadata is not valid json", contractx.ErrToolInvocation)
	}

	title := gjson.GetBytes(raw, "chart.title").String()
	description := gjson.GetBytes(raw, "chart.subtitle").String()
	if description == "" {
		gjson.GetBytes(raw, "columns").ForEach(func(_, col gjson.Result) bool {
			description = col.Get("descriptionShort").String()
			return description == ""
		})
	}
	if title == "" {
		title = slug
	}
	return title, description, nil
}

func (o *OWID) dataset(ctx context.Context, slug string) (*contractx.Frame, error) {
	raw, err := o.fetch.get(ctx, "/grapher/"+slug+".csv", url.Values{"useColumnShortNames": {"true"}})
	if err != nil {
		return nil, err
	}
	frame, err := parseCSV(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contractx.ErrToolInvocation, err)
	}
	return frame, nil
}

var (
	grapherPath = regexp.MustCompile(`/grapher/([a-z0-9-]+)`)
	nonSlug     = regexp.MustCompile(`[^a-z0-9]+`)
)

// chartSlug turns a topic or a grapher URL into a chart slug.
func chartSlug(query string) string {
	lower := strings.ToLower(strings.TrimSpace(query))
	if m := grapherPath.FindStringSubmatch(lower); m != nil {
		return m[1]
	}
	return strings.Trim(nonSlug.ReplaceAllString(lower, "-"), "-")
}

func parseCSV(raw []byte) (*contractx.Frame, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &contractx.Frame{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	frame := &contractx.Frame{Columns: uniqueColumns(header)}

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := make([]any, len(frame.Columns))
		for i := range frame.Columns {
			if i < len(record) {
				row[i] = parseCell(record[i])
			}
		}
		frame.Rows = append(frame.Rows, row)
	}
	return frame, nil
}

// uniqueColumns names blank headers column_N and suffixes repeated ones
// with _2, _3 so every cell keeps its own key in the records.
func uniqueColumns(header []string) []string {
	columns := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if name == "" {
			name = "column_" + strconv.Itoa(i)
		}
		candidate := name
		for n := 2; seen[candidate]; n++ {
			candidate = name + "_" + strconv.Itoa(n)
		}
		seen[candidate] = true
		columns[i] = candidate
	}
	return columns
}

func parseCell(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	return s
}

func head(frame *contractx.Frame, n int) *contractx.Frame {
	if len(frame.Rows) <= n {
		return frame
	}
	return &contractx.Frame{Columns: frame.Columns, Rows: frame.Rows[:n]}
}
