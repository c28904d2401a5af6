package tool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	contractx "github.com/tanpawarit/owid-chain/agent/contract"
	envelopex "github.com/tanpawarit/owid-chain/agent/envelope"
)

const co2Metadata = `{
  "chart": {"title": "CO2 emissions", "subtitle": "Annual emissions by country"},
  "columns": {"Annual CO2 emissions": {"descriptionShort": "Fossil fuels and industry"}}
}`

const co2CSV = `Entity,Code,Year,Annual CO2 emissions
France,FRA,2016,336
France,FRA,2017,341.5
France,FRA,2018,
Germany,DEU,2016,800
Germany,DEU,2017,786
Germany,DEU,2018,755
`

func newOWIDServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		switch r.URL.Path {
		case "/grapher/co2-emissions.metadata.json":
			fmt.Fprint(w, co2Metadata)
		case "/grapher/co2-emissions.csv":
			if r.URL.Query().Get("useColumnShortNames") != "true" {
				t.Errorf("expected short column names to be requested")
			}
			fmt.Fprint(w, co2CSV)
		case "/grapher/empty-dataset.metadata.json":
			fmt.Fprint(w, `{"chart": {"title": "Empty"}}`)
		case "/grapher/empty-dataset.csv":
			fmt.Fprint(w, "Entity,Year\n")
		case "/grapher/broken.metadata.json":
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, "upstream exploded")
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestOWIDInvokeSuccess(t *testing.T) {
	t.Parallel()

	server := newOWIDServer(t, nil)
	t.Cleanup(server.Close)

	artifact := filepath.Join(t.TempDir(), "latest.csv")
	owid, err := NewOWID(OWIDConfig{BaseURL: server.URL, TruncationLimit: 5000, PreviewRows: 5, ArtifactPath: artifact}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewOWID() error = %v", err)
	}

	res := owid.Invoke(context.Background(), "CO2 emissions")
	if !res.OK() {
		t.Fatalf("expected success, got failure %+v", res.Failure)
	}
	if res.Metadata != "Title: CO2 emissionsDescription: Annual emissions by country" {
		t.Fatalf("unexpected metadata %q", res.Metadata)
	}
	if res.Preview == nil || len(res.Preview.Rows) != 5 {
		t.Fatalf("expected 5 preview rows, got %+v", res.Preview)
	}

	columns, rows, err := envelopex.DecodeRecords(res.Records)
	if err != nil {
		t.Fatalf("DecodeRecords() error = %v", err)
	}
	if strings.Join(columns, "|") != "Entity|Code|Year|Annual CO2 emissions" {
		t.Fatalf("expected column order preserved, got %v", columns)
	}
	if rows[1][3] != 341.5 || rows[2][3] != nil {
		t.Fatalf("unexpected preview values %v", rows)
	}

	env := res.Envelope()
	if env.Kind() != envelopex.KindMetadata || len(env.Data) == 0 {
		t.Fatalf("expected metadata envelope with df, got %+v", env)
	}

	saved, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if lines := strings.Count(string(saved), "\n"); lines != 7 {
		t.Fatalf("expected header plus 6 rows in artifact, got %d lines", lines)
	}
}

func TestOWIDInvokeOversizeDatasetFails(t *testing.T) {
	t.Parallel()

	largeCSV := "Entity,Year,value\n" + strings.Repeat("Country,2020,1.5\n", 1000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/grapher/co2-emissions.metadata.json":
			fmt.Fprint(w, co2Metadata)
		case "/grapher/co2-emissions.csv":
			fmt.Fprint(w, largeCSV)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	artifact := filepath.Join(t.TempDir(), "latest.csv")
	if err := os.WriteFile(artifact, []byte("previous\n"), 0o644); err != nil {
		t.Fatalf("seed artifact: %v", err)
	}

	owid, err := NewOWID(OWIDConfig{BaseURL: server.URL, ArtifactPath: artifact},
		WithHTTPClient(server.Client()), WithMaxResponseBytes(4096))
	if err != nil {
		t.Fatalf("NewOWID() error = %v", err)
	}

	res := owid.Invoke(context.Background(), "co2 emissions")
	if res.OK() {
		t.Fatal("expected an oversize dataset to fail")
	}
	if !errors.Is(res.Failure.Err, contractx.ErrToolInvocation) || res.NotFound() {
		t.Fatalf("expected invocation failure, got %v", res.Failure.Err)
	}
	if !strings.Contains(res.Failure.Reason, "exceeds 4096 bytes") || !strings.Contains(res.Failure.Reason, "co2 emissions") {
		t.Fatalf("unexpected reason %q", res.Failure.Reason)
	}

	saved, err := os.ReadFile(artifact)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if string(saved) != "previous\n" {
		t.Fatalf("a failed fetch must not touch the artifact, got %q", saved)
	}
}

func TestFetcherAcceptsBodyAtLimit(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "0123456789")
	}))
	t.Cleanup(server.Close)

	f, err := newFetcher(server.URL, 0, WithHTTPClient(server.Client()), WithMaxResponseBytes(10))
	if err != nil {
		t.Fatalf("newFetcher() error = %v", err)
	}
	raw, err := f.get(context.Background(), "/", nil)
	if err != nil {
		t.Fatalf("get() error = %v", err)
	}
	if string(raw) != "0123456789" {
		t.Fatalf("unexpected body %q", raw)
	}

	f.maxBody = 9
	if _, err := f.get(context.Background(), "/", nil); !errors.Is(err, contractx.ErrToolInvocation) {
		t.Fatalf("expected oversize error, got %v", err)
	}
}

func TestOWIDInvokeNotFound(t *testing.T) {
	t.Parallel()

	server := newOWIDServer(t, nil)
	t.Cleanup(server.Close)

	owid, err := NewOWID(OWIDConfig{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewOWID() error = %v", err)
	}

	res := owid.Invoke(context.Background(), "co2 emissions of mars")
	if res.OK() {
		t.Fatal("expected failure for unknown dataset")
	}
	if !res.NotFound() {
		t.Fatalf("expected not-found classification, got %v", res.Failure.Err)
	}
	if !strings.Contains(res.Failure.Reason, "no data related to co2 emissions of mars") {
		t.Fatalf("unexpected reason %q", res.Failure.Reason)
	}

	env := res.Envelope()
	if env.Error == nil || *env.Error != res.Failure.Reason {
		t.Fatalf("expected error envelope carrying the reason, got %+v", env)
	}
}

func TestOWIDInvokeUpstreamError(t *testing.T) {
	t.Parallel()

	var hits int32
	server := newOWIDServer(t, &hits)
	t.Cleanup(server.Close)

	owid, err := NewOWID(OWIDConfig{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewOWID() error = %v", err)
	}

	res := owid.Invoke(context.Background(), "broken")
	if res.OK() {
		t.Fatal("expected failure")
	}
	if res.NotFound() || !errors.Is(res.Failure.Err, contractx.ErrToolInvocation) {
		t.Fatalf("expected generic invocation failure, got %v", res.Failure.Err)
	}
	if !strings.Contains(res.Failure.Reason, "while querying broken") {
		t.Fatalf("unexpected reason %q", res.Failure.Reason)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected a single attempt, got %d requests", got)
	}
}

func TestOWIDInvokeEmptyDataset(t *testing.T) {
	t.Parallel()

	server := newOWIDServer(t, nil)
	t.Cleanup(server.Close)

	owid, err := NewOWID(OWIDConfig{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewOWID() error = %v", err)
	}

	res := owid.Invoke(context.Background(), "empty dataset")
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res.Failure)
	}
	if res.Preview != nil || res.Records != nil {
		t.Fatalf("expected no preview for empty dataset, got %+v", res.Preview)
	}
	if env := res.Envelope(); env.Data != nil {
		t.Fatalf("expected envelope without df, got %s", env.Data)
	}
}

func TestOWIDInvokeCancelledContext(t *testing.T) {
	t.Parallel()

	server := newOWIDServer(t, nil)
	t.Cleanup(server.Close)

	owid, err := NewOWID(OWIDConfig{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewOWID() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := owid.Invoke(ctx, "co2 emissions")
	if res.OK() || res.NotFound() {
		t.Fatalf("expected invocation failure on cancelled context, got %+v", res)
	}
}

func TestParseCSVKeepsEveryColumn(t *testing.T) {
	t.Parallel()

	frame, err := parseCSV([]byte("x,x,,x_2\n1,2,3,4\n"))
	if err != nil {
		t.Fatalf("parseCSV() error = %v", err)
	}
	if got := strings.Join(frame.Columns, "|"); got != "x|x_2|column_2|x_2_2" {
		t.Fatalf("unexpected columns %q", got)
	}

	records, err := envelopex.EncodeRecords(frame.Columns, frame.Rows)
	if err != nil {
		t.Fatalf("EncodeRecords() error = %v", err)
	}
	if string(records) != `[{"x":1,"x_2":2,"column_2":3,"x_2_2":4}]` {
		t.Fatalf("unexpected records %s", records)
	}
}

func TestChartSlug(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"CO2 emissions":                                   "co2-emissions",
		"  life expectancy!  ":                            "life-expectancy",
		"https://ourworldindata.org/grapher/co2?tab=map": "co2",
		"???":                                             "",
	}
	for in, want := range cases {
		if got := chartSlug(in); got != want {
			t.Fatalf("chartSlug(%q) = %q, want %q", in, got, want)
		}
	}
}
