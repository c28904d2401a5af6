package tool

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWikipediaInvokeOrdersPagesBySearchRank(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/w/api.php" {
			http.NotFound(w, r)
			return
		}
		q := r.URL.Query()
		if q.Get("gsrsearch") != "carbon dioxide" || q.Get("gsrlimit") != "2" {
			t.Errorf("unexpected query %v", q)
		}
		fmt.Fprint(w, `{"query":{"pages":[
			{"pageid":2,"title":"Greenhouse gas","index":2,"extract":"A gas that absorbs infrared."},
			{"pageid":1,"title":"Carbon dioxide","index":1,"extract":"CO2 is a chemical compound."}
		]}}`)
	}))
	t.Cleanup(server.Close)

	wiki, err := NewWikipedia(WikipediaConfig{BaseURL: server.URL, TopK: 2, TruncationLimit: 4000}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewWikipedia() error = %v", err)
	}

	res := wiki.Invoke(context.Background(), "carbon dioxide")
	if !res.OK() {
		t.Fatalf("expected success, got %+v", res.Failure)
	}
	want := "Title: Carbon dioxideDescription: CO2 is a chemical compound.\n\nTitle: Greenhouse gasDescription: A gas that absorbs infrared."
	if res.Metadata != want {
		t.Fatalf("unexpected metadata:\n%s", res.Metadata)
	}
	if res.Preview != nil || res.Records != nil {
		t.Fatal("wikipedia results carry no tabular preview")
	}
}

func TestWikipediaInvokeNoResults(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"batchcomplete":true}`)
	}))
	t.Cleanup(server.Close)

	wiki, err := NewWikipedia(WikipediaConfig{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewWikipedia() error = %v", err)
	}

	res := wiki.Invoke(context.Background(), "zzqxv")
	if !res.NotFound() {
		t.Fatalf("expected not found, got %+v", res)
	}
	if !strings.Contains(res.Failure.Reason, "zzqxv") {
		t.Fatalf("reason should name the query, got %q", res.Failure.Reason)
	}
}

func TestWikipediaInvokeAPIError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"code":"badvalue","info":"Unrecognized value"}}`)
	}))
	t.Cleanup(server.Close)

	wiki, err := NewWikipedia(WikipediaConfig{BaseURL: server.URL}, WithHTTPClient(server.Client()))
	if err != nil {
		t.Fatalf("NewWikipedia() error = %v", err)
	}

	res := wiki.Invoke(context.Background(), "x")
	if res.OK() || res.NotFound() {
		t.Fatalf("expected invocation failure, got %+v", res)
	}
	if !strings.Contains(res.Failure.Reason, "Unrecognized value") {
		t.Fatalf("unexpected reason %q", res.Failure.Reason)
	}
}
