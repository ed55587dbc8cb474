package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Gireeshbd/ai-sales-agent/internal/campaign"
	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
	"github.com/Gireeshbd/ai-sales-agent/internal/observability"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestLeadsImportAndList(t *testing.T) {
	dir := t.TempDir()
	store := "csv://" + filepath.Join(dir, "data")
	file := filepath.Join(dir, "leads.csv")
	csv := "business_name,contact_number,business_type,company_size\nAcme Dental,+15550001111,Healthcare,small\nBeta Pizza,+15550002222,Restaurant,medium\n"
	if err := os.WriteFile(file, []byte(csv), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}

	out, err := runCLI(t, "--store", store, "leads", "import", file)
	if err != nil {
		t.Fatalf("leads import error = %v", err)
	}
	if !strings.Contains(out, "Imported 2 lead(s)") {
		t.Fatalf("import output = %q", out)
	}

	out, err = runCLI(t, "--store", store, "leads", "list", "--pending")
	if err != nil {
		t.Fatalf("leads list error = %v", err)
	}
	if !strings.Contains(out, "Acme Dental") || !strings.Contains(out, "Beta Pizza") {
		t.Fatalf("list output = %q", out)
	}

	out, err = runCLI(t, "--store", store, "--json", "leads", "list")
	if err != nil {
		t.Fatalf("leads list --json error = %v", err)
	}
	var listed []leads.Lead
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode json output: %v (%q)", err, out)
	}
	if len(listed) != 2 || listed[1].SizeTier != "medium" {
		t.Fatalf("listed = %+v", listed)
	}
}

func TestLeadsImportRejectsMissingColumns(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "bad.csv")
	if err := os.WriteFile(file, []byte("business_name\nAcme\n"), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	_, err := runCLI(t, "--store", "memory://", "leads", "import", file)
	var missing *leads.MissingColumnsError
	if !errors.As(err, &missing) {
		t.Fatalf("leads import error = %v, want MissingColumnsError", err)
	}
}

func TestLeadsTemplateToStdout(t *testing.T) {
	out, err := runCLI(t, "leads", "template")
	if err != nil {
		t.Fatalf("leads template error = %v", err)
	}
	parsed, err := leads.ReadLeadsCSV(strings.NewReader(out))
	if err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if len(parsed) != len(leads.SampleLeads) {
		t.Fatalf("len(template) = %d, want %d", len(parsed), len(leads.SampleLeads))
	}
}

func TestResultsStatsEmptyStore(t *testing.T) {
	out, err := runCLI(t, "--store", "memory://", "results", "stats")
	if err != nil {
		t.Fatalf("results stats error = %v", err)
	}
	if !strings.Contains(out, "Total leads") || !strings.Contains(out, "0.0%") {
		t.Fatalf("stats output = %q", out)
	}

	out, err = runCLI(t, "--store", "memory://", "results", "list")
	if err != nil {
		t.Fatalf("results list error = %v", err)
	}
	if !strings.Contains(out, "No call results") {
		t.Fatalf("list output = %q", out)
	}
}

func TestCampaignStatusFromServer(t *testing.T) {
	finished := time.Now().UTC()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/campaign/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(campaign.StatusReport{
			ActiveCalls:   1,
			WithinHours:   true,
			BusinessHours: "09:00:00-17:00:00 UTC",
			Last: &campaign.RunSummary{
				RunID:      "run-1",
				Kind:       campaign.KindCampaign,
				Status:     campaign.StatusCompleted,
				Attempted:  4,
				Meetings:   2,
				StartedAt:  finished.Add(-3 * time.Minute),
				FinishedAt: &finished,
			},
			Statistics: leads.Statistics{TotalLeads: 1200},
		})
	}))
	defer ts.Close()

	out, err := runCLI(t, "--server", ts.URL, "campaign", "status")
	if err != nil {
		t.Fatalf("campaign status error = %v", err)
	}
	for _, want := range []string{"run-1", "09:00:00-17:00:00 UTC", "1,200", "3 minutes"} {
		if !strings.Contains(out, want) {
			t.Fatalf("status output missing %q:\n%s", want, out)
		}
	}
}

func TestCampaignStartReportsConflict(t *testing.T) {
	var gotFilter campaign.Filter
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewDecoder(r.Body).Decode(&gotFilter)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"a campaign is already running","code":"already_running"}`))
	}))
	defer ts.Close()

	_, err := runCLI(t, "--server", ts.URL, "campaign", "start", "--type", "Healthcare,Retail", "--max-calls", "5", "--wait")
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("campaign start error = %v, want apiError", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "already_running" {
		t.Fatalf("apiError = %+v", apiErr)
	}
	if gotQuery != "wait=true" {
		t.Fatalf("query = %q, want wait=true", gotQuery)
	}
	if len(gotFilter.Categories) != 2 || gotFilter.MaxCalls != 5 {
		t.Fatalf("filter = %+v", gotFilter)
	}
}

func TestCallsLatencyTable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calls/latency" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(observability.LatencySnapshot{
			WindowSize: 256,
			Stages: []observability.StageStats{
				{Stage: observability.StageDial, Samples: 12, P50MS: 410, P95MS: 980, P99MS: 1200, TargetP95MS: 1500},
			},
		})
	}))
	defer ts.Close()

	out, err := runCLI(t, "--server", ts.URL, "calls", "latency")
	if err != nil {
		t.Fatalf("calls latency error = %v", err)
	}
	for _, want := range []string{"dial", "410ms", "980ms", "1500ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("latency output missing %q:\n%s", want, out)
		}
	}
}
