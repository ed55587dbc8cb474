package recorder

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
)

type stubAnalyzer struct {
	mu         sync.Mutex
	calls      int
	transcript string
	out        leads.Outcome
	err        error
}

func (s *stubAnalyzer) Analyze(_ context.Context, transcript string, _ leads.Lead) (leads.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.transcript = transcript
	return s.out, s.err
}

func newStoreWithLead(t *testing.T, lead leads.Lead) *leads.InMemoryStore {
	t.Helper()
	store := leads.NewInMemoryStore(lead)
	if err := store.UpdateStatus(context.Background(), lead.Phone, leads.StatusInProgress); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	return store
}

func leadStatus(t *testing.T, store leads.Store, phone string) leads.Status {
	t.Helper()
	all, err := store.ListLeads(context.Background())
	if err != nil {
		t.Fatalf("ListLeads() error = %v", err)
	}
	for _, l := range all {
		if l.Phone == phone {
			return l.Status
		}
	}
	t.Fatalf("lead %s not found", phone)
	return ""
}

func TestFinalizeGenuineWithoutMessages(t *testing.T) {
	lead := leads.Lead{Phone: "+15550001111", BusinessName: "Quiet Co"}
	store := newStoreWithLead(t, lead)
	analyzer := &stubAnalyzer{}
	rec := New(lead, "tok", Options{Store: store, Analyzer: analyzer})

	out, err := rec.Finalize(context.Background(), "hangup", true)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if out.CallStatus != leads.CallNoConversation || out.InterestLevel != leads.InterestNone {
		t.Fatalf("outcome = %+v, want no_conversation/none", out)
	}
	if analyzer.calls != 0 {
		t.Fatalf("analyzer calls = %d, want 0", analyzer.calls)
	}
	if got := leadStatus(t, store, lead.Phone); got != leads.StatusCalled {
		t.Fatalf("lead status = %s, want called", got)
	}
}

func TestFinalizeRunsAnalyzerOverTranscript(t *testing.T) {
	lead := leads.Lead{Phone: "+15550002222", BusinessName: "Busy Bistro"}
	store := newStoreWithLead(t, lead)
	analyzer := &stubAnalyzer{out: leads.Outcome{
		CallStatus:       leads.CallAnswered,
		InterestLevel:    leads.InterestHigh,
		ScheduledMeeting: true,
		NextAction:       leads.ActionScheduleMeeting,
	}}
	rec := New(lead, "tok-2", Options{Store: store, Analyzer: analyzer})
	rec.SetCallSID("CA42")
	rec.MarkStarted()
	rec.Append(SpeakerAgent, "Hi, this is Alex.")
	rec.Append(SpeakerCustomer, "   ")
	rec.Append(SpeakerCustomer, "Sure, Tuesday works.")

	out, err := rec.Finalize(context.Background(), "hangup", true)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	want := "Agent: Hi, this is Alex.\nCustomer: Sure, Tuesday works."
	if analyzer.transcript != want {
		t.Fatalf("transcript = %q, want %q", analyzer.transcript, want)
	}
	if out.ConversationLength != 2 || out.UserResponses != 1 || out.AgentResponses != 1 {
		t.Fatalf("counts = %d/%d/%d, want 2/1/1", out.ConversationLength, out.UserResponses, out.AgentResponses)
	}
	if out.EndReason != "hangup" {
		t.Fatalf("EndReason = %q, want hangup", out.EndReason)
	}
	if got := leadStatus(t, store, lead.Phone); got != leads.StatusCompleted {
		t.Fatalf("lead status = %s, want completed", got)
	}
	results, _ := store.ListResults(context.Background(), 0)
	if len(results) != 1 || results[0].CallSID != "CA42" || results[0].Token != "tok-2" {
		t.Fatalf("results = %+v, want one result with call sid and token", results)
	}
}

func TestFinalizeDegradesWhenAnalysisFails(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	lead := leads.Lead{Phone: "+15550003333"}
	store := newStoreWithLead(t, lead)
	rec := New(lead, "tok-3", Options{
		Store:    store,
		Analyzer: &stubAnalyzer{err: errors.New("model offline")},
		Logger:   zap.New(core),
	})
	rec.Append(SpeakerCustomer, "hello?")

	out, err := rec.Finalize(context.Background(), "hangup", true)
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if !out.AnalysisDegraded || out.CallStatus != leads.CallNoConversation {
		t.Fatalf("outcome = %+v, want degraded no_conversation", out)
	}
	if logs.FilterMessage("call analysis degraded").Len() != 1 {
		t.Fatalf("expected one degraded-analysis warning, got %d", logs.Len())
	}
}

func TestFinalizeFailureShapeAndRetryStatus(t *testing.T) {
	for _, tc := range []struct {
		retry bool
		want  leads.Status
	}{
		{retry: true, want: leads.StatusRetry},
		{retry: false, want: leads.StatusCalled},
	} {
		lead := leads.Lead{Phone: "+15550004444"}
		store := newStoreWithLead(t, lead)
		rec := New(lead, "tok-4", Options{Store: store, RetryEnabled: tc.retry})
		rec.Append(SpeakerAgent, "Hello?")

		out, err := rec.Finalize(context.Background(), "transport_error", false)
		if err != nil {
			t.Fatalf("Finalize() error = %v", err)
		}
		if out.CallStatus != leads.CallFailed || out.InterestLevel != leads.InterestNone || out.NextAction != leads.ActionRetryLater {
			t.Fatalf("outcome = %+v, want failure shape", out)
		}
		if len(out.Objections) != 1 || out.Objections[0] != "transport_error" || out.FailureReason != "transport_error" {
			t.Fatalf("outcome = %+v, want reason tag transport_error", out)
		}
		if got := leadStatus(t, store, lead.Phone); got != tc.want {
			t.Fatalf("retry=%v lead status = %s, want %s", tc.retry, got, tc.want)
		}
	}
}

func TestFinalizeWritesOnce(t *testing.T) {
	lead := leads.Lead{Phone: "+15550005555"}
	store := newStoreWithLead(t, lead)
	rec := New(lead, "tok-5", Options{Store: store, RetryEnabled: true})

	var wg sync.WaitGroup
	outs := make([]leads.Outcome, 8)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				outs[i], _ = rec.Finalize(context.Background(), "connection_timeout", false)
			} else {
				outs[i], _ = rec.RecordFailure(context.Background(), "dial_failed", "boom")
			}
		}(i)
	}
	wg.Wait()

	results, err := store.ListResults(context.Background(), 0)
	if err != nil {
		t.Fatalf("ListResults() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	for i := range outs {
		if outs[i].FailureReason != results[0].Outcome.FailureReason {
			t.Fatalf("outs[%d] = %q, want first outcome %q", i, outs[i].FailureReason, results[0].Outcome.FailureReason)
		}
	}

	rec.Append(SpeakerCustomer, "too late")
	if len(rec.Messages()) != 0 {
		t.Fatalf("Append after finalize should be ignored")
	}
}

func TestRecordFailureWithoutPhone(t *testing.T) {
	store := leads.NewInMemoryStore()
	rec := New(leads.Lead{BusinessName: "Nameless"}, "tok-6", Options{Store: store})
	out, err := rec.RecordFailure(context.Background(), ReasonNoPhoneNumber, "")
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if out.Notes != "Call failed: no phone number." {
		t.Fatalf("Notes = %q", out.Notes)
	}
	results, _ := store.ListResults(context.Background(), 0)
	if len(results) != 1 || results[0].Outcome.FailureReason != ReasonNoPhoneNumber {
		t.Fatalf("results = %+v, want one no-phone failure", results)
	}
}
