package telephony

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestCreateCallSendsForm(t *testing.T) {
	var got url.Values
	var user, pass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Calls.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, _ = r.BasicAuth()
		body, _ := io.ReadAll(r.Body)
		got, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"CA999","status":"queued"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "AC123", "secret")
	call, err := client.CreateCall(context.Background(), CallRequest{
		To:             "+15551234567",
		From:           "+15550000000",
		AnswerURL:      "https://agent.example.com/twilio/twiml?token=t1",
		StatusCallback: "https://agent.example.com/twilio/status",
		RingTimeout:    150 * time.Second,
	})
	if err != nil {
		t.Fatalf("CreateCall() error = %v", err)
	}
	if call.SID != "CA999" {
		t.Fatalf("SID = %q, want CA999", call.SID)
	}
	if user != "AC123" || pass != "secret" {
		t.Fatalf("basic auth = %q/%q", user, pass)
	}
	if got.Get("Timeout") != "150" || got.Get("Record") != "false" || got.Get("Method") != "POST" {
		t.Fatalf("form = %v", got)
	}
	if evs := got["StatusCallbackEvent"]; len(evs) != 4 || evs[0] != "initiated" || evs[3] != "completed" {
		t.Fatalf("StatusCallbackEvent = %v", evs)
	}
}

func TestCreateCallRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number.","more_info":"https://www.twilio.com/docs/errors/21211"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "AC1", "x").CreateCall(context.Background(), CallRequest{To: "+1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CreateCall() error = %v, want APIError", err)
	}
	if apiErr.StatusCode != 400 || apiErr.Code != 21211 {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestCreateCallNonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "AC1", "x").CreateCall(context.Background(), CallRequest{To: "+1"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "upstream down" {
		t.Fatalf("CreateCall() error = %v", err)
	}
}

func TestAnswerMarkup(t *testing.T) {
	out, err := AnswerMarkup("wss://agent.example.com/twilio/stream", map[string]string{
		"token":     "t1",
		"lead_data": `{"business_name":"Joe's & Co"}`,
	})
	if err != nil {
		t.Fatalf("AnswerMarkup() error = %v", err)
	}
	s := string(out)
	if !strings.HasPrefix(s, "<?xml") {
		t.Fatalf("markup missing xml header: %s", s)
	}
	if !strings.Contains(s, `<Connect><Stream url="wss://agent.example.com/twilio/stream">`) {
		t.Fatalf("markup = %s", s)
	}
	leadIdx := strings.Index(s, `name="lead_data"`)
	tokenIdx := strings.Index(s, `name="token"`)
	if leadIdx < 0 || tokenIdx < 0 || leadIdx > tokenIdx {
		t.Fatalf("parameters missing or unsorted: %s", s)
	}
	if !strings.Contains(s, "Joe&#39;s &amp; Co") {
		t.Fatalf("lead data not escaped: %s", s)
	}
}

func TestFallbackMarkup(t *testing.T) {
	s := string(FallbackMarkup("Sorry, we could not connect."))
	if !strings.Contains(s, "<Say>Sorry, we could not connect.</Say><Hangup></Hangup>") {
		t.Fatalf("markup = %s", s)
	}
}

func TestParseStatusCallback(t *testing.T) {
	form := url.Values{"CallSid": {" CA1 "}, "CallStatus": {"No-Answer"}}
	req := httptest.NewRequest(http.MethodPost, "/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	cb, err := ParseStatusCallback(req)
	if err != nil {
		t.Fatalf("ParseStatusCallback() error = %v", err)
	}
	if cb.CallSID != "CA1" || cb.CallStatus != StatusNoAnswer {
		t.Fatalf("callback = %+v", cb)
	}
	if !IsTerminalStatus(cb.CallStatus) || !IsUnansweredStatus(cb.CallStatus) {
		t.Fatalf("no-answer should be terminal and unanswered")
	}
	if IsTerminalStatus(StatusRinging) {
		t.Fatalf("ringing should not be terminal")
	}

	req = httptest.NewRequest(http.MethodPost, "/twilio/status", strings.NewReader("CallStatus=ringing"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if _, err := ParseStatusCallback(req); !errors.Is(err, ErrMissingCallSID) {
		t.Fatalf("error = %v, want ErrMissingCallSID", err)
	}
}
