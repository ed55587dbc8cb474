package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// StatusCallbackEvents are the progress events requested for every call.
var StatusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// CallRequest describes one outbound call.
type CallRequest struct {
	To             string
	From           string
	AnswerURL      string
	StatusCallback string
	RingTimeout    time.Duration
}

// Call is the provider's record of a created call.
type Call struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
}

// APIError is a non-success response from the provider REST API.
type APIError struct {
	StatusCode int
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio http status %d: code %d: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("twilio http status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the Twilio REST API.
type Client struct {
	baseURL    string
	accountSID string
	authToken  string
	client     *http.Client
}

func NewClient(baseURL, accountSID, authToken string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "https://api.twilio.com"
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		accountSID: accountSID,
		authToken:  authToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateCall places an outbound call. Only a 201 response counts as success.
func (c *Client) CreateCall(ctx context.Context, req CallRequest) (Call, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", req.AnswerURL)
	form.Set("Method", http.MethodPost)
	form.Set("StatusCallback", req.StatusCallback)
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, ev := range StatusCallbackEvents {
		form.Add("StatusCallbackEvent", ev)
	}
	if secs := int(req.RingTimeout / time.Second); secs > 0 {
		form.Set("Timeout", strconv.Itoa(secs))
	}
	form.Set("Record", "false")

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, url.PathEscape(c.accountSID))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Call{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.SetBasicAuth(c.accountSID, c.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		return Call{}, fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return Call{}, fmt.Errorf("read response: %w", err)
	}
	if res.StatusCode != http.StatusCreated {
		apiErr := &APIError{StatusCode: res.StatusCode}
		if jsonErr := json.Unmarshal(body, apiErr); jsonErr != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(body))
		}
		return Call{}, apiErr
	}

	var call Call
	if err := json.Unmarshal(body, &call); err != nil {
		return Call{}, fmt.Errorf("decode call: %w", err)
	}
	if call.SID == "" {
		return Call{}, fmt.Errorf("decode call: response has no sid")
	}
	return call, nil
}
