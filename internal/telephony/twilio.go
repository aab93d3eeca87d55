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

// TwilioDialer places calls through the Twilio REST API.
//
// The API is a plain form POST with basic auth; no SDK needed at this
// surface. Credentials come from config, never read here.
type TwilioDialer struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the API endpoint in tests.
	BaseURL string

	HTTPClient *http.Client
}

func NewTwilioDialer(cfg TwilioConfig) (*TwilioDialer, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("telephony: twilio credentials are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.twilio.com/2010-04-01"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TwilioDialer{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

func (d *TwilioDialer) Name() string { return "twilio" }

func (d *TwilioDialer) HealthCheck(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s.json", d.baseURL, d.accountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(d.accountSID, d.authToken)
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telephony: twilio health check status %d", resp.StatusCode)
	}
	return nil
}

// twilioCall is the subset of the Twilio call resource we consume.
type twilioCall struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
	From   string `json:"from"`
}

func (d *TwilioDialer) Place(ctx context.Context, req CallRequest) (CallResult, error) {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls.json", d.baseURL, d.accountSID)

	data := url.Values{}
	data.Set("To", req.To)
	data.Set("From", req.From)
	data.Set("Twiml", StreamTwiML(req.StreamURL, req.Params))
	if req.StatusCallbackURL != "" {
		data.Set("StatusCallback", req.StatusCallbackURL)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			data.Add("StatusCallbackEvent", ev)
		}
	}
	if req.TimeoutSeconds > 0 {
		data.Set("Timeout", strconv.Itoa(req.TimeoutSeconds))
	}

	call, raw, err := d.post(ctx, endpoint, data)
	if err != nil {
		return CallResult{}, err
	}
	return CallResult{
		ProviderCallID: call.SID,
		Status:         ParseCallStatus(call.Status),
		Raw:            raw,
	}, nil
}

// PlayMessageAndHangup redirects a live call to a short spoken message
// followed by a hangup. Used when the AI session cannot be established
// so the caller never sits in silence.
func (d *TwilioDialer) PlayMessageAndHangup(ctx context.Context, providerCallID, message string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", d.baseURL, d.accountSID, providerCallID)
	data := url.Values{}
	data.Set("Twiml", SayHangupTwiML(message))
	_, _, err := d.post(ctx, endpoint, data)
	return err
}

func (d *TwilioDialer) Hangup(ctx context.Context, providerCallID string) error {
	endpoint := fmt.Sprintf("%s/Accounts/%s/Calls/%s.json", d.baseURL, d.accountSID, providerCallID)
	data := url.Values{}
	data.Set("Status", "completed")
	_, _, err := d.post(ctx, endpoint, data)
	return err
}

func (d *TwilioDialer) post(ctx context.Context, endpoint string, data url.Values) (twilioCall, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return twilioCall{}, "", &DialError{Err: err, Retryable: false}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(d.accountSID, d.authToken)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		// Network-level failure: worth another attempt later.
		return twilioCall{}, "", &DialError{Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return twilioCall{}, "", &DialError{Err: err, Retryable: true}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		err := fmt.Errorf("telephony: twilio status %d: %s", resp.StatusCode, truncate(string(body), 256))
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return twilioCall{}, "", &DialError{Err: err, Retryable: retryable}
	}

	var call twilioCall
	if err := json.Unmarshal(body, &call); err != nil {
		return twilioCall{}, "", &DialError{Err: fmt.Errorf("telephony: decode call resource: %w", err), Retryable: false}
	}
	return call, string(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
