package telephony

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// TwilioStatusForm captures the subset of status callback fields we care
// about. Twilio sends application/x-www-form-urlencoded by default.
type TwilioStatusForm struct {
	CallSid    string
	AccountSid string
	CallStatus string
	Duration   string
	From       string
	To         string
	Direction  string
	Timestamp  string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		CallStatus: r.PostFormValue("CallStatus"),
		Duration:   r.PostFormValue("CallDuration"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		Direction:  r.PostFormValue("Direction"),
		Timestamp:  r.PostFormValue("Timestamp"),
	}, nil
}

func normalizePhone(s string) string {
	// Twilio sometimes sends "anonymous" or empty; keep as-is.
	return strings.TrimSpace(s)
}

// ToStatusEvent normalizes the form into the internal callback event.
func (f TwilioStatusForm) ToStatusEvent() StatusEvent {
	seconds, _ := strconv.Atoi(strings.TrimSpace(f.Duration))
	return StatusEvent{
		ProviderCallID: f.CallSid,
		Status:         ParseCallStatus(f.CallStatus),
		Duration:       time.Duration(seconds) * time.Second,
		From:           f.From,
		To:             f.To,
	}
}

// TwilioInboundForm captures the inbound voice webhook fields used to route
// an incoming call onto the media stream.
type TwilioInboundForm struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	CallStatus string
	CallerName string
}

func ParseTwilioInboundCall(r *http.Request) (TwilioInboundForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioInboundForm{}, err
	}
	return TwilioInboundForm{
		CallSid:    r.PostFormValue("CallSid"),
		AccountSid: r.PostFormValue("AccountSid"),
		From:       normalizePhone(r.PostFormValue("From")),
		To:         normalizePhone(r.PostFormValue("To")),
		CallStatus: r.PostFormValue("CallStatus"),
		CallerName: r.PostFormValue("CallerName"),
	}, nil
}
