package telephony

import (
	"strings"
	"testing"
)

func TestStreamTwiML(t *testing.T) {
	xml := StreamTwiML("wss://example.com/media", map[string]string{
		"campaignId": "c1",
		"agentId":    "a1",
	})
	for _, want := range []string{
		`<Connect>`,
		`<Stream url="wss://example.com/media">`,
		`<Parameter name="agentId" value="a1">`,
		`<Parameter name="campaignId" value="c1">`,
	} {
		if !strings.Contains(xml, want) {
			t.Fatalf("expected %q in twiml:\n%s", want, xml)
		}
	}
	// Parameters render in sorted order.
	if strings.Index(xml, "agentId") > strings.Index(xml, "campaignId") {
		t.Fatalf("parameters not sorted:\n%s", xml)
	}
}

func TestStreamTwiMLNoParams(t *testing.T) {
	xml := StreamTwiML("wss://example.com/media", nil)
	if !strings.Contains(xml, `<Stream url="wss://example.com/media">`) {
		t.Fatalf("missing stream url:\n%s", xml)
	}
	if strings.Contains(xml, "<Parameter") {
		t.Fatalf("unexpected parameters:\n%s", xml)
	}
}

func TestSayHangupTwiML(t *testing.T) {
	xml := SayHangupTwiML("Sorry, we are unable to take your call.")
	if !strings.Contains(xml, "<Say>Sorry, we are unable to take your call.</Say>") {
		t.Fatalf("missing say verb:\n%s", xml)
	}
	if !strings.Contains(xml, "<Hangup>") {
		t.Fatalf("missing hangup verb:\n%s", xml)
	}
}
