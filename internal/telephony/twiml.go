package telephony

import (
	"bytes"
	"encoding/xml"
	"sort"
)

// Minimal TwiML builders for the verbs this platform emits. Intentionally no
// provider SDK dependency; the documents are small and fixed-shape.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// StreamTwiML renders the document that bridges an answered call onto the
// media stream endpoint. Custom parameters arrive on the stream's start
// frame and drive agent resolution in the session bridge.
func StreamTwiML(streamURL string, params map[string]string) string {
	st := twimlStream{URL: streamURL}

	// Deterministic parameter order keeps rendered documents diffable.
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		st.Parameters = append(st.Parameters, twimlParameter{Name: k, Value: params[k]})
	}

	return render(twimlResponse{Verbs: []any{twimlConnect{Stream: st}}})
}

// SayHangupTwiML renders a spoken message followed by a clean hangup. Used
// when the AI session cannot be established: the caller hears an apology
// instead of dead air.
func SayHangupTwiML(message string) string {
	return render(twimlResponse{Verbs: []any{twimlSay{Text: message}, twimlHangup{}}})
}

func render(r twimlResponse) string {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		// The inputs are fixed structs; encoding cannot realistically fail.
		return xml.Header + "<Response/>"
	}
	_ = enc.Flush()
	return buf.String()
}
