package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
)

// TwiML is a minimal Twilio Markup Language response builder.
// It intentionally avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlReject struct {
	XMLName xml.Name `xml:"Reject"`
	Reason  string   `xml:"reason,attr,omitempty"`
}

type twimlStart struct {
	XMLName xml.Name  `xml:"Start"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr"`
}

// RenderTwiML maps an InboundCallResult to TwiML. A stream action renders
// <Start><Stream url="..."/></Start> so Twilio opens a Media Streams
// websocket connection carrying sequenceNumber/payload/timestamp frames
// that the media-stream handler feeds into the call engine.
func RenderTwiML(res InboundCallResult) (string, error) {
	var r twimlResponse

	switch res.Action {
	case InboundCallActionReject:
		r.Verbs = append(r.Verbs, twimlReject{Reason: "busy"})
	case InboundCallActionStream:
		if res.StreamURL == "" {
			return "", errors.New("telephony: stream_url required for stream action")
		}
		r.Verbs = append(r.Verbs, twimlStart{Stream: twimlStream{URL: res.StreamURL}})
	default:
		return "", errors.New("telephony: unknown inbound action")
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
