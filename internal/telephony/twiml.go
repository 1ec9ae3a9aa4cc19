package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder. Values are
// escaped by encoding/xml; never build TwiML by string concatenation.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlConnect struct {
	XMLName xml.Name    `xml:"Connect"`
	Stream  twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type twimlDial struct {
	XMLName    xml.Name        `xml:"Dial"`
	Conference twimlConference `xml:"Conference"`
}

type twimlConference struct {
	Name                   string `xml:",chardata"`
	StartConferenceOnEnter string `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit    string `xml:"endConferenceOnExit,attr"`
	WaitURL                string `xml:"waitUrl,attr,omitempty"`
	Beep                   string `xml:"beep,attr,omitempty"`
}

// Param is a custom parameter passed to a media stream; it arrives in the
// stream's start event as customParameters.
type Param struct {
	Name  string
	Value string
}

// Conference configures a participant joining a named conference.
type Conference struct {
	Name           string
	StartOnEnter   bool
	EndOnExit      bool
	WaitURL        string
	SuppressBeep   bool
	AnnounceBefore string
}

const unavailableMessage = "We're sorry, but we are unable to process your call at this time. Please try again later."

// StreamTwiML connects the call to a bidirectional media stream. Parameters
// with an empty value are omitted.
func StreamTwiML(streamURL string, params ...Param) (string, error) {
	if strings.TrimSpace(streamURL) == "" {
		return "", errors.New("telephony: stream url required")
	}
	s := twimlStream{URL: streamURL}
	for _, p := range params {
		if p.Value == "" {
			continue
		}
		s.Parameters = append(s.Parameters, twimlParameter{Name: p.Name, Value: p.Value})
	}
	return render(twimlConnect{Stream: s})
}

// ConferenceTwiML optionally speaks a message and then joins a conference.
func ConferenceTwiML(c Conference) (string, error) {
	if strings.TrimSpace(c.Name) == "" {
		return "", errors.New("telephony: conference name required")
	}
	var verbs []any
	if c.AnnounceBefore != "" {
		verbs = append(verbs, twimlSay{Text: c.AnnounceBefore})
	}
	conf := twimlConference{
		Name:                   c.Name,
		StartConferenceOnEnter: boolAttr(c.StartOnEnter),
		EndConferenceOnExit:    boolAttr(c.EndOnExit),
		WaitURL:                c.WaitURL,
	}
	if c.SuppressBeep {
		conf.Beep = "false"
	}
	verbs = append(verbs, twimlDial{Conference: conf})
	return render(verbs...)
}

// UnavailableTwiML apologizes and hangs up.
func UnavailableTwiML() string {
	out, err := render(twimlSay{Text: unavailableMessage}, twimlHangup{})
	if err != nil {
		return xml.Header + "<Response><Hangup/></Response>"
	}
	return out
}

func boolAttr(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func render(verbs ...any) (string, error) {
	r := twimlResponse{Verbs: verbs}

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
