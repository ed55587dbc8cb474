package telephony

import (
	"encoding/xml"
	"sort"
)

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Connect *twimlConnect `xml:"Connect,omitempty"`
	Say     string        `xml:"Say,omitempty"`
	Hangup  *struct{}     `xml:"Hangup,omitempty"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ContentType is the media type of answer markup.
const ContentType = "application/xml"

// AnswerMarkup connects the answered call to a bidirectional media stream and
// forwards params as custom stream parameters, sorted by name.
func AnswerMarkup(streamURL string, params map[string]string) ([]byte, error) {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	stream := twimlStream{URL: streamURL}
	for _, name := range names {
		stream.Parameters = append(stream.Parameters, twimlParameter{Name: name, Value: params[name]})
	}
	return render(twimlResponse{Connect: &twimlConnect{Stream: stream}})
}

// FallbackMarkup speaks message and hangs up. It never fails, so a webhook
// can always answer with well-formed markup.
func FallbackMarkup(message string) []byte {
	out, err := render(twimlResponse{Say: message, Hangup: &struct{}{}})
	if err != nil {
		return []byte(xml.Header + "<Response><Hangup></Hangup></Response>")
	}
	return out
}

func render(resp twimlResponse) ([]byte, error) {
	body, err := xml.Marshal(resp)
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}
