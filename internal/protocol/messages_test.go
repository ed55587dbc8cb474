package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseStreamMessageStart(t *testing.T) {
	raw := []byte(`{"event":"start","sequenceNumber":"1","start":{"accountSid":"AC1","streamSid":"MZ1","callSid":"CA1","tracks":["inbound"],"customParameters":{"token":"tok-1"},"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1}},"streamSid":"MZ1"}`)
	msg, err := ParseStreamMessage(raw)
	if err != nil {
		t.Fatalf("ParseStreamMessage() error = %v", err)
	}

	start, ok := msg.(Start)
	if !ok {
		t.Fatalf("message type = %T, want Start", msg)
	}
	if start.Start.CallSID != "CA1" || start.EffectiveStreamSID() != "MZ1" {
		t.Fatalf("unexpected start: %+v", start)
	}
	if start.Param("token") != "tok-1" {
		t.Fatalf("Param(token) = %q, want tok-1", start.Param("token"))
	}
	if start.Start.MediaFormat.SampleRate != 8000 {
		t.Fatalf("SampleRate = %d, want 8000", start.Start.MediaFormat.SampleRate)
	}
}

func TestParseStreamMessageStartWithoutStreamSID(t *testing.T) {
	_, err := ParseStreamMessage([]byte(`{"event":"start","start":{"callSid":"CA1"}}`))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("error = %v, want ErrInvalidMessage", err)
	}
}

func TestParseStreamMessageRejectsUnknownEvent(t *testing.T) {
	_, err := ParseStreamMessage([]byte(`{"event":"wat"}`))
	if !errors.Is(err, ErrUnsupportedEvent) {
		t.Fatalf("error = %v, want ErrUnsupportedEvent", err)
	}
}

func TestParseStreamMessageStopAndMedia(t *testing.T) {
	msg, err := ParseStreamMessage([]byte(`{"event":"stop","sequenceNumber":"9","streamSid":"MZ1","stop":{"accountSid":"AC1","callSid":"CA1"}}`))
	if err != nil {
		t.Fatalf("ParseStreamMessage(stop) error = %v", err)
	}
	if stop, ok := msg.(Stop); !ok || stop.Stop.CallSID != "CA1" {
		t.Fatalf("stop = %#v", msg)
	}

	msg, err = ParseStreamMessage([]byte(`{"event":"media","streamSid":"MZ1","media":{"track":"inbound","payload":"AAEC"}}`))
	if err != nil {
		t.Fatalf("ParseStreamMessage(media) error = %v", err)
	}
	if media, ok := msg.(Media); !ok || media.Media.Payload != "AAEC" {
		t.Fatalf("media = %#v", msg)
	}
}

func TestParseStreamMessageInvalidJSON(t *testing.T) {
	if _, err := ParseStreamMessage([]byte(`{`)); err == nil {
		t.Fatalf("ParseStreamMessage() expected error")
	}
}

func TestOutboundMessagesEncode(t *testing.T) {
	raw, err := json.Marshal(NewMark("MZ1", "opening"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	want := `{"event":"mark","streamSid":"MZ1","mark":{"name":"opening"}}`
	if string(raw) != want {
		t.Fatalf("mark = %s, want %s", raw, want)
	}

	raw, err = json.Marshal(NewClear("MZ1"))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(raw) != `{"event":"clear","streamSid":"MZ1"}` {
		t.Fatalf("clear = %s", raw)
	}
}
