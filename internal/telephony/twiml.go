package telephony

import (
	"encoding/xml"
	"fmt"
)

const (
	greeting = "Thank you for calling. This call will be recorded for quality and training purposes."
	farewell = "Goodbye."
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []twimlVerb
}

type twimlVerb struct {
	XMLName        xml.Name
	Text           string `xml:",chardata"`
	MaxLength      int    `xml:"maxLength,attr,omitempty"`
	PlayBeep       string `xml:"playBeep,attr,omitempty"`
	StatusCallback string `xml:"recordingStatusCallback,attr,omitempty"`
	CallbackMethod string `xml:"recordingStatusCallbackMethod,attr,omitempty"`
}

func say(text string) twimlVerb {
	return twimlVerb{XMLName: xml.Name{Local: "Say"}, Text: text}
}

// VoiceResponse is the TwiML served when Twilio connects the call: a notice,
// a recording of up to maxSeconds, then a goodbye. The recording callback
// is only attached when publicBaseURL is known.
func VoiceResponse(publicBaseURL string, maxSeconds int) ([]byte, error) {
	if maxSeconds <= 0 {
		maxSeconds = 600
	}
	record := twimlVerb{
		XMLName:   xml.Name{Local: "Record"},
		MaxLength: maxSeconds,
		PlayBeep:  "true",
	}
	if publicBaseURL != "" {
		record.StatusCallback = publicBaseURL + "/twilio/recording"
		record.CallbackMethod = "POST"
	}

	out, err := xml.Marshal(twimlResponse{Verbs: []twimlVerb{say(greeting), record, say(farewell)}})
	if err != nil {
		return nil, fmt.Errorf("render twiml: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}
