package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Rrens/live-assist/internal/live"
)

// Client messages of the BidiGenerateContent protocol.

type setupMessage struct {
	Setup setup `json:"setup"`
}

type setup struct {
	Model                    string              `json:"model"`
	GenerationConfig         generationConfig    `json:"generationConfig"`
	SystemInstruction        *content            `json:"systemInstruction,omitempty"`
	Tools                    []tool              `json:"tools,omitempty"`
	ContextWindowCompression *contextCompression `json:"contextWindowCompression,omitempty"`
	InputAudioTranscription  *audioTranscription `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	LanguageCode string `json:"languageCode"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type contextCompression struct {
	SlidingWindow struct{} `json:"slidingWindow"`
}

type audioTranscription struct{}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Text  string `json:"text,omitempty"`
	Audio *blob  `json:"audio,omitempty"`
	Video *blob  `json:"video,omitempty"`
}

// blob data is base64 encoded by encoding/json.
type blob struct {
	Data     []byte `json:"data"`
	MimeType string `json:"mimeType"`
}

// Server messages.

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	InputTranscription *transcription `json:"inputTranscription,omitempty"`
	ModelTurn          *content       `json:"modelTurn,omitempty"`
	GenerationComplete bool           `json:"generationComplete,omitempty"`
	TurnComplete       bool           `json:"turnComplete,omitempty"`
}

type transcription struct {
	Text    string               `json:"text,omitempty"`
	Results []transcriptionEntry `json:"results,omitempty"`
}

type transcriptionEntry struct {
	Transcript string `json:"transcript"`
	SpeakerID  int    `json:"speakerId"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

func newSetup(model string, cfg live.Config) setupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	s := setup{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"TEXT"},
		},
		ContextWindowCompression: &contextCompression{},
		InputAudioTranscription:  &audioTranscription{},
	}
	if cfg.Language != "" {
		s.GenerationConfig.SpeechConfig = &speechConfig{LanguageCode: cfg.Language}
	}
	if cfg.SystemInstruction != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: cfg.SystemInstruction}}}
	}
	if cfg.SearchEnabled {
		s.Tools = []tool{{GoogleSearch: &struct{}{}}}
	}
	return setupMessage{Setup: s}
}

func encodeInput(in live.Input) ([]byte, error) {
	var ri realtimeInput
	switch in.Kind {
	case live.InputText:
		ri.Text = in.Text
	case live.InputAudio:
		ri.Audio = &blob{Data: in.Data, MimeType: in.MIMEType}
	case live.InputImage:
		ri.Video = &blob{Data: in.Data, MimeType: in.MIMEType}
	default:
		return nil, fmt.Errorf("unsupported input kind %d", in.Kind)
	}
	return json.Marshal(realtimeInputMessage{RealtimeInput: ri})
}

// decodeEvents turns one server frame into channel events, in the order
// transcription, response fragments, generation complete, turn complete.
func decodeEvents(msg *serverMessage) []live.Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var events []live.Event
	if sc.InputTranscription != nil {
		if text := formatTranscription(sc.InputTranscription); text != "" {
			events = append(events, live.Event{Kind: live.EventPartialTranscript, Text: text})
		}
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.Text != "" {
				events = append(events, live.Event{Kind: live.EventPartialResponse, Text: p.Text})
			}
		}
	}
	if sc.GenerationComplete {
		events = append(events, live.Event{Kind: live.EventTurnBoundary})
	}
	if sc.TurnComplete {
		events = append(events, live.Event{Kind: live.EventTurnComplete})
	}
	return events
}

// formatTranscription labels diarized results by speaker. Plain text
// transcriptions pass through unchanged.
func formatTranscription(t *transcription) string {
	if len(t.Results) == 0 {
		return t.Text
	}
	var b strings.Builder
	for _, r := range t.Results {
		if r.Transcript == "" || r.SpeakerID == 0 {
			continue
		}
		label := "Candidate"
		if r.SpeakerID == 1 {
			label = "Interviewer"
		}
		fmt.Fprintf(&b, "[%s]: %s\n", label, r.Transcript)
	}
	return b.String()
}
