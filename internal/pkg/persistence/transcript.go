package persistence

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TranscriptSchemaVersion marks the persisted transcript JSON layout
const TranscriptSchemaVersion = "1.0"

type (

	// Transcript is the persisted transcription artifact
	Transcript struct {
		SchemaVersion string  `json:"schema_version"`
		AudioDuration float64 `json:"audio_duration"`
		Language      string  `json:"language"`
		Text          string  `json:"text"`
		Words         []Word  `json:"words"`
	}

	// Word is one timed unit with its speaker tag
	Word struct {
		Text      string  `json:"text"`
		Start     float64 `json:"start"`
		End       float64 `json:"end"`
		SpeakerID string  `json:"speaker_id"`
	}
)

// ParseTranscript decodes the transcript artifact
func ParseTranscript(data []byte) (*Transcript, error) {
	var res Transcript
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("can't unmarshal transcript: %w", err)
	}
	return &res, nil
}

// SpeakerText renders the transcript as speaker-marked text:
// every change of speaker starts a new "**[name]**" block.
// Names are resolved through speakerMap, unresolved IDs stay as is
func (t *Transcript) SpeakerText(speakerMap map[string]string) string {
	var sb strings.Builder
	lastSpeaker := ""
	for _, w := range t.Words {
		if w.SpeakerID != lastSpeaker {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(fmt.Sprintf("**[%s]**\n", resolveSpeaker(w.SpeakerID, speakerMap)))
			lastSpeaker = w.SpeakerID
		} else if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		sb.WriteString(strings.TrimSpace(w.Text))
	}
	return sb.String()
}

func resolveSpeaker(id string, speakerMap map[string]string) string {
	if n, ok := speakerMap[id]; ok && n != "" {
		return n
	}
	return id
}
