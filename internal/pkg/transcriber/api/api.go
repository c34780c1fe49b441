package api

import (
	"context"
	"io"
)

// Transcriber converts audio into text
type Transcriber interface {
	Transcribe(ctx context.Context, fileName string, audio io.Reader, language string) (*Result, error)
}

// Word is one recognized token with timing and speaker info
type Word struct {
	Text      string  `json:"text"`
	Start     float64 `json:"start"`
	End       float64 `json:"end"`
	SpeakerID string  `json:"speaker_id"`
}

// Result keeps the transcription outcome for one audio file
type Result struct {
	Text            string  `json:"text"`
	DurationSeconds float64 `json:"duration"`
	Language        string  `json:"language,omitempty"`
	Words           []Word  `json:"words"`
}
