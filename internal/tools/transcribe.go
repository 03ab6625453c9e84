package tools

import (
	"context"
	"encoding/json"
)

// Utterance is one speaker-segmented span of a transcription. Start and End
// are milliseconds from the beginning of the audio.
type Utterance struct {
	Speaker string `json:"speaker"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
	Text    string `json:"text"`
}

// Transcription is the output of a speech-to-text provider: the full text
// plus, with diarization enabled, per-speaker utterances.
type Transcription struct {
	Text       string      `json:"text"`
	Utterances []Utterance `json:"utterances,omitempty"`
}

// Transcriber is the speech-to-text boundary. Transcription itself is an
// external collaborator; the engine only routes its text output.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string, diarization bool) (*Transcription, error)
}

type transcribeArgs struct {
	AudioURL    string `json:"audio_url" validate:"required,url"`
	Diarization *bool  `json:"diarization"`
}

type transcribeResult struct {
	Status string         `json:"status"`
	Detail *Transcription `json:"detail"`
}

// RegisterTranscription wires a speech-to-text provider into the registry.
// Callers without one simply never register the tool.
func RegisterTranscription(r *Registry, t Transcriber) {
	r.Register("transcribe_note",
		"Transcribe a voice note, optionally with speaker diarization.",
		func(ctx context.Context, raw json.RawMessage) (any, error) {
			args, err := decode[transcribeArgs](r, raw)
			if err != nil {
				return nil, err
			}
			diarization := true
			if args.Diarization != nil {
				diarization = *args.Diarization
			}
			transcription, err := t.Transcribe(ctx, args.AudioURL, diarization)
			if err != nil {
				return nil, err
			}
			return transcribeResult{Status: "ok", Detail: transcription}, nil
		})
}
