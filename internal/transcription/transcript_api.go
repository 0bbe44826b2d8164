package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"voice-qc-go/internal/credentials"
	"voice-qc-go/internal/types"
)

// TranscriptAPI talks to a transcript-resource style vendor (/v2/upload,
// /v2/transcript). Timestamps come back in milliseconds.
type TranscriptAPI struct {
	c jsonClient
}

func NewTranscriptAPI(cfg ClientConfig) *TranscriptAPI {
	return &TranscriptAPI{c: newJSONClient(cfg)}
}

type transcriptRequest struct {
	AudioURL         string `json:"audio_url"`
	SpeakerLabels    bool   `json:"speaker_labels"`
	LanguageCode     string `json:"language_code,omitempty"`
	ContentSafety    bool   `json:"content_safety"`
	SpeakersExpected int    `json:"speakers_expected,omitempty"`
}

type transcriptResponse struct {
	ID         string                `json:"id"`
	Status     string                `json:"status"`
	Error      string                `json:"error,omitempty"`
	Utterances []transcriptUtterance `json:"utterances"`
}

type transcriptUtterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
}

func (t *TranscriptAPI) Name() string { return "transcript" }

func (t *TranscriptAPI) Upload(ctx context.Context, cred credentials.Credential, asset Asset) (string, error) {
	if len(asset.Data) == 0 {
		return asset.URL, nil
	}
	host, err := t.c.host(cred.Region)
	if err != nil {
		return "", err
	}

	var resp struct {
		UploadURL string `json:"upload_url"`
	}
	build := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, host+"/v2/upload", bytes.NewReader(asset.Data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("Authorization", cred.Secret)
		return req, nil
	}
	if err := t.c.doJSON(ctx, build, &resp); err != nil {
		return "", err
	}
	if resp.UploadURL == "" {
		return "", fmt.Errorf("upload: response has no upload_url")
	}
	return resp.UploadURL, nil
}

func (t *TranscriptAPI) Submit(ctx context.Context, cred credentials.Credential, assetHandle string, opts Options) (string, error) {
	host, err := t.c.host(cred.Region)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(transcriptRequest{
		AudioURL:         assetHandle,
		SpeakerLabels:    opts.Diarize,
		LanguageCode:     opts.Language,
		ContentSafety:    opts.ContentAnalysis,
		SpeakersExpected: opts.SpeakerCount,
	})
	if err != nil {
		return "", err
	}

	var resp transcriptResponse
	build := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, host+"/v2/transcript", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", cred.Secret)
		return req, nil
	}
	if err := t.c.doJSON(ctx, build, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("submit: response has no id")
	}
	return resp.ID, nil
}

func (t *TranscriptAPI) Poll(ctx context.Context, cred credentials.Credential, jobHandle string) (PollResult, error) {
	host, err := t.c.host(cred.Region)
	if err != nil {
		return PollResult{}, err
	}

	var raw json.RawMessage
	build := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, host+"/v2/transcript/"+url.PathEscape(jobHandle), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", cred.Secret)
		return req, nil
	}
	if err := t.c.doJSON(ctx, build, &raw); err != nil {
		return PollResult{}, err
	}
	var resp transcriptResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return PollResult{}, fmt.Errorf("decode transcript: %w", err)
	}

	switch resp.Status {
	case "completed":
		return PollResult{Status: PollCompleted, Payload: raw}, nil
	case "queued", "processing":
		return PollResult{Status: PollRunning}, nil
	case "error":
		return PollResult{
			Status:    PollError,
			ErrorInfo: resp.Error,
			Quota:     strings.Contains(strings.ToLower(resp.Error), "quota"),
		}, nil
	}
	return PollResult{}, fmt.Errorf("%w: unexpected status %q", ErrTransient, resp.Status)
}

func (t *TranscriptAPI) ParseResult(payload []byte) ([]types.Turn, error) {
	var resp transcriptResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	turns := make([]types.Turn, 0, len(resp.Utterances))
	for _, u := range resp.Utterances {
		turns = append(turns, types.Turn{
			SpeakerID:  u.Speaker,
			Text:       u.Text,
			StartSec:   float64(u.Start) / 1000,
			EndSec:     float64(u.End) / 1000,
			Confidence: u.Confidence,
		})
	}
	return turns, nil
}
