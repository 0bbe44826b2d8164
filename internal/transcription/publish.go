package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"voice-qc-go/internal/credentials"
	"voice-qc-go/internal/types"
)

// PublishAPI talks to a media-publish style vendor: files are uploaded to get
// a MediaId, transcription is requested for it, and /getstatus is polled.
type PublishAPI struct {
	c jsonClient
}

func NewPublishAPI(cfg ClientConfig) *PublishAPI {
	return &PublishAPI{c: newJSONClient(cfg)}
}

type publishResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		MediaId string `json:"MediaId"`
		Status  string `json:"Status"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type statusResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		Status     string             `json:"Status"` // Queued, Processing, Success, Failed
		ErrorCode  string             `json:"ErrorCode,omitempty"`
		Utterances []publishUtterance `json:"Utterances"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type publishUtterance struct {
	Speaker    string  `json:"Speaker"`
	Text       string  `json:"Text"`
	Start      float64 `json:"Start"`
	End        float64 `json:"End"`
	Confidence float64 `json:"Confidence"`
}

func (p *PublishAPI) Name() string { return "publish" }

// Upload sends the recording bytes. URL-only assets are not uploaded; the
// vendor fetches the link itself at submit time.
func (p *PublishAPI) Upload(ctx context.Context, cred credentials.Credential, asset Asset) (string, error) {
	if len(asset.Data) == 0 {
		return asset.URL, nil
	}
	host, err := p.c.host(cred.Region)
	if err != nil {
		return "", err
	}
	name := asset.Name
	if name == "" {
		name = "recording"
	}

	var resp publishResponse
	build := func() (*http.Request, error) {
		var b bytes.Buffer
		w := multipart.NewWriter(&b)
		part, err := w.CreateFormFile("file", name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(asset.Data); err != nil {
			return nil, err
		}
		_ = w.Close()
		req, err := http.NewRequest(http.MethodPost, host+"/upload", &b)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+cred.Secret)
		return req, nil
	}
	if err := p.c.doJSON(ctx, build, &resp); err != nil {
		return "", err
	}
	if err := publishCodeErr("upload", resp.Code, resp.Reason); err != nil {
		return "", err
	}
	return resp.Data.MediaId, nil
}

func (p *PublishAPI) Submit(ctx context.Context, cred credentials.Credential, assetHandle string, opts Options) (string, error) {
	host, err := p.c.host(cred.Region)
	if err != nil {
		return "", err
	}

	var resp publishResponse
	build := func() (*http.Request, error) {
		var b bytes.Buffer
		w := multipart.NewWriter(&b)
		if strings.HasPrefix(assetHandle, "http://") || strings.HasPrefix(assetHandle, "https://") {
			_ = w.WriteField("callRecordingLink", assetHandle)
		} else {
			_ = w.WriteField("mediaId", assetHandle)
		}
		_ = w.WriteField("diarize", strconv.FormatBool(opts.Diarize))
		_ = w.WriteField("contentAnalysis", strconv.FormatBool(opts.ContentAnalysis))
		if opts.Language != "" {
			_ = w.WriteField("language", opts.Language)
		}
		if opts.SpeakerCount > 0 {
			_ = w.WriteField("speakerCount", strconv.Itoa(opts.SpeakerCount))
		}
		_ = w.Close()
		req, err := http.NewRequest(http.MethodPost, host+"/transcribe", &b)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+cred.Secret)
		return req, nil
	}
	if err := p.c.doJSON(ctx, build, &resp); err != nil {
		return "", err
	}
	if err := publishCodeErr("transcribe", resp.Code, resp.Reason); err != nil {
		return "", err
	}
	if resp.Data.MediaId == "" {
		return "", fmt.Errorf("transcribe: response has no MediaId")
	}
	return resp.Data.MediaId, nil
}

func (p *PublishAPI) Poll(ctx context.Context, cred credentials.Credential, jobHandle string) (PollResult, error) {
	host, err := p.c.host(cred.Region)
	if err != nil {
		return PollResult{}, err
	}
	u, err := url.Parse(host + "/getstatus")
	if err != nil {
		return PollResult{}, err
	}
	q := u.Query()
	q.Set("mediaId", jobHandle)
	u.RawQuery = q.Encode()

	var s statusResponse
	var raw json.RawMessage
	build := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+cred.Secret)
		return req, nil
	}
	if err := p.c.doJSON(ctx, build, &raw); err != nil {
		return PollResult{}, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return PollResult{}, fmt.Errorf("decode status: %w", err)
	}

	switch strings.ToLower(s.Data.Status) {
	case "success":
		return PollResult{Status: PollCompleted, Payload: raw}, nil
	case "queued", "processing":
		return PollResult{Status: PollRunning}, nil
	case "failed":
		return PollResult{
			Status:    PollError,
			ErrorInfo: s.Reason,
			Quota:     strings.EqualFold(s.Data.ErrorCode, "QUOTA_EXCEEDED"),
		}, nil
	}
	return PollResult{}, fmt.Errorf("%w: unexpected status %q", ErrTransient, s.Data.Status)
}

func (p *PublishAPI) ParseResult(payload []byte) ([]types.Turn, error) {
	var s statusResponse
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	turns := make([]types.Turn, 0, len(s.Data.Utterances))
	for _, u := range s.Data.Utterances {
		turns = append(turns, types.Turn{
			SpeakerID:  u.Speaker,
			Text:       u.Text,
			StartSec:   u.Start,
			EndSec:     u.End,
			Confidence: u.Confidence,
		})
	}
	return turns, nil
}

func publishCodeErr(op string, code int, reason string) error {
	switch {
	case code == 0 || code == http.StatusOK:
		return nil
	case code == http.StatusTooManyRequests || code == http.StatusPaymentRequired:
		return fmt.Errorf("%s: %w: code=%d reason=%s", op, ErrQuota, code, reason)
	case code >= 500:
		return fmt.Errorf("%s: %w: code=%d reason=%s", op, ErrTransient, code, reason)
	}
	return fmt.Errorf("%s error: code=%d reason=%s", op, code, reason)
}
