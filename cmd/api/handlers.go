package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voice-qc-go/internal/actionable"
	"voice-qc-go/internal/aggregator"
	"voice-qc-go/internal/credentials"
	"voice-qc-go/internal/dataset"
	"voice-qc-go/internal/dialog"
	"voice-qc-go/internal/logger"
	"voice-qc-go/internal/pipeline"
	"voice-qc-go/internal/processor"
	"voice-qc-go/internal/transcription"
	"voice-qc-go/internal/types"
)

const maxUploadBytes = 64 << 20

type server struct {
	pool          *credentials.Pool
	proc          pipeline.CallProcessor
	defaultRegion string
	datasetPath   string
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.health)
	mux.HandleFunc("POST /calls", s.processCall)
	mux.HandleFunc("POST /dialog", s.annotateDialog)
	mux.HandleFunc("GET /credentials", s.listCredentials)
	mux.HandleFunc("POST /credentials", s.addCredential)
	mux.HandleFunc("POST /credentials/{id}/reset", s.resetCredential)
	mux.HandleFunc("DELETE /credentials/{id}", s.removeCredential)
	mux.HandleFunc("POST /batch", s.runBatch)
	return mux
}

func (s *server) health(w http.ResponseWriter, r *http.Request) {
	logger.New().WithRequest(r).Debug("health check")
	io.WriteString(w, "ok")
}

func (s *server) processCall(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "calls")

	q := r.URL.Query()
	req := processor.CallRequest{
		CallID: q.Get("call_id"),
		Region: q.Get("region"),
		Options: transcription.Options{
			Diarize:         q.Get("diarize") != "false",
			Language:        q.Get("language"),
			ContentAnalysis: q.Get("content_analysis") == "true",
		},
	}
	if n, err := strconv.Atoi(q.Get("speakers")); err == nil {
		req.Options.SpeakerCount = n
	}
	if req.CallID == "" {
		req.CallID = uuid.New().String()
	}
	if req.Region == "" {
		req.Region = s.defaultRegion
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if file, hdr, err := r.FormFile("file"); err == nil {
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			reqLog.WithError(err).Warn("reading upload")
			http.Error(w, "could not read upload", http.StatusBadRequest)
			return
		}
		req.Asset = transcription.Asset{Name: hdr.Filename, Data: data}
	} else if u := r.FormValue("audio_url"); u != "" {
		req.Asset = transcription.Asset{URL: u}
	} else {
		reqLog.Warn("missing file or audio_url")
		http.Error(w, "missing file or audio_url", http.StatusBadRequest)
		return
	}

	reqLog = reqLog.WithFields(logrus.Fields{"call_id": req.CallID, "region": req.Region})
	reqLog.Info("processing call")
	rep, err := s.proc.ProcessCall(r.Context(), req, func(p types.Progress) {
		reqLog.WithFields(logrus.Fields{"stage": p.Stage, "percent": p.Percent}).Debug(p.Message)
	})
	status := http.StatusOK
	if err != nil {
		status = statusFor(err)
		reqLog.WithError(err).WithField("status", status).Warn("call failed")
	}
	writeJSON(w, status, rep, reqLog)
}

// statusFor maps a processing error to an HTTP status. Anything that is not
// a transcription job failure came from the evaluation models.
func statusFor(err error) int {
	var je *transcription.JobError
	if !errors.As(err, &je) {
		return http.StatusBadGateway
	}
	switch je.Kind {
	case transcription.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case transcription.KindNoCredential, transcription.KindQuotaExceeded:
		return http.StatusServiceUnavailable
	case transcription.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type dialogRequest struct {
	Turns  []types.Turn  `json:"turns"`
	Issues []types.Issue `json:"issues"`
}

type dialogResponse struct {
	Dialog     []types.DialogTurn `json:"dialog"`
	Dropped    []types.Issue      `json:"dropped_issues,omitempty"`
	Unanchored []types.Issue      `json:"unanchored_issues,omitempty"`
}

func (s *server) annotateDialog(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "dialog")
	var in dialogRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		reqLog.WithError(err).Warn("bad dialog payload")
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	turns := dialog.Consolidate(in.Turns)
	a := dialog.Attribute(turns, in.Issues)
	writeJSON(w, http.StatusOK, dialogResponse{
		Dialog:     dialog.Annotate(turns, a),
		Dropped:    a.Dropped,
		Unanchored: a.Unanchored,
	}, reqLog)
}

func (s *server) listCredentials(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.pool.List(), logger.New().WithRequest(r))
}

func (s *server) addCredential(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "credentials")
	var in struct {
		Region string `json:"region"`
		Secret string `json:"secret"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Region == "" || in.Secret == "" {
		http.Error(w, "region and secret are required", http.StatusBadRequest)
		return
	}
	id := s.pool.Register(in.Secret, in.Region)
	c, _ := s.pool.Get(id)
	reqLog.WithFields(logrus.Fields{"credential_id": id, "region": in.Region}).Info("credential registered")
	writeJSON(w, http.StatusCreated, c, reqLog)
}

func (s *server) resetCredential(w http.ResponseWriter, r *http.Request) {
	s.credentialAction(w, r, s.pool.Reset, "reset")
}

func (s *server) removeCredential(w http.ResponseWriter, r *http.Request) {
	s.credentialAction(w, r, s.pool.Remove, "removed")
}

func (s *server) credentialAction(w http.ResponseWriter, r *http.Request, action func(string) error, verb string) {
	id := r.PathValue("id")
	reqLog := logger.New().WithRequest(r).WithField("credential_id", id)
	if err := action(id); err != nil {
		if errors.Is(err, credentials.ErrUnknownCredential) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		reqLog.WithError(err).Error("credential action failed")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	reqLog.Info("credential " + verb)
	w.WriteHeader(http.StatusNoContent)
}

type batchResponse struct {
	Summary    aggregator.Summary    `json:"summary"`
	ActionCard actionable.ActionCard `json:"action_card"`
	Reports    []types.CallReport    `json:"reports"`
}

func (s *server) runBatch(w http.ResponseWriter, r *http.Request) {
	reqLog := logger.New().WithRequest(r).WithField("handler", "batch")
	records, err := dataset.Load(s.datasetPath)
	if err != nil {
		reqLog.WithError(err).Error("dataset load error")
		http.Error(w, "dataset load error", http.StatusInternalServerError)
		return
	}

	limit := 5
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	if len(records) > limit {
		records = records[:limit]
	}
	workers := 2
	if n, err := strconv.Atoi(r.URL.Query().Get("workers")); err == nil && n > 0 {
		workers = n
	}

	reqLog.WithFields(logrus.Fields{"calls": len(records), "workers": workers}).Info("batch invoked")
	reports := pipeline.Run(r.Context(), s.proc, records, pipeline.Options{Workers: workers, Diarize: true})
	summary := aggregator.Aggregate(reports)
	writeJSON(w, http.StatusOK, batchResponse{
		Summary:    summary,
		ActionCard: actionable.Generate(summary),
		Reports:    reports,
	}, reqLog)
}

func writeJSON(w http.ResponseWriter, status int, v any, log *logrus.Entry) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.WithError(err).Error("failed to write response")
	}
}
