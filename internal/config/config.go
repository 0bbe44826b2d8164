package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all service configuration.
type Config struct {
	Port       string
	Transcribe TranscribeConfig
	Evaluation EvaluationConfig

	// CredentialsSheet is an optional .xlsx file of provider keys.
	CredentialsSheet string

	// Credentials is an inline "region:secret,..." list.
	Credentials string

	DatasetPath string
}

// TranscribeConfig configures the transcription orchestrator and vendor adapter.
type TranscribeConfig struct {
	Provider        string // "publish" or "transcript"
	Regions         []string
	PreferredRegion string
	Hosts           map[string]string // region -> base URL
	PollInterval    time.Duration
	MaxPollAttempts int
	HTTPTimeout     time.Duration
	RetryWindow     time.Duration
}

// EvaluationConfig configures the escalating evaluator.
type EvaluationConfig struct {
	URL                 string
	Region              string
	PrimaryModel        string
	EscalatedModel      string
	CheapModels         []string
	ConfidenceThreshold float64
	MaxTokens           int
	HTTPTimeout         time.Duration
	RetryWindow         time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	regions := getenvList("QC_REGIONS", []string{"us", "eu"})
	for i, r := range regions {
		regions[i] = strings.ToLower(r)
	}
	primary := getenv("QC_PRIMARY_MODEL", "gpt-4o-mini")
	httpTimeout := getenvDuration("QC_HTTP_TIMEOUT", 25*time.Second)
	retryWindow := getenvDuration("QC_RETRY_WINDOW", 12*time.Second)

	hosts := make(map[string]string, len(regions))
	for _, r := range regions {
		if v := os.Getenv("QC_TRANSCRIBE_URL_" + strings.ToUpper(r)); v != "" {
			hosts[r] = v
		}
	}

	return Config{
		Port: getenv("PORT", "8080"),
		Transcribe: TranscribeConfig{
			Provider:        getenv("QC_TRANSCRIBE_PROVIDER", "publish"),
			Regions:         regions,
			PreferredRegion: strings.ToLower(getenv("QC_PREFERRED_REGION", regions[0])),
			Hosts:           hosts,
			PollInterval:    getenvDuration("QC_POLL_INTERVAL", 5*time.Second),
			MaxPollAttempts: getenvInt("QC_MAX_POLL_ATTEMPTS", 120),
			HTTPTimeout:     httpTimeout,
			RetryWindow:     retryWindow,
		},
		Evaluation: EvaluationConfig{
			URL:                 os.Getenv("QC_LLM_URL"),
			Region:              strings.ToLower(getenv("QC_LLM_REGION", "global")),
			PrimaryModel:        primary,
			EscalatedModel:      getenv("QC_ESCALATED_MODEL", "gpt-4o"),
			CheapModels:         getenvList("QC_CHEAP_MODELS", []string{primary}),
			ConfidenceThreshold: getenvFloat("QC_CONFIDENCE_THRESHOLD", 80),
			MaxTokens:           getenvInt("QC_MAX_TOKENS", 2048),
			HTTPTimeout:         httpTimeout,
			RetryWindow:         retryWindow,
		},
		CredentialsSheet: os.Getenv("QC_CREDENTIALS_SHEET"),
		Credentials:      os.Getenv("QC_CREDENTIALS"),
		DatasetPath:      getenv("QC_DATASET_PATH", "calls.xlsx"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
