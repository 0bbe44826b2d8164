package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("QC_REGIONS", "")
	t.Setenv("QC_PRIMARY_MODEL", "")
	t.Setenv("QC_CHEAP_MODELS", "")
	t.Setenv("QC_POLL_INTERVAL", "")
	t.Setenv("QC_MAX_POLL_ATTEMPTS", "")
	t.Setenv("QC_CONFIDENCE_THRESHOLD", "")
	t.Setenv("QC_PREFERRED_REGION", "")

	cfg := Load()

	if got := cfg.Transcribe.Regions; len(got) != 2 || got[0] != "us" || got[1] != "eu" {
		t.Fatalf("regions = %v, want [us eu]", got)
	}
	if cfg.Transcribe.PreferredRegion != "us" {
		t.Fatalf("preferred region = %q, want us", cfg.Transcribe.PreferredRegion)
	}
	if cfg.Transcribe.PollInterval != 5*time.Second {
		t.Fatalf("poll interval = %s, want 5s", cfg.Transcribe.PollInterval)
	}
	if cfg.Transcribe.MaxPollAttempts != 120 {
		t.Fatalf("max poll attempts = %d, want 120", cfg.Transcribe.MaxPollAttempts)
	}
	if cfg.Evaluation.ConfidenceThreshold != 80 {
		t.Fatalf("threshold = %v, want 80", cfg.Evaluation.ConfidenceThreshold)
	}
	if len(cfg.Evaluation.CheapModels) != 1 || cfg.Evaluation.CheapModels[0] != cfg.Evaluation.PrimaryModel {
		t.Fatalf("cheap models = %v, want [%s]", cfg.Evaluation.CheapModels, cfg.Evaluation.PrimaryModel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("QC_REGIONS", "eu, ap ,")
	t.Setenv("QC_TRANSCRIBE_URL_AP", "https://ap.example.test")
	t.Setenv("QC_POLL_INTERVAL", "250ms")
	t.Setenv("QC_MAX_POLL_ATTEMPTS", "not-a-number")
	t.Setenv("QC_CONFIDENCE_THRESHOLD", "72.5")

	cfg := Load()

	if got := cfg.Transcribe.Regions; len(got) != 2 || got[0] != "eu" || got[1] != "ap" {
		t.Fatalf("regions = %v, want [eu ap]", got)
	}
	if cfg.Transcribe.Hosts["ap"] != "https://ap.example.test" {
		t.Fatalf("hosts = %v", cfg.Transcribe.Hosts)
	}
	if cfg.Transcribe.PollInterval != 250*time.Millisecond {
		t.Fatalf("poll interval = %s", cfg.Transcribe.PollInterval)
	}
	if cfg.Transcribe.MaxPollAttempts != 120 {
		t.Fatalf("invalid int should fall back, got %d", cfg.Transcribe.MaxPollAttempts)
	}
	if cfg.Evaluation.ConfidenceThreshold != 72.5 {
		t.Fatalf("threshold = %v", cfg.Evaluation.ConfidenceThreshold)
	}
}

func TestLoadLowercasesRegions(t *testing.T) {
	t.Setenv("QC_REGIONS", "US,Eu")
	t.Setenv("QC_PREFERRED_REGION", "EU")
	t.Setenv("QC_TRANSCRIBE_URL_EU", "https://eu.example.test")
	t.Setenv("QC_LLM_REGION", "Global")

	cfg := Load()

	if got := cfg.Transcribe.Regions; len(got) != 2 || got[0] != "us" || got[1] != "eu" {
		t.Fatalf("regions = %v, want [us eu]", got)
	}
	if cfg.Transcribe.PreferredRegion != "eu" || cfg.Evaluation.Region != "global" {
		t.Fatalf("preferred = %q, llm = %q", cfg.Transcribe.PreferredRegion, cfg.Evaluation.Region)
	}
	if cfg.Transcribe.Hosts["eu"] != "https://eu.example.test" {
		t.Fatalf("hosts = %v", cfg.Transcribe.Hosts)
	}
}
