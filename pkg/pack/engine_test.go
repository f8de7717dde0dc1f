package pack

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/packforge/packforge/pkg/logging"
	"github.com/packforge/packforge/pkg/models"
	"github.com/packforge/packforge/pkg/store"
)

func TestKeywords(t *testing.T) {
	tests := []struct {
		name  string
		niche string
		limit int
		want  []string
	}{
		{"simple english", "SaaS Growth Hacking", 8, []string{"saas", "growth", "hacking"}},
		{"stopwords dropped", "the art of growth and scale", 8, []string{"art", "growth", "scale"}},
		{"digits dropped", "top 10 saas 2024 tools", 8, []string{"top", "saas", "tools"}},
		{"hashtags stripped", "#fitness #coaching", 8, []string{"fitness", "coaching"}},
		{"dedupe", "growth growth GROWTH", 8, []string{"growth"}},
		{"limit respected", "one two three four five six seven eight nine", 3, []string{"one", "two", "three"}},
		{"arabic tokens", "التجارة الإلكترونية في الخليج", 8, []string{"التجارة", "الإلكترونية", "الخليج"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := keywords(tt.niche, tt.limit)
			if len(got) != len(tt.want) {
				t.Fatalf("keywords(%q) = %v, want %v", tt.niche, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("keywords(%q)[%d] = %q, want %q", tt.niche, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSeedDeterminism(t *testing.T) {
	a := seedFor("saas growth", "Authority", "en")
	b := seedFor("saas growth", "Authority", "en")
	if a != b {
		t.Errorf("same inputs produced different seeds: %d vs %d", a, b)
	}

	c := seedFor("saas growth", "Casual", "en")
	if a == c {
		t.Error("different tone should change the seed")
	}
}

func TestDominanceScore(t *testing.T) {
	tests := []struct {
		name      string
		niche     string
		platforms []string
		tone      string
		want      int
	}{
		{"base score", "saas", []string{"LinkedIn"}, "Casual", 60},
		{"keyword bonus", "saas growth hacking automation", []string{"LinkedIn"}, "Casual", 70},
		{"tiktok bonus", "saas", []string{"TikTok"}, "Casual", 65},
		{"authority bonus", "saas", []string{"LinkedIn"}, "Authority", 65},
		{"all bonuses", "saas growth hacking automation", []string{"TikTok", "X"}, "Authority", 80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dominanceScore(tt.niche, tt.platforms, tt.tone)
			if got.Score != tt.want {
				t.Errorf("score = %d, want %d", got.Score, tt.want)
			}
			if got.Score > 95 {
				t.Error("score must be capped at 95")
			}
		})
	}
}

func TestBuildPack(t *testing.T) {
	req := models.BuildRequest{
		Mode:      "niche",
		Input:     "fitness coaching",
		Language:  "en",
		Tone:      "Authority",
		Platforms: []string{"LinkedIn", "X", "TikTok"},
	}

	pack, err := BuildPack("job1", req)
	if err != nil {
		t.Fatalf("BuildPack failed: %v", err)
	}

	if pack.JobID != "job1" {
		t.Errorf("job id = %q", pack.JobID)
	}
	for _, platform := range []string{"linkedin", "x", "tiktok"} {
		if pack.Assets[platform] == "" {
			t.Errorf("missing %s asset", platform)
		}
	}
	if !strings.Contains(pack.PackMarkdown, "# Dominance Pack") {
		t.Error("markdown missing header")
	}
	if !strings.Contains(pack.PackMarkdown, "fitness coaching") {
		t.Error("markdown must reflect the niche")
	}
	if pack.Dominance.Score < 60 || pack.Dominance.Score > 95 {
		t.Errorf("dominance score out of range: %d", pack.Dominance.Score)
	}
	if !strings.Contains(pack.Visual.Prompt, "fitness coaching") {
		t.Error("visual prompt must reflect the niche")
	}
}

func TestBuildPackDeterministic(t *testing.T) {
	req := models.BuildRequest{Input: "crypto trading", Language: "ar", Tone: "Authority", Platforms: []string{"X"}}

	a, err := BuildPack("j1", req)
	if err != nil {
		t.Fatalf("BuildPack failed: %v", err)
	}
	b, err := BuildPack("j2", req)
	if err != nil {
		t.Fatalf("BuildPack failed: %v", err)
	}
	if a.Assets["x"] != b.Assets["x"] {
		t.Error("same request must yield identical copy")
	}
}

func TestBuildPackPlatformFiltering(t *testing.T) {
	req := models.BuildRequest{Input: "real estate", Platforms: []string{"LinkedIn"}}

	pack, err := BuildPack("j1", req)
	if err != nil {
		t.Fatalf("BuildPack failed: %v", err)
	}
	if _, ok := pack.Assets["tiktok"]; ok {
		t.Error("tiktok asset built without tiktok platform")
	}
	if _, ok := pack.Assets["linkedin"]; !ok {
		t.Error("linkedin asset missing")
	}
}

func TestBuildPackDefaults(t *testing.T) {
	pack, err := BuildPack("j1", models.BuildRequest{Input: "ecommerce"})
	if err != nil {
		t.Fatalf("BuildPack failed: %v", err)
	}
	if pack.Language != "ar" || pack.Tone != "Authority" || pack.Mode != "niche" {
		t.Errorf("defaults not applied: lang=%s tone=%s mode=%s", pack.Language, pack.Tone, pack.Mode)
	}
	if len(pack.Platforms) != 3 {
		t.Errorf("default platforms = %v", pack.Platforms)
	}
}

func TestBuildPackEmptyNiche(t *testing.T) {
	if _, err := BuildPack("j1", models.BuildRequest{Input: "   "}); err != ErrEmptyNiche {
		t.Errorf("error = %v, want ErrEmptyNiche", err)
	}
}

func TestEngineProcess(t *testing.T) {
	s := store.NewMemoryStore()
	engine := NewEngine(s, logging.NewLogger(logging.ERROR, false))

	job := models.NewJob(models.BuildRequest{Input: "saas growth", Language: "en", Tone: "Authority", Platforms: []string{"X"}})
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	if ok, _ := s.UpdateJobIfStatus(job.ID, models.JobStatusQueued, models.ClaimUpdate(time.Now().UTC())); !ok {
		t.Fatal("claim failed")
	}

	if err := engine.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got, _ := s.GetJob(job.ID)
	if got.Status != models.JobStatusDone {
		t.Fatalf("status = %s, want done", got.Status)
	}
	if got.Progress != 1.0 {
		t.Errorf("progress = %f, want 1.0", got.Progress)
	}
	if got.PackID == "" {
		t.Fatal("pack not linked")
	}

	pack, err := s.GetPack(got.PackID)
	if err != nil {
		t.Fatalf("GetPack failed: %v", err)
	}
	if pack.JobID != job.ID {
		t.Errorf("pack job id = %q", pack.JobID)
	}
}

func TestEngineProcessMissingJob(t *testing.T) {
	s := store.NewMemoryStore()
	engine := NewEngine(s, logging.NewLogger(logging.ERROR, false))

	if err := engine.Process(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for missing job")
	}
}

// A job that was reclaimed before the engine got going must be left
// alone: the build aborts without touching the failed row.
func TestEngineProcessReclaimedJob(t *testing.T) {
	s := store.NewMemoryStore()
	engine := NewEngine(s, logging.NewLogger(logging.ERROR, false))

	job := models.NewJob(models.BuildRequest{Input: "saas"})
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}
	now := time.Now().UTC()
	if ok, _ := s.UpdateJobIfStatus(job.ID, models.JobStatusQueued, models.ClaimUpdate(now)); !ok {
		t.Fatal("claim failed")
	}
	if ok, _ := s.UpdateJobIfStatus(job.ID, models.JobStatusRunning, models.FailUpdate("stale_timeout>180s", "", now)); !ok {
		t.Fatal("reclaim failed")
	}

	if err := engine.Process(context.Background(), job.ID); err != nil {
		t.Fatalf("Process on reclaimed job errored: %v", err)
	}

	got, _ := s.GetJob(job.ID)
	if got.Status != models.JobStatusFailed {
		t.Errorf("status = %s, want failed kept intact", got.Status)
	}
	if got.ErrorMessage != "stale_timeout>180s" {
		t.Errorf("error message mutated: %q", got.ErrorMessage)
	}
}
