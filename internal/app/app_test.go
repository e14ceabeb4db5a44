package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/felixgeelhaar/stagegrade/internal/attempt"
	"github.com/felixgeelhaar/stagegrade/internal/config"
)

const mcExercise = `
id: 3
name: One question
start: 1
stages:
  - id: 1
    kind: mc
    name: q
    mc:
      answers:
        - text: left
          tag: CORRECT
        - text: right
          tag: WRONG
      default_result: 0
`

func testConfig(t *testing.T, driver string) *config.LocalConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultLocalConfig()
	cfg.Storage.Driver = driver
	cfg.Checker.Backend = "none"
	cfg.ResolvePaths(dir)

	for _, sub := range []string{cfg.ExercisesPath, filepath.Join(dir, "data")} {
		if err := os.MkdirAll(sub, 0755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(cfg.ExercisesPath, "q.yaml"), []byte(mcExercise), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return cfg
}

func TestNewApp_PersistsAndSeedsIDs(t *testing.T) {
	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t, driver)

			first, err := NewApp(ctx, AppConfig{Config: cfg})
			if err != nil {
				t.Fatalf("NewApp() error = %v", err)
			}
			if got := len(first.Exercises.List()); got != 1 {
				t.Fatalf("exercises = %d, want 1", got)
			}
			a, err := first.Service.StartAttempt(ctx, 3)
			if err != nil {
				t.Fatalf("StartAttempt() error = %v", err)
			}
			sub, res, err := first.Service.Submit(ctx, a, attempt.Answer{Ticked: []bool{true, false}})
			if err != nil {
				t.Fatalf("Submit() error = %v", err)
			}
			if !res.Correct || sub.Points != 100 {
				t.Errorf("Submit() = %d points, correct %v; want 100, true", sub.Points, res.Correct)
			}
			if err := first.Start(ctx); err != nil {
				t.Errorf("Start() without queue error = %v", err)
			}
			if err := first.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			second, err := NewApp(ctx, AppConfig{Config: cfg})
			if err != nil {
				t.Fatalf("reopen NewApp() error = %v", err)
			}
			defer second.Close()

			high, err := second.Store.MaxID(ctx)
			if err != nil {
				t.Fatalf("MaxID() error = %v", err)
			}
			if high < sub.ID {
				t.Errorf("MaxID() = %d, want at least %d", high, sub.ID)
			}
			resumed, err := second.Service.Get(ctx, a.ID)
			if err != nil {
				t.Fatalf("Get() after reopen error = %v", err)
			}
			got, ok := resumed.Submission(sub.ID)
			if !ok || got.Points != 100 || !got.Graded {
				t.Errorf("resumed submission = %+v, want graded with 100 points", got)
			}
			if resumed.Current != a.Current || !resumed.IsActive() {
				t.Errorf("resumed attempt on stage %d (%s), want %d active", resumed.Current, resumed.Status, a.Current)
			}

			b, err := second.Service.StartAttempt(ctx, 3)
			if err != nil {
				t.Fatalf("StartAttempt() error = %v", err)
			}
			if b.ID <= high {
				t.Errorf("new attempt id = %d, want above persisted max %d", b.ID, high)
			}
		})
	}
}

func TestNewApp_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing exercises directory", func(t *testing.T) {
		cfg := testConfig(t, "file")
		cfg.ExercisesPath = filepath.Join(t.TempDir(), "absent")
		if _, err := NewApp(ctx, AppConfig{Config: cfg}); err == nil {
			t.Error("NewApp() should fail without an exercises directory")
		}
	})

	t.Run("broken exercise", func(t *testing.T) {
		cfg := testConfig(t, "file")
		if err := os.WriteFile(filepath.Join(cfg.ExercisesPath, "bad.yaml"), []byte("stages: ["), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewApp(ctx, AppConfig{Config: cfg}); err == nil {
			t.Error("NewApp() should fail on an unparsable exercise")
		}
	})
}
