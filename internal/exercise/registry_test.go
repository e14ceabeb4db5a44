package exercise_test

import (
	"context"
	"errors"
	"testing"

	"github.com/felixgeelhaar/stagegrade/internal/domain"
	"github.com/felixgeelhaar/stagegrade/internal/exercise"
)

func setupRegistry(t *testing.T) *exercise.Registry {
	t.Helper()

	loader := exercise.NewLoader("../../exercises")
	registry := exercise.NewRegistry(loader)

	if err := registry.Load(); err != nil {
		t.Fatalf("Failed to load exercises: %v", err)
	}

	return registry
}

func TestRegistry_Load(t *testing.T) {
	registry := setupRegistry(t)

	stats := registry.Stats()
	if stats.ExerciseCount != 2 {
		t.Errorf("ExerciseCount = %d, want 2", stats.ExerciseCount)
	}
	if stats.ByKind["mc"] != 1 || stats.ByKind["fillin"] != 1 || stats.ByKind["r"] != 1 {
		t.Errorf("ByKind = %v", stats.ByKind)
	}
}

func TestRegistry_Get(t *testing.T) {
	registry := setupRegistry(t)

	ex, err := registry.Get(context.Background(), 2)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	start, err := ex.Start()
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if start.Kind != domain.KindR || !start.R.Tuples[0].Checker.Async {
		t.Errorf("start stage = %s, want async R stage", start.Kind)
	}

	if _, err := registry.Get(context.Background(), 99); !errors.Is(err, domain.ErrExerciseNotFound) {
		t.Errorf("Get(99) error = %v, want ErrExerciseNotFound", err)
	}
}

func TestRegistry_List(t *testing.T) {
	registry := setupRegistry(t)

	list := registry.List()
	if len(list) != 2 || list[0].ID != 1 || list[1].ID != 2 {
		t.Errorf("List() = %d exercises, want ids 1 and 2 in order", len(list))
	}
}

func TestRegistry_AddAndReload(t *testing.T) {
	registry := setupRegistry(t)

	ex := domain.NewExercise(7, "added")
	if err := registry.Add(ex); !errors.Is(err, domain.ErrNoStartStage) {
		t.Errorf("Add(empty) error = %v, want ErrNoStartStage", err)
	}
	if err := ex.AddStage(domain.NewStage(1, domain.KindMC, "only")); err != nil {
		t.Fatal(err)
	}
	if err := registry.Add(ex); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if got := registry.Stats().ExerciseCount; got != 3 {
		t.Errorf("ExerciseCount = %d, want 3", got)
	}

	if err := registry.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if got := registry.Stats().ExerciseCount; got != 2 {
		t.Errorf("ExerciseCount after Reload = %d, want 2", got)
	}
}

func TestRegistry_WithoutLoader(t *testing.T) {
	registry := exercise.NewRegistry(nil)
	if err := registry.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(registry.List()) != 0 {
		t.Error("List() should be empty")
	}
}
