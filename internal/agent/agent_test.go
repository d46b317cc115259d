package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

func openExerciseDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+filepath.Join(t.TempDir(), "agent-test.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.Exercise{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestWebSearchInvoke(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("q") != "best chest exercise" {
			t.Errorf("query not forwarded: %q", r.URL.Query().Get("q"))
		}
		if r.URL.Query().Get("api_key") != "serp-key" {
			t.Errorf("api key not forwarded")
		}
		fmt.Fprint(w, `{
			"organic_results": [
				{"title": "Bench Press Guide", "snippet": "The bench press builds the chest.", "link": "https://example.com/bench"},
				{"title": "Incline Press", "snippet": "Targets upper chest.", "link": "https://example.com/incline"}
			],
			"related_searches": [{"query": "incline vs flat bench"}]
		}`)
	}))
	defer server.Close()

	tool := NewWebSearch(server.URL, "serp-key", server.Client())
	result, err := tool.Invoke(context.Background(), "best chest exercise")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(result.Detail, "Bench Press Guide") {
		t.Fatalf("detail missing result: %q", result.Detail)
	}
	if !strings.Contains(result.Summary, "builds the chest") {
		t.Fatalf("summary missing snippet: %q", result.Summary)
	}
	if len(result.Queries) != 2 || result.Queries[0] != "best chest exercise" || result.Queries[1] != "incline vs flat bench" {
		t.Fatalf("queries %v", result.Queries)
	}
}

func TestWebSearchErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	tool := NewWebSearch(server.URL, "", server.Client())
	if _, err := tool.Invoke(context.Background(), "anything"); err == nil {
		t.Fatalf("expected error on non-200 serp response")
	}
}

func TestExerciseLookupInvoke(t *testing.T) {
	conn := openExerciseDB(t)
	rows := []models.Exercise{
		{Slug: "barbell-bench-press", Name: "Barbell Bench Press", MuscleGroup: "chest", Equipment: "barbell", Difficulty: "intermediate", Description: "Press the bar from the chest."},
		{Slug: "push-up", Name: "Push Up", MuscleGroup: "chest", Equipment: "bodyweight", Difficulty: "beginner", Description: "Press the floor away."},
		{Slug: "back-squat", Name: "Back Squat", MuscleGroup: "legs", Equipment: "barbell", Difficulty: "intermediate", Description: "Squat with the bar on the back."},
	}
	for i := range rows {
		if errCreate := conn.Create(&rows[i]).Error; errCreate != nil {
			t.Fatalf("create exercise: %v", errCreate)
		}
	}

	tool := NewExerciseLookup(conn)
	result, err := tool.Invoke(context.Background(), "chest")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(result.Detail, "Barbell Bench Press") || !strings.Contains(result.Detail, "Push Up") {
		t.Fatalf("detail missing chest exercises: %q", result.Detail)
	}
	if strings.Contains(result.Detail, "Back Squat") {
		t.Fatalf("detail leaked non-matching exercise: %q", result.Detail)
	}
	if !strings.Contains(result.Summary, "2 catalog exercises") {
		t.Fatalf("summary %q", result.Summary)
	}
}

func TestExerciseLookupNoMatch(t *testing.T) {
	conn := openExerciseDB(t)
	tool := NewExerciseLookup(conn)
	result, err := tool.Invoke(context.Background(), "underwater basket weaving")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(result.Detail, "no matching exercises") {
		t.Fatalf("detail %q", result.Detail)
	}
}

func TestRunnerDispatch(t *testing.T) {
	conn := openExerciseDB(t)
	runner := NewRunner(time.Second, NewExerciseLookup(conn))

	if !runner.Known(ToolExerciseLookup) {
		t.Fatalf("exercise_lookup should be registered")
	}
	if runner.Known("rm_rf") {
		t.Fatalf("unregistered tool reported as known")
	}

	result, err := runner.Invoke(context.Background(), ToolExerciseLookup, "legs")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if result.Tool != ToolExerciseLookup {
		t.Fatalf("result tool %q", result.Tool)
	}

	if _, err := runner.Invoke(context.Background(), "rm_rf", "x"); err == nil {
		t.Fatalf("expected unknown tool error")
	}
}
