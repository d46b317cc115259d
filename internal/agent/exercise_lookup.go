package agent

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/db"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

const exerciseLookupLimit = 5

// ExerciseLookup answers exercise questions from the catalog table.
type ExerciseLookup struct {
	conn *gorm.DB
}

func NewExerciseLookup(conn *gorm.DB) *ExerciseLookup {
	return &ExerciseLookup{conn: conn}
}

func (e *ExerciseLookup) Name() string { return ToolExerciseLookup }

func (e *ExerciseLookup) Invoke(ctx context.Context, query string) (Result, error) {
	pattern := db.NormalizeLikePattern(e.conn, "%"+strings.TrimSpace(query)+"%")

	var rows []models.Exercise
	errFind := e.conn.WithContext(ctx).
		Where(db.CaseInsensitiveLikeExpr(e.conn, "name"), pattern).
		Or(db.CaseInsensitiveLikeExpr(e.conn, "muscle_group"), pattern).
		Or(db.CaseInsensitiveLikeExpr(e.conn, "equipment"), pattern).
		Order("name ASC").
		Limit(exerciseLookupLimit).
		Find(&rows).Error
	if errFind != nil {
		return Result{}, fmt.Errorf("exercise_lookup: %w", errFind)
	}

	var detail strings.Builder
	fmt.Fprintf(&detail, "exercise_lookup results for %q:\n", query)
	if len(rows) == 0 {
		detail.WriteString("no matching exercises in the catalog\n")
	}
	for _, row := range rows {
		fmt.Fprintf(&detail, "- %s (%s, %s, %s): %s\n",
			row.Name, row.MuscleGroup, row.Equipment, row.Difficulty, row.Description)
	}

	summary := fmt.Sprintf("%d catalog exercises matched %q", len(rows), query)
	return Result{Detail: detail.String(), Summary: summary}, nil
}
