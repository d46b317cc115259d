package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gymbro-app/gymbro-gateway/internal/db"
	"github.com/gymbro-app/gymbro-gateway/internal/models"
)

// ExerciseHandler manages the exercise library rows served to the
// exercise_lookup agent tool.
type ExerciseHandler struct {
	db *gorm.DB
}

// NewExerciseHandler constructs an exercise handler.
func NewExerciseHandler(conn *gorm.DB) *ExerciseHandler {
	return &ExerciseHandler{db: conn}
}

type createExerciseRequest struct {
	Slug        string `json:"slug"`         // Stable lookup key.
	Name        string `json:"name"`         // Display name.
	MuscleGroup string `json:"muscle_group"` // Primary muscle group.
	Equipment   string `json:"equipment"`    // Required equipment.
	Difficulty  string `json:"difficulty"`   // beginner, intermediate, advanced.
	Description string `json:"description"`  // Coaching notes.
}

// Create inserts a new exercise.
func (h *ExerciseHandler) Create(c *gin.Context) {
	var body createExerciseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	slug := strings.ToLower(strings.TrimSpace(body.Slug))
	if slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "slug is required"})
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}
	if strings.TrimSpace(body.MuscleGroup) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "muscle_group is required"})
		return
	}

	exercise := models.Exercise{
		Slug:        slug,
		Name:        strings.TrimSpace(body.Name),
		MuscleGroup: strings.TrimSpace(body.MuscleGroup),
		Equipment:   strings.TrimSpace(body.Equipment),
		Difficulty:  strings.TrimSpace(body.Difficulty),
		Description: body.Description,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&exercise).Error; errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "slug already exists"})
		return
	}
	c.JSON(http.StatusCreated, formatExercise(&exercise))
}

// List returns exercises, optionally filtered by muscle group or a
// case-insensitive name search.
func (h *ExerciseHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.Exercise{})
	if muscleGroup := strings.TrimSpace(c.Query("muscle_group")); muscleGroup != "" {
		q = q.Where("muscle_group = ?", muscleGroup)
	}
	if search := strings.TrimSpace(c.Query("q")); search != "" {
		pattern := "%" + strings.ToLower(search) + "%"
		q = q.Where(db.CaseInsensitiveLikeExpr(h.db, "name"), pattern)
	}

	var rows []models.Exercise
	if errFind := q.Order("name ASC").Limit(200).Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list exercises failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatExercise(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"exercises": out})
}

// Get fetches one exercise by ID.
func (h *ExerciseHandler) Get(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	var exercise models.Exercise
	if errFind := h.db.WithContext(c.Request.Context()).First(&exercise, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, formatExercise(&exercise))
}

// Delete removes an exercise by ID.
func (h *ExerciseHandler) Delete(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.Exercise{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func formatExercise(exercise *models.Exercise) gin.H {
	return gin.H{
		"id":           exercise.ID,
		"slug":         exercise.Slug,
		"name":         exercise.Name,
		"muscle_group": exercise.MuscleGroup,
		"equipment":    exercise.Equipment,
		"difficulty":   exercise.Difficulty,
		"description":  exercise.Description,
		"created_at":   exercise.CreatedAt,
		"updated_at":   exercise.UpdatedAt,
	}
}
