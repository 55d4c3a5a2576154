package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/openexam/openexam-backend/internal/config"
	"github.com/openexam/openexam-backend/internal/database"
	"github.com/openexam/openexam-backend/internal/logger"
	"github.com/openexam/openexam-backend/internal/model"
	"github.com/openexam/openexam-backend/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// Seeds a demo lecturer, three students (password "password" for all), and
// one published exam with objective and essay questions. Intended for local
// development only.
func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	userRepo := repository.NewUserRepository(pool)

	hash, err := bcrypt.GenerateFromPassword([]byte("password"), cfg.BcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to hash password")
	}

	users := []*model.User{
		{Name: "Demo Lecturer", Email: "lecturer@example.com", Role: model.RoleLecturer},
		{Name: "Ava Student", Email: "ava@example.com", Role: model.RoleStudent},
		{Name: "Ben Student", Email: "ben@example.com", Role: model.RoleStudent},
		{Name: "Cleo Student", Email: "cleo@example.com", Role: model.RoleStudent},
	}
	for _, u := range users {
		u.PasswordHash = string(hash)
		if err := userRepo.Create(ctx, u); err != nil {
			log.Fatal().Err(err).Str("email", u.Email).Msg("Failed to create user")
		}
		fmt.Printf("Created %s %s (id=%d)\n", u.Role, u.Email, u.ID)
	}

	examID := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO exams (id, title, subject, duration_minutes, instructions, status)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		examID, "Data Structures Final", "CS202", 60,
		"Answer all questions. The exam submits itself when time runs out.",
		model.ExamStatusPublished,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	type seedQuestion struct {
		qtype   model.QuestionType
		text    string
		options map[string]string
		correct string
		marks   float64
	}
	questions := []seedQuestion{
		{
			qtype: model.QuestionTypeObjective,
			text:  "Which structure gives O(1) amortized append and O(1) index access?",
			options: map[string]string{
				"A": "Dynamic array", "B": "Linked list", "C": "Binary heap", "D": "Hash map",
			},
			correct: "A",
		},
		{
			qtype: model.QuestionTypeObjective,
			text:  "What is the worst-case lookup time of a balanced BST?",
			options: map[string]string{
				"A": "O(1)", "B": "O(log n)", "C": "O(n)", "D": "O(n log n)",
			},
			correct: "B",
		},
		{
			qtype: model.QuestionTypeEssay,
			text:  "Compare hash tables and B-trees as index structures for a database.",
			marks: 10,
		},
	}

	for i, q := range questions {
		var options []byte
		if q.options != nil {
			options, _ = json.Marshal(q.options)
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO questions (exam_id, question_type, question_text, options, correct_option, max_marks, order_num)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)`,
			examID, q.qtype, q.text, options, q.correct, q.marks, i+1,
		)
		if err != nil {
			log.Fatal().Err(err).Int("order", i+1).Msg("Failed to create question")
		}
	}

	fmt.Printf("Created published exam %s with %d questions\n", examID, len(questions))
}
