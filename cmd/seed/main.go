package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/service"
)

var names = []string{
	"Budi Santoso", "Siti Aminah", "Andi Pratama", "Rina Wati", "Joko Susilo",
	"Ayu Lestari", "Dodi Kusuma", "Eka Putri", "Fahri Hamzah", "Gita Savitri",
}

func main() {
	var (
		students  int
		questions int
		password  string
	)
	flag.IntVar(&students, "students", len(names), "Number of students to create")
	flag.IntVar(&questions, "questions", 20, "Number of questions in the sample exam")
	flag.StringVar(&password, "password", "stemsijaya", "Password for every seeded student")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup("exam-seed", cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, "exam-seed", 4, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	authService := service.NewAuthService(cfg, nil)
	studentService := service.NewStudentService(repository.NewStudentRepository(pool), authService)
	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)

	created := 0
	for i := 0; i < students; i++ {
		student := &model.Student{
			NISN:         fmt.Sprintf("user%d", i+1),
			Name:         names[i%len(names)],
			Verified:     i == 0,
			PasswordHash: password,
		}
		if err := studentService.Create(ctx, student); err != nil {
			if errors.Is(err, repository.ErrDuplicateNISN) {
				continue
			}
			log.Fatal().Err(err).Str("nisn", student.NISN).Msg("Failed to create student")
		}
		created++
	}
	log.Info().Int("created", created).Int("requested", students).Msg("Students seeded")

	exam := &model.Exam{
		Title:              "Try Out Matematika",
		Instruction:        "Pilih satu jawaban yang paling tepat.",
		DurationSeconds:    600,
		QuestionsPerPage:   10,
		OptionsPerQuestion: 4,
		Status:             model.ExamStatusPublished,
	}
	if err := examRepo.Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	labels := []string{"A", "B", "C", "D"}
	for i := 0; i < questions; i++ {
		a, b := i+2, i+3
		q := &model.BankQuestion{
			ExamID:       exam.ID,
			OrderNum:     i + 1,
			Text:         fmt.Sprintf("Berapakah %d x %d?", a, b),
			CorrectIndex: i % len(labels),
			ScoreValue:   1,
		}
		for j, label := range labels {
			value := a*b + (j-q.CorrectIndex)*a
			q.Options = append(q.Options, model.Option{Index: j, Label: label, Text: fmt.Sprint(value)})
		}
		if err := questionRepo.Create(ctx, q); err != nil {
			log.Fatal().Err(err).Int("order", q.OrderNum).Msg("Failed to create question")
		}
	}

	log.Info().
		Str("exam_id", exam.ID.String()).
		Int("questions", questions).
		Msg("Sample exam seeded")
}
