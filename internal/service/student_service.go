package service

import (
	"context"

	"github.com/stemsi/exstem-session/internal/model"
	"github.com/stemsi/exstem-session/internal/repository"
)

// StudentService handles student business logic.
type StudentService struct {
	studentRepo *repository.StudentRepository
	auth        *AuthService
}

// NewStudentService creates a new StudentService.
func NewStudentService(studentRepo *repository.StudentRepository, auth *AuthService) *StudentService {
	return &StudentService{studentRepo: studentRepo, auth: auth}
}

// GetByNISN retrieves a student by their NISN.
func (s *StudentService) GetByNISN(ctx context.Context, nisn string) (*model.Student, error) {
	return s.studentRepo.GetByNISN(ctx, nisn)
}

// GetByID retrieves a student by ID.
func (s *StudentService) GetByID(ctx context.Context, id int) (*model.Student, error) {
	return s.studentRepo.GetByID(ctx, id)
}

// Create hashes the plaintext password held in PasswordHash and stores the student.
func (s *StudentService) Create(ctx context.Context, student *model.Student) error {
	hash, err := s.auth.HashPassword(student.PasswordHash)
	if err != nil {
		return err
	}
	student.PasswordHash = hash
	return s.studentRepo.Create(ctx, student)
}

// SetVerified marks a student as verified, lifting the attempts cap.
func (s *StudentService) SetVerified(ctx context.Context, id int, verified bool) error {
	return s.studentRepo.SetVerified(ctx, id, verified)
}
