package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/mnrworld/exam-backend/internal/config"
	"github.com/mnrworld/exam-backend/internal/database"
	"github.com/mnrworld/exam-backend/internal/logger"
	"github.com/mnrworld/exam-backend/internal/repository"
	"github.com/mnrworld/exam-backend/internal/service"
)

const minPasswordLength = 6

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)

	ctx := context.Background()

	// ─── Connect to PostgreSQL & Redis ─────────────────────────────────
	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// ─── Initialize Service ────────────────────────────────────────────
	studentRepo := repository.NewStudentRepository(pool)
	authService := service.NewAuthService(cfg, rdb, studentRepo, log)

	// ─── CLI Input ─────────────────────────────────────────────────────
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Set Student Password ===")

	fmt.Print("Enter Roll Number: ")
	roll, _ := reader.ReadString('\n')
	roll = strings.TrimSpace(roll)
	if roll == "" {
		fmt.Println("Error: Roll number is required")
		return
	}

	student, err := studentRepo.GetByRoll(ctx, roll)
	if err != nil {
		if errors.Is(err, repository.ErrStudentNotFound) {
			fmt.Printf("Error: No student with roll %q\n", roll)
			return
		}
		log.Fatal().Err(err).Msg("Failed to look up student")
	}

	password, err := readPassword("Enter New Password: ")
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	if len(password) < minPasswordLength {
		fmt.Printf("Error: Password must be at least %d characters\n", minPasswordLength)
		return
	}

	confirm, err := readPassword("Confirm Password: ")
	if err != nil {
		fmt.Println("\nError reading password")
		return
	}
	if confirm != password {
		fmt.Println("Error: Passwords do not match")
		return
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	if err := authService.SetPassword(ctx, student.ID, password); err != nil {
		log.Fatal().Err(err).Msg("Failed to set password")
	}

	fmt.Printf("\nSuccess! Password updated for %s (%s). Any active login was ended.\n", student.Name, student.Roll)
}

func readPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
