// Command seed provisions the demo accounts used in local development:
// one initiator, one supervisor and one admin, all with a shared password.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/haab-bank/customer-update-api/internal/models"
	"github.com/haab-bank/customer-update-api/pkg/config"
	"github.com/haab-bank/customer-update-api/pkg/database"
)

func main() {
	var password string
	flag.StringVar(&password, "password", "changeme123", "password assigned to every seeded account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	seeds := []models.User{
		{Username: "init.demo", FullName: "Dana Initiator", Email: "dana@example.com", Role: models.RoleInitiator, Department: "Branch Operations"},
		{Username: "super.demo", FullName: "Sam Supervisor", Email: "sam@example.com", Role: models.RoleSupervisor, Department: "Branch Operations"},
		{Username: "admin.demo", FullName: "Alex Admin", Email: "alex@example.com", Role: models.RoleAdmin, Department: "IT"},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const insert = `INSERT INTO users (id, username, password_hash, full_name, email, role, department, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (username) DO NOTHING`

	now := time.Now().UTC()
	for _, u := range seeds {
		res, err := db.ExecContext(ctx, insert,
			uuid.NewString(), u.Username, string(hash), u.FullName, u.Email, u.Role, u.Department, models.UserStatusActive, now)
		if err != nil {
			log.Fatalf("seed %s: %v", u.Username, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			fmt.Printf("%-12s already present, skipped\n", u.Username)
			continue
		}
		fmt.Printf("%-12s created (%s)\n", u.Username, u.Role)
	}
}
