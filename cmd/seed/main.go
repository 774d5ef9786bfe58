package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medibook/appointment-booking/internal/auth"
	"github.com/medibook/appointment-booking/internal/db"
)

// seedPassword is the known credential for every seeded account so the
// simulator and manual testing can log in.
const seedPassword = "password123"

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 4)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	hash, err := auth.HashPassword(seedPassword)
	if err != nil {
		log.Fatalf("hash seed password: %v", err)
	}

	if err := seedProviders(context.Background(), pool, hash, 50); err != nil {
		log.Fatalf("seed providers: %v", err)
	}
	if err := seedPatients(context.Background(), pool, hash, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

func seedProviders(ctx context.Context, pool *pgxpool.Pool, passwordHash string, count int) error {
	log.Printf("seeding %d providers", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + gofakeit.Name()
		email := fmt.Sprintf("provider%d@clinic.test", i)
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]
		fee := int64(gofakeit.Number(20, 200)) * 100
		about := gofakeit.Sentence(12)
		experience := fmt.Sprintf("%d years", gofakeit.Number(1, 30))

		_, err := tx.Exec(ctx, `
			INSERT INTO providers (id, name, email, password_hash, specialty, degree, experience, about, fee, address, image_url, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 'MBBS', $6, $7, $8, '{}', '', now(), now())
		`, id, name, email, passwordHash, spec, experience, about, fee)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("providers seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, passwordHash string, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			email := fmt.Sprintf("patient%d@mail.test", i)
			phone := gofakeit.Phone()

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, email, password_hash, phone, address, dob, gender, image_url, created_at, updated_at)
				VALUES ($1, $2, $3, $4, $5, '{}', '', '', '', now(), now())
			`, id, name, email, passwordHash, phone)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}
