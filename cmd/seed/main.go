package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conexhealth/oncall-service/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	gofakeit.Seed(time.Now().UnixNano())

	activityIDs, err := seedCatalog(context.Background(), pool)
	if err != nil {
		log.Fatalf("seed catalog: %v", err)
	}
	if err := seedDoctors(context.Background(), pool, 50, activityIDs); err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 2000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}

	log.Println("seed complete")
}

var specialtyActivities = map[string][]string{
	"Dermatology":      {"Skin check", "Mole removal consult"},
	"Cardiology":       {"Cardiac evaluation", "Blood pressure review"},
	"General Practice": {"Home visit", "Follow-up consultation"},
	"Orthopedics":      {"Joint pain assessment"},
	"Pediatrics":       {"Child home visit", "Vaccination review"},
	"Psychiatry":       {"Psychiatric evaluation"},
	"Geriatrics":       {"Elderly care visit"},
}

func seedCatalog(ctx context.Context, pool *pgxpool.Pool) ([]uuid.UUID, error) {
	log.Println("seeding specialties and activities")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var activityIDs []uuid.UUID
	for specialty, activities := range specialtyActivities {
		specialtyID := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO specialties (id, name, created_at)
			VALUES ($1, $2, now())
		`, specialtyID, specialty)
		if err != nil {
			return nil, err
		}

		for _, activity := range activities {
			activityID := uuid.New()
			_, err := tx.Exec(ctx, `
				INSERT INTO activities (id, specialty_id, name, created_at)
				VALUES ($1, $2, $3, now())
			`, activityID, specialtyID, activity)
			if err != nil {
				return nil, err
			}
			activityIDs = append(activityIDs, activityID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Printf("catalog seeded: %d activities", len(activityIDs))
	return activityIDs, nil
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, activityIDs []uuid.UUID) error {
	log.Printf("seeding %d doctors", count)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		accountID := uuid.New()
		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (id, name, email, account_type, created_at, updated_at)
			VALUES ($1, $2, $3, 'PROFESSIONAL', now(), now())
		`, accountID, gofakeit.Name(), gofakeit.Email())
		if err != nil {
			return err
		}

		profileID := uuid.New()
		crm := gofakeit.Numerify("CRM-######")
		_, err = tx.Exec(ctx, `
			INSERT INTO doctor_profiles (id, account_id, crm, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, profileID, accountID, crm)
		if err != nil {
			return err
		}

		locationID := uuid.New()
		_, err = tx.Exec(ctx, `
			INSERT INTO practice_locations (id, doctor_profile_id, street, city, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, now(), now())
		`, locationID, profileID, gofakeit.Street(), gofakeit.City(), gofakeit.StateAbr())
		if err != nil {
			return err
		}

		// Each doctor offers one to three activities at their location.
		offered := gofakeit.Number(1, 3)
		for j := 0; j < offered; j++ {
			activityID := activityIDs[gofakeit.Number(0, len(activityIDs)-1)]
			_, err = tx.Exec(ctx, `
				INSERT INTO activity_doctor_locations (id, activity_id, doctor_profile_id, practice_location_id, price, duration_minutes, visible, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, true, now())
				ON CONFLICT DO NOTHING
			`, uuid.New(), activityID, profileID, locationID,
				gofakeit.Price(80, 400), gofakeit.Number(20, 60))
			if err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	log.Println("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
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
			_, err := tx.Exec(ctx, `
				INSERT INTO accounts (id, name, email, account_type, created_at, updated_at)
				VALUES ($1, $2, $3, 'PATIENT', now(), now())
			`, uuid.New(), gofakeit.Name(), gofakeit.Email())
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
