// Command simulate drives a concurrent acceptance storm against a running
// api-server: one request, several proposals, and every proposal accepted at
// the same instant. Exactly one acceptance must win; the rest must come back
// as conflicts.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/conexhealth/oncall-service/internal/config"
	"github.com/conexhealth/oncall-service/internal/db"
)

type actor struct {
	accountID  uuid.UUID
	locationID uuid.UUID // zero for patients
	token      string
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	baseURL := getBaseURL(cfg.HTTPPort)
	doctorCount := 5

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	patient, doctors, activityID, err := loadActors(ctx, pool, cfg.JWTSecret, doctorCount)
	if err != nil {
		log.Fatalf("load actors: %v", err)
	}

	log.Printf("simulating with patient=%s doctors=%d activity=%s", patient.accountID, len(doctors), activityID)

	requestID, err := createRequest(ctx, baseURL, patient, activityID)
	if err != nil {
		log.Fatalf("create request: %v", err)
	}
	log.Printf("request created: %s", requestID)

	slot := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Minute)

	proposalIDs := make([]string, 0, len(doctors))
	for _, d := range doctors {
		pid, err := createProposal(ctx, baseURL, d, requestID, slot)
		if err != nil {
			log.Fatalf("create proposal for doctor %s: %v", d.accountID, err)
		}
		proposalIDs = append(proposalIDs, pid)
	}
	log.Printf("proposals created: %d", len(proposalIDs))

	// Fire every acceptance at once.
	var wg sync.WaitGroup
	var accepted, conflicted, failed int64

	for _, pid := range proposalIDs {
		wg.Add(1)
		go func(proposalID string) {
			defer wg.Done()

			status, err := acceptProposal(ctx, baseURL, patient, proposalID, slot)
			switch {
			case err != nil:
				atomic.AddInt64(&failed, 1)
				log.Printf("accept %s error: %v", proposalID, err)
			case status == http.StatusOK:
				atomic.AddInt64(&accepted, 1)
			case status == http.StatusConflict:
				atomic.AddInt64(&conflicted, 1)
			default:
				atomic.AddInt64(&failed, 1)
				log.Printf("accept %s unexpected status %d", proposalID, status)
			}
		}(pid)
	}
	wg.Wait()

	log.Printf("accepted=%d conflicted=%d failed=%d", accepted, conflicted, failed)

	confirmed, cancelled, requestStatus, err := inspectOutcome(ctx, pool, requestID)
	if err != nil {
		log.Fatalf("inspect outcome: %v", err)
	}

	log.Printf("db state: request=%s confirmed=%d cancelled=%d", requestStatus, confirmed, cancelled)

	if accepted != 1 || confirmed != 1 || requestStatus != "CLOSED" {
		log.Fatalf("INVARIANT VIOLATION: expected exactly one confirmation and a closed request")
	}
	if cancelled != int64(len(proposalIDs))-1 {
		log.Fatalf("INVARIANT VIOLATION: expected %d cancelled siblings, got %d", len(proposalIDs)-1, cancelled)
	}

	log.Println("simulation passed: single confirmation, all siblings cancelled")
}

func getBaseURL(port string) string {
	return "http://127.0.0.1:" + port
}

func loadActors(ctx context.Context, pool *pgxpool.Pool, secret string, doctorCount int) (patient actor, doctors []actor, activityID uuid.UUID, err error) {
	row := pool.QueryRow(ctx, `
		SELECT id FROM accounts WHERE account_type = 'PATIENT' LIMIT 1
	`)
	if err = row.Scan(&patient.accountID); err != nil {
		return actor{}, nil, uuid.Nil, fmt.Errorf("pick patient: %w", err)
	}
	if patient.token, err = mintToken(secret, patient.accountID, "PATIENT"); err != nil {
		return actor{}, nil, uuid.Nil, err
	}

	// Doctors that share one activity, so they can all answer one request.
	rows, err := pool.Query(ctx, `
		SELECT adl.activity_id, dp.account_id, adl.practice_location_id
		FROM activity_doctor_locations adl
		JOIN doctor_profiles dp ON dp.id = adl.doctor_profile_id
		WHERE adl.activity_id = (
			SELECT activity_id FROM activity_doctor_locations
			GROUP BY activity_id ORDER BY count(*) DESC LIMIT 1
		)
		LIMIT $1
	`, doctorCount)
	if err != nil {
		return actor{}, nil, uuid.Nil, fmt.Errorf("pick doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d actor
		if err = rows.Scan(&activityID, &d.accountID, &d.locationID); err != nil {
			return actor{}, nil, uuid.Nil, err
		}
		if d.token, err = mintToken(secret, d.accountID, "PROFESSIONAL"); err != nil {
			return actor{}, nil, uuid.Nil, err
		}
		doctors = append(doctors, d)
	}
	if err = rows.Err(); err != nil {
		return actor{}, nil, uuid.Nil, err
	}
	if len(doctors) < 2 {
		return actor{}, nil, uuid.Nil, fmt.Errorf("need at least 2 doctors sharing an activity, got %d (run cmd/seed first)", len(doctors))
	}

	return patient, doctors, activityID, nil
}

func mintToken(secret string, accountID uuid.UUID, accountType string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"accountId":   accountID.String(),
		"accountType": accountType,
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(secret))
}

func createRequest(ctx context.Context, baseURL string, patient actor, activityID uuid.UUID) (string, error) {
	body := map[string]any{
		"activity_id": activityID.String(),
		"radius":      10.0,
	}

	var resp struct {
		ID string `json:"id"`
	}
	status, err := call(ctx, http.MethodPost, baseURL+"/on-call/requests", patient.token, body, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", status)
	}
	return resp.ID, nil
}

func createProposal(ctx context.Context, baseURL string, doctor actor, requestID string, slot time.Time) (string, error) {
	body := map[string]any{
		"request_id":           requestID,
		"practice_location_id": doctor.locationID.String(),
		"price":                150.0,
		"available_times":      []string{slot.Format(time.RFC3339)},
	}

	var resp struct {
		ID string `json:"id"`
	}
	status, err := call(ctx, http.MethodPost, baseURL+"/on-call/proposals", doctor.token, body, &resp)
	if err != nil {
		return "", err
	}
	if status != http.StatusCreated {
		return "", fmt.Errorf("unexpected status %d", status)
	}
	return resp.ID, nil
}

func acceptProposal(ctx context.Context, baseURL string, patient actor, proposalID string, slot time.Time) (int, error) {
	body := map[string]any{
		"selected_time": slot.Format(time.RFC3339),
	}
	return call(ctx, http.MethodPost, baseURL+"/on-call/proposals/"+proposalID+"/accept", patient.token, body, nil)
}

func call(ctx context.Context, method, url, token string, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return resp.StatusCode, nil
}

func inspectOutcome(ctx context.Context, pool *pgxpool.Pool, requestID string) (confirmed, cancelled int64, requestStatus string, err error) {
	row := pool.QueryRow(ctx, `SELECT status FROM on_call_requests WHERE id = $1`, requestID)
	if err = row.Scan(&requestStatus); err != nil {
		return 0, 0, "", err
	}

	row = pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'CONFIRMED'),
			count(*) FILTER (WHERE status = 'CANCELLED')
		FROM on_call_proposals
		WHERE request_id = $1
	`, requestID)
	if err = row.Scan(&confirmed, &cancelled); err != nil {
		return 0, 0, "", err
	}

	return confirmed, cancelled, requestStatus, nil
}
