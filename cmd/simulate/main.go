package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"
)

// simulate hammers a single (provider, date, time) slot with concurrent
// booking requests from distinct seeded patients. A correct deployment
// yields exactly one success per slot; everything else must be a conflict.

type tokenResponse struct {
	Token string `json:"token"`
}

type providerSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bookResponse struct {
	AppointmentID string `json:"appointment_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type result struct {
	latency  time.Duration
	success  bool
	conflict bool
	errCode  string
}

func main() {
	baseURL := flag.String("base-url", "http://127.0.0.1:8080", "api server base URL")
	workers := flag.Int("workers", 25, "concurrent booking attempts per slot")
	rounds := flag.Int("rounds", 4, "number of distinct slots to contend for")
	date := flag.String("date", "10_01_2025", "slot date (DD_MM_YYYY)")
	flag.Parse()

	log.SetFlags(log.LstdFlags)
	client := &http.Client{Timeout: 10 * time.Second}

	providers, err := fetchProviders(client, *baseURL)
	if err != nil {
		log.Fatalf("fetch providers: %v", err)
	}
	if len(providers) == 0 {
		log.Fatal("no providers found, run cmd/seed first")
	}
	provider := providers[0]
	log.Printf("target provider: %s (%s)", provider.Name, provider.ID)

	tokens := make([]string, *workers)
	for i := range tokens {
		email := fmt.Sprintf("patient%d@mail.test", i)
		tok, err := login(client, *baseURL, email)
		if err != nil {
			log.Fatalf("login %s: %v", email, err)
		}
		tokens[i] = tok
	}

	for round := 0; round < *rounds; round++ {
		slotTime := fmt.Sprintf("%02d:00 AM", 8+round)
		log.Printf("round %d: %d workers contending for %s %s", round+1, *workers, *date, slotTime)

		results := make([]result, *workers)
		var wg sync.WaitGroup
		for i := 0; i < *workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = book(client, *baseURL, tokens[i], provider.ID, *date, slotTime)
			}(i)
		}
		wg.Wait()

		report(results)
	}
}

func fetchProviders(client *http.Client, baseURL string) ([]providerSummary, error) {
	resp, err := client.Get(baseURL + "/api/provider/list")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var providers []providerSummary
	if err := json.NewDecoder(resp.Body).Decode(&providers); err != nil {
		return nil, err
	}
	return providers, nil
}

func login(client *http.Client, baseURL, email string) (string, error) {
	body, _ := json.Marshal(map[string]string{
		"email":    email,
		"password": "password123",
	})
	resp, err := client.Post(baseURL+"/api/patient/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, raw)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	return tok.Token, nil
}

func book(client *http.Client, baseURL, token, providerID, date, slotTime string) result {
	body, _ := json.Marshal(map[string]string{
		"provider_id": providerID,
		"slot_date":   date,
		"slot_time":   slotTime,
	})

	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/patient/book-appointment", bytes.NewReader(body))
	if err != nil {
		return result{errCode: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("token", token)

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return result{latency: latency, errCode: err.Error()}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var br bookResponse
		_ = json.NewDecoder(resp.Body).Decode(&br)
		return result{latency: latency, success: true}
	case http.StatusConflict:
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return result{latency: latency, conflict: true, errCode: er.Error}
	default:
		var er errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&er)
		return result{latency: latency, errCode: fmt.Sprintf("status %d %s", resp.StatusCode, er.Error)}
	}
}

func report(results []result) {
	var success, conflict, failed int
	latencies := make([]time.Duration, 0, len(results))

	for _, r := range results {
		latencies = append(latencies, r.latency)
		switch {
		case r.success:
			success++
		case r.conflict:
			conflict++
		default:
			failed++
			log.Printf("  unexpected failure: %s", r.errCode)
		}
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	p50 := latencies[len(latencies)/2]
	p95 := latencies[len(latencies)*95/100]

	log.Printf("  success=%d conflict=%d failed=%d p50=%s p95=%s", success, conflict, failed, p50, p95)
	if success != 1 {
		log.Printf("  WARNING: expected exactly 1 success for the slot, got %d", success)
	}
}
