package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-booking/internal/auth"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/logging"
)

// The simulator races many patients against the same open slots and
// checks that every slot ends up with exactly one winner.

type SimConfig struct {
	APIBaseURL  string
	Slots       int
	Contenders  int
	JoinWaiting bool
	PostgresDSN string
	JWTSecret   string
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil:
		atomic.AddInt64(&om.Error, 1)
	case status == http.StatusCreated:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	at := func(pct int) time.Duration {
		idx := len(latencies) * pct / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), at(50), at(95), latencies[len(latencies)-1]
}

type slotResult struct {
	slotID  uuid.UUID
	winners int64
}

type Simulator struct {
	config   SimConfig
	log      zerolog.Logger
	client   *http.Client
	tokens   []string
	booking  OperationMetrics
	waitlist OperationMetrics
}

func main() {
	cfg, base := loadConfig()
	log := logging.New(base.Env, base.LogLevel)

	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{AppName: "simulate"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	users, slots, err := loadData(ctx, pool, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load data")
	}
	log.Info().Int("users", len(users)).Int("slots", len(slots)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		log:    log,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, u := range users {
		token, err := auth.IssueToken(cfg.JWTSecret, auth.Identity{UserID: u, Role: "user"}, time.Hour)
		if err != nil {
			log.Fatal().Err(err).Msg("issue token")
		}
		sim.tokens = append(sim.tokens, token)
	}

	results := sim.Run(slots)

	violations, err := verify(context.Background(), pool, slots)
	if err != nil {
		log.Fatal().Err(err).Msg("verify")
	}

	ok := sim.PrintReport(results, violations)
	if !ok {
		os.Exit(1)
	}
}

func loadConfig() (SimConfig, config.Config) {
	baseCfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("dev", "info")
		bootLog.Fatal().Err(err).Msg("failed to load base config")
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Slots:       getInt("SIM_SLOTS", 20),
		Contenders:  getInt("SIM_CONTENDERS", 25),
		JoinWaiting: getEnv("SIM_JOIN_WAITLIST", "true") == "true",
		PostgresDSN: baseCfg.PostgresDSN,
		JWTSecret:   baseCfg.JWTSecret,
	}, baseCfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Slots <= 0 {
		return fmt.Errorf("SIM_SLOTS must be > 0")
	}
	if cfg.Contenders < 2 {
		return fmt.Errorf("SIM_CONTENDERS must be >= 2")
	}
	return nil
}

func loadData(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (users, slots []uuid.UUID, err error) {
	collect := func(sql string, limit int) ([]uuid.UUID, error) {
		rows, err := pool.Query(ctx, sql, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var ids []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, rows.Err()
	}

	users, err = collect(`SELECT id FROM users WHERE role = 'user' ORDER BY random() LIMIT $1`, cfg.Contenders)
	if err != nil {
		return nil, nil, fmt.Errorf("load users: %w", err)
	}
	slots, err = collect(`
		SELECT id FROM appointment_slots
		WHERE is_available AND deleted_at IS NULL
		ORDER BY slot_date, start_time
		LIMIT $1
	`, cfg.Slots)
	if err != nil {
		return nil, nil, fmt.Errorf("load slots: %w", err)
	}

	if len(users) < 2 {
		return nil, nil, fmt.Errorf("need at least 2 users, found %d (run cmd/seed)", len(users))
	}
	if len(slots) == 0 {
		return nil, nil, fmt.Errorf("no available slots (run cmd/seed)")
	}
	return users, slots, nil
}

// Run fires every contender at each slot at once; losers optionally join
// the waitlist for it.
func (s *Simulator) Run(slots []uuid.UUID) []slotResult {
	results := make([]slotResult, len(slots))

	for i, slotID := range slots {
		results[i].slotID = slotID

		start := make(chan struct{})
		var wg sync.WaitGroup
		for _, token := range s.tokens {
			wg.Add(1)
			go func(token string) {
				defer wg.Done()
				<-start

				status, err := s.post("/appointments", token, map[string]string{"slotId": slotID.String()}, &s.booking)
				if err == nil && status == http.StatusCreated {
					atomic.AddInt64(&results[i].winners, 1)
					return
				}
				if err == nil && status == http.StatusConflict && s.config.JoinWaiting {
					_, _ = s.post("/waitlist", token, map[string]string{"slotId": slotID.String()}, &s.waitlist)
				}
			}(token)
		}
		close(start)
		wg.Wait()

		s.log.Debug().Str("slot_id", slotID.String()).Int64("winners", results[i].winners).Msg("slot contested")
	}

	return results
}

func (s *Simulator) post(path, token string, body any, om *OperationMetrics) (int, error) {
	payload, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, 0, err)
		return 0, err
	}
	defer resp.Body.Close()

	om.Record(latency, resp.StatusCode, nil)
	return resp.StatusCode, nil
}

// verify reports slots that do not have exactly one live appointment or
// that are still marked available.
func verify(ctx context.Context, pool *pgxpool.Pool, slots []uuid.UUID) ([]string, error) {
	ids := make([]string, len(slots))
	for i, id := range slots {
		ids[i] = id.String()
	}

	rows, err := pool.Query(ctx, `
		SELECT s.id, s.is_available,
		       (SELECT count(*) FROM appointments a
		         WHERE a.slot_id = s.id AND a.status IN ('pending', 'confirmed', 'rescheduled'))
		FROM appointment_slots s
		WHERE s.id = ANY($1::uuid[])
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var violations []string
	for rows.Next() {
		var (
			id        uuid.UUID
			available bool
			live      int
		)
		if err := rows.Scan(&id, &available, &live); err != nil {
			return nil, err
		}
		if available || live != 1 {
			violations = append(violations, fmt.Sprintf("slot %s: available=%t live=%d", id, available, live))
		}
	}
	return violations, rows.Err()
}

func (s *Simulator) PrintReport(results []slotResult, violations []string) bool {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("CONTENTION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Slots: %d  Contenders per slot: %d\n\n", len(results), len(s.tokens))

	printOperationReport("Booking", &s.booking)
	printOperationReport("Waitlist join", &s.waitlist)

	ok := true
	for _, r := range results {
		if r.winners != 1 {
			ok = false
			fmt.Printf("  slot %s had %d winners\n", r.slotID, r.winners)
		}
	}
	for _, v := range violations {
		ok = false
		fmt.Println("  " + v)
	}

	if ok {
		fmt.Println("PASS: every slot has exactly one booking")
	} else {
		fmt.Println("FAIL: double booking or lost slot detected")
	}
	return ok
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  201: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	fmt.Printf("  409: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	if failed > 0 {
		fmt.Printf("  Other/errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
