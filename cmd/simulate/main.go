package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
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

	"github.com/hackgods/clinic-queue-scheduling/internal/availability"
	"github.com/hackgods/clinic-queue-scheduling/internal/config"
	"github.com/hackgods/clinic-queue-scheduling/internal/db"
	"github.com/hackgods/clinic-queue-scheduling/internal/logging"
)

// SimConfig drives a booking storm: every slot gets Contenders concurrent
// booking attempts and exactly one of them must win.
type SimConfig struct {
	APIBaseURL  string
	Date        availability.Date
	Doctors     int
	SlotLimit   int
	Contenders  int
	CancelRatio float64
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
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

type Simulator struct {
	config   SimConfig
	client   *http.Client
	log      zerolog.Logger
	patients []uuid.UUID

	booking OperationMetrics
	cancel  OperationMetrics

	mu          sync.Mutex
	winners     map[string]int
	refunds     map[string]int
	refundPaise int64
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		boot := logging.Init("simulate", "dev")
		boot.Fatal().Err(err).Msg("config load error")
	}
	log := logging.Init("simulate", baseCfg.Env)

	cfg := loadConfig(baseCfg)
	log.Info().
		Str("date", string(cfg.Date)).
		Int("doctors", cfg.Doctors).
		Int("contenders", cfg.Contenders).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, baseCfg.PostgresDSN, 4)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	doctors, patients, err := loadIDs(ctx, pool, cfg.Doctors)
	if err != nil {
		log.Fatal().Err(err).Msg("load seed data")
	}

	sim := &Simulator{
		config:   cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		log:      log,
		patients: patients,
		winners:  make(map[string]int),
		refunds:  make(map[string]int),
	}

	slots := sim.collectSlots(context.Background(), doctors)
	if len(slots) == 0 {
		log.Fatal().Msg("no open slots found, run cmd/seed and pick a working day with SIM_DATE")
	}
	log.Info().Int("slots", len(slots)).Msg("open slots collected")

	sim.Run(context.Background(), slots)
	sim.PrintReport()
}

func loadConfig(base config.Config) SimConfig {
	tomorrow := availability.DateOf(time.Now().Add(24*time.Hour), base.Location())
	date := availability.Date(getEnv("SIM_DATE", string(tomorrow)))

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Date:        date,
		Doctors:     getInt("SIM_DOCTORS", 5),
		SlotLimit:   getInt("SIM_SLOT_LIMIT", 200),
		Contenders:  getInt("SIM_CONTENDERS", 8),
		CancelRatio: getFloat("SIM_CANCEL_RATIO", 0.2),
	}
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, doctorLimit int) ([]uuid.UUID, []uuid.UUID, error) {
	scan := func(sql string, limit int) ([]uuid.UUID, error) {
		rows, err := pool.Query(ctx, sql, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, rows.Err()
	}

	doctors, err := scan(`SELECT id FROM doctors ORDER BY created_at LIMIT $1`, doctorLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load doctors: %w", err)
	}
	patients, err := scan(`SELECT id FROM patients LIMIT $1`, 5000)
	if err != nil {
		return nil, nil, fmt.Errorf("load patients: %w", err)
	}
	if len(doctors) == 0 || len(patients) == 0 {
		return nil, nil, fmt.Errorf("no doctors or patients, run cmd/seed first")
	}
	return doctors, patients, nil
}

type slotRef struct {
	ID   string
	Type string
}

func (s *Simulator) collectSlots(ctx context.Context, doctors []uuid.UUID) []slotRef {
	var out []slotRef
	for _, doctorID := range doctors {
		for _, typ := range []string{"online", "in_clinic"} {
			url := fmt.Sprintf("%s/doctors/%s/slots?date=%s&type=%s&available_only=true",
				s.config.APIBaseURL, doctorID, s.config.Date, typ)

			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			resp, err := s.client.Do(req)
			if err != nil {
				s.log.Warn().Err(err).Msg("list slots failed")
				continue
			}

			var body struct {
				Slots []struct {
					ID string `json:"id"`
				} `json:"slots"`
			}
			err = json.NewDecoder(resp.Body).Decode(&body)
			resp.Body.Close()
			if err != nil || resp.StatusCode != http.StatusOK {
				continue
			}

			slotType := "online"
			if typ == "in_clinic" {
				slotType = "clinic"
			}
			for _, sl := range body.Slots {
				out = append(out, slotRef{ID: sl.ID, Type: slotType})
				if len(out) >= s.config.SlotLimit {
					return out
				}
			}
		}
	}
	return out
}

// Run books every slot from Contenders goroutines released at once.
func (s *Simulator) Run(ctx context.Context, slots []slotRef) {
	start := time.Now()

	var wg sync.WaitGroup
	for i, slot := range slots {
		gate := make(chan struct{})
		for c := 0; c < s.config.Contenders; c++ {
			wg.Add(1)
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(i*s.config.Contenders+c)))
			patientID := s.patients[rng.Intn(len(s.patients))]
			go func() {
				defer wg.Done()
				<-gate
				s.book(ctx, slot, patientID, rng)
			}()
		}
		close(gate)
	}
	wg.Wait()

	s.log.Info().Dur("took", time.Since(start)).Msg("booking storm complete")
}

func (s *Simulator) book(ctx context.Context, slot slotRef, patientID uuid.UUID, rng *rand.Rand) {
	body, _ := json.Marshal(map[string]string{
		"slot_id":    slot.ID,
		"slot_type":  slot.Type,
		"patient_id": patientID.String(),
	})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+"/bookings", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		s.booking.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		s.booking.Record(latency, true, false)
		s.mu.Lock()
		s.winners[slot.ID]++
		s.mu.Unlock()

		var appt struct {
			ID uuid.UUID `json:"id"`
		}
		if json.NewDecoder(resp.Body).Decode(&appt) == nil && rng.Float64() < s.config.CancelRatio {
			s.cancelAppointment(ctx, appt.ID)
		}
	case http.StatusConflict:
		s.booking.Record(latency, false, true)
	default:
		s.booking.Record(latency, false, false)
	}
}

func (s *Simulator) cancelAppointment(ctx context.Context, id uuid.UUID) {
	body, _ := json.Marshal(map[string]string{"cancelled_by": "patient", "reason": "simulated"})

	start := time.Now()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/appointments/%s/cancel", s.config.APIBaseURL, id), bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	latency := time.Since(start)

	if err != nil {
		s.cancel.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.cancel.Record(latency, false, resp.StatusCode == http.StatusConflict)
		return
	}
	s.cancel.Record(latency, true, false)

	var res struct {
		Refund struct {
			PolicyApplied string `json:"policy_applied"`
			RefundAmount  int64  `json:"refund_amount"`
		} `json:"refund"`
	}
	if json.NewDecoder(resp.Body).Decode(&res) == nil {
		s.mu.Lock()
		s.refunds[res.Refund.PolicyApplied]++
		s.refundPaise += res.Refund.RefundAmount
		s.mu.Unlock()
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Date: %s  Contenders per slot: %d\n\n", s.config.Date, s.config.Contenders)

	printOperationReport("Booking", &s.booking)
	printOperationReport("Cancel", &s.cancel)

	s.mu.Lock()
	defer s.mu.Unlock()

	doubles := 0
	for id, n := range s.winners {
		if n > 1 {
			doubles++
			fmt.Printf("  DOUBLE BOOKED: %s (%d winners)\n", id, n)
		}
	}
	fmt.Printf("Slots won: %d, double bookings: %d\n", len(s.winners), doubles)

	if len(s.refunds) > 0 {
		fmt.Println("Refunds:")
		for policy, n := range s.refunds {
			fmt.Printf("  %s: %d\n", policy, n)
		}
		fmt.Printf("  refunded total: %.2f\n", float64(s.refundPaise)/100)
	}
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
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
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

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
