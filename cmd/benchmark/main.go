package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Config holds the benchmark settings
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	customers   int
	dupRate     float64
)

// Metrics
var (
	totalRequests uint64
	approved      uint64
	rejected      uint64
	duplicates    uint64 // Redeliveries sent
	fail503       uint64 // Retries exhausted
	failOther     uint64
)

// customerNamespace must match cmd/seeder.
var customerNamespace = uuid.MustParse("6f1b6c1e-8f0a-4c55-9d4e-2b7f3c9a8e01")

// redeliveryWindow bounds how many recent placements each worker can redeliver.
const redeliveryWindow = 1000

// recent keeps the last size placements a worker sent.
type recent struct {
	items []placement
	next  int
	size  int
}

func newRecent(size int) *recent {
	return &recent{items: make([]placement, 0, size), size: size}
}

func (r *recent) add(p placement) {
	if len(r.items) < r.size {
		r.items = append(r.items, p)
	} else {
		r.items[r.next] = p
	}
	r.next = (r.next + 1) % r.size
}

func (r *recent) pick() (placement, bool) {
	if len(r.items) == 0 {
		return placement{}, false
	}
	return r.items[rand.Intn(len(r.items))], true
}

func customerID(i int) uuid.UUID {
	return uuid.NewSHA1(customerNamespace, []byte(fmt.Sprintf("customer-%d", i)))
}

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&customers, "customers", 1000, "Number of seeded customers")
	flag.Float64Var(&dupRate, "dup-rate", 0.2, "Share of requests that redeliver an earlier event")
}

type placement struct {
	EventID    uuid.UUID         `json:"eventId"`
	CustomerID uuid.UUID         `json:"customerId"`
	Stake      map[string]string `json:"stake"`
	Origin     string            `json:"origin"`
	Note       string            `json:"note"`
}

type sagaResponse struct {
	Status string `json:"status"`
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s | Dup rate: %.2f", workload, concurrency, duration, dupRate)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, start time.Time) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	sent := newRecent(redeliveryWindow)

	for time.Since(start) < duration {
		// Redeliver an earlier placement to exercise idempotency, otherwise send a fresh one.
		p, ok := sent.pick()
		if ok && rand.Float64() < dupRate {
			atomic.AddUint64(&duplicates, 1)
		} else {
			p = placement{
				EventID:    uuid.New(),
				CustomerID: customerID(pickCustomer()),
				Stake:      map[string]string{"amount": "1.00", "currency": "USD"},
				Origin:     "benchmark",
				Note:       "bench",
			}
			sent.add(p)
		}
		body, _ := json.Marshal(p)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/placements", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			var out sagaResponse
			if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Status == "REJECTED" {
				atomic.AddUint64(&rejected, 1)
			} else {
				atomic.AddUint64(&approved, 1)
			}
		case 503:
			atomic.AddUint64(&fail503, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickCustomer() int {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic goes to customers 0 & 1
		if rand.Float32() < 0.90 {
			return rand.Intn(2)
		}
	}

	// Uniform Random
	return rand.Intn(customers)
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&approved)
	rej := atomic.LoadUint64(&rejected)
	dup := atomic.LoadUint64(&duplicates)
	f503 := atomic.LoadUint64(&fail503)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()
	exhaustRate := 0.0
	if total > 0 {
		exhaustRate = float64(f503) / float64(total) * 100
	}

	results := map[string]interface{}{
		"workload":          workload,
		"duration_sec":      d.Seconds(),
		"total_requests":    total,
		"throughput_tps":    tps,
		"approved":          ok,
		"rejected":          rej,
		"redeliveries_sent": dup,
		"retries_exhausted": f503,
		"exhaust_rate_pct":  exhaustRate,
		"errors":            fErr,
	}

	// Print JSON for the python plotter to consume
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, err := os.Create(filename)
	if err != nil {
		log.Printf("Unable to write %s: %v", filename, err)
		return
	}
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
