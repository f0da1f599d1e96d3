package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/bmc-account-service/internal/observability"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
	Username    string
	Password    string
}

type Result struct {
	TotalRequests int64
	Failures      int64
	Status2xx     int64
	Status4xx     int64
	Status5xx     int64
}

type request struct {
	method string
	path   string
	body   string
	auth   bool
}

func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8000"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 15
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.Username == "" {
		cfg.Username = "creator1"
		cfg.Password = "Creator123!"
	}
	profile := strings.ToLower(cfg.Profile)
	if profile == "" {
		profile = "mixed"
	}

	requests := requestsForProfile(profile, cfg.Username, cfg.Password)
	if len(requests) == 0 {
		return Result{}, fmt.Errorf("unknown profile: %s", cfg.Profile)
	}

	client := &http.Client{Timeout: 5 * time.Second}
	token := ""
	if needsToken(requests) {
		var err error
		token, err = login(ctx, client, cfg)
		if err != nil {
			return Result{}, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var total, failures, s2xx, s4xx, s5xx int64
	jobs := make(chan request, cfg.Concurrency*2)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < cfg.Concurrency; i++ {
		g.Go(func() error {
			for job := range jobs {
				status, err := send(gctx, client, cfg.BaseURL, job, token)
				if err != nil {
					atomic.AddInt64(&failures, 1)
					continue
				}
				atomic.AddInt64(&total, 1)
				class := statusClass(status)
				observability.RecordLoadgenRequest(gctx, class, profile)
				switch class {
				case "2xx":
					atomic.AddInt64(&s2xx, 1)
				case "4xx":
					atomic.AddInt64(&s4xx, 1)
				case "5xx":
					atomic.AddInt64(&s5xx, 1)
				}
			}
			return nil
		})
	}

	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(len(requests))))
	ticker := time.NewTicker(time.Second / time.Duration(cfg.RPS))
	defer ticker.Stop()
dispatch:
	for {
		select {
		case <-ctx.Done():
			break dispatch
		case <-ticker.C:
			select {
			case jobs <- requests[rng.IntN(len(requests))]:
			case <-ctx.Done():
				break dispatch
			}
		}
	}
	close(jobs)
	_ = g.Wait()
	return Result{
		TotalRequests: atomic.LoadInt64(&total),
		Failures:      atomic.LoadInt64(&failures),
		Status2xx:     atomic.LoadInt64(&s2xx),
		Status4xx:     atomic.LoadInt64(&s4xx),
		Status5xx:     atomic.LoadInt64(&s5xx),
	}, nil
}

func requestsForProfile(profile, username, password string) []request {
	loginBody := credentials(username, password)
	public := []request{
		{method: http.MethodGet, path: "/bmc/user/profile?username=" + username},
		{method: http.MethodGet, path: "/bmc/user/username?username=" + username},
		{method: http.MethodGet, path: "/bmc/user/email?email=nobody@example.com"},
		{method: http.MethodGet, path: "/bmc/user/wallet?email=creator1@example.com&walletId=Eth"},
	}
	switch profile {
	case "public":
		return public
	case "auth":
		return []request{
			{method: http.MethodPost, path: "/bmc/user/login", body: loginBody},
			{method: http.MethodPost, path: "/bmc/user/login", body: credentials(username, "wrong-password")},
		}
	case "mixed":
		return append(public,
			request{method: http.MethodPost, path: "/bmc/user/login", body: loginBody},
			request{method: http.MethodPost, path: "/bmc/user/wallet", body: `{"wallet":{"Eth":{"address":"0xloadgen"}}}`, auth: true},
		)
	case "error-heavy":
		return []request{
			{method: http.MethodPost, path: "/bmc/user/login", body: credentials("ghost", "nope")},
			{method: http.MethodGet, path: "/bmc/user/profile"},
			{method: http.MethodGet, path: "/bmc/user/username?username=not_valid!"},
			{method: http.MethodPost, path: "/bmc/user/wallet", body: `{"wallet":{}}`},
		}
	default:
		return nil
	}
}

func needsToken(requests []request) bool {
	for _, r := range requests {
		if r.auth {
			return true
		}
	}
	return false
}

func credentials(username, password string) string {
	b, _ := json.Marshal(map[string]string{"username": username, "password": password})
	return string(b)
}

func login(ctx context.Context, client *http.Client, cfg Config) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/bmc/user/login", strings.NewReader(credentials(cfg.Username, cfg.Password)))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("login %s: %w", cfg.Username, err)
	}
	defer resp.Body.Close()
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || resp.StatusCode != http.StatusOK || out.AccessToken == "" {
		return "", fmt.Errorf("login %s failed with status %d; run seed apply first", cfg.Username, resp.StatusCode)
	}
	return out.AccessToken, nil
}

func send(ctx context.Context, client *http.Client, baseURL string, job request, token string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, job.method, baseURL+job.path, bytes.NewReader([]byte(job.body)))
	if err != nil {
		return 0, err
	}
	if job.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if job.auth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}
