package obscheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/bmc-account-service/internal/tools/common"
	"github.com/sandeepkv93/bmc-account-service/internal/tools/loadgen"
	"github.com/sandeepkv93/bmc-account-service/internal/tools/ui"
)

type options struct {
	grafanaURL      string
	grafanaUser     string
	grafanaPassword string
	serviceName     string
	metric          string
	promSource      int
	lokiSource      int
	tempoSource     int
	window          time.Duration
	settle          time.Duration
	baseURL         string
	profile         string
	ci              bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "obscheck", Short: "Verify account API metrics, traces and logs correlate"}
	cmd.PersistentFlags().StringVar(&opts.grafanaURL, "grafana-url", "http://localhost:3000", "Grafana base URL")
	cmd.PersistentFlags().StringVar(&opts.grafanaUser, "grafana-user", "admin", "Grafana username")
	cmd.PersistentFlags().StringVar(&opts.grafanaPassword, "grafana-password", "admin", "Grafana password")
	cmd.PersistentFlags().StringVar(&opts.serviceName, "service-name", "bmc-account-service", "OTel service name")
	cmd.PersistentFlags().StringVar(&opts.metric, "metric", "account_request_duration_seconds_bucket", "histogram carrying trace exemplars")
	cmd.PersistentFlags().IntVar(&opts.promSource, "prometheus-datasource", 1, "Grafana datasource id for Prometheus")
	cmd.PersistentFlags().IntVar(&opts.lokiSource, "loki-datasource", 2, "Grafana datasource id for Loki")
	cmd.PersistentFlags().IntVar(&opts.tempoSource, "tempo-datasource", 3, "Grafana datasource id for Tempo")
	cmd.PersistentFlags().DurationVar(&opts.window, "window", 20*time.Minute, "query lookback window")
	cmd.PersistentFlags().DurationVar(&opts.settle, "settle", 8*time.Second, "wait for exporters to flush before querying")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8000", "API base URL for traffic")
	cmd.PersistentFlags().StringVar(&opts.profile, "profile", "public", "loadgen profile used to produce traffic")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Drive account traffic and follow one exemplar to its trace and logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "obscheck run", func(ctx context.Context) ([]string, error) {
				res, err := loadgen.Run(ctx, loadgen.Config{
					BaseURL:     opts.baseURL,
					Profile:     opts.profile,
					Duration:    6 * time.Second,
					RPS:         20,
					Concurrency: 6,
					Seed:        42,
				})
				if err != nil {
					return nil, err
				}
				details := []string{fmt.Sprintf("traffic generated total=%d failures=%d", res.TotalRequests, res.Failures)}
				select {
				case <-time.After(opts.settle):
				case <-ctx.Done():
					return details, ctx.Err()
				}

				g := &grafana{opts: *opts, client: &http.Client{Timeout: 20 * time.Second}}
				traceID, err := g.exemplarTraceID(ctx)
				if err != nil {
					return details, err
				}
				details = append(details, "exemplar trace_id="+traceID)
				if err := g.traceExists(ctx, traceID); err != nil {
					return details, err
				}
				details = append(details, "tempo trace lookup: ok")
				if err := g.logsCorrelate(ctx, traceID); err != nil {
					return details, err
				}
				details = append(details, "loki trace correlation: ok")
				return details, nil
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "obscheck run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	fn = common.Observe("obscheck", title, fn)
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

type grafana struct {
	opts   options
	client *http.Client
}

func (g *grafana) getJSON(ctx context.Context, path string, out any) error {
	u, err := url.Parse(g.opts.grafanaURL)
	if err != nil {
		return err
	}
	p, rawQuery, _ := strings.Cut(path, "?")
	u.Path = strings.TrimRight(u.Path, "/") + p
	u.RawQuery = rawQuery
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.opts.grafanaUser, g.opts.grafanaPassword)
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("grafana %s: %s", path, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func (g *grafana) exemplarTraceID(ctx context.Context) (string, error) {
	start := time.Now().Add(-g.opts.window).Unix()
	end := time.Now().Unix()
	path := fmt.Sprintf("/api/datasources/proxy/%d/api/v1/query_exemplars?query=%s&start=%d&end=%d",
		g.opts.promSource, url.QueryEscape(g.opts.metric), start, end)
	var payload struct {
		Data []struct {
			Exemplars []struct {
				Labels map[string]string `json:"labels"`
			} `json:"exemplars"`
		} `json:"data"`
	}
	if err := g.getJSON(ctx, path, &payload); err != nil {
		return "", err
	}
	for _, series := range payload.Data {
		for _, e := range series.Exemplars {
			if tid := e.Labels["trace_id"]; len(tid) == 32 {
				return tid, nil
			}
		}
	}
	return "", fmt.Errorf("no trace_id exemplar found on %s", g.opts.metric)
}

func (g *grafana) traceExists(ctx context.Context, traceID string) error {
	var payload struct {
		Batches []json.RawMessage `json:"batches"`
	}
	if err := g.getJSON(ctx, fmt.Sprintf("/api/datasources/proxy/%d/api/traces/%s", g.opts.tempoSource, traceID), &payload); err != nil {
		return err
	}
	if len(payload.Batches) == 0 {
		return fmt.Errorf("tempo trace %s has no batches", traceID)
	}
	return nil
}

func (g *grafana) logsCorrelate(ctx context.Context, traceID string) error {
	nowNS := time.Now().UnixNano()
	startNS := nowNS - int64(g.opts.window)
	q := url.QueryEscape(fmt.Sprintf("{service_name=%q} |= \"trace_id=%s\"", g.opts.serviceName, traceID))
	path := fmt.Sprintf("/api/datasources/proxy/%d/loki/api/v1/query_range?query=%s&start=%d&end=%d&limit=1&direction=backward",
		g.opts.lokiSource, q, startNS, nowNS)
	var payload struct {
		Data struct {
			Result []json.RawMessage `json:"result"`
		} `json:"data"`
	}
	if err := g.getJSON(ctx, path, &payload); err != nil {
		return err
	}
	if len(payload.Data.Result) == 0 {
		return fmt.Errorf("no correlated loki logs found for trace_id %s", traceID)
	}
	return nil
}
