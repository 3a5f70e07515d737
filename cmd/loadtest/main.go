package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// clientUserAgent advertises a build past the command-revision cutoff so the
// server exercises the modern comparison path.
const clientUserAgent = "LoadTest/Release-12.00-CL-12900000"

type latencySample struct {
	dur time.Duration
}

type pushEvent struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

func main() {
	httpAddr := flag.String("http", "http://localhost:8080", "base HTTP address of the profile service")
	wsAddr := flag.String("ws", "ws://localhost:8080/notifications", "notification websocket address")
	accounts := flag.Int("accounts", 200, "number of load-test accounts")
	rounds := flag.Int("rounds", 5, "gift rounds; each round every account gifts its neighbour")
	interval := flag.Duration("interval", 100*time.Millisecond, "delay between an account's operations")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := log.With().Str("component", "loadtest").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &http.Client{Timeout: 10 * time.Second}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	latencyCh := make(chan latencySample, *accounts**rounds)
	var wg sync.WaitGroup

	for i := 0; i < *accounts; i++ {
		accountID := fmt.Sprintf("loadtest-%d", i)
		peerID := fmt.Sprintf("loadtest-%d", (i+1)%*accounts)

		if err := register(ctx, client, *httpAddr, accountID); err != nil {
			logger.Fatal().Err(err).Str("account", accountID).Msg("registration failed")
		}

		wg.Add(1)
		go func(accountID, peerID string) {
			defer wg.Done()

			conn, err := listen(ctx, dialer, *wsAddr, accountID)
			if err != nil {
				logger.Error().Err(err).Str("account", accountID).Msg("dial failed")
				return
			}
			defer conn.Close()
			go readerLoop(ctx, conn, latencyCh, logger)

			run(ctx, client, *httpAddr, accountID, peerID, *rounds, *interval, logger)
		}(accountID, peerID)
	}

	go func() {
		wg.Wait()
		// Let in-flight pushes drain before the report.
		time.Sleep(2 * time.Second)
		close(latencyCh)
		stop()
	}()

	<-ctx.Done()
	report(latencyCh, logger)
}

func register(ctx context.Context, client *http.Client, base, accountID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/accounts/"+accountID, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Re-running against a warm database is fine.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusConflict {
		return fmt.Errorf("register %s: status %d", accountID, resp.StatusCode)
	}
	return nil
}

func listen(ctx context.Context, dialer websocket.Dialer, addr, accountID string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("X-Account-Id", accountID)
	conn, _, err := dialer.DialContext(ctx, addr, header)
	return conn, err
}

// run earns currency through XP tier rewards, then gifts the neighbour every
// round. Failures are logged and the account keeps going; a load test should
// report throughput, not abort on the first conflict.
func run(ctx context.Context, client *http.Client, base, accountID, peerID string, rounds int, interval time.Duration, logger zerolog.Logger) {
	operate(ctx, client, base, accountID, "currency_core", "RedeemCode", map[string]any{"code": "WELCOME1000"}, logger)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for round := 0; round < rounds; round++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Each level grants ledger currency, keeping the gift loop funded.
		operate(ctx, client, base, accountID, "progression", "GrantXP", map[string]any{"xpDelta": 80_000}, logger)
		operate(ctx, client, base, accountID, "currency_core", "GiftCatalogEntry", map[string]any{
			"offerId":     "offer:glider_aurora",
			"toAccountId": peerID,
			"userMessage": fmt.Sprintf("round %d", round),
		}, logger)
	}
}

func operate(ctx context.Context, client *http.Client, base, accountID, profileID, operation string, body map[string]any, logger zerolog.Logger) {
	payload, err := json.Marshal(body)
	if err != nil {
		logger.Error().Err(err).Msg("marshal body")
		return
	}
	url := fmt.Sprintf("%s/api/game/profile/%s/client/%s?profileId=%s&rvn=-1", base, accountID, operation, profileID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		logger.Error().Err(err).Msg("build request")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", clientUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		logger.Error().Err(err).Str("operation", operation).Msg("request failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		logger.Error().Int("status", resp.StatusCode).Str("operation", operation).Str("account", accountID).Msg("operation failed")
	}
	_, _ = io.Copy(io.Discard, resp.Body)
}

func readerLoop(ctx context.Context, conn *websocket.Conn, latencies chan<- latencySample, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		var event pushEvent
		if err := json.Unmarshal(data, &event); err != nil {
			logger.Warn().Err(err).Msg("failed to decode event")
			continue
		}
		if event.Type != "giftReceived" || event.CreatedAt.IsZero() {
			continue
		}
		select {
		case latencies <- latencySample{dur: time.Since(event.CreatedAt)}:
		default:
		}
	}
}

func report(samples <-chan latencySample, logger zerolog.Logger) {
	var count int
	var total time.Duration
	var max time.Duration
	var under100ms int

	for s := range samples {
		count++
		total += s.dur
		if s.dur > max {
			max = s.dur
		}
		if s.dur < 100*time.Millisecond {
			under100ms++
		}
	}

	if count == 0 {
		fmt.Fprintln(os.Stdout, "no samples collected")
		return
	}

	avg := time.Duration(int64(math.Round(float64(total) / float64(count))))
	pct := (float64(under100ms) / float64(count)) * 100

	fmt.Fprintf(os.Stdout, "Gift pushes: %d\nAvg latency: %s\nMax latency: %s\n<100ms: %.2f%%\n", count, avg, max, pct)
	if pct < 95 {
		logger.Warn().Msg("less than 95% of gift pushes met the 100ms target")
	}
}
