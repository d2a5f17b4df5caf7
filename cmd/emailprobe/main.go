// Command emailprobe verifies email addresses and prints one JSON result
// per address. Addresses are taken from the arguments, or from standard
// input (one per line) when there are none.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"github.com/optimode/emailprobe"
	"github.com/optimode/emailprobe/internal/config"
	"github.com/optimode/emailprobe/internal/logger"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "emailprobe: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	// A missing .env is fine.
	_ = godotenv.Load()

	fs := config.Flags()
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	configDir, _ := fs.GetString("config-dir")

	cfg, err := config.Load(configDir, fs)
	if err != nil {
		return err
	}

	log := logger.NewFromConfig(cfg.LoggerConfig())

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("metrics server failed")
			}
		}()
		defer func() { _ = srv.Close() }()
		log.Info().Str("addr", cfg.Metrics.Addr).Msg("serving metrics")
	}

	v := emailprobe.New().
		WithLogger(log).
		WithOverallTimeout(cfg.OverallTimeout).
		WithDNS(cfg.DNSOptions()).
		WithDomain(cfg.DomainOptions())
	if cfg.SMTP.Enabled {
		v = v.WithSMTP(cfg.SMTPOptions())
	}
	if cfg.Gravatar.Enabled {
		v = v.WithGravatar(cfg.GravatarOptions())
	}
	defer func() { _ = v.Close() }()

	emails := fs.Args()
	if len(emails) == 0 {
		if emails, err = readLines(stdin); err != nil {
			return err
		}
	}
	if len(emails) == 0 {
		return errors.New("no addresses given")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results, err := v.ValidateMany(ctx, emails, emailprobe.ConcurrencyOptions{Workers: cfg.Workers})
	enc := json.NewEncoder(stdout)
	for i, r := range results {
		if r.Email == "" && strings.TrimSpace(emails[i]) == "" {
			continue
		}
		if encErr := enc.Encode(r); encErr != nil {
			return fmt.Errorf("write result: %w", encErr)
		}
	}
	if err != nil && !errors.Is(err, emailprobe.ErrEmptyInput) {
		return err
	}
	return nil
}

func readLines(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read addresses: %w", err)
	}
	return out, nil
}
