// Package main provides a standalone CLI tool for smoke-testing a running
// notifier. It signs an operator JWT with the shared secret and submits
// templated or plain e-mails through the HTTP API, optionally in batches
// with rate limiting.
//
// Usage:
//
//	test-client --secret $JWT_SECRET --to ana@cermont.com --template welcome --data nombre=Ana
//	test-client --secret $JWT_SECRET --to ana@cermont.com --mode send --subject "Prueba" --body "Hola"
//	test-client --secret $JWT_SECRET --to ana@cermont.com --count 10 --rate 5
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cermont/notifier/internal/auth"
	"github.com/cermont/notifier/internal/email"
	"github.com/cermont/notifier/internal/templates"
)

type config struct {
	url      string
	secret   string
	issuer   string
	tenant   string
	role     string
	mode     string
	to       stringSlice
	subject  string
	body     string
	template string
	data     stringSlice
	count    int
	rate     float64
	timeout  time.Duration
}

// stringSlice implements flag.Value for repeatable flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	cfg := parseFlags()

	if cfg.secret == "" {
		cfg.secret = os.Getenv("JWT_SECRET")
	}
	if cfg.secret == "" {
		fmt.Fprintln(os.Stderr, "error: --secret or JWT_SECRET is required")
		flag.Usage()
		os.Exit(2)
	}
	if len(cfg.to) == 0 {
		fmt.Fprintln(os.Stderr, "error: at least one --to is required")
		flag.Usage()
		os.Exit(2)
	}
	if cfg.template != "" && !templates.Key(cfg.template).Valid() {
		fmt.Fprintf(os.Stderr, "error: unknown template %q\n", cfg.template)
		os.Exit(2)
	}

	token, err := auth.NewJWTService(auth.JWTConfig{SigningKey: cfg.secret, Issuer: cfg.issuer}).
		GenerateToken("test-client-"+uuid.NewString()[:8], cfg.tenant, cfg.role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	endpoint := strings.TrimRight(cfg.url, "/") + "/api/v1/emails"
	if cfg.mode == "send" {
		endpoint += "/send"
	}

	fmt.Printf("Notifier Test Client\n")
	fmt.Printf("  Endpoint: %s\n", endpoint)
	fmt.Printf("  To:       %s\n", strings.Join(cfg.to, ", "))
	if cfg.template != "" {
		fmt.Printf("  Template: %s\n", cfg.template)
	}
	fmt.Printf("  Count:    %d\n", cfg.count)
	if cfg.count > 1 {
		fmt.Printf("  Rate:     %.1f requests/sec\n", cfg.rate)
	}
	fmt.Println()

	client := &http.Client{Timeout: cfg.timeout}

	var (
		successCount int
		failCount    int
		totalSend    time.Duration
	)

	interval := time.Duration(0)
	if cfg.count > 1 && cfg.rate > 0 {
		interval = time.Duration(float64(time.Second) / cfg.rate)
	}

	for i := 0; i < cfg.count; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}

		seq := i + 1
		msg := buildMessage(cfg, seq)

		start := time.Now()
		status, reply, err := post(client, endpoint, token, msg)
		elapsed := time.Since(start)
		totalSend += elapsed

		if err != nil {
			failCount++
			fmt.Printf("  [%d/%d] FAIL (%s): %v\n", seq, cfg.count, elapsed, err)
			continue
		}
		if status >= 300 {
			failCount++
			fmt.Printf("  [%d/%d] FAIL (%s): HTTP %d %s\n", seq, cfg.count, elapsed, status, reply)
			continue
		}
		successCount++
		fmt.Printf("  [%d/%d] OK   (%s): HTTP %d %s\n", seq, cfg.count, elapsed, status, reply)
	}

	fmt.Println()
	fmt.Printf("Results: %d accepted, %d failed, total time %s\n", successCount, failCount, totalSend)

	if failCount > 0 {
		os.Exit(1)
	}
}

func parseFlags() config {
	var cfg config

	flag.StringVar(&cfg.url, "url", "http://localhost:8085", "Notifier base URL")
	flag.StringVar(&cfg.secret, "secret", "", "JWT signing secret (defaults to $JWT_SECRET)")
	flag.StringVar(&cfg.issuer, "issuer", "cermont", "JWT issuer")
	flag.StringVar(&cfg.tenant, "tenant", "cermont", "tenant_id claim")
	flag.StringVar(&cfg.role, "role", auth.RoleOperator, "role claim: admin, operator or service")
	flag.StringVar(&cfg.mode, "mode", "enqueue", "enqueue (202, queued) or send (synchronous)")
	flag.Var(&cfg.to, "to", "Recipient email address (can be specified multiple times)")
	flag.StringVar(&cfg.subject, "subject", "Prueba de notificación", "Email subject")
	flag.StringVar(&cfg.body, "body", "Correo de prueba enviado por test-client.", "Plain text body, used when --template is empty")
	flag.StringVar(&cfg.template, "template", "", "Template key: welcome, password-reset, order-assigned, order-completed")
	flag.Var(&cfg.data, "data", "Template variable as key=value (can be specified multiple times)")
	flag.IntVar(&cfg.count, "count", 1, "Number of requests to submit")
	flag.Float64Var(&cfg.rate, "rate", 1, "Requests per second for batch submission")
	flag.DurationVar(&cfg.timeout, "timeout", 30*time.Second, "HTTP timeout")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: test-client [options]\n\n")
		fmt.Fprintf(os.Stderr, "Submits test e-mails to a running notifier through its HTTP API.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	return cfg
}

func buildMessage(cfg config, seq int) email.Message {
	subject := cfg.subject
	body := cfg.body
	if cfg.count > 1 {
		subject = fmt.Sprintf("%s [%d/%d]", cfg.subject, seq, cfg.count)
		body = fmt.Sprintf("%s\n\n-- Email %d of %d --", cfg.body, seq, cfg.count)
	}

	msg := email.Message{
		To:      cfg.to,
		Subject: subject,
		Tag:     "test-client",
	}
	if cfg.template == "" {
		msg.Text = body
		return msg
	}

	msg.Template = templates.Key(cfg.template)
	msg.TemplateData = map[string]any{}
	for _, kv := range cfg.data {
		k, v, _ := strings.Cut(kv, "=")
		msg.TemplateData[k] = v
	}
	return msg
}

func post(client *http.Client, url, token string, msg email.Message) (int, string, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return 0, "", fmt.Errorf("encode: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(reply)), nil
}
