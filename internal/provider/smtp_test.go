package provider

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/cermont/notifier/internal/dkim"
	"github.com/cermont/notifier/internal/mimemsg"
)

type capturedMail struct {
	from     string
	to       []string
	data     []byte
	authUser string
	tls      bool
}

// relayBackend is an in-process SMTP relay that records what it accepts.
type relayBackend struct {
	user, pass string
	reject     map[string]bool

	mu    sync.Mutex
	mails []capturedMail
}

func (b *relayBackend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	_, isTLS := c.TLSConnectionState()
	return &relaySession{b: b, tls: isTLS}, nil
}

func (b *relayBackend) received() []capturedMail {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]capturedMail(nil), b.mails...)
}

type relaySession struct {
	b        *relayBackend
	from     string
	to       []string
	authUser string
	tls      bool
}

func (s *relaySession) AuthMechanisms() []string {
	if s.b.user == "" {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *relaySession) Auth(_ string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.b.user || password != s.b.pass {
			return &gosmtp.SMTPError{Code: 535, EnhancedCode: gosmtp.EnhancedCode{5, 7, 8}, Message: "Authentication failed"}
		}
		s.authUser = username
		return nil
	}), nil
}

func (s *relaySession) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.b.user != "" && s.authUser == "" {
		return &gosmtp.SMTPError{Code: 530, EnhancedCode: gosmtp.EnhancedCode{5, 7, 0}, Message: "Authentication required"}
	}
	s.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if s.b.reject[to] {
		return &gosmtp.SMTPError{Code: 550, EnhancedCode: gosmtp.EnhancedCode{5, 1, 1}, Message: "No such user"}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.mails = append(s.b.mails, capturedMail{from: s.from, to: s.to, data: data, authUser: s.authUser, tls: s.tls})
	return nil
}

func (s *relaySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *relaySession) Logout() error { return nil }

// startRelay serves be on a loopback port and returns a transport config for it.
func startRelay(t *testing.T, be *relayBackend) ProviderConfig {
	return startRelayTLS(t, be, nil)
}

// startRelayTLS is startRelay with STARTTLS advertised when tlsConfig is set.
func startRelayTLS(t *testing.T, be *relayBackend, tlsConfig *tls.Config) ProviderConfig {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := gosmtp.NewServer(be)
	s.Domain = "relay.test"
	s.TLSConfig = tlsConfig
	s.AllowInsecureAuth = true
	s.ReadTimeout = 5 * time.Second
	s.WriteTimeout = 5 * time.Second
	go s.Serve(ln)
	t.Cleanup(func() { s.Close() })

	cfg := ProviderConfig{
		Type:     "smtp",
		Host:     "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		Username: be.user,
		Password: be.pass,
		Timeout:  5 * time.Second,
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

// selfSignedCert returns a server certificate for 127.0.0.1 and a pool
// that trusts it.
func selfSignedCert(t *testing.T) (tls.Certificate, *x509.CertPool) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "relay.test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf}, pool
}

func testSigner(t *testing.T) *dkim.Signer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pemKey := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	signer, err := dkim.New(dkim.Config{Selector: "cermont", PrivateKey: string(pemKey)})
	if err != nil {
		t.Fatalf("dkim.New: %v", err)
	}
	return signer
}

func welcomeMessage(to ...string) *Message {
	return &Message{
		ID:       "job-1",
		From:     "CERMONT <noreply@cermont.com>",
		ReplyTo:  "soporte@cermont.com",
		To:       to,
		Subject:  "Bienvenido a CERMONT",
		Headers:  map[string]string{"X-Notifier-Job": "job-1"},
		TextBody: "Hola Ana",
		HTMLBody: "<p>Hola <b>Ana</b></p>",
		Tag:      "welcome",
	}
}

func TestSMTP_Send(t *testing.T) {
	be := &relayBackend{user: "mailer", pass: "secret"}
	cfg := startRelay(t, be)
	p := NewSMTP(cfg, testSigner(t))

	result, err := p.Send(context.Background(), welcomeMessage("Ana <ana@cermont.com>", "jefe@cermont.com"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Status != StatusSent {
		t.Errorf("Status = %s, want sent", result.Status)
	}
	if result.ProviderMessageID != "job-1" {
		t.Errorf("ProviderMessageID = %q", result.ProviderMessageID)
	}
	if len(result.Accepted) != 2 || len(result.Rejected) != 0 {
		t.Errorf("Accepted = %v, Rejected = %v", result.Accepted, result.Rejected)
	}

	mails := be.received()
	if len(mails) != 1 {
		t.Fatalf("relay received %d messages, want 1", len(mails))
	}
	got := mails[0]
	if got.authUser != "mailer" {
		t.Errorf("authUser = %q, want mailer", got.authUser)
	}
	if got.from != "noreply@cermont.com" {
		t.Errorf("envelope from = %q", got.from)
	}
	if strings.Join(got.to, ",") != "ana@cermont.com,jefe@cermont.com" {
		t.Errorf("envelope to = %v", got.to)
	}
	if !strings.HasPrefix(string(got.data), "DKIM-Signature:") {
		t.Error("expected message to be DKIM signed")
	}

	parsed, err := mimemsg.Parse(got.data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if parsed.Subject != "Bienvenido a CERMONT" || parsed.TextBody != "Hola Ana" {
		t.Errorf("parsed = %+v", parsed)
	}
	if parsed.MessageID != "job-1@cermont.com" {
		t.Errorf("MessageID = %q", parsed.MessageID)
	}
	if parsed.Headers["X-Tag"] != "welcome" {
		t.Errorf("X-Tag = %q", parsed.Headers["X-Tag"])
	}
}

func TestSMTP_Send_PartialRejection(t *testing.T) {
	be := &relayBackend{reject: map[string]bool{"baja@cermont.com": true}}
	p := NewSMTP(startRelay(t, be), nil)

	result, err := p.Send(context.Background(), welcomeMessage("ana@cermont.com", "baja@cermont.com"))
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if result.Status != StatusPartial {
		t.Errorf("Status = %s, want partial", result.Status)
	}
	if strings.Join(result.Accepted, ",") != "ana@cermont.com" || strings.Join(result.Rejected, ",") != "baja@cermont.com" {
		t.Errorf("Accepted = %v, Rejected = %v", result.Accepted, result.Rejected)
	}
	if strings.HasPrefix(string(be.received()[0].data), "DKIM-Signature:") {
		t.Error("unexpected DKIM signature without a signer")
	}
}

func TestSMTP_Send_Errors(t *testing.T) {
	tests := []struct {
		name          string
		be            *relayBackend
		cfg           func(ProviderConfig) ProviderConfig
		to            []string
		wantCode      int
		wantPermanent bool
	}{
		{
			name:          "all recipients rejected",
			be:            &relayBackend{reject: map[string]bool{"baja@cermont.com": true}},
			to:            []string{"baja@cermont.com"},
			wantCode:      550,
			wantPermanent: true,
		},
		{
			name: "bad credentials",
			be:   &relayBackend{user: "mailer", pass: "secret"},
			cfg: func(c ProviderConfig) ProviderConfig {
				c.Password = "wrong"
				return c
			},
			to:            []string{"ana@cermont.com"},
			wantCode:      535,
			wantPermanent: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := startRelay(t, tt.be)
			if tt.cfg != nil {
				cfg = tt.cfg(cfg)
			}
			_, err := NewSMTP(cfg, nil).Send(context.Background(), welcomeMessage(tt.to...))

			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatalf("Send() error = %v, want *TransportError", err)
			}
			if te.StatusCode != tt.wantCode {
				t.Errorf("StatusCode = %d, want %d", te.StatusCode, tt.wantCode)
			}
			if te.Permanent != tt.wantPermanent {
				t.Errorf("Permanent = %v, want %v", te.Permanent, tt.wantPermanent)
			}
			if len(tt.be.received()) != 0 {
				t.Error("relay should not have accepted a message")
			}
		})
	}
}

func TestSMTP_Send_StartTLSPolicy(t *testing.T) {
	cert, pool := selfSignedCert(t)
	serverTLS := &tls.Config{Certificates: []tls.Certificate{cert}}

	tests := []struct {
		name      string
		policy    string
		serverTLS *tls.Config
		wantTLS   bool
		wantErr   bool
	}{
		{name: "opportunistic upgrades when offered", policy: StartTLSOpportunistic, serverTLS: serverTLS, wantTLS: true},
		{name: "opportunistic stays plain when not offered", policy: StartTLSOpportunistic},
		{name: "required upgrades", policy: StartTLSRequired, serverTLS: serverTLS, wantTLS: true},
		{name: "required refuses plain relay", policy: StartTLSRequired, wantErr: true},
		{name: "none ignores offer", policy: StartTLSNone, serverTLS: serverTLS},
		{name: "default is opportunistic", serverTLS: serverTLS, wantTLS: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			be := &relayBackend{user: "mailer", pass: "secret"}
			cfg := startRelayTLS(t, be, tt.serverTLS)
			cfg.StartTLS = tt.policy
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Validate: %v", err)
			}
			p := NewSMTP(cfg, nil)
			p.tlsConfig.RootCAs = pool

			_, err := p.Send(context.Background(), welcomeMessage("ana@cermont.com"))
			if tt.wantErr {
				var te *TransportError
				if !errors.As(err, &te) {
					t.Fatalf("Send() error = %v, want *TransportError", err)
				}
				if len(be.received()) != 0 {
					t.Error("relay should not have accepted a message")
				}
				return
			}
			if err != nil {
				t.Fatalf("Send() error = %v", err)
			}
			mails := be.received()
			if len(mails) != 1 {
				t.Fatalf("relay received %d messages, want 1", len(mails))
			}
			if mails[0].tls != tt.wantTLS {
				t.Errorf("delivered over TLS = %v, want %v", mails[0].tls, tt.wantTLS)
			}
			if mails[0].authUser != "mailer" {
				t.Errorf("authUser = %q, want mailer", mails[0].authUser)
			}
		})
	}
}

func TestSMTP_Send_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	p := NewSMTP(ProviderConfig{Host: "127.0.0.1", Port: port, Timeout: time.Second}, nil)
	_, err = p.Send(context.Background(), welcomeMessage("ana@cermont.com"))

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Send() error = %v, want *TransportError", err)
	}
	if te.StatusCode != 0 || te.Permanent {
		t.Errorf("TransportError = %+v, want transient network error", te)
	}
}

func TestSMTP_Send_InvalidSender(t *testing.T) {
	p := NewSMTP(ProviderConfig{Host: "127.0.0.1", Port: 1}, nil)
	msg := welcomeMessage("ana@cermont.com")
	msg.From = "not an address"

	_, err := p.Send(context.Background(), msg)
	if !IsPermanent(err) {
		t.Errorf("Send() error = %v, want permanent TransportError", err)
	}
}

func TestSMTP_HealthCheck(t *testing.T) {
	p := NewSMTP(startRelay(t, &relayBackend{}), nil)
	if err := p.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestMessageIDFor(t *testing.T) {
	tests := map[string]string{
		"noreply@cermont.com":           "x@cermont.com",
		"CERMONT <noreply@cermont.com>": "x@cermont.com",
		"broken":                        "x@localhost",
	}
	for from, want := range tests {
		if got := messageIDFor("x", from); got != want {
			t.Errorf("messageIDFor(x, %q) = %q, want %q", from, got, want)
		}
	}
}
