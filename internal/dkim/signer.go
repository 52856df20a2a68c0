// Package dkim signs outbound SMTP messages with a DKIM-Signature header.
package dkim

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	msgauthdkim "github.com/emersion/go-msgauth/dkim"
)

// ErrNoDomain is returned when neither the config nor the sender gives a
// signing domain.
var ErrNoDomain = errors.New("dkim: unable to determine signing domain")

// Config mirrors config.DKIMConfig. Signing is off when every field is empty.
type Config struct {
	Selector   string
	Domain     string
	KeyPath    string
	PrivateKey string
}

// Signer signs messages for one selector and key. A nil *Signer is valid
// and passes messages through unchanged.
type Signer struct {
	domain     string
	selector   string
	key        crypto.Signer
	headerKeys []string
}

var defaultHeaderKeys = []string{
	"from",
	"to",
	"reply-to",
	"subject",
	"date",
	"message-id",
	"mime-version",
	"content-type",
}

// New builds a Signer from cfg. It returns (nil, nil) when DKIM is not
// configured. PrivateKey takes precedence over KeyPath.
func New(cfg Config) (*Signer, error) {
	selector := strings.TrimSpace(cfg.Selector)
	keyPath := strings.TrimSpace(cfg.KeyPath)
	if selector == "" && keyPath == "" && cfg.PrivateKey == "" && strings.TrimSpace(cfg.Domain) == "" {
		return nil, nil
	}
	if selector == "" {
		return nil, errors.New("dkim: selector is required when enabling DKIM")
	}

	var pemData []byte
	switch {
	case cfg.PrivateKey != "":
		pemData = []byte(cfg.PrivateKey)
	case keyPath != "":
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("dkim: read private key: %w", err)
		}
		pemData = data
	default:
		return nil, errors.New("dkim: a key path or inline private key is required")
	}

	key, err := parsePrivateKey(pemData)
	if err != nil {
		return nil, fmt.Errorf("dkim: parse private key: %w", err)
	}

	return &Signer{
		domain:     strings.ToLower(strings.TrimSpace(cfg.Domain)),
		selector:   selector,
		key:        key,
		headerKeys: defaultHeaderKeys,
	}, nil
}

// Selector returns the configured selector, or "" for a nil Signer.
func (s *Signer) Selector() string {
	if s == nil {
		return ""
	}
	return s.selector
}

// Sign prepends a DKIM-Signature to message. Messages that already carry
// one are returned untouched. The domain falls back to the sender's.
func (s *Signer) Sign(message []byte, from string) ([]byte, error) {
	if s == nil || s.key == nil {
		return message, nil
	}
	if hasSignature(message) {
		return message, nil
	}

	domain := s.domain
	if domain == "" {
		domain = extractDomain(from)
	}
	if domain == "" {
		return nil, ErrNoDomain
	}

	opts := &msgauthdkim.SignOptions{
		Domain:                 domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderCanonicalization: msgauthdkim.CanonicalizationRelaxed,
		BodyCanonicalization:   msgauthdkim.CanonicalizationRelaxed,
		HeaderKeys:             s.headerKeys,
	}

	var signed bytes.Buffer
	if err := msgauthdkim.Sign(&signed, bytes.NewReader(normalizeLineEndings(message)), opts); err != nil {
		return nil, fmt.Errorf("dkim: signing failed: %w", err)
	}
	return signed.Bytes(), nil
}

func parsePrivateKey(pemData []byte) (crypto.Signer, error) {
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			return nil, errors.New("no private key found in PEM data")
		}
		switch block.Type {
		case "RSA PRIVATE KEY":
			return x509.ParsePKCS1PrivateKey(block.Bytes)
		case "PRIVATE KEY":
			key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
			if err != nil {
				return nil, err
			}
			if signer, ok := key.(crypto.Signer); ok {
				return signer, nil
			}
			return nil, errors.New("unsupported private key type in PKCS#8 container")
		}
		pemData = rest
	}
}

func extractDomain(address string) string {
	address = strings.TrimSpace(address)
	if i := strings.LastIndex(address, ">"); i >= 0 {
		address = address[:i]
	}
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return ""
}

func hasSignature(message []byte) bool {
	upper := bytes.ToUpper(message)
	return bytes.HasPrefix(upper, []byte("DKIM-SIGNATURE:")) || bytes.Contains(upper, []byte("\nDKIM-SIGNATURE:"))
}

func normalizeLineEndings(data []byte) []byte {
	if bytes.Contains(data, []byte("\r\n")) || !bytes.Contains(data, []byte("\n")) {
		return data
	}
	return bytes.ReplaceAll(data, []byte("\n"), []byte("\r\n"))
}
