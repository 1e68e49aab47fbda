package notifier

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/emersion/go-msgauth/dkim"
)

var signedHeaders = []string{
	"From",
	"To",
	"Subject",
	"Date",
	"Message-Id",
	"Mime-Version",
	"Content-Type",
	"Content-Transfer-Encoding",
}

// DKIMSigner adds a DKIM-Signature header asserting the sender domain.
type DKIMSigner struct {
	domain   string
	selector string
	key      crypto.Signer
}

// NewDKIMSigner builds a signer from an RSA or Ed25519 private key.
func NewDKIMSigner(key crypto.Signer, domain, selector string) (*DKIMSigner, error) {
	if key == nil {
		return nil, errors.New("dkim key is required")
	}
	if domain == "" || selector == "" {
		return nil, errors.New("dkim domain and selector are required")
	}
	return &DKIMSigner{domain: domain, selector: selector, key: key}, nil
}

// LoadDKIMSigner reads a PEM encoded private key (PKCS#1 or PKCS#8) from path.
func LoadDKIMSigner(path, domain, selector string) (*DKIMSigner, error) {
	// #nosec G304 -- key path comes from operator configuration.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dkim key %s: %w", path, err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("parse dkim key %s: %w", path, err)
	}
	return NewDKIMSigner(key, domain, selector)
}

// ParsePrivateKey decodes the first PEM block of data into a signing key.
func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs1: %w", err)
		}
		return key, nil
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8: %w", err)
		}
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("unsupported key type %T", key)
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("unsupported PEM block %q", block.Type)
	}
}

// Sign returns msg prefixed with a DKIM-Signature header.
func (s *DKIMSigner) Sign(msg []byte) ([]byte, error) {
	opts := &dkim.SignOptions{
		Domain:                 s.domain,
		Selector:               s.selector,
		Signer:                 s.key,
		HeaderKeys:             signedHeaders,
		HeaderCanonicalization: dkim.CanonicalizationRelaxed,
		BodyCanonicalization:   dkim.CanonicalizationRelaxed,
	}
	var out bytes.Buffer
	if err := dkim.Sign(&out, bytes.NewReader(msg), opts); err != nil {
		return nil, fmt.Errorf("dkim sign: %w", err)
	}
	return out.Bytes(), nil
}
