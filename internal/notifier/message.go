package notifier

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/doggo-watch/doggo/internal/watchdog"
)

const bodyHeading = "=== NOVÉ INZERÁTY ==="

// Envelope is everything needed to render a single plaintext message.
type Envelope struct {
	FromName    string
	FromAddress string
	To          string
	Subject     string
	Body        string
	Date        time.Time
	// MessageDomain is the right-hand side of the generated Message-ID.
	MessageDomain string
}

// DetailURL builds the link to an ad on the site the search URL points at.
func DetailURL(searchURL, externalID string) string {
	host := searchURL
	if u, err := url.Parse(searchURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return fmt.Sprintf("https://%s/inzerat/%s/x", host, url.PathEscape(externalID))
}

// Body renders the plaintext listing of new ads.
func Body(searchURL string, ads []watchdog.Ad) string {
	var b strings.Builder
	b.WriteString(bodyHeading)
	b.WriteString("\n\n")
	for _, ad := range ads {
		fmt.Fprintf(&b, "- %s: %s\n", ad.Title, DetailURL(searchURL, ad.ExternalID))
	}
	return b.String()
}

// Render serializes the envelope into an RFC 5322 message.
func Render(env Envelope) ([]byte, error) {
	var h mail.Header
	h.SetDate(env.Date)
	h.SetAddressList("From", []*mail.Address{{Name: env.FromName, Address: env.FromAddress}})
	h.SetAddressList("To", []*mail.Address{{Address: env.To}})
	h.SetSubject(env.Subject)
	h.SetMessageID(fmt.Sprintf("%s@%s", uuid.NewString(), env.MessageDomain))
	h.Set("MIME-Version", "1.0")
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set("Content-Transfer-Encoding", "quoted-printable")

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("create message writer: %w", err)
	}
	if _, err := io.WriteString(w, env.Body); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close message writer: %w", err)
	}
	return buf.Bytes(), nil
}
