// Invitation email delivery over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"mime/multipart"
	"mime/quotedprintable"
	"net/smtp"
	"net/textproto"
	"time"

	"github.com/inbucket/html2text"

	"lockd/internal/config"
)

// Client sends invitation mail through one SMTP account.
type Client struct {
	host     string
	port     string
	username string
	password string
	from     string
}

func NewClient(host, port, username, password, from string) *Client {
	return &Client{
		host:     host,
		port:     port,
		username: username,
		password: password,
		from:     from,
	}
}

// NewClientFromConfig builds a client from the application email
// configuration.
func NewClientFromConfig(cfg config.EmailConfig) *Client {
	return NewClient(cfg.Host, cfg.Port, cfg.Username, cfg.Password, cfg.From)
}

// Invitation is the one message shape this system sends: a key
// invitation link for a named lock, delivered to a single recipient.
type Invitation struct {
	To       string
	LockName string
	KeyName  string
	Link     string
	Expires  time.Time
}

var invitationBody = template.Must(template.New("invitation").Parse(
	`<html><body>` +
		`<p>You have been granted a key{{if .KeyName}} named <b>{{.KeyName}}</b>{{end}} to <b>{{.LockName}}</b>.</p>` +
		`<p><a href="{{.Link}}">Open this link on your device to accept the key.</a></p>` +
		`<p>The invitation can be used once and expires {{.Expires.Format "Mon, 2 Jan 2006 15:04 MST"}}.</p>` +
		`</body></html>`))

func (inv Invitation) subject() string {
	return fmt.Sprintf("You have been invited to %s", inv.LockName)
}

func (inv Invitation) html() (string, error) {
	var buf bytes.Buffer
	if err := invitationBody.Execute(&buf, inv); err != nil {
		return "", fmt.Errorf("failed to render invitation body: %w", err)
	}
	return buf.String(), nil
}

// SendInvitation renders and sends one invitation. The text part is
// derived from the HTML body for clients that do not render HTML.
func (c *Client) SendInvitation(inv Invitation) error {
	html, err := inv.html()
	if err != nil {
		return err
	}
	text, err := html2text.FromString(html, html2text.Options{OmitLinks: false})
	if err != nil {
		return fmt.Errorf("failed to derive text part: %w", err)
	}

	body, err := c.multipart(inv.To, inv.subject(), html, text)
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	auth := smtp.PlainAuth("", c.username, c.password, c.host)
	return smtp.SendMail(c.host+":"+c.port, auth, c.from, []string{inv.To}, body)
}

// multipart assembles a multipart/alternative message with
// quoted-printable text and HTML parts.
func (c *Client) multipart(to, subject, html, text string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", c.from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	fmt.Fprintf(&buf, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n", writer.Boundary())
	buf.WriteString("\r\n")

	for _, part := range []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", text},
		{"text/html; charset=utf-8", html},
	} {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Type", part.contentType)
		header.Set("Content-Transfer-Encoding", "quoted-printable")

		w, err := writer.CreatePart(header)
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(part.content)); err != nil {
			return nil, err
		}
		qp.Close()
	}

	writer.Close()
	return buf.Bytes(), nil
}
