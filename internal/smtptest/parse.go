package smtptest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Part is a decoded attachment of a delivered message.
type Part struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Parsed is a delivered message split into headers, bodies and attachments.
type Parsed struct {
	Header      mail.Header
	From        string
	To          []string
	Cc          []string
	Subject     string
	MessageID   string
	TextBody    string
	HTMLBody    string
	Attachments []Part
}

// Parse parses a raw RFC 5322 message, walking nested multipart bodies.
func Parse(raw []byte) (*Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	dec := new(mime.WordDecoder)
	subject, err := dec.DecodeHeader(msg.Header.Get("Subject"))
	if err != nil {
		subject = msg.Header.Get("Subject")
	}

	p := &Parsed{
		Header:    msg.Header,
		From:      msg.Header.Get("From"),
		To:        addressList(msg.Header.Get("To")),
		Cc:        addressList(msg.Header.Get("Cc")),
		Subject:   subject,
		MessageID: strings.Trim(msg.Header.Get("Message-Id"), "<>"),
	}

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("invalid content type %q: %w", contentType, err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if err := p.walk(msg.Body, params["boundary"]); err != nil {
			return nil, err
		}
		return p, nil
	}

	body, err := decode(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
	if err != nil {
		return nil, err
	}
	p.setBody(mediaType, body)
	return p, nil
}

func (p *Parsed) walk(body io.Reader, boundary string) error {
	if boundary == "" {
		return fmt.Errorf("multipart message missing boundary")
	}

	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partType := part.Header.Get("Content-Type")
		if partType == "" {
			partType = "text/plain"
		}
		mediaType, params, err := mime.ParseMediaType(partType)
		if err != nil {
			return fmt.Errorf("invalid part content type %q: %w", partType, err)
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if err := p.walk(part, params["boundary"]); err != nil {
				return err
			}
			continue
		}

		content, err := decode(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return err
		}

		disposition := part.Header.Get("Content-Disposition")
		filename := part.FileName()
		if filename == "" {
			filename = params["name"]
		}
		if strings.HasPrefix(disposition, "attachment") || filename != "" {
			p.Attachments = append(p.Attachments, Part{
				Filename:    filename,
				ContentType: mediaType,
				Content:     content,
			})
			continue
		}
		p.setBody(mediaType, content)
	}
}

func (p *Parsed) setBody(mediaType string, content []byte) {
	content = bytes.TrimRight(content, "\r\n")
	switch mediaType {
	case "text/html":
		if p.HTMLBody == "" {
			p.HTMLBody = string(content)
		}
	default:
		if p.TextBody == "" {
			p.TextBody = string(content)
		}
	}
}

// decode reads r and undoes its transfer encoding. Multipart parts arrive
// with quoted-printable already decoded by mime/multipart.
func decode(r io.Reader, encoding string) ([]byte, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	if encoding == "quoted-printable" {
		r = quotedprintable.NewReader(r)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if encoding != "base64" {
		return raw, nil
	}

	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 content: %w", err)
	}
	return decoded, nil
}

func addressList(raw string) []string {
	if raw == "" {
		return nil
	}
	addrs, err := mail.ParseAddressList(raw)
	if err != nil {
		return []string{raw}
	}
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.Address)
	}
	return out
}
