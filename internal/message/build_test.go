package message_test

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-dispatch/internal/email"
	"github.com/shineum/smtp-dispatch/internal/message"
)

func testEmail(attachments ...email.Attachment) *email.Email {
	return &email.Email{
		From:        email.NewAddress("sender@test.com", "Sender"),
		To:          []email.Address{email.NewAddress("recipient@test.com", "Recipient")},
		Subject:     "Test Subject",
		HTMLBody:    "<p>Hello</p>",
		TextBody:    "Hello",
		Attachments: attachments,
	}
}

func TestParseMediaType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  message.MediaType
	}{
		{name: "text plain", input: "text/plain", want: message.MediaType{Type: "text", Subtype: "plain"}},
		{name: "with parameters", input: "text/html; charset=utf-8", want: message.MediaType{Type: "text", Subtype: "html"}},
		{name: "vendor type", input: "application/vnd.ms-excel", want: message.MediaType{Type: "application", Subtype: "vnd.ms-excel"}},
		{name: "no slash", input: "invalid", want: message.DefaultMediaType},
		{name: "empty", input: "", want: message.DefaultMediaType},
		{name: "whitespace", input: "   ", want: message.DefaultMediaType},
		{name: "too many segments", input: "a/b/c", want: message.DefaultMediaType},
		{name: "empty subtype", input: "text/", want: message.DefaultMediaType},
		{name: "empty type", input: "/plain", want: message.DefaultMediaType},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, message.ParseMediaType(tt.input))
		})
	}
}

func TestBuild_MapsFields(t *testing.T) {
	t.Parallel()

	e := testEmail()
	e.Cc = []email.Address{email.NewAddress("cc@test.com")}
	e.Bcc = []email.Address{email.NewAddress("bcc@test.com")}
	e.ReplyTo = []email.Address{email.NewAddress("reply@test.com")}

	msg, err := message.Build(context.Background(), e, message.BuildOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.True(t, strings.HasSuffix(msg.ID, "@test.com"), "message id %q should use sender domain", msg.ID)
	assert.Equal(t, message.Mailbox{Name: "Sender", Address: "sender@test.com"}, msg.From)
	assert.Equal(t, []message.Mailbox{{Name: "Recipient", Address: "recipient@test.com"}}, msg.To)
	assert.Equal(t, "cc@test.com", msg.Cc[0].Address)
	assert.Equal(t, "bcc@test.com", msg.Bcc[0].Address)
	assert.Equal(t, "reply@test.com", msg.ReplyTo[0].Address)
	assert.Equal(t, "Test Subject", msg.Subject)
	assert.Equal(t, "<p>Hello</p>", msg.HTMLBody)
	assert.Equal(t, "Hello", msg.TextBody)
	assert.Equal(t, message.DefaultCharset, msg.Charset)
	assert.Empty(t, msg.Attachments)
}

func TestBuild_FreshIDPerCall(t *testing.T) {
	t.Parallel()

	e := testEmail()
	first, err := message.Build(context.Background(), e, message.BuildOptions{})
	require.NoError(t, err)
	second, err := message.Build(context.Background(), e, message.BuildOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
}

func TestBuild_CustomConverterAndCharset(t *testing.T) {
	t.Parallel()

	conv := func(a email.Address) message.Mailbox {
		return message.Mailbox{Name: strings.ToUpper(a.Display), Address: a.Value}
	}
	msg, err := message.Build(context.Background(), testEmail(), message.BuildOptions{
		Charset:        "ISO-8859-1",
		ConvertAddress: conv,
	})
	require.NoError(t, err)

	assert.Equal(t, "SENDER", msg.From.Name)
	assert.Equal(t, "RECIPIENT", msg.To[0].Name)
	assert.Equal(t, "ISO-8859-1", msg.Charset)
}

func TestBuild_Attachments(t *testing.T) {
	t.Parallel()

	msg, err := message.Build(context.Background(), testEmail(
		email.Attachment{Name: "attachment.txt", ContentType: "text/plain", Content: strings.NewReader("Test content")},
		email.Attachment{Name: "blob.bin", ContentType: "invalid", Content: strings.NewReader("raw")},
		email.Attachment{Name: "empty.dat"},
	), message.BuildOptions{})
	require.NoError(t, err)
	require.Len(t, msg.Attachments, 3)

	assert.Equal(t, "attachment.txt", msg.Attachments[0].Name)
	assert.Equal(t, message.MediaType{Type: "text", Subtype: "plain"}, msg.Attachments[0].MediaType)
	assert.Equal(t, []byte("Test content"), msg.Attachments[0].Data)

	assert.Equal(t, message.MediaType{Type: "application", Subtype: "octet-stream"}, msg.Attachments[1].MediaType)
	assert.Equal(t, message.DefaultMediaType, msg.Attachments[2].MediaType)
	assert.Empty(t, msg.Attachments[2].Data)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk on fire") }

func TestBuild_AttachmentReadError(t *testing.T) {
	t.Parallel()

	_, err := message.Build(context.Background(), testEmail(
		email.Attachment{Name: "broken", ContentType: "text/plain", Content: failingReader{}},
	), message.BuildOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestBuild_CancelledWhileReadingAttachments(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg, err := message.Build(ctx, testEmail(
		email.Attachment{Name: "attachment.txt", ContentType: "text/plain", Content: strings.NewReader("Test content")},
	), message.BuildOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, msg)
}

func TestNewID(t *testing.T) {
	t.Parallel()

	assert.True(t, strings.HasSuffix(message.NewID("a@example.org"), "@example.org"))
	assert.True(t, strings.HasSuffix(message.NewID("no-domain"), "@localhost"))
	assert.True(t, strings.HasSuffix(message.NewID("trailing@"), "@localhost"))
}

func TestMessage_Recipients(t *testing.T) {
	t.Parallel()

	msg := &message.Message{
		To:  []message.Mailbox{{Address: "a@test.com"}, {Address: "b@test.com"}},
		Cc:  []message.Mailbox{{Address: "B@test.com"}, {Address: "c@test.com"}},
		Bcc: []message.Mailbox{{Address: "d@test.com"}, {Address: ""}},
	}

	assert.Equal(t, []string{"a@test.com", "b@test.com", "c@test.com", "d@test.com"}, msg.Recipients())
}

func TestMessage_WriteTo(t *testing.T) {
	t.Parallel()

	e := testEmail(
		email.Attachment{Name: "report.pdf", ContentType: "application/pdf", Content: strings.NewReader("%PDF-1.4")},
		email.Attachment{Name: "unknown.bin", ContentType: "", Content: strings.NewReader("raw")},
	)
	e.Bcc = []email.Address{email.NewAddress("hidden@test.com")}

	msg, err := message.Build(context.Background(), e, message.BuildOptions{})
	require.NoError(t, err)

	raw, err := msg.Bytes()
	require.NoError(t, err)

	parsed, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)

	assert.Equal(t, "Test Subject", parsed.Header.Get("Subject"))
	assert.Equal(t, "<"+msg.ID+">", parsed.Header.Get("Message-Id"))
	assert.Contains(t, parsed.Header.Get("From"), "sender@test.com")
	assert.Contains(t, parsed.Header.Get("To"), "recipient@test.com")
	assert.Contains(t, parsed.Header.Get("Content-Type"), "multipart/mixed")

	body := string(raw)
	assert.Contains(t, body, "application/pdf")
	assert.Contains(t, body, "application/octet-stream")
	assert.Contains(t, body, "report.pdf")
	assert.NotContains(t, body, "hidden@test.com")
}

func TestMessage_ReplyTo(t *testing.T) {
	t.Parallel()

	base := func(replyTo ...message.Mailbox) *message.Message {
		return &message.Message{
			ID:       "reply@test.com",
			From:     message.Mailbox{Address: "sender@test.com"},
			To:       []message.Mailbox{{Address: "recipient@test.com"}},
			ReplyTo:  replyTo,
			Subject:  "Reply",
			TextBody: "Hello",
		}
	}

	t.Run("single", func(t *testing.T) {
		raw, err := base(message.Mailbox{Name: "Support", Address: "support@test.com"}).Bytes()
		require.NoError(t, err)
		parsed, err := mail.ReadMessage(strings.NewReader(string(raw)))
		require.NoError(t, err)
		list, err := parsed.Header.AddressList("Reply-To")
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "support@test.com", list[0].Address)
		assert.Equal(t, "Support", list[0].Name)
	})

	t.Run("several", func(t *testing.T) {
		raw, err := base(
			message.Mailbox{Address: "one@test.com"},
			message.Mailbox{Address: "two@test.com"},
		).Bytes()
		require.NoError(t, err)
		parsed, err := mail.ReadMessage(strings.NewReader(string(raw)))
		require.NoError(t, err)
		list, err := parsed.Header.AddressList("Reply-To")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "one@test.com", list[0].Address)
		assert.Equal(t, "two@test.com", list[1].Address)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := base(message.Mailbox{Address: "broken@"}).Bytes()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Reply-To")

		msg := base()
		msg.To = []message.Mailbox{{Address: "broken@"}}
		_, err = msg.Bytes()
		assert.Error(t, err, "To is validated the same way")
	})
}
