package email

import (
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBuildMessageWithAttachments(t *testing.T) {
	pdf := bytes.Repeat([]byte("%PDF-1.7 "), 40)
	raw, err := buildMessage("facturacion@alima.la", Message{
		To:      []string{"a@proveedor.mx"},
		Cc:      []string{"finanzas@alima.la"},
		Subject: "Factura 03-2024 Alima",
		HTML:    "<p>Gracias por tu pago</p>",
		Attachments: []Attachment{
			{Filename: "factura-03-2024.pdf", ContentType: "application/pdf", Data: pdf},
			{Filename: "factura-03-2024.xml", ContentType: "application/xml", Data: []byte("<cfdi/>")},
		},
	}, time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	parsed, err := mail.ReadMessage(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "a@proveedor.mx", parsed.Header.Get("To"))
	assert.Equal(t, "finanzas@alima.la", parsed.Header.Get("Cc"))

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Factura 03-2024 Alima", subject)

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)

	reader := multipart.NewReader(parsed.Body, params["boundary"])
	var parts []*multipart.Part
	var bodies [][]byte
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		data, err := io.ReadAll(part)
		require.NoError(t, err)
		parts = append(parts, part)
		bodies = append(bodies, data)
	}
	require.Len(t, parts, 3)
	assert.Contains(t, string(bodies[0]), "Gracias por tu pago")
	assert.Equal(t, "factura-03-2024.pdf", parts[1].FileName())
	assert.Equal(t, pdf, bodies[1])
	assert.Equal(t, "factura-03-2024.xml", parts[2].FileName())
}

func TestSMTPProviderSend(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 2525, Username: "u", Password: "p", From: "facturacion@alima.la"}, zaptest.NewLogger(t))

	var gotAddr string
	var gotTo []string
	p.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr = addr
		gotTo = to
		return nil
	}

	err := p.Send(context.Background(), Message{
		To:      []string{"a@p.mx", "b@p.mx"},
		Cc:      []string{"a@p.mx", "finanzas@alima.la"},
		Subject: "Pago pendiente",
		HTML:    "<p>hola</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, "smtp.local:2525", gotAddr)
	assert.Equal(t, []string{"a@p.mx", "b@p.mx", "finanzas@alima.la"}, gotTo)
}

func TestSMTPProviderRejectsEmptyRecipients(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 25, From: "x@alima.la"}, zaptest.NewLogger(t))
	p.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}
	assert.ErrorIs(t, p.Send(context.Background(), Message{Subject: "x"}), ErrNoRecipients)
}

func TestSMTPProviderWrapsTransportError(t *testing.T) {
	p := NewSMTP(Config{Host: "smtp.local", Port: 25, From: "x@alima.la"}, zaptest.NewLogger(t))
	boom := errors.New("connection refused")
	p.send = func(string, smtp.Auth, string, []string, []byte) error { return boom }
	err := p.Send(context.Background(), Message{To: []string{"a@p.mx"}})
	assert.ErrorIs(t, err, boom)
}
