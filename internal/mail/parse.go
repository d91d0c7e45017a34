// Package mail turns raw RFC 5322 messages into the rule engine's message model.
package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset" // decode non-UTF-8 parts
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/k3a/html2text"

	"github.com/Veraticus/the-mail-must-flow/internal/common"
	"github.com/Veraticus/the-mail-must-flow/internal/model"
)

const (
	snippetLength = 200
	// threadHeader is set by Gmail exports and some forwarding setups.
	threadHeader = "X-GM-THRID"
)

// Parse reads a raw message. A message without a Message-ID gets a stable id derived
// from its content, so reprocessing the same bytes maps to the same decision.
func Parse(raw []byte) (model.Message, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if message.IsUnknownCharset(err) {
		slog.Debug("Unknown charset in message", "error", err)
	} else if err != nil {
		return model.Message{}, fmt.Errorf("%w: %w", common.ErrInvalidMsg, err)
	}

	header := gomail.Header{Header: entity.Header}

	msg := model.Message{
		Headers: model.Headers{
			From:       decodedText(entity.Header, "From"),
			To:         decodedText(entity.Header, "To"),
			Cc:         decodedText(entity.Header, "Cc"),
			Subject:    decodedText(entity.Header, "Subject"),
			Date:       entity.Header.Get("Date"),
			ReplyTo:    decodedText(entity.Header, "Reply-To"),
			References: entity.Header.Get("References"),
			InReplyTo:  entity.Header.Get("In-Reply-To"),
		},
	}

	if date, err := header.Date(); err == nil {
		msg.InternalDate = date.UTC()
	} else {
		msg.InternalDate = time.Now().UTC()
	}

	msg.ID = messageID(entity.Header, raw)
	msg.ThreadID = threadID(entity.Header, msg.ID)

	var body bodyParts
	if err := body.walk(entity); err != nil {
		return model.Message{}, fmt.Errorf("%w: %w", common.ErrInvalidMsg, err)
	}
	msg.TextPlain = body.plain
	msg.TextHTML = body.html
	msg.Attachments = body.attachments

	if strings.TrimSpace(msg.TextPlain) == "" && msg.TextHTML != "" {
		msg.TextPlain = html2text.HTML2Text(msg.TextHTML)
	}
	msg.Snippet = snippet(msg.TextPlain)

	return msg, nil
}

// ParseReader reads the whole of r and parses it.
func ParseReader(r io.Reader) (model.Message, []byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return model.Message{}, nil, fmt.Errorf("reading message: %w", err)
	}
	msg, err := Parse(raw)
	return msg, raw, err
}

type bodyParts struct {
	plain       string
	html        string
	attachments []model.Attachment
}

func (b *bodyParts) walk(entity *message.Entity) error {
	mediaType, params, err := entity.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if errors.Is(err, io.EOF) {
				return nil
			}
			if message.IsUnknownCharset(err) || message.IsUnknownEncoding(err) {
				slog.Debug("Skipping undecodable part", "error", err)
				continue
			}
			if err != nil {
				return fmt.Errorf("reading multipart: %w", err)
			}
			if err := b.walk(part); err != nil {
				return err
			}
		}
	}

	content, err := io.ReadAll(entity.Body)
	if err != nil {
		return fmt.Errorf("reading part body: %w", err)
	}

	disposition, dispParams, _ := entity.Header.ContentDisposition()
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}

	switch {
	case disposition == "attachment" || filename != "" || isCalendar(mediaType):
		b.attachments = append(b.attachments, model.Attachment{
			Filename: filename,
			MimeType: mediaType,
			Size:     int64(len(content)),
		})
	case mediaType == "text/plain" && b.plain == "":
		b.plain = string(content)
	case mediaType == "text/html" && b.html == "":
		b.html = string(content)
	}
	return nil
}

func isCalendar(mediaType string) bool {
	return mediaType == "text/calendar" || mediaType == "application/ics"
}

func decodedText(h message.Header, key string) string {
	text, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return text
}

func messageID(h message.Header, raw []byte) string {
	if id := trimAngles(h.Get("Message-Id")); id != "" {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, raw).String()
}

// threadID groups replies under an explicit thread header, then the root of
// References, then In-Reply-To. A message with neither reply header starts its own
// thread, even when a thread header is present.
func threadID(h message.Header, ownID string) string {
	refs := strings.Fields(h.Get("References"))
	inReplyTo := trimAngles(h.Get("In-Reply-To"))
	if len(refs) == 0 && inReplyTo == "" {
		return ownID
	}
	if id := strings.TrimSpace(h.Get(threadHeader)); id != "" {
		return id
	}
	if len(refs) > 0 {
		return trimAngles(refs[0])
	}
	return inReplyTo
}

func trimAngles(s string) string {
	return strings.Trim(strings.TrimSpace(s), "<>")
}

func snippet(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	runes := []rune(collapsed)
	if len(runes) > snippetLength {
		return string(runes[:snippetLength])
	}
	return collapsed
}
