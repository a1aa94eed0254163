// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/bureau-foundation/switchboard/protocol"
)

// ReplyFunc builds the automatic reply to an inbound message.
type ReplyFunc func(protocol.Message) (string, error)

// DefaultReply greets the sender by display name and echoes the
// message's protocol-native payload back to them.
func DefaultReply(message protocol.Message) (string, error) {
	return fmt.Sprintf("Hello %s, I received: %s", senderName(message), payload(message)), nil
}

// replyData is what reply templates see.
type replyData struct {
	Sender     string
	SenderName string
	Chat       string
	Body       string
	Raw        string
}

// TemplateReply parses text as a text/template and returns a ReplyFunc
// that executes it. Templates see .Sender, .SenderName (falling back to
// .Sender), .Chat, .Body and .Raw.
func TemplateReply(text string) (ReplyFunc, error) {
	parsed, err := template.New("reply").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("session: parsing reply template: %w", err)
	}
	return func(message protocol.Message) (string, error) {
		var builder strings.Builder
		err := parsed.Execute(&builder, replyData{
			Sender:     message.Sender,
			SenderName: senderName(message),
			Chat:       message.Chat,
			Body:       message.Body,
			Raw:        payload(message),
		})
		if err != nil {
			return "", fmt.Errorf("session: executing reply template: %w", err)
		}
		return builder.String(), nil
	}, nil
}

func senderName(message protocol.Message) string {
	if message.SenderName != "" {
		return message.SenderName
	}
	return message.Sender
}

func payload(message protocol.Message) string {
	if len(message.Raw) > 0 {
		return string(message.Raw)
	}
	return message.Body
}
