// vantage-messenger - A CRM dashboard real-time messaging client.
// Copyright (C) 2026 Vantage CRM
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// restClient talks to the history/persist layer: the idempotent history
// fetch that resolves conversation ids, and the durable multipart send.
type restClient struct {
	baseURL string
	token   string
	httpc   *http.Client
	log     zerolog.Logger
}

func newRESTClient(baseURL, token string, log zerolog.Logger) *restClient {
	return &restClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "rest").Logger(),
	}
}

func (r *restClient) do(req *http.Request) ([]byte, error) {
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		// The server reports structured failures in the body even on error
		// statuses; let the caller decode them.
		return body, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}

type historyResponse struct {
	ConversationID string        `json:"conversationId"`
	Messages       []wireMessage `json:"messages"`
}

// fetchHistory resolves a contact's conversation id and seed messages.
// Safe to call repeatedly; the server returns the same conversation id for
// the same contact.
func (r *restClient) fetchHistory(ctx context.Context, contactID string, contactType PeerType) (string, []*Message, error) {
	url := fmt.Sprintf("%s/history/%s/%s", r.baseURL, contactID, contactType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, err
	}
	body, err := r.do(req)
	if err != nil {
		return "", nil, err
	}
	var hist historyResponse
	if err := json.Unmarshal(body, &hist); err != nil {
		return "", nil, fmt.Errorf("failed to decode history response: %w", err)
	}
	msgs := make([]*Message, len(hist.Messages))
	for i := range hist.Messages {
		m := hist.Messages[i].toMessage()
		m.ConversationID = hist.ConversationID
		msgs[i] = m
	}
	return hist.ConversationID, msgs, nil
}

// sendEnvelope covers both response shapes of POST send: a bare confirmed
// message, or {success:false, message:"reason"}.
type sendEnvelope struct {
	Success *bool           `json:"success"`
	Message json.RawMessage `json:"message"`
}

// sendMessage durably persists a message. The conversation id addresses an
// existing conversation; when it is still unresolved, other addresses the
// counterpart directly and the server creates the conversation.
func (r *restClient) sendMessage(ctx context.Context, m *Message, other *ContactKey, files []*StagedAttachment) (*Message, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if m.ConversationID != "" {
		_ = w.WriteField("conversationId", m.ConversationID)
	} else if other != nil {
		_ = w.WriteField("otherId", other.ID)
		_ = w.WriteField("otherType", string(other.Type))
	}
	_ = w.WriteField("text", m.Text)
	messageType := "text"
	if len(files) > 0 {
		messageType = "file"
	}
	_ = w.WriteField("messageType", messageType)
	if m.LocalID != "" {
		_ = w.WriteField("localId", m.LocalID)
	}
	if m.ReplyToID != "" {
		_ = w.WriteField("replyToId", m.ReplyToID)
	}
	for _, f := range files {
		part, err := w.CreateFormFile("files", f.Name)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/send", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	body, httpErr := r.do(req)

	var env sendEnvelope
	if len(body) > 0 && json.Unmarshal(body, &env) == nil && env.Success != nil {
		if !*env.Success {
			var reason string
			_ = json.Unmarshal(env.Message, &reason)
			return nil, &PersistError{Reason: reason}
		}
		var wm wireMessage
		if err := json.Unmarshal(env.Message, &wm); err != nil {
			return nil, fmt.Errorf("failed to decode confirmed message: %w", err)
		}
		return wm.toMessage(), nil
	}
	if httpErr != nil {
		return nil, httpErr
	}
	var wm wireMessage
	if err := json.Unmarshal(body, &wm); err != nil {
		return nil, fmt.Errorf("failed to decode send response: %w", err)
	}
	return wm.toMessage(), nil
}
