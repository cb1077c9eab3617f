package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	masterdata "building-cloud/internal/masterdata/domain"
	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/providers"
)

const (
	DefaultExpoURL       = "https://exp.host/--/api/v2/push/send"
	DefaultExpoChannelID = "building_announcements"
	expoMaxBatch         = 100
)

// ExpoSender delivers token-addressed push notifications through the Expo relay.
type ExpoSender struct {
	url    string
	client *http.Client
}

// ExpoOption configures the sender.
type ExpoOption func(*ExpoSender)

// WithExpoURL overrides the relay endpoint.
func WithExpoURL(url string) ExpoOption {
	return func(s *ExpoSender) {
		if url != "" {
			s.url = url
		}
	}
}

// WithExpoHTTPClient overrides the HTTP client.
func WithExpoHTTPClient(client *http.Client) ExpoOption {
	return func(s *ExpoSender) {
		if client != nil {
			s.client = client
		}
	}
}

// NewExpoSender constructs a sender.
func NewExpoSender(opts ...ExpoOption) *ExpoSender {
	s := &ExpoSender{
		url:    DefaultExpoURL,
		client: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ExpoSender) Channel() notify.Channel { return notify.ChannelPushToken }

func (s *ExpoSender) BatchSize() int { return expoMaxBatch }

// Addresses keeps only tokens issued by Expo.
func (s *ExpoSender) Addresses(r Recipient) []string {
	var out []string
	for _, token := range r.PushTokens {
		token = strings.TrimSpace(token)
		if masterdata.IsExpoToken(token) {
			out = append(out, token)
		}
	}
	return out
}

func (s *ExpoSender) Ready(cfg *providers.TenantConfig) error {
	_, err := cfg.ExpoSettings()
	return err
}

type expoMessage struct {
	To        string            `json:"to"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Priority  string            `json:"priority"`
	Sound     string            `json:"sound"`
	ChannelID string            `json:"channelId"`
}

type expoTicket struct {
	Status  string `json:"status"`
	ID      string `json:"id"`
	Message string `json:"message"`
	Details struct {
		Error string `json:"error"`
	} `json:"details"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Send posts one entry per token and maps tickets back to recipients.
// A recipient succeeds when any of its tokens is accepted.
func (s *ExpoSender) Send(ctx context.Context, cfg *providers.TenantConfig, batch []Message) ([]error, error) {
	settings, err := cfg.ExpoSettings()
	if err != nil {
		return nil, err
	}
	channelID := settings.ChannelID
	if channelID == "" {
		channelID = DefaultExpoChannelID
	}

	var entries []expoMessage
	var owner []int
	for i, msg := range batch {
		for _, token := range msg.Addresses {
			entries = append(entries, expoMessage{
				To:        token,
				Title:     msg.Subject,
				Body:      msg.Plain,
				Data:      msg.Data,
				Priority:  "high",
				Sound:     "default",
				ChannelID: channelID,
			})
			owner = append(owner, i)
		}
	}

	delivered := make([]bool, len(batch))
	failures := make([]error, len(batch))
	for start := 0; start < len(entries); start += expoMaxBatch {
		end := start + expoMaxBatch
		if end > len(entries) {
			end = len(entries)
		}
		tickets, err := s.post(ctx, settings.AccessToken, entries[start:end])
		for j := start; j < end; j++ {
			idx := owner[j]
			var entryErr error
			switch {
			case err != nil:
				entryErr = err
			case j-start >= len(tickets):
				entryErr = &providers.RejectedError{Provider: providers.ProviderExpo, Message: "missing ticket"}
			case tickets[j-start].Status != "ok":
				t := tickets[j-start]
				entryErr = &providers.RejectedError{Provider: providers.ProviderExpo, Code: t.Details.Error, Message: t.Message}
			}
			if entryErr == nil {
				delivered[idx] = true
			} else if failures[idx] == nil {
				failures[idx] = entryErr
			}
		}
	}

	out := make([]error, len(batch))
	for i := range batch {
		if delivered[i] {
			continue
		}
		out[i] = failures[i]
		if out[i] == nil {
			out[i] = &providers.RejectedError{Provider: providers.ProviderExpo, Message: "no valid token"}
		}
	}
	return out, nil
}

func (s *ExpoSender) post(ctx context.Context, accessToken string, entries []expoMessage) (tickets []expoTicket, err error) {
	start := time.Now()
	defer func() { observe(providers.ProviderExpo, start, err) }()

	body, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, providers.ClassifyTransport(providers.ProviderExpo, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, providers.ClassifyTransport(providers.ProviderExpo, err)
	}

	var decoded expoResponse
	_ = json.Unmarshal(raw, &decoded)
	if resp.StatusCode >= 300 || len(decoded.Errors) > 0 {
		rejected := &providers.RejectedError{Provider: providers.ProviderExpo, HTTPStatus: resp.StatusCode}
		if len(decoded.Errors) > 0 {
			rejected.Code = decoded.Errors[0].Code
			rejected.Message = decoded.Errors[0].Message
		} else {
			rejected.Message = fmt.Sprintf("http %d", resp.StatusCode)
		}
		return nil, rejected
	}
	return decoded.Data, nil
}
