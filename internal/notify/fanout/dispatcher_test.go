package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	masterdata "building-cloud/internal/masterdata/domain"
	"building-cloud/internal/notify/channels"
	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/notify/template"
	"building-cloud/internal/providers"
)

type directoryStub struct {
	recipients []channels.Recipient
}

func (d directoryStub) Recipients(ctx context.Context, tenantID string) ([]channels.Recipient, error) {
	return d.recipients, nil
}

type configStub struct {
	cfg *providers.TenantConfig
}

func (c configStub) Get(ctx context.Context, tenantID string) (*providers.TenantConfig, error) {
	return c.cfg, nil
}

type tenantStub struct{}

func (tenantStub) Get(ctx context.Context, id string) (*masterdata.Tenant, error) {
	return &masterdata.Tenant{ID: id, Name: "Lale Apartments", ApartmentCount: 20, Currency: "TRY"}, nil
}

type binderStub struct {
	mu        sync.Mutex
	marked    int
	sentCount int
}

func (b *binderStub) BindingVariables(ctx context.Context, tenantID, id string) (map[string]string, error) {
	return map[string]string{"month": "2024-03", "amount": "367.35", "currency": "TRY", "due_date": "2024-03-15"}, nil
}

func (b *binderStub) MarkSent(ctx context.Context, tenantID, id string, sentCount int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.marked++
	b.sentCount = sentCount
	return nil
}

type ledgerStub struct {
	mu        sync.Mutex
	delivered map[string]struct{}
	recorded  []string
}

func (l *ledgerStub) Delivered(ctx context.Context, key notify.DeliveryKey) (map[string]struct{}, error) {
	return l.delivered, nil
}

func (l *ledgerStub) Record(ctx context.Context, key notify.DeliveryKey, recipientIDs []string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorded = append(l.recorded, recipientIDs...)
	return nil
}

// mailSender fails recipients listed in reject and records every message.
type mailSender struct {
	mu       sync.Mutex
	reject   map[string]bool
	batchErr error
	calls    int
	messages []channels.Message
}

func (s *mailSender) Channel() notify.Channel { return notify.ChannelEmail }

func (s *mailSender) Addresses(r channels.Recipient) []string {
	if r.Email == "" {
		return nil
	}
	return []string{r.Email}
}

func (s *mailSender) Ready(cfg *providers.TenantConfig) error { return nil }

func (s *mailSender) BatchSize() int { return 1 }

func (s *mailSender) Send(ctx context.Context, cfg *providers.TenantConfig, batch []channels.Message) ([]error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.batchErr != nil {
		return nil, s.batchErr
	}
	out := make([]error, len(batch))
	for i, msg := range batch {
		s.messages = append(s.messages, msg)
		if s.reject[msg.RecipientID] {
			out[i] = &providers.RejectedError{Provider: providers.ProviderSMTP, Code: "550", Message: "mailbox unavailable"}
		}
	}
	return out, nil
}

// stallingSender never answers for the recipients in stall and delivers the rest.
type stallingSender struct {
	mailSender
	stall map[string]bool
}

func (s *stallingSender) Send(ctx context.Context, cfg *providers.TenantConfig, batch []channels.Message) ([]error, error) {
	for _, msg := range batch {
		if s.stall[msg.RecipientID] {
			<-ctx.Done()
			return nil, ctx.Err()
		}
	}
	return s.mailSender.Send(ctx, cfg, batch)
}

type topicSender struct {
	calls    int
	messages []channels.Message
}

func (s *topicSender) Channel() notify.Channel { return notify.ChannelPushTopic }

func (s *topicSender) Addresses(r channels.Recipient) []string { return r.TopicTokens }

func (s *topicSender) Ready(cfg *providers.TenantConfig) error { return nil }

func (s *topicSender) SendTopic(ctx context.Context, cfg *providers.TenantConfig, tenantID string, msg channels.Message) error {
	s.calls++
	s.messages = append(s.messages, msg)
	return nil
}

type countingTransport struct {
	calls int
}

func (t *countingTransport) Send(ctx context.Context, cfg providers.SMTPConfig, from string, to []string, msg []byte) error {
	t.calls++
	return nil
}

func residents(n int) []channels.Recipient {
	out := make([]channels.Recipient, n)
	for i := range out {
		out[i] = channels.Recipient{
			ID:             fmt.Sprintf("r-%d", i+1),
			TenantID:       "t-1",
			FullName:       fmt.Sprintf("Resident %d", i+1),
			ApartmentLabel: fmt.Sprintf("A-%d", i+1),
			Email:          fmt.Sprintf("r%d@example.com", i+1),
		}
	}
	return out
}

func newDispatcher(t *testing.T, recipients []channels.Recipient, cfg *providers.TenantConfig, sender channels.Sender, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(directoryStub{recipients: recipients}, configStub{cfg: cfg}, template.NewResolver(nil), tenantStub{}, []channels.Sender{sender}, opts...)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func TestDispatchPartialFailureMarksDefinitionSent(t *testing.T) {
	sender := &mailSender{reject: map[string]bool{"r-3": true, "r-7": true}}
	binder := &binderStub{}
	ledger := &ledgerStub{}
	d := newDispatcher(t, residents(20), &providers.TenantConfig{}, sender, WithDefinitions(binder), WithDeliveryLedger(ledger))

	report, err := d.Dispatch(context.Background(), Request{
		TenantID:     "t-1",
		Channel:      notify.ChannelEmail,
		TemplateName: "payment_reminder",
		DefinitionID: "def-1",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.SentCount != 18 || report.FailedCount != 2 {
		t.Fatalf("expected 18/2, got %d/%d", report.SentCount, report.FailedCount)
	}
	if len(report.Failures) != 2 {
		t.Fatalf("expected 2 failures, got %d", len(report.Failures))
	}
	if !strings.Contains(report.Failures[0].Reason, "mailbox unavailable") {
		t.Fatalf("unexpected reason: %s", report.Failures[0].Reason)
	}
	if !report.DefinitionMarkedSent || binder.marked != 1 || binder.sentCount != 18 {
		t.Fatalf("expected definition marked sent with 18, got %+v %d", binder, binder.sentCount)
	}
	if len(ledger.recorded) != 18 {
		t.Fatalf("expected 18 ledger entries, got %d", len(ledger.recorded))
	}

	var first channels.Message
	for _, msg := range sender.messages {
		if msg.RecipientID == "r-1" {
			first = msg
		}
	}
	if first.Subject != "Dues reminder - 2024-03" {
		t.Fatalf("unexpected subject: %s", first.Subject)
	}
	want := "Dear Resident 1, your 2024-03 dues for Lale Apartments are 367.35 TRY, due 2024-03-15."
	if first.Plain != want {
		t.Fatalf("expected %q, got %q", want, first.Plain)
	}
}

func TestDispatchMissingConfigurationFailsEveryRecipient(t *testing.T) {
	transport := &countingTransport{}
	sender := channels.NewEmailSender(transport)
	binder := &binderStub{}
	d := newDispatcher(t, residents(20), &providers.TenantConfig{TenantID: "t-1"}, sender, WithDefinitions(binder))

	report, err := d.Dispatch(context.Background(), Request{
		TenantID:     "t-1",
		Channel:      notify.ChannelEmail,
		TemplateName: "payment_reminder",
		DefinitionID: "def-1",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.SentCount != 0 || report.FailedCount != 20 {
		t.Fatalf("expected 0/20, got %d/%d", report.SentCount, report.FailedCount)
	}
	if !strings.HasPrefix(report.Failures[0].Reason, "configuration_missing") {
		t.Fatalf("unexpected reason: %s", report.Failures[0].Reason)
	}
	if transport.calls != 0 {
		t.Fatalf("expected no provider contact, got %d calls", transport.calls)
	}
	if binder.marked != 0 || report.DefinitionMarkedSent {
		t.Fatalf("expected definition to stay unsent")
	}
}

func TestDispatchZeroRecipients(t *testing.T) {
	sender := &mailSender{}
	binder := &binderStub{}
	d := newDispatcher(t, nil, &providers.TenantConfig{}, sender, WithDefinitions(binder))

	report, err := d.Dispatch(context.Background(), Request{
		TenantID:     "t-1",
		Channel:      notify.ChannelEmail,
		TemplateName: "announcement",
		DefinitionID: "def-1",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.SentCount != 0 || report.FailedCount != 0 || len(report.Failures) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
	if sender.calls != 0 || binder.marked != 0 {
		t.Fatalf("expected no sends and no mark, got %d calls %d marks", sender.calls, binder.marked)
	}
}

func TestDispatchCountsIneligibleSeparately(t *testing.T) {
	recipients := residents(5)
	recipients[1].Email = ""
	recipients[4].Email = ""
	sender := &mailSender{}
	d := newDispatcher(t, recipients, &providers.TenantConfig{}, sender)

	report, err := d.Dispatch(context.Background(), Request{TenantID: "t-1", Channel: notify.ChannelEmail, TemplateName: "welcome"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.SentCount != 3 || report.FailedCount != 0 || report.IneligibleCount != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
}

func TestDispatchSkipsDeliveredUnlessResend(t *testing.T) {
	sender := &mailSender{}
	ledger := &ledgerStub{delivered: map[string]struct{}{"r-1": {}, "r-2": {}}}
	d := newDispatcher(t, residents(4), &providers.TenantConfig{}, sender, WithDefinitions(&binderStub{}), WithDeliveryLedger(ledger))
	req := Request{TenantID: "t-1", Channel: notify.ChannelEmail, TemplateName: "payment_reminder", DefinitionID: "def-1"}

	report, err := d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.SentCount != 2 || report.SkippedCount != 2 {
		t.Fatalf("expected 2 sent 2 skipped, got %+v", report)
	}

	req.Resend = true
	report, err = d.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if report.SentCount != 4 || report.SkippedCount != 0 {
		t.Fatalf("expected 4 sent on resend, got %+v", report)
	}
}

func TestDispatchCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	sender := &mailSender{batchErr: providers.Transient(providers.ProviderSMTP, errors.New("connection refused"))}
	d := newDispatcher(t, residents(5), &providers.TenantConfig{}, sender, WithWorkers(1), WithBreaker(2, time.Hour))

	report, err := d.Dispatch(context.Background(), Request{TenantID: "t-1", Channel: notify.ChannelEmail, TemplateName: "welcome"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.calls != 2 {
		t.Fatalf("expected 2 provider calls, got %d", sender.calls)
	}
	if report.FailedCount != 5 || report.SentCount != 0 {
		t.Fatalf("expected 0/5, got %d/%d", report.SentCount, report.FailedCount)
	}
	open := 0
	for _, f := range report.Failures {
		if f.Reason == "circuit open" {
			open++
		}
	}
	if open != 3 {
		t.Fatalf("expected 3 circuit open failures, got %d", open)
	}
}

func TestDispatchCallTimeoutIsolatesHungBatch(t *testing.T) {
	sender := &stallingSender{stall: map[string]bool{"r-2": true}}
	d := newDispatcher(t, residents(6), &providers.TenantConfig{}, sender,
		WithWorkers(2), WithCallTimeout(50*time.Millisecond))

	started := time.Now()
	report, err := d.Dispatch(context.Background(), Request{TenantID: "t-1", Channel: notify.ChannelEmail, TemplateName: "welcome"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Fatalf("expected the hung call to be cut off, took %s", elapsed)
	}
	if report.SentCount+report.FailedCount != 6 {
		t.Fatalf("expected every eligible recipient accounted, got %d/%d", report.SentCount, report.FailedCount)
	}
	if report.SentCount != 5 || report.FailedCount != 1 {
		t.Fatalf("expected 5/1, got %d/%d", report.SentCount, report.FailedCount)
	}
	failure := report.Failures[0]
	if failure.RecipientID != "r-2" {
		t.Fatalf("expected r-2 to fail, got %s", failure.RecipientID)
	}
	if !strings.HasPrefix(failure.Reason, "transient_network") {
		t.Fatalf("expected transient reason, got %s", failure.Reason)
	}
	if len(sender.messages) != 5 {
		t.Fatalf("expected 5 delivered messages, got %d", len(sender.messages))
	}
}

func TestDispatchTopicSendsOnceWithBaseVariables(t *testing.T) {
	recipients := residents(5)
	for i := 0; i < 3; i++ {
		recipients[i].TopicTokens = []string{fmt.Sprintf("fcm-%d", i)}
	}
	sender := &topicSender{}
	d := newDispatcher(t, recipients, &providers.TenantConfig{}, sender)

	report, err := d.Dispatch(context.Background(), Request{
		TenantID:     "t-1",
		Channel:      notify.ChannelPushTopic,
		TemplateName: "announcement",
		Variables:    map[string]any{"announcement_title": "Water outage"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if sender.calls != 1 {
		t.Fatalf("expected one topic send, got %d", sender.calls)
	}
	if report.SentCount != 3 || report.IneligibleCount != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	msg := sender.messages[0]
	if msg.Subject != "Lale Apartments - Water outage" {
		t.Fatalf("unexpected subject: %s", msg.Subject)
	}
	if !strings.Contains(msg.Plain, "{{user_name}}") {
		t.Fatalf("expected recipient placeholder left verbatim, got %q", msg.Plain)
	}
}

func TestDispatchRejectsUnknownChannelAndTemplate(t *testing.T) {
	d := newDispatcher(t, residents(1), &providers.TenantConfig{}, &mailSender{})
	if _, err := d.Dispatch(context.Background(), Request{TenantID: "t-1", Channel: notify.ChannelSMS, TemplateName: "welcome"}); !errors.Is(err, notify.ErrUnknownChannel) {
		t.Fatalf("expected unknown channel, got %v", err)
	}
	if _, err := d.Dispatch(context.Background(), Request{TenantID: "t-1", Channel: notify.ChannelEmail, TemplateName: "missing"}); !errors.Is(err, template.ErrTemplateNotFound) {
		t.Fatalf("expected template not found, got %v", err)
	}
}
