package fanout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"golang.org/x/sync/errgroup"

	masterdata "building-cloud/internal/masterdata/domain"
	"building-cloud/internal/notify/channels"
	notify "building-cloud/internal/notify/domain"
	"building-cloud/internal/notify/template"
	"building-cloud/internal/observability/logging"
	"building-cloud/internal/observability/metrics"
	"building-cloud/internal/providers"
)

const (
	defaultWorkers          = 4
	defaultCallTimeout      = 30 * time.Second
	defaultBreakerFailures  = 5
	defaultBreakerDelay     = 30 * time.Second
	reasonCircuitOpen       = "circuit open"
	dataKeyTemplate         = "template"
	dataKeyDefinition       = "definition_id"
	variableBuildingName    = "building_name"
	variableUserName        = "user_name"
	variableResidentName    = "resident_name"
	variableApartmentNumber = "apartment_number"
)

// ErrCircuitOpen marks recipients that were not attempted because the
// tenant's channel breaker was open.
var ErrCircuitOpen = errors.New(reasonCircuitOpen)

// RecipientDirectory lists the active residents of a tenant.
type RecipientDirectory interface {
	Recipients(ctx context.Context, tenantID string) ([]channels.Recipient, error)
}

// ConfigSource returns the provider configuration snapshot of a tenant.
type ConfigSource interface {
	Get(ctx context.Context, tenantID string) (*providers.TenantConfig, error)
}

// TemplateResolver resolves a template name for a tenant.
type TemplateResolver interface {
	Resolve(ctx context.Context, name, tenantID string) (template.Template, error)
}

// DefinitionBinder links a dispatch to a monthly due definition.
type DefinitionBinder interface {
	BindingVariables(ctx context.Context, tenantID, id string) (map[string]string, error)
	MarkSent(ctx context.Context, tenantID, id string, sentCount int) error
}

// Request describes one fan-out.
type Request struct {
	TenantID     string            `json:"tenant_id"`
	Channel      notify.Channel    `json:"channel"`
	TemplateName string            `json:"template_name"`
	Variables    map[string]any    `json:"variables,omitempty"`
	DefinitionID string            `json:"definition_id,omitempty"`
	Resend       bool              `json:"resend,omitempty"`
}

// RecipientFailure is one recipient that was attempted and not delivered.
type RecipientFailure struct {
	RecipientID string `json:"recipient_id"`
	Address     string `json:"address,omitempty"`
	Reason      string `json:"reason"`
}

// Report aggregates a fan-out. SentCount+FailedCount equals the number of
// eligible recipients that were not skipped by the delivery ledger.
type Report struct {
	Channel              notify.Channel     `json:"channel"`
	SentCount            int                `json:"sent_count"`
	FailedCount          int                `json:"failed_count"`
	SkippedCount         int                `json:"skipped_count"`
	IneligibleCount      int                `json:"ineligible_count"`
	Failures             []RecipientFailure `json:"failures"`
	DefinitionMarkedSent bool               `json:"definition_marked_sent"`
}

// Dispatcher renders a template per recipient and hands it to a channel sender.
type Dispatcher struct {
	directory   RecipientDirectory
	configs     ConfigSource
	templates   TemplateResolver
	tenants     masterdata.TenantReader
	senders     map[notify.Channel]channels.Sender
	definitions DefinitionBinder
	ledger      notify.DeliveryLedger
	workers     int
	callTimeout time.Duration
	failures    uint
	delay       time.Duration
	now         func() time.Time
	logger      logging.Logger

	mu       sync.Mutex
	breakers map[string]circuitbreaker.CircuitBreaker[any]
}

// Option configures the dispatcher.
type Option func(*Dispatcher)

// WithDefinitions enables dispatches bound to a due definition.
func WithDefinitions(binder DefinitionBinder) Option {
	return func(d *Dispatcher) {
		d.definitions = binder
	}
}

// WithDeliveryLedger enables skipping recipients already delivered for a definition.
func WithDeliveryLedger(ledger notify.DeliveryLedger) Option {
	return func(d *Dispatcher) {
		d.ledger = ledger
	}
}

// WithWorkers bounds concurrent provider calls per dispatch.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

// WithCallTimeout bounds each provider call.
func WithCallTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.callTimeout = timeout
		}
	}
}

// WithBreaker sets how many consecutive failed calls open a tenant channel
// and how long it stays open.
func WithBreaker(failures uint, delay time.Duration) Option {
	return func(d *Dispatcher) {
		if failures > 0 {
			d.failures = failures
		}
		if delay > 0 {
			d.delay = delay
		}
	}
}

// WithClock overrides the clock used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDispatcher constructs a dispatcher over the given channel senders.
func NewDispatcher(directory RecipientDirectory, configs ConfigSource, templates TemplateResolver, tenants masterdata.TenantReader, senders []channels.Sender, opts ...Option) (*Dispatcher, error) {
	if directory == nil {
		return nil, errors.New("fanout: nil recipient directory")
	}
	if configs == nil {
		return nil, errors.New("fanout: nil config source")
	}
	if templates == nil {
		return nil, errors.New("fanout: nil template resolver")
	}
	if tenants == nil {
		return nil, errors.New("fanout: nil tenant reader")
	}
	d := &Dispatcher{
		directory:   directory,
		configs:     configs,
		templates:   templates,
		tenants:     tenants,
		senders:     make(map[notify.Channel]channels.Sender, len(senders)),
		workers:     defaultWorkers,
		callTimeout: defaultCallTimeout,
		failures:    defaultBreakerFailures,
		delay:       defaultBreakerDelay,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logging.NewDiscard(),
		breakers:    make(map[string]circuitbreaker.CircuitBreaker[any]),
	}
	for _, sender := range senders {
		switch sender.(type) {
		case channels.BatchSender, channels.TopicSender:
		default:
			return nil, fmt.Errorf("fanout: sender for %s cannot deliver", sender.Channel())
		}
		d.senders[sender.Channel()] = sender
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

type target struct {
	recipient channels.Recipient
	addresses []string
}

type outcome struct {
	err error
}

// Dispatch delivers a template to every eligible recipient of the tenant.
// Per-recipient failures are reported, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Report, error) {
	started := time.Now()
	report := Report{Channel: req.Channel, Failures: []RecipientFailure{}}
	if req.TenantID == "" {
		return report, masterdata.ErrTenantNotFound
	}
	if strings.TrimSpace(req.TemplateName) == "" {
		return report, notify.ErrNoTemplate
	}
	sender, ok := d.senders[req.Channel]
	if !ok {
		return report, notify.ErrUnknownChannel
	}
	if req.DefinitionID != "" && d.definitions == nil {
		return report, errors.New("fanout: definition binding not configured")
	}

	base, err := d.baseVariables(ctx, req)
	if err != nil {
		return report, err
	}
	tpl, err := d.templates.Resolve(ctx, req.TemplateName, req.TenantID)
	if err != nil {
		return report, err
	}
	recipients, err := d.directory.Recipients(ctx, req.TenantID)
	if err != nil {
		return report, fmt.Errorf("list recipients: %w", err)
	}

	var delivered map[string]struct{}
	key := notify.DeliveryKey{TenantID: req.TenantID, DefinitionID: req.DefinitionID, Channel: req.Channel}
	if req.DefinitionID != "" && d.ledger != nil && !req.Resend {
		delivered, err = d.ledger.Delivered(ctx, key)
		if err != nil {
			return report, fmt.Errorf("load delivery ledger: %w", err)
		}
	}

	var targets []target
	for _, r := range recipients {
		addresses := sender.Addresses(r)
		if len(addresses) == 0 {
			report.IneligibleCount++
			continue
		}
		if _, done := delivered[r.ID]; done {
			report.SkippedCount++
			continue
		}
		targets = append(targets, target{recipient: r, addresses: addresses})
	}

	outcomes := make([]outcome, len(targets))
	if len(targets) > 0 {
		d.deliver(ctx, req, sender, tpl, base, targets, outcomes)
	}

	var sentIDs []string
	for i, t := range targets {
		if outcomes[i].err == nil {
			report.SentCount++
			sentIDs = append(sentIDs, t.recipient.ID)
			continue
		}
		report.FailedCount++
		report.Failures = append(report.Failures, RecipientFailure{
			RecipientID: t.recipient.ID,
			Address:     strings.Join(t.addresses, ","),
			Reason:      failureReason(outcomes[i].err),
		})
	}

	if req.DefinitionID != "" {
		if d.ledger != nil && len(sentIDs) > 0 {
			if err := d.ledger.Record(context.WithoutCancel(ctx), key, sentIDs, d.now()); err != nil {
				d.logger.WithError(err).WithField("definition_id", req.DefinitionID).Warn("record deliveries failed")
			}
		}
		if report.SentCount > 0 {
			if err := d.definitions.MarkSent(context.WithoutCancel(ctx), req.TenantID, req.DefinitionID, report.SentCount); err != nil {
				d.logger.WithError(err).WithField("definition_id", req.DefinitionID).Error("mark definition sent failed")
			} else {
				report.DefinitionMarkedSent = true
			}
		}
	}

	metrics.ObserveFanout(string(req.Channel), report.SentCount, report.FailedCount, report.SkippedCount, time.Since(started))
	d.logger.WithFields(logging.Fields{
		"tenant_id":     req.TenantID,
		"channel":       req.Channel,
		"template":      req.TemplateName,
		"definition_id": req.DefinitionID,
		"sent":          report.SentCount,
		"failed":        report.FailedCount,
		"skipped":       report.SkippedCount,
		"ineligible":    report.IneligibleCount,
	}).Info("fanout completed")
	return report, nil
}

func (d *Dispatcher) baseVariables(ctx context.Context, req Request) (map[string]string, error) {
	vars := make(map[string]string, len(req.Variables)+8)
	for k, v := range template.Stringify(req.Variables) {
		vars[k] = v
	}
	tenant, err := d.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}
	if tenant == nil {
		return nil, masterdata.ErrTenantNotFound
	}
	vars[variableBuildingName] = tenant.Name
	if req.DefinitionID != "" {
		bound, err := d.definitions.BindingVariables(ctx, req.TenantID, req.DefinitionID)
		if err != nil {
			return nil, err
		}
		for k, v := range bound {
			vars[k] = v
		}
	}
	return vars, nil
}

func (d *Dispatcher) deliver(ctx context.Context, req Request, sender channels.Sender, tpl template.Template, base map[string]string, targets []target, outcomes []outcome) {
	cfg, err := d.configs.Get(ctx, req.TenantID)
	if err == nil {
		err = sender.Ready(cfg)
	}
	if err != nil {
		for i := range outcomes {
			outcomes[i].err = err
		}
		return
	}
	breaker := d.breaker(req.TenantID, req.Channel)
	data := map[string]string{dataKeyTemplate: req.TemplateName}
	if req.DefinitionID != "" {
		data[dataKeyDefinition] = req.DefinitionID
	}

	switch s := sender.(type) {
	case channels.TopicSender:
		rendered := template.Render(tpl, base)
		msg := channels.Message{
			TenantID:     req.TenantID,
			TemplateName: req.TemplateName,
			Subject:      rendered.Subject,
			Rich:         rendered.Rich,
			Plain:        rendered.Plain,
			Data:         data,
		}
		err := d.guard(ctx, req.Channel, breaker, func(callCtx context.Context) error {
			return s.SendTopic(callCtx, cfg, req.TenantID, msg)
		})
		for i := range outcomes {
			outcomes[i].err = err
		}
	case channels.BatchSender:
		messages := make([]channels.Message, len(targets))
		for i, t := range targets {
			rendered := template.Render(tpl, recipientVariables(base, t.recipient))
			messages[i] = channels.Message{
				TenantID:     req.TenantID,
				RecipientID:  t.recipient.ID,
				Addresses:    t.addresses,
				TemplateName: req.TemplateName,
				Subject:      rendered.Subject,
				Rich:         rendered.Rich,
				Plain:        rendered.Plain,
				Data:         data,
			}
		}
		size := s.BatchSize()
		if size <= 0 {
			size = 1
		}
		var g errgroup.Group
		g.SetLimit(d.workers)
		for start := 0; start < len(messages); start += size {
			start := start
			end := start + size
			if end > len(messages) {
				end = len(messages)
			}
			g.Go(func() error {
				d.sendBatch(ctx, breaker, s, cfg, messages[start:end], outcomes[start:end])
				return nil
			})
		}
		_ = g.Wait()
	}
}

func (d *Dispatcher) sendBatch(ctx context.Context, breaker circuitbreaker.CircuitBreaker[any], sender channels.BatchSender, cfg *providers.TenantConfig, batch []channels.Message, outcomes []outcome) {
	var results []error
	err := d.guard(ctx, sender.Channel(), breaker, func(callCtx context.Context) error {
		var err error
		results, err = sender.Send(callCtx, cfg, batch)
		if err != nil {
			return err
		}
		return batchFailure(results)
	})
	for i := range outcomes {
		switch {
		case i < len(results):
			outcomes[i].err = results[i]
		case err != nil:
			outcomes[i].err = err
		default:
			outcomes[i].err = errors.New("no result from sender")
		}
	}
}

// guard runs fn through the breaker with a per-call deadline. A call cut
// off by the deadline counts as a transient failure.
func (d *Dispatcher) guard(ctx context.Context, channel notify.Channel, breaker circuitbreaker.CircuitBreaker[any], fn func(context.Context) error) error {
	_, err := failsafe.With(breaker).Get(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
		err := fn(callCtx)
		if err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && !providers.IsTransient(err) {
			err = providers.Transient(providers.Provider(channel), err)
		}
		return nil, err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return ErrCircuitOpen
	}
	return err
}

func (d *Dispatcher) breaker(tenantID string, channel notify.Channel) circuitbreaker.CircuitBreaker[any] {
	key := tenantID + "|" + string(channel)
	d.mu.Lock()
	defer d.mu.Unlock()
	if cb, ok := d.breakers[key]; ok {
		return cb
	}
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureThresholdRatio(d.failures, d.failures).
		WithDelay(d.delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(event circuitbreaker.StateChangedEvent) {
			d.logger.WithFields(logging.Fields{
				"tenant_id":  tenantID,
				"channel":    channel,
				"from_state": fmt.Sprint(event.OldState),
				"to_state":   fmt.Sprint(event.NewState),
			}).Warn("channel breaker state change")
		}).
		Build()
	d.breakers[key] = cb
	return cb
}

// batchFailure reports a failure to the breaker only when every message in
// the batch hit a transport error.
func batchFailure(results []error) error {
	if len(results) == 0 {
		return nil
	}
	for _, err := range results {
		if err == nil || !providers.IsTransient(err) {
			return nil
		}
	}
	return results[0]
}

func recipientVariables(base map[string]string, r channels.Recipient) map[string]string {
	vars := make(map[string]string, len(base)+3)
	for k, v := range base {
		vars[k] = v
	}
	vars[variableUserName] = r.FullName
	vars[variableResidentName] = r.FullName
	vars[variableApartmentNumber] = r.ApartmentLabel
	return vars
}

func failureReason(err error) string {
	if errors.Is(err, ErrCircuitOpen) {
		return reasonCircuitOpen
	}
	return fmt.Sprintf("%s: %s", providers.Kind(err), err.Error())
}
