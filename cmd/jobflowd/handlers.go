package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobflow/queue"
)

// Queue names. The handler bodies here are thin stand-ins that log the work;
// real deployments swap them for integrations (SMTP, object storage, billing).
const (
	queueEmail     = "email"
	queueFiles     = "files"
	queueAnalytics = "analytics"
	queuePayments  = "payments"
	queueReferrals = "referrals"
	queueReports   = "reports"
)

// newRegistry declares the business queues with their execution profiles.
// Latency-sensitive queues get more concurrency and a short lease; batch
// queues run narrow with a long lease.
func newRegistry(cfg queue.Config) (*queue.Registry, error) {
	base := queue.QueueConfig{
		MaxAttempts:  3,
		Retention:    cfg.Retention,
		LeaseTTL:     cfg.LeaseTTL,
		PollInterval: cfg.PollInterval,
	}

	type profile struct {
		name        string
		concurrency int
		maxAttempts int
		leaseTTL    time.Duration
	}
	profiles := []profile{
		{name: queueEmail, concurrency: 10},
		{name: queueFiles, concurrency: 4},
		{name: queueAnalytics, concurrency: 2, leaseTTL: 15 * time.Minute},
		{name: queuePayments, concurrency: 4, maxAttempts: 5},
		{name: queueReferrals, concurrency: 2},
		{name: queueReports, concurrency: 1, leaseTTL: 30 * time.Minute},
	}

	registry := queue.NewRegistry()
	for _, p := range profiles {
		qc := base
		qc.Concurrency = p.concurrency
		if p.maxAttempts > 0 {
			qc.MaxAttempts = p.maxAttempts
		}
		if p.leaseTTL > 0 {
			qc.LeaseTTL = p.leaseTTL
		}
		if err := registry.AddQueue(p.name, qc); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

type emailPayload struct {
	To       string `json:"to"`
	Template string `json:"template"`
}

func (p emailPayload) Validate() error {
	if p.To == "" {
		return errors.New("recipient is required")
	}
	if p.Template == "" {
		return errors.New("template is required")
	}
	return nil
}

type fileCleanupPayload struct {
	Path string `json:"path,omitempty"`
}

type analyticsPayload struct {
	Window string `json:"window,omitempty"`
	Since  string `json:"since,omitempty"`
}

type paymentPayload struct {
	InvoiceID string `json:"invoice_id,omitempty"`
}

type referralPayload struct {
	UserID string `json:"user_id,omitempty"`
}

type reportPayload struct {
	Date string `json:"date,omitempty"`
}

// registerHandlers binds a handler for every job type the daemon serves.
func registerHandlers(registry *queue.Registry, log *slog.Logger) error {
	type binding struct {
		queue   string
		handler queue.Handler
	}
	bindings := []binding{
		{queueEmail, queue.NewJobHandler("email.send", func(ctx context.Context, p emailPayload) error {
			log.InfoContext(ctx, "sending email",
				slog.String("to", p.To),
				slog.String("template", p.Template))
			return nil
		})},
		{queueFiles, queue.NewJobHandler("file.cleanup", func(ctx context.Context, p fileCleanupPayload) error {
			log.InfoContext(ctx, "cleaning up files", slog.String("path", p.Path))
			return nil
		})},
		{queueFiles, queue.NewJobHandler("file.quota_reset", func(ctx context.Context, _ struct{}) error {
			log.InfoContext(ctx, "resetting bandwidth quotas")
			return nil
		})},
		{queueAnalytics, queue.NewJobHandler("analytics.aggregate", func(ctx context.Context, p analyticsPayload) error {
			log.InfoContext(ctx, "aggregating analytics",
				slog.String("window", p.Window),
				slog.String("since", p.Since))
			return nil
		})},
		{queuePayments, queue.NewJobHandler("payment.retry_sweep", func(ctx context.Context, _ struct{}) error {
			log.InfoContext(ctx, "sweeping failed payments for retry")
			return nil
		})},
		{queuePayments, queue.NewJobHandler("payment.capture", func(ctx context.Context, p paymentPayload) error {
			log.InfoContext(ctx, "capturing payment", slog.String("invoice_id", p.InvoiceID))
			return nil
		})},
		{queueReferrals, queue.NewJobHandler("referral.reward", func(ctx context.Context, p referralPayload) error {
			log.InfoContext(ctx, "granting referral reward", slog.String("user_id", p.UserID))
			return nil
		})},
		{queueReports, queue.NewJobHandler("report.daily", func(ctx context.Context, p reportPayload) error {
			log.InfoContext(ctx, "building daily report", slog.String("date", p.Date))
			return nil
		})},
	}

	for _, b := range bindings {
		if err := registry.RegisterHandler(b.queue, b.handler); err != nil {
			return err
		}
	}
	return nil
}
