package main

import (
	"time"

	"github.com/dmitrymomot/jobflow/queue"
)

// payloadBuilders binds payload construction to trigger names, for both the
// built-in triggers and any defined in an external triggers file.
var payloadBuilders = map[string]queue.PayloadBuilder{
	"daily-report": func(fireTime time.Time) any {
		return reportPayload{Date: fireTime.Format("2006-01-02")}
	},
	"weekly-analytics": func(fireTime time.Time) any {
		return analyticsPayload{
			Window: "week",
			Since:  fireTime.AddDate(0, 0, -7).Format(time.RFC3339),
		}
	},
}

// registerTriggers installs the built-in cron triggers and, when a triggers
// file is configured, the operator-defined ones on top.
func registerTriggers(scheduler *queue.Scheduler, triggersFile string) error {
	builtin := []queue.Trigger{
		{
			Name:     "daily-report",
			Schedule: queue.DailyAt(6, 0),
			Queue:    queueReports,
			JobType:  "report.daily",
			Payload:  payloadBuilders["daily-report"],
		},
		{
			Name:     "weekly-analytics",
			Schedule: queue.WeeklyOn(time.Monday, 3, 0),
			Queue:    queueAnalytics,
			JobType:  "analytics.aggregate",
			Payload:  payloadBuilders["weekly-analytics"],
		},
		{
			Name:     "payment-retry-sweep",
			Schedule: queue.HourlyAt(15),
			Queue:    queuePayments,
			JobType:  "payment.retry_sweep",
		},
		{
			Name:     "bandwidth-quota-reset",
			Schedule: queue.DailyAt(0, 0),
			Queue:    queueFiles,
			JobType:  "file.quota_reset",
		},
	}

	for _, t := range builtin {
		if err := scheduler.AddTrigger(t); err != nil {
			return err
		}
	}

	if triggersFile == "" {
		return nil
	}
	extra, err := queue.LoadTriggersFile(triggersFile, payloadBuilders)
	if err != nil {
		return err
	}
	for _, t := range extra {
		if err := scheduler.AddTrigger(t); err != nil {
			return err
		}
	}
	return nil
}
