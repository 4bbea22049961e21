package queue

import "time"

// Config holds the process-level queue settings loaded from the environment.
// Per-queue execution parameters live in QueueConfig on the registry.
type Config struct {
	PollInterval        time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LeaseTTL            time.Duration `env:"QUEUE_LEASE_TTL" envDefault:"5m"`
	ShutdownGrace       time.Duration `env:"QUEUE_SHUTDOWN_GRACE" envDefault:"30s"`
	MaintenanceInterval time.Duration `env:"QUEUE_MAINTENANCE_INTERVAL" envDefault:"30s"`
	SchedulerInterval   time.Duration `env:"QUEUE_SCHEDULER_INTERVAL" envDefault:"30s"`
	Retention           time.Duration `env:"QUEUE_RETENTION" envDefault:"24h"`
	TriggersFile        string        `env:"QUEUE_TRIGGERS_FILE"`
}
