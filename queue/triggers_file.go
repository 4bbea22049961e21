package queue

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// triggersFile is the on-disk trigger definition format:
//
//	triggers:
//	  - name: daily-report
//	    schedule: "daily at 06:00"
//	    queue: reports
//	    job_type: report.daily
//	    priority: 50
//	    max_attempts: 3
type triggersFile struct {
	Triggers []triggerDef `yaml:"triggers"`
}

type triggerDef struct {
	Name        string `yaml:"name"`
	Schedule    string `yaml:"schedule"`
	Queue       string `yaml:"queue"`
	JobType     string `yaml:"job_type"`
	Priority    int    `yaml:"priority"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// LoadTriggersFile reads trigger definitions from a YAML file. Payload
// builders cannot be expressed in YAML, so they are bound by trigger name
// through the builders map; triggers without an entry enqueue an empty
// payload.
func LoadTriggersFile(path string, builders map[string]PayloadBuilder) ([]Trigger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read triggers file %q: %w", path, err)
	}

	var file triggersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse triggers file %q: %w", path, err)
	}

	triggers := make([]Trigger, 0, len(file.Triggers))
	for _, def := range file.Triggers {
		schedule, err := ParseSchedule(def.Schedule)
		if err != nil {
			return nil, fmt.Errorf("trigger %q: %w", def.Name, err)
		}
		triggers = append(triggers, Trigger{
			Name:        def.Name,
			Schedule:    schedule,
			Queue:       def.Queue,
			JobType:     def.JobType,
			Payload:     builders[def.Name],
			Priority:    Priority(def.Priority),
			MaxAttempts: def.MaxAttempts,
		})
	}
	return triggers, nil
}
