package schema

import (
	"embed"
	"sync"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const jobNotificationFile = "schemas/glacier_job_notification.schema.json"

var (
	jobNotificationOnce   sync.Once
	jobNotificationSchema *Compiled
)

// ValidateJobNotification checks a decoded archive job description before it
// is turned into a completion event.
func ValidateJobNotification(value any) error {
	jobNotificationOnce.Do(func() {
		data, err := schemaFS.ReadFile(jobNotificationFile)
		if err != nil {
			panic(err)
		}
		jobNotificationSchema = MustCompile("glacier-job-notification", data)
	})
	return jobNotificationSchema.Validate(value)
}
