package fivetran

import (
	"fmt"
	"time"
)

// Schedule types accepted by the Fivetran API. A manual connector syncs only
// when forced through the API; an auto connector follows Fivetran's own schedule.
const (
	ScheduleManual = "manual"
	ScheduleAuto   = "auto"
)

// SetupStateConnected is the setup_state of a fully configured connector
const SetupStateConnected = "connected"

// Connector maps the connector object of the Fivetran API v1
type Connector struct {
	ID            string          `json:"id"`
	GroupID       string          `json:"group_id"`
	Service       string          `json:"service"`
	Schema        string          `json:"schema"`
	Paused        bool            `json:"paused"`
	SyncFrequency int             `json:"sync_frequency"`
	ScheduleType  string          `json:"schedule_type"`
	CreatedAt     string          `json:"created_at"`
	SucceededAt   string          `json:"succeeded_at"`
	FailedAt      string          `json:"failed_at"`
	Status        ConnectorStatus `json:"status"`
}

// ConnectorStatus holds the status block of a connector
type ConnectorStatus struct {
	SetupState       string `json:"setup_state"`
	SyncState        string `json:"sync_state"`
	UpdateState      string `json:"update_state"`
	IsHistoricalSync bool   `json:"is_historical_sync"`
	Tasks            []Task `json:"tasks"`
	Warnings         []Task `json:"warnings"`
}

// Task is a code/message pair reported in connector status
type Task struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectorPatch is the mutable subset of connector metadata
type ConnectorPatch struct {
	ScheduleType *string `json:"schedule_type,omitempty"`
	Paused       *bool   `json:"paused,omitempty"`
}

// ParseTimestamp converts an API timestamp into a time.Time. The API reports
// null for connectors that never ran; that decodes to an empty string and maps
// to the zero time so watermark comparisons always have something to compare.
func ParseTimestamp(value string) time.Time {
	if value == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}

	return t
}

// SetupURL returns the Fivetran dashboard setup page for a connector
func SetupURL(service, schema string) string {
	return fmt.Sprintf("https://fivetran.com/dashboard/connectors/%s/%s/setup", service, schema)
}

// LogsURL returns the Fivetran dashboard logs page for a connector
func LogsURL(service, schema string) string {
	return fmt.Sprintf("https://fivetran.com/dashboard/connectors/%s/%s/logs", service, schema)
}
