package tenant

import "time"

// Tenant is one isolated bot instance sharing the platform's process and
// database. The id is never reassigned; deactivation flips Active, rows are
// never silently deleted while dependent rows exist.
type Tenant struct {
	ID          int64
	BotToken    string
	DisplayName string
	Active      bool
	PlanID      int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
