package forensics

import "github.com/google/uuid"

// CustomRule is a user-owned rule set for rule-based scanning plugins. Each
// user has at most one default rule, injected when a rule-scan plugin runs
// without an explicit rule parameter.
type CustomRule struct {
	ID      uuid.UUID
	UserID  uuid.UUID
	Name    string
	Path    string
	Public  bool
	Default bool
}

// ServiceKind identifies an external analyzer service configuration.
type ServiceKind string

const (
	ServiceVirusTotal ServiceKind = "VirusTotal"
	ServiceMISP       ServiceKind = "MISP"
	ServiceMaxMind    ServiceKind = "MaxMind"
)

// Service holds the stored configuration for an external analyzer service.
// An absent row means the service is not configured; callers degrade rather
// than fail.
type Service struct {
	Kind  ServiceKind
	URL   string
	Key   string
	Proxy string
}
