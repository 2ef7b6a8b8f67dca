package model

// ConfigEntry is a single key/value row in the runtime configuration table.
// Keys are restricted to the allow-list below; values are stored as text.
type ConfigEntry struct {
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}

// Runtime configuration keys that may be stored in the database. Anything
// else is rejected with an invalid-argument error before it reaches the
// store.
const (
	ConfigBaseURL           = "BASE_URL"
	ConfigEmailHost         = "EMAIL_HOST"
	ConfigEmailPort         = "EMAIL_PORT"
	ConfigEmailHostUser     = "EMAIL_HOST_USER"
	ConfigEmailHostPassword = "EMAIL_HOST_PASSWORD"
	ConfigEmailUseTLS       = "EMAIL_USE_TLS"
	ConfigDefaultFromEmail  = "DEFAULT_FROM_EMAIL"
)

// AllowedConfigKeys is the set of keys accepted by config writes.
var AllowedConfigKeys = map[string]bool{
	ConfigBaseURL:           true,
	ConfigEmailHost:         true,
	ConfigEmailPort:         true,
	ConfigEmailHostUser:     true,
	ConfigEmailHostPassword: true,
	ConfigEmailUseTLS:       true,
	ConfigDefaultFromEmail:  true,
}
