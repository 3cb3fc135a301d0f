package auth

// Scopes accepted by the collector API.
const (
	ScopeActivityWrite = "activity:write"
	ScopeActivityRead  = "activity:read"
)
