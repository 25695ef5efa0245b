package domain

// Profile is the account profile the lookup service reports. MaxThreads is
// the concurrency allowance the worker pool negotiates its budget from.
type Profile struct {
	Username          string `json:"username"`
	MaxThreads        int    `json:"max_threads"`
	RequestsToday     int    `json:"requests_today"`
	MaxRequestsPerDay int    `json:"max_requests_per_day"`
}

// LookupResult is one metadata lookup response. AllowedThreads repeats the
// account's concurrency allowance when the response carries it, 0 otherwise.
type LookupResult struct {
	Game           *GameInfo
	AllowedThreads int
}
