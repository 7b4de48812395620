package beacon

// Wire format for Medama hit events. Field names are the single-letter keys
// the server's API expects.

// Load marks a page becoming active.
type Load struct {
	// Beacon ID shared by the matching unload event.
	B string `json:"b"`
	// Event type, always "load".
	E string `json:"e"`
	// Synthetic URL of the page being tracked.
	U string `json:"u"`
	// Referrer URL.
	R string `json:"r"`
	// Whether this is a unique visitor.
	P bool `json:"p"`
	// Whether this page was already visited this session.
	Q bool `json:"q"`
	// Visitor timezone, used for coarse location.
	T string `json:"t"`
	// Custom event dimensions.
	D map[string]string `json:"d"`
}

// Unload closes the page opened by the Load event with the same beacon ID.
type Unload struct {
	B string `json:"b"`
	// Event type, always "unload".
	E string `json:"e"`
	// Time spent on the page, in milliseconds.
	M int64 `json:"m"`
}

// Custom carries an application-defined event.
type Custom struct {
	B string `json:"b"`
	// Event type, always "custom".
	E string `json:"e"`
	// Group name, the hostname of the app.
	G string `json:"g"`
	// Event data payload.
	D map[string]string `json:"d"`
}

// HitPath is the ingestion endpoint shared by all three event kinds.
const HitPath = "api/event/hit"
