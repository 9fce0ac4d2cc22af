package logg

const (
	Layer       = "layer"
	Operation   = "operation"
	URL         = "url"
	Selector    = "selector"
	Handle      = "handle"
	Generation  = "generation"
	Fingerprint = "fingerprint"
	Kind        = "kind"
	Action      = "action"
	Round       = "round"
)
