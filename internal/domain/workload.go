package domain

// Workload is a catalog entry visible to clients.
type Workload struct {
	Name        string
	Description string
	Runner      string
	Modes       []string
}

// ResolvedSpec is a catalog-validated spec handed to the executor: the
// workload's runner kind plus the mode base config merged with any
// submit-time overlay.
type ResolvedSpec struct {
	Workload string
	Mode     string
	Runner   string
	Config   Metadata
}
