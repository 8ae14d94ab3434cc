package common

const (
	ComponentSupervisor    = "indexing-supervisor"
	ComponentLogFetcher    = "log-fetcher"
	ComponentProgressStore = "progress-store"
	ComponentReorgDetector = "reorg-detector"
	ComponentMaintenance   = "maintenance"
)

var AllComponents = map[string]struct{}{
	ComponentSupervisor:    {},
	ComponentLogFetcher:    {},
	ComponentProgressStore: {},
	ComponentReorgDetector: {},
	ComponentMaintenance:   {},
}
