package common

const (
	ComponentIndexer    = "indexer"
	ComponentExtractor  = "extractor"
	ComponentRegistry   = "registry"
	ComponentStore      = "store"
	ComponentProjector  = "projector"
	ComponentPipeline   = "pipeline"
	ComponentEnrichment = "enrichment"
	ComponentSink       = "sink"
	ComponentDownloader = "downloader"
	ComponentRPC        = "rpc"
)

var AllComponents = map[string]struct{}{
	ComponentIndexer:    {},
	ComponentExtractor:  {},
	ComponentRegistry:   {},
	ComponentStore:      {},
	ComponentProjector:  {},
	ComponentPipeline:   {},
	ComponentEnrichment: {},
	ComponentSink:       {},
	ComponentDownloader: {},
	ComponentRPC:        {},
}
