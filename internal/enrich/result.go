package enrich

import (
	"github.com/taskbridgeco/taskbridge/internal/bus"
	"github.com/taskbridgeco/taskbridge/internal/classify"
	"github.com/taskbridgeco/taskbridge/internal/provider"
)

// Enriched is the orchestrator's output: the original event plus whatever
// intelligence survived the provider race. Degraded means both providers
// failed and downstream stages work from the raw event alone.
type Enriched struct {
	Event          bus.InboundEvent
	Classification classify.Result
	Annotation     *provider.Annotation
	MediaSummary   string
	ProviderUsed   string
	FallbackUsed   bool
	Degraded       bool
}
