// Package rebuild implements the two config-store listeners from spec.md
// §4.7: the STT provider rebuilder and the agent-client rebuilder. Both are
// registered once at startup and react to validated patches by constructing
// fresh instances through the factories registered in config.Registry and
// publishing them through the shared holders the orchestrator reads from.
package rebuild

import (
	"context"
	"log/slog"

	"github.com/glyphgate/voicegate/internal/config"
	"github.com/glyphgate/voicegate/internal/observe"
	"github.com/glyphgate/voicegate/internal/providerset"
	"github.com/glyphgate/voicegate/pkg/ids"
)

// RegisterSTTRebuilder registers the STT provider rebuilder listener on
// store. Per spec.md §4.7: for each provider whose config section appears in
// the patch, construct a fresh instance via registry and replace its entry
// in providers; additionally, if sttProvider itself was patched and no
// instance yet exists for the newly selected id, build one so the
// orchestrator never sees a selected-but-unbuilt provider. Unrelated
// patches are no-ops. A build failure is logged and the prior instance (if
// any) is left in place, per the store's "listener errors never block later
// listeners" rule.
func RegisterSTTRebuilder(store *config.Store, providers *providerset.Set, registry *config.Registry) {
	store.OnChange(func(patch map[string]any, next config.GatewayConfig) {
		for key, id := range map[string]ids.ProviderId{
			"whisperx": ids.ProviderWhisperX,
			"openai":   ids.ProviderOpenAI,
			"custom":   ids.ProviderCustom,
		} {
			if _, touched := patch[key]; !touched {
				continue
			}
			rebuildAndPublish(registry, providers, id, next)
		}

		if _, touched := patch["sttProvider"]; touched {
			if _, exists := providers.Get(next.STTProvider); !exists {
				rebuildAndPublish(registry, providers, next.STTProvider, next)
			}
		}
	})
}

func rebuildAndPublish(registry *config.Registry, providers *providerset.Set, id ids.ProviderId, cfg config.GatewayConfig) {
	p, err := registry.Create(id, cfg)
	if err != nil {
		slog.Error("rebuild: failed to construct stt provider", "provider", id, "err", err)
		return
	}
	providers.Set(id, p)
	observe.DefaultMetrics().RecordRebuild(context.Background(), "stt")
	slog.Info("rebuild: stt provider rebuilt", "provider", id)
}
