package rebuild

import (
	"context"
	"log/slog"

	"github.com/glyphgate/voicegate/internal/agentclient"
	"github.com/glyphgate/voicegate/internal/config"
	"github.com/glyphgate/voicegate/internal/observe"
)

// RegisterAgentClientRebuilder registers the agent-client rebuilder listener
// on store, per spec.md §4.7: if the patch touches agentGatewayUrl or
// agentGatewayToken, construct a new agent-runtime client, swap it into
// holder, then disconnect the previous instance. Swapping before
// disconnecting means a turn reading holder.Current() concurrently with the
// listener never observes a client that is about to be torn down; it either
// sees the old client (still usable until Disconnect runs) or the new one.
func RegisterAgentClientRebuilder(store *config.Store, holder *agentclient.Holder) {
	store.OnChange(func(patch map[string]any, next config.GatewayConfig) {
		_, urlTouched := patch["agentGatewayUrl"]
		_, tokenTouched := patch["agentGatewayToken"]
		if !urlTouched && !tokenTouched {
			return
		}

		fresh := agentclient.New(next.AgentGatewayURL, next.AgentGatewayToken)
		prev := holder.Swap(fresh)
		observe.DefaultMetrics().RecordRebuild(context.Background(), "agent")
		slog.Info("rebuild: agent client rebuilt", "url", next.AgentGatewayURL)

		if prev == nil {
			return
		}
		if err := prev.Disconnect(); err != nil {
			slog.Warn("rebuild: error disconnecting prior agent client", "err", err)
		}
	})
}
