package status

import (
	"go.uber.org/zap"

	"github.com/xkilldash9x/arkpilot/internal/maa"
)

// sanityPluginClass is the sub-task plugin that reports sanity before a stage.
const sanityPluginClass = "asst::SanityBeforeStageTaskPlugin"

// Observer is the engine's EventSink for one session. It is the only writer
// of the task-chain and sanity keys.
type Observer struct {
	store  *Store
	logger *zap.Logger
}

var _ maa.EventSink = (*Observer)(nil)

func NewObserver(store *Store, logger *zap.Logger) *Observer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Observer{store: store, logger: logger}
}

// OnEvent folds one callback into the store.
func (o *Observer) OnEvent(ev maa.Event) {
	o.logger.Debug("Got callback", zap.Stringer("kind", ev.Kind), zap.Any("details", ev.Details))

	switch {
	case ev.Kind.IsTaskChain():
		o.store.Set(KeyTaskChain, ev)
	case ev.Kind == maa.SubTaskExtraInfo:
		if class, _ := ev.Details["class"].(string); class != sanityPluginClass {
			return
		}
		detail, _ := ev.Details["details"].(map[string]any)
		o.store.SetAll(map[string]any{
			KeyCurrentSanity: toInt(detail["current_sanity"]),
			KeyMaxSanity:     toInt(detail["max_sanity"]),
		})
	}
}

// Store exposes the backing store.
func (o *Observer) Store() *Store { return o.store }
