package mask

import (
	"context"
	"log/slog"
	"sync"

	"github.com/synthcap/scenecap/pkg/core"
)

// recordHandler captures log records for assertions.
type recordHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordHandler) count(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

func newTestLogger() (*slog.Logger, *recordHandler) {
	h := &recordHandler{}
	return slog.New(h), h
}

func staticPart(asset string) *core.MeshPart {
	return &core.MeshPart{Name: "mesh", Kind: core.MeshStatic, Asset: asset, Visible: true}
}

func object(name, tag string) *core.SceneObject {
	obj := &core.SceneObject{
		Name:  name,
		Class: "StaticMeshActor",
		Parts: []*core.MeshPart{staticPart("SM_" + name)},
	}
	if tag != "" {
		obj.Tag = &core.CapturableTag{Tag: tag, Include: true}
	}
	return obj
}
