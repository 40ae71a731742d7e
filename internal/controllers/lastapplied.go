package controllers

import (
	"context"
	"encoding/json"

	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/bdobrica/K8SMLEndpoints/internal/orchestrator"
)

// lastAppliedAnnotation stores the JSON-encoded spec this controller last
// reconciled. controller-runtime delivers level-triggered events with no
// before/after pair, so the diff module needs an explicit baseline to
// classify what the user actually edited.
const lastAppliedAnnotation = "mlendpoints.io/last-applied-spec"

// writeLastApplied JSON-encodes spec into obj's last-applied annotation.
func writeLastApplied(ctx context.Context, c client.Client, obj client.Object, spec interface{}, kind string) error {
	raw, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return orchestrator.PatchWithRetry(ctx, c, obj, kind, func() error {
		ann := obj.GetAnnotations()
		if ann == nil {
			ann = map[string]string{}
		}
		ann[lastAppliedAnnotation] = string(raw)
		obj.SetAnnotations(ann)
		return nil
	})
}

// readLastApplied decodes obj's last-applied annotation into out, reporting
// false if no baseline has been recorded yet (the object's first
// reconcile).
func readLastApplied(obj client.Object, out interface{}) (bool, error) {
	ann := obj.GetAnnotations()
	raw, ok := ann[lastAppliedAnnotation]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, err
	}
	return true, nil
}
