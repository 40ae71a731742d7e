package resources

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	v1alpha1 "github.com/bdobrica/K8SMLEndpoints/api/v1alpha1"
	"github.com/bdobrica/K8SMLEndpoints/internal/classify"
	"github.com/bdobrica/K8SMLEndpoints/internal/collaborators"
	"github.com/bdobrica/K8SMLEndpoints/internal/config"
	"github.com/bdobrica/K8SMLEndpoints/internal/diff"
	"github.com/bdobrica/K8SMLEndpoints/internal/metrics"
	"github.com/bdobrica/K8SMLEndpoints/internal/orchestrator"
	"github.com/bdobrica/K8SMLEndpoints/internal/version"
)

// EndpointConfigFinalizer blocks removal of an EndpointConfig object until
// its owned Models and VirtualService are torn down.
const EndpointConfigFinalizer = "mlendpoints.io/endpointconfig"

// EndpointConfig is a typed wrapper over the EndpointConfig custom kind.
type EndpointConfig struct {
	c   client.Client
	cfg config.Config
	ns  string

	Name    string
	Version string

	Object *v1alpha1.EndpointConfig
}

// NewEndpointConfig constructs a wrapper and reads its current state.
func NewEndpointConfig(ctx context.Context, c client.Client, cfg config.Config, namespace, name, version string) (*EndpointConfig, error) {
	e := &EndpointConfig{c: c, cfg: cfg, ns: namespace, Name: name, Version: version}

	obj := &v1alpha1.EndpointConfig{}
	found, err := orchestrator.Get(ctx, c, client.ObjectKey{Namespace: namespace, Name: objectName(name, version)}, obj)
	if err != nil {
		return nil, err
	}
	if found {
		e.Object = obj
		if obj.Status.EndpointConfig != "" {
			e.Name = obj.Status.EndpointConfig
		}
		e.Version = obj.Status.Version
	}
	return e, nil
}

// ObjectName is the current physical object-name.
func (e *EndpointConfig) ObjectName() string { return objectName(e.Name, e.Version) }

// Present reports whether the underlying object exists.
func (e *EndpointConfig) Present() bool { return e.Object != nil }

// Create writes the EndpointConfig object.
func (e *EndpointConfig) Create(ctx context.Context, spec v1alpha1.EndpointConfigSpec, status v1alpha1.EndpointConfigStatus) error {
	if e.Present() {
		return nil
	}

	status.EndpointConfig = e.Name
	status.Version = e.Version
	if status.State == "" {
		status.State = v1alpha1.EndpointConfigStateCreating
	}

	labels := map[string]string{"endpoint_config": e.Name}
	if e.Version != "" {
		labels["version"] = e.Version
	}

	obj := &v1alpha1.EndpointConfig{
		ObjectMeta: metav1.ObjectMeta{
			Name:       e.ObjectName(),
			Namespace:  e.ns,
			Labels:     labels,
			Finalizers: []string{EndpointConfigFinalizer},
		},
		Spec:   spec,
		Status: status,
	}

	if _, err := orchestrator.CreateIdempotent(ctx, e.c, obj); err != nil {
		return err
	}
	e.Object = obj
	return orchestrator.PatchStatusWithRetry(ctx, e.c, e.Object, "EndpointConfig", func() error {
		e.Object.Status = status
		return nil
	})
}

// Clone returns a new, not-yet-persisted wrapper for the same logical
// config under a fresh version suffix; the caller passes the inherited (or
// overridden) spec and the endpoint binding to Create. Used by Endpoint on
// create and on a config swap.
func (e *EndpointConfig) Clone() *EndpointConfig {
	return &EndpointConfig{c: e.c, cfg: e.cfg, ns: e.ns, Name: e.Name, Version: version.Get()}
}

// CreateHandler clones one Model per spec.models entry and builds the
// VirtualService wiring them behind a single weighted route. The patched
// status.model_versions is the checkpoint: a re-entered call (after a crash
// or partial failure) skips the clone loop when it is already populated —
// re-cloning would orphan the first set — and resumes at the VirtualService,
// whose create is idempotent. State reaches available only after the
// VirtualService exists.
func (e *EndpointConfig) CreateHandler(ctx context.Context, gatewayName string, hosts []string) error {
	if e.Object == nil {
		return fmt.Errorf("%w: endpoint config %s has no backing object", classify.ErrMalformedSpec, e.ObjectName())
	}

	if len(e.Object.Status.ModelVersions) == 0 {
		modelVersions := make([]string, len(e.Object.Spec.Models))

		for i, ref := range e.Object.Spec.Models {
			model, err := NewModel(ctx, e.c, e.cfg, e.ns, ref.Model, "")
			if err != nil {
				return err
			}
			clone := &Model{c: e.c, cfg: e.cfg, ns: e.ns, Name: ref.Model, Version: version.Get()}

			spec := v1alpha1.ModelSpec{
				Instances: ref.Instances,
				CPUs:      ref.CPUs,
				Memory:    ref.Memory,
				Size:      ref.Size,
				Path:      ref.Path,
			}
			if model.Present() {
				spec.Image = model.Object.Spec.Image
				spec.Artifact = model.Object.Spec.Artifact
				spec.Command = model.Object.Spec.Command
				spec.Args = model.Object.Spec.Args
			}

			status := v1alpha1.ModelStatus{
				Endpoint:              e.Object.Status.Endpoint,
				EndpointConfig:        e.Name,
				EndpointConfigVersion: e.ObjectName(),
			}

			if err := clone.Create(ctx, spec, status); err != nil {
				return err
			}
			if err := clone.CreateHandler(ctx); err != nil {
				return err
			}

			modelVersions[i] = clone.ObjectName()
		}

		if err := orchestrator.PatchStatusWithRetry(ctx, e.c, e.Object, "EndpointConfig", func() error {
			e.Object.Status.ModelVersions = modelVersions
			return nil
		}); err != nil {
			return err
		}
	}

	dests := make([]collaborators.WeightedDestination, len(e.Object.Status.ModelVersions))
	for i, host := range e.Object.Status.ModelVersions {
		weight := int32(0)
		if i < len(e.Object.Spec.Models) {
			weight = e.Object.Spec.Models[i].Weight
		}
		dests[i] = collaborators.WeightedDestination{Host: host, Port: 8080, Weight: weight}
	}

	vs, err := collaborators.NewMeshVirtualService(ctx, e.c, e.ObjectName(), e.ns)
	if err != nil {
		return err
	}
	if err := vs.Create(ctx, gatewayName, hosts, dests); err != nil {
		return err
	}

	return e.SetState(ctx, v1alpha1.EndpointConfigStateAvailable)
}

// UpdateHandler dispatches on a spec.models change: a membership change
// (models added, removed, or reordered) always takes priority over a
// weight-only change, even when both are present in the same diff. A
// dormant config with no attached Endpoint is always a no-op here:
// allocation is deferred until an Endpoint references it, and editing an
// unreferenced config must not allocate anything on its own.
//
// User edits land on the unversioned base object, but the VirtualService
// and the Models belong to the versioned clone the bound Endpoint is
// serving; servingTarget resolves that clone and the edit is applied there,
// after syncing its spec to the base's.
func (e *EndpointConfig) UpdateHandler(ctx context.Context, d diff.Set) error {
	if e.Object == nil {
		return fmt.Errorf("%w: endpoint config %s has no backing object", classify.ErrMalformedSpec, e.ObjectName())
	}
	if e.Object.Status.Endpoint == "" {
		return nil
	}

	line, ok := d.Find([]diff.Action{diff.Change}, []string{"spec", "models"})
	if !ok {
		return nil
	}

	target, err := e.servingTarget(ctx)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if target != e {
		if err := orchestrator.PatchWithRetry(ctx, e.c, target.Object, "EndpointConfig", func() error {
			target.Object.Spec = e.Object.Spec
			return nil
		}); err != nil {
			return err
		}
	}

	if membershipChanged(line) {
		return target.updateMembership(ctx)
	}
	return target.updateWeights(ctx)
}

// servingTarget resolves the EndpointConfig object the VirtualService is
// actually named after: the object itself when it is the active clone (or
// when no live clone is recorded on the bound Endpoint yet), otherwise the
// clone named by the Endpoint's status.endpoint_config_version. Returns nil
// when the Endpoint records a clone name that no longer resolves.
func (e *EndpointConfig) servingTarget(ctx context.Context) (*EndpointConfig, error) {
	ep := &v1alpha1.Endpoint{}
	found, err := orchestrator.Get(ctx, e.c, client.ObjectKey{Namespace: e.ns, Name: e.Object.Status.Endpoint}, ep)
	if err != nil {
		return nil, err
	}
	if !found || ep.Status.EndpointConfigVersion == "" || ep.Status.EndpointConfigVersion == e.ObjectName() {
		return e, nil
	}

	clone, err := NewEndpointConfig(ctx, e.c, e.cfg, e.ns,
		logicalNameFromObjectName(ep.Status.EndpointConfigVersion),
		versionFromObjectName(ep.Status.EndpointConfigVersion))
	if err != nil {
		return nil, err
	}
	if !clone.Present() {
		return nil, nil
	}
	return clone, nil
}

// membershipChanged reports whether a spec.models diff line changed which
// logical models are referenced (add/remove/reorder), as opposed to only
// their weights. diff.Compute always reports the whole models slice as one
// Change line (models is a slice of structs, diffed wholesale rather than
// per-index), so this inspects the encoded old/new entries directly.
func membershipChanged(line diff.Line) bool {
	oldNames := modelNamesOf(line.Old)
	newNames := modelNamesOf(line.New)
	if len(oldNames) != len(newNames) {
		return true
	}
	for i := range oldNames {
		if oldNames[i] != newNames[i] {
			return true
		}
	}
	return false
}

// modelNamesOf extracts the ordered "model" field from a JSON-tree encoded
// []interface{} of spec.models entries, as produced by diff.Compute.
func modelNamesOf(v interface{}) []string {
	entries, _ := v.([]interface{})
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		m, ok := e.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := m["model"].(string)
		names = append(names, name)
	}
	return names
}

// updateMembership recomputes which Models belong to this config, creating
// clones for newly-referenced models and tearing down ones no longer
// referenced. The VirtualService is patched to the new destination set
// before any departing Model is deleted, so traffic never targets a host
// that is mid-teardown.
func (e *EndpointConfig) updateMembership(ctx context.Context) error {
	desired := map[string]v1alpha1.ModelRef{}
	for _, ref := range e.Object.Spec.Models {
		desired[ref.Model] = ref
	}

	present := map[string]string{} // logical name -> physical object-name
	for _, phys := range e.Object.Status.ModelVersions {
		logical := logicalNameFromObjectName(phys)
		present[logical] = phys
	}

	modelVersions := make([]string, len(e.Object.Spec.Models))
	dests := make([]collaborators.WeightedDestination, len(e.Object.Spec.Models))

	for i, ref := range e.Object.Spec.Models {
		if phys, ok := present[ref.Model]; ok {
			modelVersions[i] = phys
			dests[i] = collaborators.WeightedDestination{Host: phys, Port: 8080, Weight: ref.Weight}
			continue
		}

		base, err := NewModel(ctx, e.c, e.cfg, e.ns, ref.Model, "")
		if err != nil {
			return err
		}
		clone := &Model{c: e.c, cfg: e.cfg, ns: e.ns, Name: ref.Model, Version: version.Get()}
		spec := v1alpha1.ModelSpec{Instances: ref.Instances, CPUs: ref.CPUs, Memory: ref.Memory, Size: ref.Size, Path: ref.Path}
		if base.Present() {
			spec.Image = base.Object.Spec.Image
			spec.Artifact = base.Object.Spec.Artifact
			spec.Command = base.Object.Spec.Command
			spec.Args = base.Object.Spec.Args
		}
		status := v1alpha1.ModelStatus{Endpoint: e.Object.Status.Endpoint, EndpointConfig: e.Name, EndpointConfigVersion: e.ObjectName()}
		if err := clone.Create(ctx, spec, status); err != nil {
			return err
		}
		if err := clone.CreateHandler(ctx); err != nil {
			return err
		}

		modelVersions[i] = clone.ObjectName()
		dests[i] = collaborators.WeightedDestination{Host: clone.ObjectName(), Port: 8080, Weight: ref.Weight}
	}

	metrics.RecordRollout("EndpointConfig", e.ns, "membership")

	if err := orchestrator.PatchStatusWithRetry(ctx, e.c, e.Object, "EndpointConfig", func() error {
		e.Object.Status.ModelVersions = modelVersions
		return nil
	}); err != nil {
		return err
	}

	vs, err := collaborators.NewMeshVirtualService(ctx, e.c, e.ObjectName(), e.ns)
	if err != nil {
		return err
	}
	if err := vs.UpdateDestinations(ctx, dests); err != nil {
		return err
	}

	for logical, phys := range present {
		if _, stillDesired := desired[logical]; stillDesired {
			continue
		}
		departing, err := NewModel(ctx, e.c, e.cfg, e.ns, logicalNameFromObjectName(phys), versionFromObjectName(phys))
		if err != nil {
			return err
		}
		if err := departing.DeleteHandler(ctx); err != nil {
			return err
		}
		if departing.Present() {
			if err := orchestrator.DeleteIgnoreNotFound(ctx, e.c, departing.Object); err != nil {
				return err
			}
		}
	}

	return nil
}

// updateWeights patches only the VirtualService's per-destination weights,
// leaving Model membership untouched.
func (e *EndpointConfig) updateWeights(ctx context.Context) error {
	weights := make([]int32, len(e.Object.Spec.Models))
	for i, ref := range e.Object.Spec.Models {
		weights[i] = ref.Weight
	}

	vs, err := collaborators.NewMeshVirtualService(ctx, e.c, e.ObjectName(), e.ns)
	if err != nil {
		return err
	}
	return vs.UpdateWeights(ctx, weights)
}

// DeleteHandler deletes every owned Model then the VirtualService: each
// Model's collaborators are torn down and the Model object is marked for
// deletion (its ModelFinalizer keeps it until the Model controller releases
// it) before the VirtualService is removed.
func (e *EndpointConfig) DeleteHandler(ctx context.Context) error {
	for _, phys := range e.Object.Status.ModelVersions {
		m, err := NewModel(ctx, e.c, e.cfg, e.ns, logicalNameFromObjectName(phys), versionFromObjectName(phys))
		if err != nil {
			return err
		}
		if err := m.DeleteHandler(ctx); err != nil {
			return err
		}
		if m.Present() {
			if err := orchestrator.DeleteIgnoreNotFound(ctx, e.c, m.Object); err != nil {
				return err
			}
		}
	}

	vs, err := collaborators.NewMeshVirtualService(ctx, e.c, e.ObjectName(), e.ns)
	if err != nil {
		return err
	}
	return vs.Delete(ctx)
}

// SetState patches status.state.
func (e *EndpointConfig) SetState(ctx context.Context, state v1alpha1.EndpointConfigState) error {
	if e.Object == nil {
		return nil
	}
	return orchestrator.PatchStatusWithRetry(ctx, e.c, e.Object, "EndpointConfig", func() error {
		e.Object.Status.State = state
		return nil
	})
}

// logicalNameFromObjectName and versionFromObjectName invert objectName for
// the "{name}-{version}" convention. version.Get() always emits a value
// containing "-", so the split point is the first hyphen after the last
// hyphen-free model-name segment; since model names themselves may contain
// hyphens, the convention relies on the version suffix always being the
// trailing "{base36}-{base36}" token appended by version.Get.
func logicalNameFromObjectName(objName string) string {
	name, _ := splitVersionedName(objName)
	return name
}

func versionFromObjectName(objName string) string {
	_, ver := splitVersionedName(objName)
	return ver
}

// splitVersionedName splits "{name}-{A}-{B}" into ("{name}", "{A}-{B}") by
// taking the last two hyphen-delimited segments as the version, matching
// the "{A}-{B}" shape version.Get always produces.
func splitVersionedName(objName string) (name, ver string) {
	segments := splitHyphen(objName)
	if len(segments) < 3 {
		return objName, ""
	}
	n := len(segments)
	return joinHyphen(segments[:n-2]), joinHyphen(segments[n-2:])
}

func splitHyphen(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func joinHyphen(parts []string) string {
	out := parts[0]
	for _, p := range parts[1:] {
		out += "-" + p
	}
	return out
}
