// Package resources implements the three user-declared domain resources —
// Model, EndpointConfig, Endpoint — as typed wrappers over their custom
// kinds, each exposing CRUD plus create_handler/update_handler/delete_handler
// that propagate to the collaborator wrappers in internal/collaborators.
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

// ModelFinalizer blocks final removal of a Model object until its
// collaborators are torn down; every Model this controller creates carries
// it. A second, breadcrumb finalizer equal to a successor's object-name is
// added only during a rolling replacement (see UpdateHandler) and is
// removed once that successor reaches status.state=available.
const ModelFinalizer = "mlendpoints.io/model"

// objectName composes the physical identity from a logical name/version
// pair: "{model}-{version}" when version is non-empty, else "{model}".
func objectName(name, version string) string {
	if version == "" {
		return name
	}
	return name + "-" + version
}

// Model is a typed wrapper over the Model custom kind.
type Model struct {
	c   client.Client
	cfg config.Config
	ns  string

	Name    string
	Version string

	Object *v1alpha1.Model
}

// NewModel constructs a Model wrapper and reads its current state. If the
// object exists, Name/Version are overwritten from its status fields so
// downstream code always observes logical identity rather than whatever the
// caller happened to pass in.
func NewModel(ctx context.Context, c client.Client, cfg config.Config, namespace, name, version string) (*Model, error) {
	m := &Model{c: c, cfg: cfg, ns: namespace, Name: name, Version: version}

	obj := &v1alpha1.Model{}
	found, err := orchestrator.Get(ctx, c, client.ObjectKey{Namespace: namespace, Name: objectName(name, version)}, obj)
	if err != nil {
		return nil, err
	}
	if found {
		m.Object = obj
		if obj.Status.Model != "" {
			m.Name = obj.Status.Model
		}
		m.Version = obj.Status.Version
	}
	return m, nil
}

// ObjectName is the physical object-name this wrapper currently resolves to.
func (m *Model) ObjectName() string { return objectName(m.Name, m.Version) }

// Present reports whether the underlying Model object exists.
func (m *Model) Present() bool { return m.Object != nil }

// Create writes the Model object with labels {model, version}. No
// collaborators are allocated here — allocation happens in CreateHandler.
func (m *Model) Create(ctx context.Context, spec v1alpha1.ModelSpec, status v1alpha1.ModelStatus) error {
	if m.Present() {
		return nil
	}

	status.Model = m.Name
	status.Version = m.Version
	if status.State == "" {
		status.State = v1alpha1.ModelStateCreating
	}

	labels := map[string]string{"model": m.Name}
	if m.Version != "" {
		labels["version"] = m.Version
	}

	obj := &v1alpha1.Model{
		ObjectMeta: metav1.ObjectMeta{
			Name:       m.ObjectName(),
			Namespace:  m.ns,
			Labels:     labels,
			Finalizers: []string{ModelFinalizer},
		},
		Spec:   spec,
		Status: status,
	}

	if _, err := orchestrator.CreateIdempotent(ctx, m.c, obj); err != nil {
		return err
	}
	m.Object = obj
	return m.patchStatus(ctx, status)
}

// patchStatus re-applies status after creation (the fake and real clients
// both require a distinct status write for the status subresource).
func (m *Model) patchStatus(ctx context.Context, status v1alpha1.ModelStatus) error {
	return orchestrator.PatchStatusWithRetry(ctx, m.c, m.Object, "Model", func() error {
		m.Object.Status = status
		return nil
	})
}

// activeEndpointConfig resolves the EndpointConfig this Model is currently
// bound to via status.endpoint_config_version. The reference is a name, not
// a live pointer, so it is always resolved fresh through the cluster store.
func (m *Model) activeEndpointConfig(ctx context.Context) (*v1alpha1.EndpointConfig, bool, error) {
	if m.Object == nil || m.Object.Status.EndpointConfigVersion == "" {
		return nil, false, nil
	}
	ec := &v1alpha1.EndpointConfig{}
	found, err := orchestrator.Get(ctx, m.c, client.ObjectKey{Namespace: m.ns, Name: m.Object.Status.EndpointConfigVersion}, ec)
	if err != nil || !found {
		return nil, false, err
	}
	return ec, true, nil
}

// CreateHandler looks up the active EndpointConfig entry matching this
// Model's logical name and allocates storage, deployment and service. If no
// matching config entry exists it is a no-op — allocation is deferred until
// an Endpoint references the config.
func (m *Model) CreateHandler(ctx context.Context) error {
	if m.Object == nil {
		return fmt.Errorf("%w: model %s has no backing object", classify.ErrMalformedSpec, m.ObjectName())
	}

	ec, found, err := m.activeEndpointConfig(ctx)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	var entry *v1alpha1.ModelRef
	for i := range ec.Spec.Models {
		if ec.Spec.Models[i].Model == m.Name {
			entry = &ec.Spec.Models[i]
			break
		}
	}
	if entry == nil {
		return nil
	}

	path := entry.Path
	if path == "" {
		path = m.cfg.DefaultStoragePath
	}
	size := entry.Size
	if size == "" {
		size = "1Gi"
	}

	storage, err := collaborators.NewModelStorage(ctx, m.c, m.ObjectName(), m.ns)
	if err != nil {
		return err
	}
	if err := storage.Create(ctx, size, path, m.Version); err != nil {
		return err
	}

	deployment, err := collaborators.NewModelDeployment(ctx, m.c, m.ObjectName(), m.ns)
	if err != nil {
		return err
	}
	if err := deployment.Create(ctx, collaborators.ModelDeploymentParams{
		Image:     m.Object.Spec.Image,
		Artifact:  m.Object.Spec.Artifact,
		Command:   m.Object.Spec.Command,
		Args:      m.Object.Spec.Args,
		Instances: entry.Instances,
		CPUs:      entry.CPUs,
		Memory:    entry.Memory,
		InitImage: m.cfg.ModelInitImage,
	}); err != nil {
		return err
	}

	service, err := collaborators.NewModelService(ctx, m.c, m.ObjectName(), m.ns)
	if err != nil {
		return err
	}
	return service.Create(ctx)
}

// UpdateHandler classifies diff and dispatches:
//   - change on spec.artifact: clone into a new version, create the clone's
//     collaborators, propagate the rename to the owning EndpointConfig (its
//     status.model_versions and VirtualService destinations), then mark the
//     old object for deletion behind a breadcrumb finalizer. Returns the
//     clone.
//   - change on spec.image, or add|change on spec.command/spec.args: patch
//     the existing Deployment in place, no rebuild.
//   - otherwise: no-op.
//
// Edits always land on whatever object the user touched. When that is the
// unversioned base object, the served instances are its versioned clones,
// so both dispatch arms fan out to versionedClones; a base with no clones
// is dormant and nothing happens.
func (m *Model) UpdateHandler(ctx context.Context, d diff.Set) (*Model, error) {
	if m.Object == nil {
		return nil, fmt.Errorf("%w: model %s has no backing object", classify.ErrMalformedSpec, m.ObjectName())
	}

	if line, ok := d.Find([]diff.Action{diff.Change}, []string{"spec", "artifact"}); ok {
		if m.Version != "" {
			return m.rolloverArtifact(ctx, line)
		}
		clones, err := m.versionedClones(ctx)
		if err != nil {
			return nil, err
		}
		var last *Model
		for _, clone := range clones {
			next, err := clone.rolloverArtifact(ctx, line)
			if err != nil {
				return nil, err
			}
			last = next
		}
		return last, nil
	}

	_, imageChanged := d.Find([]diff.Action{diff.Change}, []string{"spec", "image"})
	_, commandChanged := d.Find([]diff.Action{diff.Add, diff.Change}, []string{"spec", "command"})
	_, argsChanged := d.Find([]diff.Action{diff.Add, diff.Change}, []string{"spec", "args"})
	if imageChanged || commandChanged || argsChanged {
		targets := []*Model{m}
		if m.Version == "" {
			var err error
			targets, err = m.versionedClones(ctx)
			if err != nil {
				return nil, err
			}
		}
		for _, target := range targets {
			if target != m {
				if err := orchestrator.PatchWithRetry(ctx, m.c, target.Object, "Model", func() error {
					target.Object.Spec.Image = m.Object.Spec.Image
					target.Object.Spec.Command = m.Object.Spec.Command
					target.Object.Spec.Args = m.Object.Spec.Args
					return nil
				}); err != nil {
					return nil, err
				}
			}
			deployment, err := collaborators.NewModelDeployment(ctx, m.c, target.ObjectName(), m.ns)
			if err != nil {
				return nil, err
			}
			if err := deployment.Update(ctx, collaborators.ModelDeploymentParams{
				Image:    m.Object.Spec.Image,
				Command:  m.Object.Spec.Command,
				Args:     m.Object.Spec.Args,
				Artifact: target.Object.Spec.Artifact,
			}); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	return nil, nil
}

// versionedClones lists the live versioned Model objects cloned from this
// logical model, excluding this object itself and any clone already being
// deleted.
func (m *Model) versionedClones(ctx context.Context) ([]*Model, error) {
	var list v1alpha1.ModelList
	if err := orchestrator.List(ctx, m.c, &list, client.InNamespace(m.ns), client.MatchingLabels{"model": m.Name}); err != nil {
		return nil, err
	}
	clones := make([]*Model, 0, len(list.Items))
	for i := range list.Items {
		obj := &list.Items[i]
		if obj.Status.Version == "" || obj.Name == m.ObjectName() || !obj.DeletionTimestamp.IsZero() {
			continue
		}
		clones = append(clones, &Model{c: m.c, cfg: m.cfg, ns: m.ns, Name: obj.Status.Model, Version: obj.Status.Version, Object: obj})
	}
	return clones, nil
}

func (m *Model) rolloverArtifact(ctx context.Context, artifactLine diff.Line) (*Model, error) {
	newArtifact, _ := artifactLine.New.(string)

	clone := &Model{c: m.c, cfg: m.cfg, ns: m.ns, Name: m.Name, Version: version.Get()}
	spec := m.Object.Spec
	spec.Artifact = newArtifact
	status := v1alpha1.ModelStatus{
		Endpoint:              m.Object.Status.Endpoint,
		EndpointConfig:        m.Object.Status.EndpointConfig,
		EndpointConfigVersion: m.Object.Status.EndpointConfigVersion,
	}

	if err := clone.Create(ctx, spec, status); err != nil {
		return nil, err
	}
	if err := clone.CreateHandler(ctx); err != nil {
		return nil, err
	}

	metrics.RecordRollout("Model", m.ns, "artifact")

	if err := m.propagateRename(ctx, clone.ObjectName()); err != nil {
		return nil, err
	}

	if err := orchestrator.AddFinalizers(ctx, m.c, m.Object, "Model", clone.ObjectName()); err != nil {
		return nil, err
	}
	if err := orchestrator.DeleteIgnoreNotFound(ctx, m.c, m.Object); err != nil {
		return nil, err
	}

	return clone, nil
}

// propagateRename patches the owning EndpointConfig's status.model_versions
// and its VirtualService destination host, replacing this Model's old
// object-name with newName. An artifact-driven Model rollover must update
// EndpointConfig bookkeeping even though no EndpointConfig event fired.
func (m *Model) propagateRename(ctx context.Context, newName string) error {
	ec, found, err := m.activeEndpointConfig(ctx)
	if err != nil || !found {
		return err
	}

	oldName := m.ObjectName()
	index := -1
	for i, v := range ec.Status.ModelVersions {
		if v == oldName {
			index = i
			break
		}
	}
	if index == -1 {
		return nil
	}

	if err := orchestrator.PatchStatusWithRetry(ctx, m.c, ec, "EndpointConfig", func() error {
		ec.Status.ModelVersions[index] = newName
		return nil
	}); err != nil {
		return err
	}

	vs, err := collaborators.NewMeshVirtualService(ctx, m.c, ec.Name, m.ns)
	if err != nil {
		return err
	}
	if !vs.Present() {
		return nil
	}
	dests := make([]collaborators.WeightedDestination, len(ec.Status.ModelVersions))
	for i, host := range ec.Status.ModelVersions {
		weight := int32(0)
		if i < len(ec.Spec.Models) {
			weight = ec.Spec.Models[i].Weight
		}
		dests[i] = collaborators.WeightedDestination{Host: host, Port: 8080, Weight: weight}
	}
	return vs.UpdateDestinations(ctx, dests)
}

// DeleteHandler tears down Service, Deployment, Storage in that order.
func (m *Model) DeleteHandler(ctx context.Context) error {
	service, err := collaborators.NewModelService(ctx, m.c, m.ObjectName(), m.ns)
	if err != nil {
		return err
	}
	if err := service.Delete(ctx); err != nil {
		return err
	}

	deployment, err := collaborators.NewModelDeployment(ctx, m.c, m.ObjectName(), m.ns)
	if err != nil {
		return err
	}
	if err := deployment.Delete(ctx); err != nil {
		return err
	}

	storage, err := collaborators.NewModelStorage(ctx, m.c, m.ObjectName(), m.ns)
	if err != nil {
		return err
	}
	return storage.Delete(ctx)
}

// ModelSuccessorReady reads the Model named by a breadcrumb finalizer token
// (a bare object-name, no prefix) and reports whether it has reached
// status.state=available. Used by the Model controller to gate removal of
// the finalizer UpdateHandler adds to a Model it is rolling over.
func ModelSuccessorReady(ctx context.Context, c client.Client, cfg config.Config, namespace, objName string) (bool, error) {
	m, err := NewModel(ctx, c, cfg, namespace, logicalNameFromObjectName(objName), versionFromObjectName(objName))
	if err != nil {
		return false, err
	}
	if !m.Present() {
		return false, nil
	}
	return m.Object.Status.State == v1alpha1.ModelStateAvailable, nil
}

// SetState patches status.state, used by the health daemon and by handlers
// that transition state on failure.
func (m *Model) SetState(ctx context.Context, state v1alpha1.ModelState) error {
	if m.Object == nil {
		return nil
	}
	return orchestrator.PatchStatusWithRetry(ctx, m.c, m.Object, "Model", func() error {
		m.Object.Status.State = state
		return nil
	})
}
