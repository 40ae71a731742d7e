package resources

import (
	"context"
	"fmt"
	"strings"

	"sigs.k8s.io/controller-runtime/pkg/client"

	v1alpha1 "github.com/bdobrica/K8SMLEndpoints/api/v1alpha1"
	"github.com/bdobrica/K8SMLEndpoints/internal/classify"
	"github.com/bdobrica/K8SMLEndpoints/internal/collaborators"
	"github.com/bdobrica/K8SMLEndpoints/internal/config"
	"github.com/bdobrica/K8SMLEndpoints/internal/diff"
	"github.com/bdobrica/K8SMLEndpoints/internal/orchestrator"
)

// EndpointFinalizer blocks removal of an Endpoint object until its
// EndpointConfig and Gateway are torn down.
const EndpointFinalizer = "mlendpoints.io/endpoint"

// startedFinalizerPrefix marks an EndpointConfig the Endpoint is in the
// middle of replacing; it is removed once the new config's state reaches
// available, at which point the old config is safe to delete.
const startedFinalizerPrefix = "started:"

// Endpoint is a typed wrapper over the Endpoint custom kind.
type Endpoint struct {
	c   client.Client
	cfg config.Config
	ns  string

	Name   string
	Object *v1alpha1.Endpoint
}

// NewEndpoint constructs a wrapper and reads its current state. Endpoint
// objects are never versioned/cloned themselves, so the object-name is
// always the logical name.
func NewEndpoint(ctx context.Context, c client.Client, cfg config.Config, namespace, name string) (*Endpoint, error) {
	e := &Endpoint{c: c, cfg: cfg, ns: namespace, Name: name}
	obj := &v1alpha1.Endpoint{}
	found, err := orchestrator.Get(ctx, c, client.ObjectKey{Namespace: namespace, Name: name}, obj)
	if err != nil {
		return nil, err
	}
	if found {
		e.Object = obj
	}
	return e, nil
}

// ObjectName is the Endpoint's own object-name.
func (e *Endpoint) ObjectName() string { return e.Name }

// Present reports whether the underlying object exists.
func (e *Endpoint) Present() bool { return e.Object != nil }

// CreateHandler builds the Gateway for spec.host and binds the EndpointConfig
// named spec.config to this Endpoint. If status.endpoint_config_version
// already names a clone whose status.endpoint is this Endpoint, that clone
// is reused instead of allocating a new one — a crash or conflict between a
// prior CreateHandler call returning and the reconciler recording its
// last-applied baseline would otherwise re-enter here and clone a second
// EndpointConfig, orphaning the first.
func (e *Endpoint) CreateHandler(ctx context.Context) error {
	if e.Object == nil {
		return fmt.Errorf("%w: endpoint %s has no backing object", classify.ErrMalformedSpec, e.Name)
	}

	gw, err := collaborators.NewMeshGateway(ctx, e.c, e.Name, e.ns, e.cfg.IngressSelector)
	if err != nil {
		return err
	}
	hosts := []string{e.Object.Spec.Host}
	if err := gw.Create(ctx, hosts); err != nil {
		return err
	}

	base, err := NewEndpointConfig(ctx, e.c, e.cfg, e.ns, e.Object.Spec.Config, "")
	if err != nil {
		return err
	}
	if err := e.bindConfig(ctx, base); err != nil {
		return err
	}

	if existingName := e.Object.Status.EndpointConfigVersion; existingName != "" {
		existing, err := NewEndpointConfig(ctx, e.c, e.cfg, e.ns, logicalNameFromObjectName(existingName), versionFromObjectName(existingName))
		if err != nil {
			return err
		}
		if existing.Present() && existing.Object.Status.Endpoint == e.Name {
			if err := existing.CreateHandler(ctx, gw.ObjectName(), hosts); err != nil {
				return err
			}
			return orchestrator.PatchStatusWithRetry(ctx, e.c, e.Object, "Endpoint", func() error {
				e.Object.Status.EndpointConfigVersion = existing.ObjectName()
				e.Object.Status.State = v1alpha1.EndpointStateAvailable
				return nil
			})
		}
	}

	clone := base.Clone()

	var spec v1alpha1.EndpointConfigSpec
	if base.Present() {
		spec = base.Object.Spec
	}
	status := v1alpha1.EndpointConfigStatus{Endpoint: e.Name}

	if err := clone.Create(ctx, spec, status); err != nil {
		return err
	}
	if err := clone.CreateHandler(ctx, gw.ObjectName(), hosts); err != nil {
		return err
	}

	return orchestrator.PatchStatusWithRetry(ctx, e.c, e.Object, "Endpoint", func() error {
		e.Object.Status.EndpointConfigVersion = clone.ObjectName()
		e.Object.Status.State = v1alpha1.EndpointStateAvailable
		return nil
	})
}

// bindConfig records this Endpoint on the base EndpointConfig's
// status.endpoint, so that later user edits to the base propagate to the
// serving clone instead of staying dormant.
func (e *Endpoint) bindConfig(ctx context.Context, base *EndpointConfig) error {
	if !base.Present() || base.Object.Status.Endpoint == e.Name {
		return nil
	}
	return orchestrator.PatchStatusWithRetry(ctx, e.c, base.Object, "EndpointConfig", func() error {
		base.Object.Status.Endpoint = e.Name
		return nil
	})
}

// unbindConfig clears the back-reference bindConfig recorded, provided it
// still names this Endpoint.
func (e *Endpoint) unbindConfig(ctx context.Context, configName string) error {
	if configName == "" {
		return nil
	}
	base, err := NewEndpointConfig(ctx, e.c, e.cfg, e.ns, configName, "")
	if err != nil {
		return err
	}
	if !base.Present() || base.Object.Status.Endpoint != e.Name {
		return nil
	}
	return orchestrator.PatchStatusWithRetry(ctx, e.c, base.Object, "EndpointConfig", func() error {
		base.Object.Status.Endpoint = ""
		return nil
	})
}

// UpdateHandler always refreshes the Gateway to the current spec.host, then
// checks spec.config for a swap. When the config name changes, the new
// config is created and its collaborators built before the old config is
// finalized and deleted — the "started:{new}" finalizer is the breadcrumb
// naming the successor, matching the Design Notes' resolved ordering.
func (e *Endpoint) UpdateHandler(ctx context.Context, d diff.Set) error {
	if e.Object == nil {
		return fmt.Errorf("%w: endpoint %s has no backing object", classify.ErrMalformedSpec, e.Name)
	}

	gw, err := collaborators.NewMeshGateway(ctx, e.c, e.Name, e.ns, e.cfg.IngressSelector)
	if err != nil {
		return err
	}
	hosts := []string{e.Object.Spec.Host}
	if err := gw.Refresh(ctx, hosts); err != nil {
		return err
	}

	line, changed := d.Find([]diff.Action{diff.Change}, []string{"spec", "config"})
	if !changed {
		return nil
	}
	newConfigName, _ := line.New.(string)

	var oldConfig *EndpointConfig
	if oldVersionName := e.Object.Status.EndpointConfigVersion; oldVersionName != "" {
		oldConfig, err = NewEndpointConfig(ctx, e.c, e.cfg, e.ns, logicalNameFromObjectName(oldVersionName), versionFromObjectName(oldVersionName))
		if err != nil {
			return err
		}
	}

	base, err := NewEndpointConfig(ctx, e.c, e.cfg, e.ns, newConfigName, "")
	if err != nil {
		return err
	}
	if err := e.bindConfig(ctx, base); err != nil {
		return err
	}
	clone := base.Clone()
	var spec v1alpha1.EndpointConfigSpec
	if base.Present() {
		spec = base.Object.Spec
	}
	status := v1alpha1.EndpointConfigStatus{Endpoint: e.Name}
	if err := clone.Create(ctx, spec, status); err != nil {
		return err
	}
	if err := clone.CreateHandler(ctx, gw.ObjectName(), hosts); err != nil {
		return err
	}

	if err := orchestrator.PatchStatusWithRetry(ctx, e.c, e.Object, "Endpoint", func() error {
		e.Object.Status.EndpointConfigVersion = clone.ObjectName()
		return nil
	}); err != nil {
		return err
	}

	if oldName, _ := line.Old.(string); oldName != "" && oldName != newConfigName {
		if err := e.unbindConfig(ctx, oldName); err != nil {
			return err
		}
	}

	if oldConfig != nil && oldConfig.Present() {
		token := startedFinalizerPrefix + clone.ObjectName()
		if err := orchestrator.AddFinalizers(ctx, e.c, oldConfig.Object, "EndpointConfig", token); err != nil {
			return err
		}
		return orchestrator.DeleteIgnoreNotFound(ctx, e.c, oldConfig.Object)
	}
	return nil
}

// SuccessorReady inspects a "started:{name}" finalizer token and reports
// whether the named EndpointConfig has reached status.state=available,
// meaning it is now safe to let the object carrying this finalizer finish
// deleting. Used by the EndpointConfig controller to gate removal of the
// breadcrumb finalizer UpdateHandler adds to a config it is replacing.
func SuccessorReady(ctx context.Context, c client.Client, cfg config.Config, namespace, token string) (bool, error) {
	name := strings.TrimPrefix(token, startedFinalizerPrefix)
	ec, err := NewEndpointConfig(ctx, c, cfg, namespace, logicalNameFromObjectName(name), versionFromObjectName(name))
	if err != nil {
		return false, err
	}
	if !ec.Present() {
		return false, nil
	}
	return ec.Object.Status.State == v1alpha1.EndpointConfigStateAvailable, nil
}

// DeleteHandler tears down the bound EndpointConfig then the Gateway, and
// detaches the base config so later edits to it stay dormant.
func (e *Endpoint) DeleteHandler(ctx context.Context) error {
	if e.Object.Status.EndpointConfigVersion != "" {
		ec, err := NewEndpointConfig(ctx, e.c, e.cfg, e.ns,
			logicalNameFromObjectName(e.Object.Status.EndpointConfigVersion),
			versionFromObjectName(e.Object.Status.EndpointConfigVersion))
		if err != nil {
			return err
		}
		if ec.Present() {
			if err := ec.DeleteHandler(ctx); err != nil {
				return err
			}
			if err := orchestrator.DeleteIgnoreNotFound(ctx, e.c, ec.Object); err != nil {
				return err
			}
		}
	}

	if err := e.unbindConfig(ctx, e.Object.Spec.Config); err != nil {
		return err
	}

	gw, err := collaborators.NewMeshGateway(ctx, e.c, e.Name, e.ns, e.cfg.IngressSelector)
	if err != nil {
		return err
	}
	return gw.Delete(ctx)
}

// SetState patches status.state.
func (e *Endpoint) SetState(ctx context.Context, state v1alpha1.EndpointState) error {
	if e.Object == nil {
		return nil
	}
	return orchestrator.PatchStatusWithRetry(ctx, e.c, e.Object, "Endpoint", func() error {
		e.Object.Status.State = state
		return nil
	})
}
