package collaborators

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	meshv1beta1 "github.com/bdobrica/K8SMLEndpoints/api/meshv1beta1"
	"github.com/bdobrica/K8SMLEndpoints/internal/orchestrator"
)

// WeightedDestination is one entry of a MeshVirtualService's route.
type WeightedDestination struct {
	Host   string
	Port   uint32
	Weight int32
}

// MeshVirtualService is the cluster-mesh routing rule bound to a Gateway,
// carrying exactly one HTTP route with a weighted destination list.
type MeshVirtualService struct {
	c         client.Client
	Name      string
	Namespace string

	VirtualService *meshv1beta1.VirtualService
}

// NewMeshVirtualService reads the current VirtualService state. name is the
// EndpointConfig clone's physical object-name: one VirtualService per
// EndpointConfig, named after it.
func NewMeshVirtualService(ctx context.Context, c client.Client, name, namespace string) (*MeshVirtualService, error) {
	m := &MeshVirtualService{c: c, Name: name, Namespace: namespace}

	vs := &meshv1beta1.VirtualService{}
	found, err := orchestrator.Get(ctx, c, client.ObjectKey{Namespace: namespace, Name: name}, vs)
	if err != nil {
		return nil, err
	}
	if found {
		m.VirtualService = vs
	}
	return m, nil
}

// Present reports whether the VirtualService exists.
func (m *MeshVirtualService) Present() bool { return m.VirtualService != nil }

func toRoute(dests []WeightedDestination) []meshv1beta1.RouteDestination {
	route := make([]meshv1beta1.RouteDestination, len(dests))
	for i, d := range dests {
		route[i] = meshv1beta1.RouteDestination{
			Destination: meshv1beta1.Destination{Host: d.Host, Port: d.Port},
			Weight:      d.Weight,
		}
	}
	return route
}

// Create builds and posts the VirtualService bound to gatewayName, with one
// HTTP route carrying dests in declared order. No-op if already present.
func (m *MeshVirtualService) Create(ctx context.Context, gatewayName string, hosts []string, dests []WeightedDestination) error {
	if m.Present() {
		return nil
	}

	vs := &meshv1beta1.VirtualService{
		ObjectMeta: metav1.ObjectMeta{
			Name:      m.Name,
			Namespace: m.Namespace,
			Labels:    map[string]string{"endpoint_config": m.Name},
		},
		Spec: meshv1beta1.VirtualServiceSpec{
			Gateways: []string{gatewayName},
			Hosts:    hosts,
			HTTP:     []meshv1beta1.HTTPRoute{{Route: toRoute(dests)}},
		},
	}

	if _, err := orchestrator.CreateIdempotent(ctx, m.c, vs); err != nil {
		return err
	}
	m.VirtualService = vs
	return nil
}

// UpdateWeights patches only the weight of each existing destination,
// leaving hosts untouched — used for the weight-only EndpointConfig update
// path.
func (m *MeshVirtualService) UpdateWeights(ctx context.Context, weights []int32) error {
	if !m.Present() {
		return nil
	}
	return orchestrator.PatchWithRetry(ctx, m.c, m.VirtualService, "MeshVirtualService", func() error {
		route := m.VirtualService.Spec.HTTP[0].Route
		for i := range route {
			if i < len(weights) {
				route[i].Weight = weights[i]
			}
		}
		return nil
	})
}

// UpdateDestinations patches the full destination list — used after a
// membership change rolls Models forward.
func (m *MeshVirtualService) UpdateDestinations(ctx context.Context, dests []WeightedDestination) error {
	if !m.Present() {
		return nil
	}
	return orchestrator.PatchWithRetry(ctx, m.c, m.VirtualService, "MeshVirtualService", func() error {
		m.VirtualService.Spec.HTTP = []meshv1beta1.HTTPRoute{{Route: toRoute(dests)}}
		return nil
	})
}

// Delete removes the VirtualService.
func (m *MeshVirtualService) Delete(ctx context.Context) error {
	if m.VirtualService == nil {
		return nil
	}
	if err := orchestrator.DeleteIgnoreNotFound(ctx, m.c, m.VirtualService); err != nil {
		return err
	}
	m.VirtualService = nil
	return nil
}

// AddFinalizers unions tokens into the VirtualService's finalizer list.
func (m *MeshVirtualService) AddFinalizers(ctx context.Context, tokens ...string) error {
	if m.VirtualService == nil {
		return nil
	}
	return orchestrator.AddFinalizers(ctx, m.c, m.VirtualService, "MeshVirtualService", tokens...)
}

// RemoveFinalizers removes tokens from the VirtualService's finalizer list.
func (m *MeshVirtualService) RemoveFinalizers(ctx context.Context, tokens ...string) error {
	if m.VirtualService == nil {
		return nil
	}
	return orchestrator.RemoveFinalizers(ctx, m.c, m.VirtualService, "MeshVirtualService", tokens...)
}
