package collaborators

import (
	"context"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	meshv1beta1 "github.com/bdobrica/K8SMLEndpoints/api/meshv1beta1"
	"github.com/bdobrica/K8SMLEndpoints/internal/orchestrator"
)

// MeshGateway is the cluster-mesh ingress gateway for an Endpoint's host,
// named "{endpoint-name}-gw".
type MeshGateway struct {
	c         client.Client
	Name      string
	Namespace string

	IngressSelector string

	Gateway *meshv1beta1.Gateway
}

// NewMeshGateway reads the current Gateway state. name is the Endpoint's
// name; the object-name is derived as "{name}-gw".
func NewMeshGateway(ctx context.Context, c client.Client, name, namespace, ingressSelector string) (*MeshGateway, error) {
	m := &MeshGateway{c: c, Name: name, Namespace: namespace, IngressSelector: ingressSelector}

	gw := &meshv1beta1.Gateway{}
	found, err := orchestrator.Get(ctx, c, client.ObjectKey{Namespace: namespace, Name: m.ObjectName()}, gw)
	if err != nil {
		return nil, err
	}
	if found {
		m.Gateway = gw
	}
	return m, nil
}

// ObjectName is the Gateway's physical name: "{endpoint-name}-gw".
func (m *MeshGateway) ObjectName() string { return m.Name + "-gw" }

// Present reports whether the Gateway exists.
func (m *MeshGateway) Present() bool { return m.Gateway != nil }

// Create builds and posts the Gateway body listening on port 8080/HTTP for
// hosts. No-op if already present.
func (m *MeshGateway) Create(ctx context.Context, hosts []string) error {
	if m.Present() {
		return nil
	}

	gw := &meshv1beta1.Gateway{
		ObjectMeta: metav1.ObjectMeta{
			Name:      m.ObjectName(),
			Namespace: m.Namespace,
			Labels:    map[string]string{"endpoint": m.Name},
		},
		Spec: meshv1beta1.GatewaySpec{
			Selector: meshv1beta1.GatewaySelector{Istio: m.IngressSelector},
			Servers: []meshv1beta1.GatewayServer{
				{
					Port:  meshv1beta1.GatewayPort{Number: 8080, Name: "http", Protocol: "HTTP"},
					Hosts: hosts,
				},
			},
		},
	}

	if _, err := orchestrator.CreateIdempotent(ctx, m.c, gw); err != nil {
		return err
	}
	m.Gateway = gw
	return nil
}

// Refresh re-applies hosts idempotently — used by Endpoint.update_handler,
// which always refreshes the Gateway regardless of what changed.
func (m *MeshGateway) Refresh(ctx context.Context, hosts []string) error {
	if !m.Present() {
		return m.Create(ctx, hosts)
	}
	return orchestrator.PatchWithRetry(ctx, m.c, m.Gateway, "MeshGateway", func() error {
		m.Gateway.Spec.Servers[0].Hosts = hosts
		return nil
	})
}

// Delete removes the Gateway.
func (m *MeshGateway) Delete(ctx context.Context) error {
	if m.Gateway == nil {
		return nil
	}
	if err := orchestrator.DeleteIgnoreNotFound(ctx, m.c, m.Gateway); err != nil {
		return err
	}
	m.Gateway = nil
	return nil
}

// AddFinalizers unions tokens into the Gateway's finalizer list.
func (m *MeshGateway) AddFinalizers(ctx context.Context, tokens ...string) error {
	if m.Gateway == nil {
		return nil
	}
	return orchestrator.AddFinalizers(ctx, m.c, m.Gateway, "MeshGateway", tokens...)
}

// RemoveFinalizers removes tokens from the Gateway's finalizer list.
func (m *MeshGateway) RemoveFinalizers(ctx context.Context, tokens ...string) error {
	if m.Gateway == nil {
		return nil
	}
	return orchestrator.RemoveFinalizers(ctx, m.c, m.Gateway, "MeshGateway", tokens...)
}
