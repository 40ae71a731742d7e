package collaborators

import (
	"context"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/bdobrica/K8SMLEndpoints/internal/orchestrator"
)

// ModelService is a ClusterIP Service selecting model={model-name} on port 8080.
type ModelService struct {
	c         client.Client
	Name      string
	Namespace string

	Service *corev1.Service
}

// NewModelService reads the current Service state.
func NewModelService(ctx context.Context, c client.Client, name, namespace string) (*ModelService, error) {
	m := &ModelService{c: c, Name: name, Namespace: namespace}

	svc := &corev1.Service{}
	found, err := orchestrator.Get(ctx, c, client.ObjectKey{Namespace: namespace, Name: name}, svc)
	if err != nil {
		return nil, err
	}
	if found {
		m.Service = svc
	}
	return m, nil
}

// Present reports whether the Service exists.
func (m *ModelService) Present() bool { return m.Service != nil }

// Create builds and posts the Service body. No-op if already present.
func (m *ModelService) Create(ctx context.Context) error {
	if m.Present() {
		return nil
	}

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      m.Name,
			Namespace: m.Namespace,
			Labels:    selectorLabels(m.Name),
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: selectorLabels(m.Name),
			Ports: []corev1.ServicePort{
				{Name: "http", Port: 8080, TargetPort: intstr.FromInt(8080)},
			},
		},
	}

	if _, err := orchestrator.CreateIdempotent(ctx, m.c, svc); err != nil {
		return err
	}
	m.Service = svc
	return nil
}

// Delete removes the Service.
func (m *ModelService) Delete(ctx context.Context) error {
	if m.Service == nil {
		return nil
	}
	if err := orchestrator.DeleteIgnoreNotFound(ctx, m.c, m.Service); err != nil {
		return err
	}
	m.Service = nil
	return nil
}

// AddFinalizers unions tokens into the Service's finalizer list.
func (m *ModelService) AddFinalizers(ctx context.Context, tokens ...string) error {
	if m.Service == nil {
		return nil
	}
	return orchestrator.AddFinalizers(ctx, m.c, m.Service, "ModelService", tokens...)
}

// RemoveFinalizers removes tokens from the Service's finalizer list.
func (m *ModelService) RemoveFinalizers(ctx context.Context, tokens ...string) error {
	if m.Service == nil {
		return nil
	}
	return orchestrator.RemoveFinalizers(ctx, m.c, m.Service, "ModelService", tokens...)
}
