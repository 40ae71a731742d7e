// Package collaborators implements the five controller-owned collaborator
// kinds: ModelStorage, ModelDeployment, ModelService, MeshGateway,
// MeshVirtualService. Every wrapper reads its current state on construction
// (absent-value on not-found) and offers idempotent
// create/update/delete/add-finalizer/remove-finalizer.
package collaborators

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/bdobrica/K8SMLEndpoints/internal/classify"
	"github.com/bdobrica/K8SMLEndpoints/internal/orchestrator"
)

// ModelStorage manages a PersistentVolume + PersistentVolumeClaim pair as a
// single unit, named "{model-name}-pv" / "{model-name}-pvc".
type ModelStorage struct {
	c         client.Client
	Name      string
	Namespace string

	PV  *corev1.PersistentVolume
	PVC *corev1.PersistentVolumeClaim
}

func (m *ModelStorage) pvName() string  { return m.Name + "-pv" }
func (m *ModelStorage) pvcName() string { return m.Name + "-pvc" }

// NewModelStorage reads the current PV/PVC state (absent-value on not-found).
func NewModelStorage(ctx context.Context, c client.Client, name, namespace string) (*ModelStorage, error) {
	m := &ModelStorage{c: c, Name: name, Namespace: namespace}

	pv := &corev1.PersistentVolume{}
	found, err := orchestrator.Get(ctx, c, client.ObjectKey{Name: m.pvName()}, pv)
	if err != nil {
		return nil, err
	}
	if found {
		m.PV = pv
	}

	pvc := &corev1.PersistentVolumeClaim{}
	found, err = orchestrator.Get(ctx, c, client.ObjectKey{Namespace: namespace, Name: m.pvcName()}, pvc)
	if err != nil {
		return nil, err
	}
	if found {
		m.PVC = pvc
	}

	return m, nil
}

// Present reports whether both the PV and PVC exist.
func (m *ModelStorage) Present() bool { return m.PV != nil && m.PVC != nil }

func (m *ModelStorage) labels(version string) map[string]string {
	l := map[string]string{
		"type":      "local",
		"namespace": m.Namespace,
		"model":     m.Name,
	}
	if version != "" {
		l["version"] = version
	}
	return l
}

// Create builds the PV/PVC pair from (size, path, version). If already
// present this is a no-op returning the current state.
func (m *ModelStorage) Create(ctx context.Context, size, path, version string) error {
	if m.Present() {
		return nil
	}

	quantity, err := resource.ParseQuantity(size)
	if err != nil {
		return fmt.Errorf("%w: invalid storage size %q: %v", classify.ErrMalformedSpec, size, err)
	}

	if m.PV == nil {
		pv := &corev1.PersistentVolume{
			ObjectMeta: metav1.ObjectMeta{
				Name:   m.pvName(),
				Labels: m.labels(version),
			},
			Spec: corev1.PersistentVolumeSpec{
				Capacity:    corev1.ResourceList{corev1.ResourceStorage: quantity},
				AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
				PersistentVolumeSource: corev1.PersistentVolumeSource{
					HostPath: &corev1.HostPathVolumeSource{Path: fmt.Sprintf("%s/%s", path, m.Name)},
				},
				PersistentVolumeReclaimPolicy: corev1.PersistentVolumeReclaimRetain,
			},
		}
		if _, err := orchestrator.CreateIdempotent(ctx, m.c, pv); err != nil {
			return err
		}
		m.PV = pv
	}

	if m.PVC == nil {
		pvc := &corev1.PersistentVolumeClaim{
			ObjectMeta: metav1.ObjectMeta{
				Name:      m.pvcName(),
				Namespace: m.Namespace,
				Labels:    m.labels(version),
			},
			Spec: corev1.PersistentVolumeClaimSpec{
				AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
				Resources: corev1.VolumeResourceRequirements{
					Requests: corev1.ResourceList{corev1.ResourceStorage: quantity},
				},
				Selector: &metav1.LabelSelector{MatchLabels: m.labels(version)},
			},
		}
		if _, err := orchestrator.CreateIdempotent(ctx, m.c, pvc); err != nil {
			return err
		}
		m.PVC = pvc
	}

	return nil
}

// Update widens storage capacity. hostPath is immutable after creation: a
// path that resolves differently than the PV's current hostPath is
// rejected with ErrHostPathImmutable, and a capacity decrease is rejected
// with ErrStorageShrink — both leave the wrapper unchanged. A request equal
// to the current capacity is a no-op.
func (m *ModelStorage) Update(ctx context.Context, size, path string) error {
	if !m.Present() {
		return classify.ErrMalformedSpec
	}

	if path != "" {
		wantPath := fmt.Sprintf("%s/%s", path, m.Name)
		if m.PV.Spec.PersistentVolumeSource.HostPath == nil || m.PV.Spec.PersistentVolumeSource.HostPath.Path != wantPath {
			return classify.ErrHostPathImmutable
		}
	}

	requested, err := resource.ParseQuantity(size)
	if err != nil {
		return fmt.Errorf("%w: invalid storage size %q: %v", classify.ErrMalformedSpec, size, err)
	}

	current := m.PVC.Spec.Resources.Requests[corev1.ResourceStorage]
	switch cmp := requested.Cmp(current); {
	case cmp < 0:
		return classify.ErrStorageShrink
	case cmp == 0:
		return nil
	}

	if err := orchestrator.PatchWithRetry(ctx, m.c, m.PV, "ModelStorage", func() error {
		m.PV.Spec.Capacity[corev1.ResourceStorage] = requested
		return nil
	}); err != nil {
		return err
	}

	return orchestrator.PatchWithRetry(ctx, m.c, m.PVC, "ModelStorage", func() error {
		m.PVC.Spec.Resources.Requests[corev1.ResourceStorage] = requested
		return nil
	})
}

// Delete removes the PVC first, then the PV.
func (m *ModelStorage) Delete(ctx context.Context) error {
	if m.PVC != nil {
		if err := orchestrator.DeleteIgnoreNotFound(ctx, m.c, m.PVC); err != nil {
			return err
		}
		m.PVC = nil
	}
	if m.PV != nil {
		if err := orchestrator.DeleteIgnoreNotFound(ctx, m.c, m.PV); err != nil {
			return err
		}
		m.PV = nil
	}
	return nil
}

// AddFinalizers unions tokens into both the PV's and PVC's finalizer lists.
func (m *ModelStorage) AddFinalizers(ctx context.Context, tokens ...string) error {
	if m.PVC != nil {
		if err := orchestrator.AddFinalizers(ctx, m.c, m.PVC, "ModelStorage", tokens...); err != nil {
			return err
		}
	}
	if m.PV != nil {
		if err := orchestrator.AddFinalizers(ctx, m.c, m.PV, "ModelStorage", tokens...); err != nil {
			return err
		}
	}
	return nil
}

// RemoveFinalizers removes tokens from both the PV's and PVC's finalizer lists.
func (m *ModelStorage) RemoveFinalizers(ctx context.Context, tokens ...string) error {
	if m.PVC != nil {
		if err := orchestrator.RemoveFinalizers(ctx, m.c, m.PVC, "ModelStorage", tokens...); err != nil {
			return err
		}
	}
	if m.PV != nil {
		if err := orchestrator.RemoveFinalizers(ctx, m.c, m.PV, "ModelStorage", tokens...); err != nil {
			return err
		}
	}
	return nil
}
