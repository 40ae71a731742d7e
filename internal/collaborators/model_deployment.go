package collaborators

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/bdobrica/K8SMLEndpoints/internal/orchestrator"
)

// ModelDeploymentParams carries the fields create_handler passes through
// from Model.spec (and, indirectly, the owning EndpointConfig entry).
type ModelDeploymentParams struct {
	Image     string
	Artifact  string
	Command   []string
	Args      []string
	Instances int32
	CPUs      string
	Memory    string
	InitImage string
}

// ModelDeployment is a Deployment with one init-container (artifact
// downloader) and one primary serving container, pod-selected by
// model={model-name} and mounting ModelStorage at /opt/ml.
type ModelDeployment struct {
	c         client.Client
	Name      string
	Namespace string

	Deployment *appsv1.Deployment
}

func (m *ModelDeployment) deploymentName() string { return m.Name }

// NewModelDeployment reads the current Deployment state.
func NewModelDeployment(ctx context.Context, c client.Client, name, namespace string) (*ModelDeployment, error) {
	m := &ModelDeployment{c: c, Name: name, Namespace: namespace}

	dep := &appsv1.Deployment{}
	found, err := orchestrator.Get(ctx, c, client.ObjectKey{Namespace: namespace, Name: m.deploymentName()}, dep)
	if err != nil {
		return nil, err
	}
	if found {
		m.Deployment = dep
	}
	return m, nil
}

// Present reports whether the Deployment exists.
func (m *ModelDeployment) Present() bool { return m.Deployment != nil }

func selectorLabels(name string) map[string]string {
	return map[string]string{"model": name}
}

// Create builds and posts the Deployment body. No-op if already present.
func (m *ModelDeployment) Create(ctx context.Context, p ModelDeploymentParams) error {
	if m.Present() {
		return nil
	}

	replicas := p.Instances
	if replicas < 1 {
		replicas = 1
	}

	resources := corev1.ResourceRequirements{
		Limits:   corev1.ResourceList{},
		Requests: corev1.ResourceList{},
	}
	if p.CPUs != "" {
		q := resource.MustParse(p.CPUs)
		resources.Limits[corev1.ResourceCPU] = q
		resources.Requests[corev1.ResourceCPU] = q
	}
	if p.Memory != "" {
		q := resource.MustParse(p.Memory)
		resources.Limits[corev1.ResourceMemory] = q
		resources.Requests[corev1.ResourceMemory] = q
	}

	initImage := p.InitImage
	if initImage == "" {
		initImage = "quay.io/bdobrica/ml-operator-tools:model-init-latest"
	}

	dep := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      m.deploymentName(),
			Namespace: m.Namespace,
			Labels:    selectorLabels(m.Name),
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{MatchLabels: selectorLabels(m.Name)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: selectorLabels(m.Name)},
				Spec: corev1.PodSpec{
					InitContainers: []corev1.Container{
						{
							Name:  "model-init",
							Image: initImage,
							Env: []corev1.EnvVar{
								{Name: "MODEL_URL", Value: p.Artifact},
								{Name: "MODEL_PATH", Value: "/opt/ml"},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "model-storage", MountPath: "/opt/ml"},
							},
						},
					},
					Containers: []corev1.Container{
						{
							Name:      "model",
							Image:     p.Image,
							Command:   p.Command,
							Args:      p.Args,
							Resources: resources,
							Ports: []corev1.ContainerPort{
								{ContainerPort: 8080},
							},
							VolumeMounts: []corev1.VolumeMount{
								{Name: "model-storage", MountPath: "/opt/ml"},
							},
						},
					},
					Volumes: []corev1.Volume{
						{
							Name: "model-storage",
							VolumeSource: corev1.VolumeSource{
								PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
									ClaimName: m.Name + "-pvc",
								},
							},
						},
					},
				},
			},
		},
	}

	if _, err := orchestrator.CreateIdempotent(ctx, m.c, dep); err != nil {
		return err
	}
	m.Deployment = dep
	return nil
}

// Update patches image/command/args in place without rebuilding storage —
// used by Model.update_handler when only spec.image/command/args changed.
func (m *ModelDeployment) Update(ctx context.Context, p ModelDeploymentParams) error {
	if !m.Present() {
		return m.Create(ctx, p)
	}
	return orchestrator.PatchWithRetry(ctx, m.c, m.Deployment, "ModelDeployment", func() error {
		c := &m.Deployment.Spec.Template.Spec.Containers[0]
		c.Image = p.Image
		c.Command = p.Command
		c.Args = p.Args
		return nil
	})
}

// Delete removes the Deployment.
func (m *ModelDeployment) Delete(ctx context.Context) error {
	if m.Deployment == nil {
		return nil
	}
	if err := orchestrator.DeleteIgnoreNotFound(ctx, m.c, m.Deployment); err != nil {
		return err
	}
	m.Deployment = nil
	return nil
}

// AddFinalizers unions tokens into the Deployment's finalizer list.
func (m *ModelDeployment) AddFinalizers(ctx context.Context, tokens ...string) error {
	if m.Deployment == nil {
		return nil
	}
	return orchestrator.AddFinalizers(ctx, m.c, m.Deployment, "ModelDeployment", tokens...)
}

// RemoveFinalizers removes tokens from the Deployment's finalizer list.
func (m *ModelDeployment) RemoveFinalizers(ctx context.Context, tokens ...string) error {
	if m.Deployment == nil {
		return nil
	}
	return orchestrator.RemoveFinalizers(ctx, m.c, m.Deployment, "ModelDeployment", tokens...)
}

// Ready reports whether the Deployment has fully rolled out:
// replicas == updatedReplicas == availableReplicas.
func (m *ModelDeployment) Ready() bool {
	if m.Deployment == nil {
		return false
	}
	s := m.Deployment.Status
	desired := int32(1)
	if m.Deployment.Spec.Replicas != nil {
		desired = *m.Deployment.Spec.Replicas
	}
	return s.Replicas == desired && s.UpdatedReplicas == desired && s.AvailableReplicas == desired
}
