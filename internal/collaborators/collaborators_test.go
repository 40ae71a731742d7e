package collaborators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	meshv1beta1 "github.com/bdobrica/K8SMLEndpoints/api/meshv1beta1"
	"github.com/bdobrica/K8SMLEndpoints/internal/classify"
)

func newTestScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require := require.New(t)
	require.NoError(clientgoscheme.AddToScheme(scheme))
	require.NoError(meshv1beta1.AddToScheme(scheme))
	return scheme
}

func newFakeClient(t *testing.T) client.Client {
	t.Helper()
	scheme := newTestScheme(t)
	return fake.NewClientBuilder().WithScheme(scheme).Build()
}

func TestModelStorageCreateIdempotentAndShrinkRejected(t *testing.T) {
	ctx := context.Background()
	c := newFakeClient(t)

	ms, err := NewModelStorage(ctx, c, "titanic-rfc", "default")
	require.NoError(t, err)
	require.False(t, ms.Present())

	require.NoError(t, ms.Create(ctx, "1Gi", "/mnt/nfs/models", "v1"))
	assert.True(t, ms.Present())

	// Second create is a no-op.
	require.NoError(t, ms.Create(ctx, "1Gi", "/mnt/nfs/models", "v1"))

	// Re-read reflects the same PV/PVC.
	ms2, err := NewModelStorage(ctx, c, "titanic-rfc", "default")
	require.NoError(t, err)
	assert.True(t, ms2.Present())

	err = ms2.Update(ctx, "500Mi", "/mnt/nfs/models")
	assert.ErrorContains(t, err, "decreased")
}

func TestModelStorageUpdateExpandsCapacity(t *testing.T) {
	ctx := context.Background()
	c := newFakeClient(t)

	ms, err := NewModelStorage(ctx, c, "m1", "default")
	require.NoError(t, err)
	require.NoError(t, ms.Create(ctx, "1Gi", "/mnt/nfs/models", ""))

	require.NoError(t, ms.Update(ctx, "2Gi", "/mnt/nfs/models"))

	var pvc corev1.PersistentVolumeClaim
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "m1-pvc"}, &pvc))
	q := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
	assert.Equal(t, "2Gi", q.String())
}

func TestModelStorageUpdateRejectsHostPathChange(t *testing.T) {
	ctx := context.Background()
	c := newFakeClient(t)

	ms, err := NewModelStorage(ctx, c, "m1", "default")
	require.NoError(t, err)
	require.NoError(t, ms.Create(ctx, "1Gi", "/mnt/nfs/models", ""))

	err = ms.Update(ctx, "2Gi", "/mnt/other/models")
	assert.ErrorIs(t, err, classify.ErrHostPathImmutable)

	var pvc corev1.PersistentVolumeClaim
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "m1-pvc"}, &pvc))
	q := pvc.Spec.Resources.Requests[corev1.ResourceStorage]
	assert.Equal(t, "1Gi", q.String())
}

func TestModelServiceCreateAndDelete(t *testing.T) {
	ctx := context.Background()
	c := newFakeClient(t)

	svc, err := NewModelService(ctx, c, "m1", "default")
	require.NoError(t, err)
	require.NoError(t, svc.Create(ctx))
	assert.True(t, svc.Present())

	require.NoError(t, svc.Delete(ctx))
	assert.False(t, svc.Present())

	var check corev1.Service
	found, err := getIgnoreNotFound(ctx, c, client.ObjectKey{Namespace: "default", Name: "m1"}, &check)
	require.NoError(t, err)
	assert.False(t, found)
}

func getIgnoreNotFound(ctx context.Context, c client.Client, key client.ObjectKey, obj client.Object) (bool, error) {
	err := c.Get(ctx, key, obj)
	if err == nil {
		return true, nil
	}
	if client.IgnoreNotFound(err) == nil {
		return false, nil
	}
	return false, err
}

func TestModelDeploymentCreateUpdateReady(t *testing.T) {
	ctx := context.Background()
	c := newFakeClient(t)

	dep, err := NewModelDeployment(ctx, c, "m1", "default")
	require.NoError(t, err)
	require.NoError(t, dep.Create(ctx, ModelDeploymentParams{
		Image: "mltools:model-latest", Artifact: "https://x/a.tar.gz", Instances: 2, CPUs: "100m", Memory: "100Mi",
	}))
	assert.False(t, dep.Ready()) // fake client doesn't simulate status

	var d appsv1.Deployment
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "m1"}, &d))
	assert.Equal(t, int32(2), *d.Spec.Replicas)

	require.NoError(t, dep.Update(ctx, ModelDeploymentParams{Image: "mltools:model-v2"}))
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "m1"}, &d))
	assert.Equal(t, "mltools:model-v2", d.Spec.Template.Spec.Containers[0].Image)
}

func TestMeshVirtualServiceWeightUpdate(t *testing.T) {
	ctx := context.Background()
	c := newFakeClient(t)

	vs, err := NewMeshVirtualService(ctx, c, "ec-v1", "default")
	require.NoError(t, err)
	require.NoError(t, vs.Create(ctx, "ep-gw", []string{"host.example"}, []WeightedDestination{
		{Host: "m1-v1", Port: 8080, Weight: 100},
	}))

	require.NoError(t, vs.UpdateWeights(ctx, []int32{50}))

	var stored meshv1beta1.VirtualService
	require.NoError(t, c.Get(ctx, client.ObjectKey{Namespace: "default", Name: "ec-v1"}, &stored))
	assert.Equal(t, int32(50), stored.Spec.HTTP[0].Route[0].Weight)
}
