package controllers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	meshv1beta1 "github.com/bdobrica/K8SMLEndpoints/api/meshv1beta1"
	v1alpha1 "github.com/bdobrica/K8SMLEndpoints/api/v1alpha1"
	"github.com/bdobrica/K8SMLEndpoints/internal/config"
)

func newTestScheme(t *testing.T) *runtime.Scheme {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(scheme))
	require.NoError(t, v1alpha1.AddToScheme(scheme))
	require.NoError(t, meshv1beta1.AddToScheme(scheme))
	return scheme
}

func newFakeClient(t *testing.T, initObjs ...client.Object) client.Client {
	t.Helper()
	return fake.NewClientBuilder().
		WithScheme(newTestScheme(t)).
		WithStatusSubresource(&v1alpha1.Model{}, &v1alpha1.EndpointConfig{}, &v1alpha1.Endpoint{}).
		WithObjects(initObjs...).
		Build()
}

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.DefaultStoragePath = "/mnt/nfs/models"
	return cfg
}

func nsName(namespace, name string) types.NamespacedName {
	return types.NamespacedName{Namespace: namespace, Name: name}
}

// The first reconcile of a Model only records the last-applied baseline and
// adds the protection finalizer; it never allocates collaborators itself —
// that happens from the owning EndpointConfig's own CreateHandler.
func TestModelReconcileFirstPassRecordsBaselineOnly(t *testing.T) {
	ctx := context.Background()
	model := &v1alpha1.Model{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec:       v1alpha1.ModelSpec{Image: "mltools:model-latest", Artifact: "https://example/v1.tar.gz"},
	}
	c := newFakeClient(t, model)
	r := &ModelReconciler{Client: c, Scheme: newTestScheme(t), Config: testConfig()}

	_, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err)

	var got v1alpha1.Model
	require.NoError(t, c.Get(ctx, nsName("default", "titanic-rfc"), &got))
	assert.Contains(t, got.Finalizers, "mlendpoints.io/model")
	assert.Contains(t, got.Annotations, lastAppliedAnnotation)

	var deployments appsv1.DeploymentList
	require.NoError(t, c.List(ctx, &deployments))
	assert.Empty(t, deployments.Items)
}

// Editing the base Model's artifact rolls over its serving clone: a new
// versioned clone is created with fresh collaborators, the superseded clone
// acquires a breadcrumb finalizer naming its successor and is deleted, and
// the owning EndpointConfig's bookkeeping follows.
func TestModelReconcileArtifactChangeRollsOverClone(t *testing.T) {
	ctx := context.Background()
	model := &v1alpha1.Model{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec:       v1alpha1.ModelSpec{Image: "mltools:model-latest", Artifact: "https://example/v1.tar.gz"},
	}
	ec := &v1alpha1.EndpointConfig{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec: v1alpha1.EndpointConfigSpec{
			Models: []v1alpha1.ModelRef{{Model: "titanic-rfc", Weight: 100, Instances: 1, Size: "1Gi"}},
		},
	}
	ep := &v1alpha1.Endpoint{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec:       v1alpha1.EndpointSpec{Host: "titanic.example.com", Config: "titanic-rfc"},
	}
	c := newFakeClient(t, model, ec, ep)

	epr := &EndpointReconciler{Client: c, Scheme: newTestScheme(t), Config: testConfig()}
	_, err := epr.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err)

	var epRefreshed v1alpha1.Endpoint
	require.NoError(t, c.Get(ctx, nsName("default", "titanic-rfc"), &epRefreshed))
	configVersion := epRefreshed.Status.EndpointConfigVersion

	var ecClone v1alpha1.EndpointConfig
	require.NoError(t, c.Get(ctx, nsName("default", configVersion), &ecClone))
	require.Len(t, ecClone.Status.ModelVersions, 1)
	oldCloneName := ecClone.Status.ModelVersions[0]

	mr := &ModelReconciler{Client: c, Scheme: newTestScheme(t), Config: testConfig()}
	_, err = mr.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err) // first pass records the baseline

	var got v1alpha1.Model
	require.NoError(t, c.Get(ctx, nsName("default", "titanic-rfc"), &got))
	got.Spec.Artifact = "https://example/v2.tar.gz"
	require.NoError(t, c.Update(ctx, &got))

	_, err = mr.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err)

	require.NoError(t, c.Get(ctx, nsName("default", configVersion), &ecClone))
	require.Len(t, ecClone.Status.ModelVersions, 1)
	newCloneName := ecClone.Status.ModelVersions[0]
	assert.NotEqual(t, oldCloneName, newCloneName)

	var newClone v1alpha1.Model
	require.NoError(t, c.Get(ctx, nsName("default", newCloneName), &newClone))
	assert.Equal(t, "https://example/v2.tar.gz", newClone.Spec.Artifact)

	var oldClone v1alpha1.Model
	require.NoError(t, c.Get(ctx, nsName("default", oldCloneName), &oldClone))
	assert.Contains(t, oldClone.Finalizers, newCloneName)
	assert.False(t, oldClone.DeletionTimestamp.IsZero(), "the superseded clone is marked for deletion")

	var vs meshv1beta1.VirtualService
	require.NoError(t, c.Get(ctx, nsName("default", configVersion), &vs))
	assert.Equal(t, newCloneName, vs.Spec.HTTP[0].Route[0].Destination.Host)
}

// A weight-only edit on the base EndpointConfig reaches the serving clone's
// VirtualService without recreating any Model.
func TestEndpointConfigReconcileWeightEditReachesServingClone(t *testing.T) {
	ctx := context.Background()
	model := &v1alpha1.Model{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec:       v1alpha1.ModelSpec{Image: "mltools:model-latest", Artifact: "https://example/v1.tar.gz"},
	}
	ec := &v1alpha1.EndpointConfig{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec: v1alpha1.EndpointConfigSpec{
			Models: []v1alpha1.ModelRef{{Model: "titanic-rfc", Weight: 100, Instances: 1, Size: "1Gi"}},
		},
	}
	ep := &v1alpha1.Endpoint{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec:       v1alpha1.EndpointSpec{Host: "titanic.example.com", Config: "titanic-rfc"},
	}
	c := newFakeClient(t, model, ec, ep)

	epr := &EndpointReconciler{Client: c, Scheme: newTestScheme(t), Config: testConfig()}
	_, err := epr.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err)

	ecr := &EndpointConfigReconciler{Client: c, Scheme: newTestScheme(t), Config: testConfig()}
	_, err = ecr.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err) // first pass records the baseline

	var base v1alpha1.EndpointConfig
	require.NoError(t, c.Get(ctx, nsName("default", "titanic-rfc"), &base))
	assert.Equal(t, "titanic-rfc", base.Status.Endpoint, "creating the Endpoint binds the base config")
	base.Spec.Models[0].Weight = 50
	require.NoError(t, c.Update(ctx, &base))

	_, err = ecr.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err)

	var epRefreshed v1alpha1.Endpoint
	require.NoError(t, c.Get(ctx, nsName("default", "titanic-rfc"), &epRefreshed))
	configVersion := epRefreshed.Status.EndpointConfigVersion

	var ecClone v1alpha1.EndpointConfig
	require.NoError(t, c.Get(ctx, nsName("default", configVersion), &ecClone))
	before := ecClone.Status.ModelVersions

	var vs meshv1beta1.VirtualService
	require.NoError(t, c.Get(ctx, nsName("default", configVersion), &vs))
	assert.Equal(t, int32(50), vs.Spec.HTTP[0].Route[0].Weight)
	assert.Equal(t, before[0], vs.Spec.HTTP[0].Route[0].Destination.Host, "no Model is recreated on a weight edit")
}

// An Endpoint is the only one of the three kinds whose create event is
// reconciled directly: the first pass must build the Gateway, the cloned
// EndpointConfig, and its own Models.
func TestEndpointReconcileFirstPassBuildsGraph(t *testing.T) {
	ctx := context.Background()
	model := &v1alpha1.Model{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec:       v1alpha1.ModelSpec{Image: "mltools:model-latest", Artifact: "https://example/v1.tar.gz"},
	}
	ec := &v1alpha1.EndpointConfig{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec: v1alpha1.EndpointConfigSpec{
			Models: []v1alpha1.ModelRef{{Model: "titanic-rfc", Weight: 100, Instances: 1, Size: "1Gi"}},
		},
	}
	ep := &v1alpha1.Endpoint{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec:       v1alpha1.EndpointSpec{Host: "titanic.example.com", Config: "titanic-rfc"},
	}
	c := newFakeClient(t, model, ec, ep)
	r := &EndpointReconciler{Client: c, Scheme: newTestScheme(t), Config: testConfig()}

	_, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err)

	var got v1alpha1.Endpoint
	require.NoError(t, c.Get(ctx, nsName("default", "titanic-rfc"), &got))
	assert.Contains(t, got.Finalizers, "mlendpoints.io/endpoint")
	assert.NotEmpty(t, got.Status.EndpointConfigVersion)
	assert.Equal(t, v1alpha1.EndpointStateAvailable, got.Status.State)

	var gw meshv1beta1.Gateway
	require.NoError(t, c.Get(ctx, nsName("default", "titanic-rfc-gw"), &gw))

	var vs meshv1beta1.VirtualService
	require.NoError(t, c.Get(ctx, nsName("default", got.Status.EndpointConfigVersion), &vs))

	var deployments appsv1.DeploymentList
	require.NoError(t, c.List(ctx, &deployments))
	assert.Len(t, deployments.Items, 1)
}

// EndpointConfig only reconciles update/delete: its own create event is a
// no-op, allocation happens from the owning Endpoint instead.
func TestEndpointConfigReconcileFirstPassRecordsBaselineOnly(t *testing.T) {
	ctx := context.Background()
	ec := &v1alpha1.EndpointConfig{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec: v1alpha1.EndpointConfigSpec{
			Models: []v1alpha1.ModelRef{{Model: "titanic-rfc", Weight: 100, Instances: 1, Size: "1Gi"}},
		},
	}
	c := newFakeClient(t, ec)
	r := &EndpointConfigReconciler{Client: c, Scheme: newTestScheme(t), Config: testConfig()}

	_, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err)

	var got v1alpha1.EndpointConfig
	require.NoError(t, c.Get(ctx, nsName("default", "titanic-rfc"), &got))
	assert.Contains(t, got.Finalizers, "mlendpoints.io/endpointconfig")
	assert.Contains(t, got.Annotations, lastAppliedAnnotation)

	var vsList meshv1beta1.VirtualServiceList
	require.NoError(t, c.List(ctx, &vsList))
	assert.Empty(t, vsList.Items)
}

// Deleting an Endpoint tears down its bound EndpointConfig and Gateway
// before the protection finalizer is released.
func TestEndpointReconcileDeleteTearsDownGraph(t *testing.T) {
	ctx := context.Background()
	model := &v1alpha1.Model{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec:       v1alpha1.ModelSpec{Image: "mltools:model-latest", Artifact: "https://example/v1.tar.gz"},
	}
	ec := &v1alpha1.EndpointConfig{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec: v1alpha1.EndpointConfigSpec{
			Models: []v1alpha1.ModelRef{{Model: "titanic-rfc", Weight: 100, Instances: 1, Size: "1Gi"}},
		},
	}
	ep := &v1alpha1.Endpoint{
		ObjectMeta: metav1.ObjectMeta{Name: "titanic-rfc", Namespace: "default"},
		Spec:       v1alpha1.EndpointSpec{Host: "titanic.example.com", Config: "titanic-rfc"},
	}
	c := newFakeClient(t, model, ec, ep)
	r := &EndpointReconciler{Client: c, Scheme: newTestScheme(t), Config: testConfig()}

	_, err := r.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err)

	var got v1alpha1.Endpoint
	require.NoError(t, c.Get(ctx, nsName("default", "titanic-rfc"), &got))
	require.NoError(t, c.Delete(ctx, &got))

	_, err = r.Reconcile(ctx, ctrl.Request{NamespacedName: nsName("default", "titanic-rfc")})
	require.NoError(t, err)

	var deployments appsv1.DeploymentList
	require.NoError(t, c.List(ctx, &deployments))
	assert.Empty(t, deployments.Items, "the cloned Model's Deployment must not survive Endpoint deletion")

	var vsList meshv1beta1.VirtualServiceList
	require.NoError(t, c.List(ctx, &vsList))
	assert.Empty(t, vsList.Items)

	var gwList meshv1beta1.GatewayList
	require.NoError(t, c.List(ctx, &gwList))
	assert.Empty(t, gwList.Items)

	var postDelete v1alpha1.Endpoint
	err = c.Get(ctx, nsName("default", "titanic-rfc"), &postDelete)
	assert.True(t, err == nil || client.IgnoreNotFound(err) == nil)
}
