package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

func newFakeClient() client.Client {
	return fake.NewClientBuilder().Build()
}

func TestGetAbsentIsNotFoundButNoError(t *testing.T) {
	c := newFakeClient()
	var svc corev1.Service
	found, err := Get(context.Background(), c, client.ObjectKey{Namespace: "ns", Name: "missing"}, &svc)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCreateIdempotent(t *testing.T) {
	c := newFakeClient()
	ctx := context.Background()

	obj := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "ns", Name: "cm"}, Data: map[string]string{"a": "1"}}
	created, err := CreateIdempotent(ctx, c, obj)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "ns", Name: "cm"}, Data: map[string]string{"a": "2"}}
	created, err = CreateIdempotent(ctx, c, dup)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "1", dup.Data["a"])
}

func TestListAccumulatesItems(t *testing.T) {
	c := newFakeClient()
	ctx := context.Background()

	for _, name := range []string{"a", "b", "c"} {
		obj := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "ns", Name: name, Labels: map[string]string{"group": "g1"}}}
		_, err := CreateIdempotent(ctx, c, obj)
		require.NoError(t, err)
	}

	var list corev1.ConfigMapList
	require.NoError(t, List(ctx, c, &list, client.InNamespace("ns"), client.MatchingLabels{"group": "g1"}))
	assert.Len(t, list.Items, 3)

	var empty corev1.ConfigMapList
	require.NoError(t, List(ctx, c, &empty, client.InNamespace("other")))
	assert.Empty(t, empty.Items)
}

func TestDeleteIgnoreNotFound(t *testing.T) {
	c := newFakeClient()
	obj := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "ns", Name: "missing"}}
	err := DeleteIgnoreNotFound(context.Background(), c, obj)
	require.NoError(t, err)
}

func TestAddAndRemoveFinalizers(t *testing.T) {
	c := newFakeClient()
	ctx := context.Background()

	obj := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: "ns", Name: "cm"}}
	_, err := CreateIdempotent(ctx, c, obj)
	require.NoError(t, err)

	require.NoError(t, AddFinalizers(ctx, c, obj, "ConfigMap", "started:foo"))
	assert.Contains(t, obj.Finalizers, "started:foo")

	require.NoError(t, RemoveFinalizers(ctx, c, obj, "ConfigMap", "started:foo"))
	assert.NotContains(t, obj.Finalizers, "started:foo")
}
