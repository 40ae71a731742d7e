// Package orchestrator is the thin, generic, typed gateway to the cluster
// API: every collaborator wrapper and domain resource
// reads through Get (absent-value on not-found), writes through
// CreateIdempotent/PatchWithRetry, and deletes through
// DeleteIgnoreNotFound. No package outside this one is allowed to call
// client.Client directly for the kinds this controller owns.
package orchestrator

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apimeta "k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	"github.com/bdobrica/K8SMLEndpoints/internal/metrics"
)

// listPageSize bounds a single page of a paginated List call.
const listPageSize = 500

// callTimeout bounds every individual cluster-API operation so a hung
// transport cannot stall a handler indefinitely.
const callTimeout = 30 * time.Second

// Get reads obj by key. found is false (and err nil) on not-found; any
// other failure is returned as a transport error.
func Get(ctx context.Context, c client.Client, key client.ObjectKey, obj client.Object) (found bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err = c.Get(ctx, key, obj)
	if err == nil {
		return true, nil
	}
	if apierrors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// CreateIdempotent creates obj. If it already exists, obj is overwritten
// with the server-stored copy and created is false — the caller observes a
// no-op rather than an error, so two concurrent creates never leak
// resources.
func CreateIdempotent(ctx context.Context, c client.Client, obj client.Object) (created bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err = c.Create(ctx, obj)
	if err == nil {
		return true, nil
	}
	if apierrors.IsAlreadyExists(err) {
		key := client.ObjectKeyFromObject(obj)
		if getErr := c.Get(ctx, key, obj); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return false, err
}

// List reads a collection into list, following pagination until the
// server's continuation token is empty and accumulating every page's items.
// An empty result is a (possibly empty) list, never an error.
func List(ctx context.Context, c client.Client, list client.ObjectList, opts ...client.ListOption) error {
	var items []runtime.Object
	page := list.DeepCopyObject().(client.ObjectList)
	token := ""
	for {
		pageOpts := append([]client.ListOption{client.Limit(listPageSize)}, opts...)
		if token != "" {
			pageOpts = append(pageOpts, client.Continue(token))
		}
		pageCtx, cancel := context.WithTimeout(ctx, callTimeout)
		err := c.List(pageCtx, page, pageOpts...)
		cancel()
		if err != nil {
			return err
		}
		pageItems, err := apimeta.ExtractList(page)
		if err != nil {
			return err
		}
		items = append(items, pageItems...)
		token = page.GetContinue()
		if token == "" {
			break
		}
	}
	list.SetResourceVersion(page.GetResourceVersion())
	return apimeta.SetList(list, items)
}

// PatchWithRetry re-reads obj, applies mutate to the fresh copy, and
// patches it, retrying automatically on resource-version conflicts. kind is
// used only to label the conflict-retry metric.
func PatchWithRetry(ctx context.Context, c client.Client, obj client.Object, kind string, mutate func() error) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if err := c.Get(ctx, client.ObjectKeyFromObject(obj), obj); err != nil {
			return err
		}
		base := obj.DeepCopyObject().(client.Object)
		if err := mutate(); err != nil {
			return err
		}
		err := c.Patch(ctx, obj, client.MergeFrom(base))
		if apierrors.IsConflict(err) {
			metrics.RecordVersionConflict(kind, obj.GetNamespace())
		}
		return err
	})
}

// PatchStatusWithRetry is PatchWithRetry for the status subresource.
func PatchStatusWithRetry(ctx context.Context, c client.Client, obj client.Object, kind string, mutate func() error) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if err := c.Get(ctx, client.ObjectKeyFromObject(obj), obj); err != nil {
			return err
		}
		base := obj.DeepCopyObject().(client.Object)
		if err := mutate(); err != nil {
			return err
		}
		err := c.Status().Patch(ctx, obj, client.MergeFrom(base))
		if apierrors.IsConflict(err) {
			metrics.RecordVersionConflict(kind, obj.GetNamespace())
		}
		return err
	})
}

// DeleteIgnoreNotFound deletes obj; a not-found response is treated as
// success.
func DeleteIgnoreNotFound(ctx context.Context, c client.Client, obj client.Object) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	err := c.Delete(ctx, obj)
	if err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	return nil
}

// AddFinalizers unions tokens into obj's finalizer list and patches it.
func AddFinalizers(ctx context.Context, c client.Client, obj client.Object, kind string, tokens ...string) error {
	return PatchWithRetry(ctx, c, obj, kind, func() error {
		for _, t := range tokens {
			controllerutil.AddFinalizer(obj, t)
		}
		return nil
	})
}

// RemoveFinalizers set-differences tokens out of obj's finalizer list and
// patches it.
func RemoveFinalizers(ctx context.Context, c client.Client, obj client.Object, kind string, tokens ...string) error {
	return PatchWithRetry(ctx, c, obj, kind, func() error {
		for _, t := range tokens {
			controllerutil.RemoveFinalizer(obj, t)
		}
		return nil
	})
}
