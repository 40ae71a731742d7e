package controllers

import (
	"context"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	v1alpha1 "github.com/bdobrica/K8SMLEndpoints/api/v1alpha1"
	"github.com/bdobrica/K8SMLEndpoints/internal/classify"
	"github.com/bdobrica/K8SMLEndpoints/internal/config"
	"github.com/bdobrica/K8SMLEndpoints/internal/diff"
	"github.com/bdobrica/K8SMLEndpoints/internal/metrics"
	"github.com/bdobrica/K8SMLEndpoints/internal/notify"
	"github.com/bdobrica/K8SMLEndpoints/internal/resources"
)

// EndpointReconciler reconciles Endpoint objects across the full
// create/update/delete dispatch — the only one of the three kinds that
// reconciles a create event, since it is the root of the resource graph a
// user creates directly.
type EndpointReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Config config.Config
	Notify *notify.Publisher
}

func (r *EndpointReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	start := time.Now()
	defer func() {
		metrics.ObserveReconciliationDuration("Endpoint", req.Namespace, time.Since(start).Seconds())
	}()

	var obj v1alpha1.Endpoint
	if err := r.Get(ctx, req.NamespacedName, &obj); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		metrics.RecordReconciliation("Endpoint", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	if !obj.DeletionTimestamp.IsZero() {
		return r.reconcileDelete(ctx, &obj)
	}

	if !controllerutil.ContainsFinalizer(&obj, resources.EndpointFinalizer) {
		controllerutil.AddFinalizer(&obj, resources.EndpointFinalizer)
		if err := r.Update(ctx, &obj); err != nil {
			metrics.RecordReconciliation("Endpoint", req.Namespace, "error")
			return ctrl.Result{}, err
		}
	}

	endpoint, err := resources.NewEndpoint(ctx, r.Client, r.Config, req.Namespace, obj.Name)
	if err != nil {
		metrics.RecordReconciliation("Endpoint", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	var lastSpec v1alpha1.EndpointSpec
	hasBaseline, err := readLastApplied(&obj, &lastSpec)
	if err != nil {
		logger.Error(err, "failed to decode last-applied spec", "endpoint", obj.Name)
		metrics.RecordReconciliation("Endpoint", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	if !hasBaseline {
		if err := endpoint.CreateHandler(ctx); err != nil {
			if classify.Classify(err) == classify.Permanent {
				_ = endpoint.SetState(ctx, v1alpha1.EndpointStateFailed)
				return ctrl.Result{}, nil
			}
			metrics.RecordReconciliation("Endpoint", req.Namespace, "error")
			return ctrl.Result{}, err
		}
		r.notifyState(obj.Name, obj.Namespace, string(v1alpha1.EndpointStateAvailable))
		metrics.RecordReconciliation("Endpoint", req.Namespace, "success")
		return ctrl.Result{}, writeLastApplied(ctx, r.Client, &obj, obj.Spec, "Endpoint")
	}

	d, err := diff.Compute(lastSpec, obj.Spec)
	if err != nil {
		metrics.RecordReconciliation("Endpoint", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	if err := endpoint.UpdateHandler(ctx, d); err != nil {
		if classify.Classify(err) == classify.Permanent {
			_ = endpoint.SetState(ctx, v1alpha1.EndpointStateFailed)
			return ctrl.Result{}, nil
		}
		metrics.RecordReconciliation("Endpoint", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	metrics.RecordReconciliation("Endpoint", req.Namespace, "success")
	return ctrl.Result{}, writeLastApplied(ctx, r.Client, &obj, obj.Spec, "Endpoint")
}

func (r *EndpointReconciler) reconcileDelete(ctx context.Context, obj *v1alpha1.Endpoint) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(obj, resources.EndpointFinalizer) {
		return ctrl.Result{}, nil
	}

	endpoint, err := resources.NewEndpoint(ctx, r.Client, r.Config, obj.Namespace, obj.Name)
	if err != nil {
		return ctrl.Result{}, err
	}
	if err := endpoint.DeleteHandler(ctx); err != nil {
		metrics.RecordReconciliation("Endpoint", obj.Namespace, "error")
		return ctrl.Result{}, err
	}

	controllerutil.RemoveFinalizer(obj, resources.EndpointFinalizer)
	if err := r.Update(ctx, obj); err != nil {
		return ctrl.Result{}, err
	}
	metrics.RecordReconciliation("Endpoint", obj.Namespace, "success")
	r.notifyState(obj.Name, obj.Namespace, string(v1alpha1.EndpointStateDeleting))
	return ctrl.Result{}, nil
}

func (r *EndpointReconciler) notifyState(name, namespace, state string) {
	if r.Notify == nil {
		return
	}
	r.Notify.EndpointState(namespace, name, state)
}

// SetupWithManager registers the reconciler with the Manager.
func (r *EndpointReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.Endpoint{}).
		WithOptions(controllerOptions()).
		Complete(r)
}
