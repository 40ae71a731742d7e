package controllers

import (
	"context"
	"strings"
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

const startedFinalizerPrefix = "started:"

// EndpointConfigReconciler reconciles EndpointConfig objects: spec updates
// and deletion only — creation is always triggered by an Endpoint's own
// create/update handler calling EndpointConfig.CreateHandler directly.
type EndpointConfigReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Config config.Config
	Notify *notify.Publisher
}

func (r *EndpointConfigReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	start := time.Now()
	defer func() {
		metrics.ObserveReconciliationDuration("EndpointConfig", req.Namespace, time.Since(start).Seconds())
	}()

	var obj v1alpha1.EndpointConfig
	if err := r.Get(ctx, req.NamespacedName, &obj); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		metrics.RecordReconciliation("EndpointConfig", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	if !obj.DeletionTimestamp.IsZero() {
		return r.reconcileDelete(ctx, &obj)
	}

	if !controllerutil.ContainsFinalizer(&obj, resources.EndpointConfigFinalizer) {
		controllerutil.AddFinalizer(&obj, resources.EndpointConfigFinalizer)
		if err := r.Update(ctx, &obj); err != nil {
			metrics.RecordReconciliation("EndpointConfig", req.Namespace, "error")
			return ctrl.Result{}, err
		}
	}

	var lastSpec v1alpha1.EndpointConfigSpec
	hasBaseline, err := readLastApplied(&obj, &lastSpec)
	if err != nil {
		logger.Error(err, "failed to decode last-applied spec", "endpointconfig", obj.Name)
		metrics.RecordReconciliation("EndpointConfig", req.Namespace, "error")
		return ctrl.Result{}, err
	}
	if !hasBaseline {
		metrics.RecordReconciliation("EndpointConfig", req.Namespace, "success")
		return ctrl.Result{}, writeLastApplied(ctx, r.Client, &obj, obj.Spec, "EndpointConfig")
	}

	d, err := diff.Compute(lastSpec, obj.Spec)
	if err != nil {
		metrics.RecordReconciliation("EndpointConfig", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	ec, err := resources.NewEndpointConfig(ctx, r.Client, r.Config, req.Namespace, obj.Name, "")
	if err != nil {
		metrics.RecordReconciliation("EndpointConfig", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	err = ec.UpdateHandler(ctx, d)
	if outcome := classify.Classify(err); outcome != classify.Success && outcome != classify.Ignore {
		metrics.RecordReconciliation("EndpointConfig", req.Namespace, "error")
		if outcome == classify.Permanent {
			_ = ec.SetState(ctx, v1alpha1.EndpointConfigStateFailed)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	metrics.RecordReconciliation("EndpointConfig", req.Namespace, "success")
	return ctrl.Result{}, writeLastApplied(ctx, r.Client, &obj, obj.Spec, "EndpointConfig")
}

// reconcileDelete runs EndpointConfig.DeleteHandler and clears any
// "started:{name}" breadcrumb finalizers once their named successor is
// available, then removes the protection finalizer.
func (r *EndpointConfigReconciler) reconcileDelete(ctx context.Context, obj *v1alpha1.EndpointConfig) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(obj, resources.EndpointConfigFinalizer) {
		return ctrl.Result{}, nil
	}

	// A controller-made clone records its logical name/version in status; a
	// dormant user-created config never had status written, so fall back to
	// the object-name itself.
	name, ver := obj.Status.EndpointConfig, obj.Status.Version
	if name == "" {
		name, ver = obj.Name, ""
	}
	ec, err := resources.NewEndpointConfig(ctx, r.Client, r.Config, obj.Namespace, name, ver)
	if err != nil {
		return ctrl.Result{}, err
	}
	if err := ec.DeleteHandler(ctx); err != nil {
		metrics.RecordReconciliation("EndpointConfig", obj.Namespace, "error")
		return ctrl.Result{}, err
	}

	remaining := make([]string, 0, len(obj.Finalizers))
	pending := false
	for _, f := range obj.Finalizers {
		if f == resources.EndpointConfigFinalizer {
			continue
		}
		if !strings.HasPrefix(f, startedFinalizerPrefix) {
			remaining = append(remaining, f)
			continue
		}
		ready, err := resources.SuccessorReady(ctx, r.Client, r.Config, obj.Namespace, f)
		if err != nil {
			return ctrl.Result{}, err
		}
		if !ready {
			remaining = append(remaining, f)
			pending = true
		}
	}

	if pending {
		return ctrl.Result{RequeueAfter: 5 * time.Second}, nil
	}

	obj.Finalizers = remaining
	controllerutil.RemoveFinalizer(obj, resources.EndpointConfigFinalizer)
	if err := r.Update(ctx, obj); err != nil {
		return ctrl.Result{}, err
	}
	metrics.RecordReconciliation("EndpointConfig", obj.Namespace, "success")
	return ctrl.Result{}, nil
}

// SetupWithManager registers the reconciler with the Manager.
func (r *EndpointConfigReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.EndpointConfig{}).
		WithOptions(controllerOptions()).
		Complete(r)
}
