// Package controllers wires the domain-resource handlers in
// internal/resources to controller-runtime's Reconciler interface, per the
// dispatch table: Endpoint reconciles create/update/delete, EndpointConfig
// and Model reconcile update/delete only (their create event is a no-op —
// allocation happens from CreateHandler calls made by their parent during
// its own create/update), and Model additionally runs a periodic health
// daemon. Grounded on the reconciler shape of
// controller/controllers/session_controller.go.
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
	"github.com/bdobrica/K8SMLEndpoints/internal/collaborators"
	"github.com/bdobrica/K8SMLEndpoints/internal/config"
	"github.com/bdobrica/K8SMLEndpoints/internal/diff"
	"github.com/bdobrica/K8SMLEndpoints/internal/metrics"
	"github.com/bdobrica/K8SMLEndpoints/internal/notify"
	"github.com/bdobrica/K8SMLEndpoints/internal/orchestrator"
	"github.com/bdobrica/K8SMLEndpoints/internal/resources"
)

// ModelReconciler reconciles Model objects: spec updates and deletion only.
type ModelReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Config config.Config
	Notify *notify.Publisher
}

func (r *ModelReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	start := time.Now()
	defer func() {
		metrics.ObserveReconciliationDuration("Model", req.Namespace, time.Since(start).Seconds())
	}()

	var obj v1alpha1.Model
	if err := r.Get(ctx, req.NamespacedName, &obj); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		metrics.RecordReconciliation("Model", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	if !obj.DeletionTimestamp.IsZero() {
		return r.reconcileDelete(ctx, &obj)
	}

	if !controllerutil.ContainsFinalizer(&obj, resources.ModelFinalizer) {
		controllerutil.AddFinalizer(&obj, resources.ModelFinalizer)
		if err := r.Update(ctx, &obj); err != nil {
			metrics.RecordReconciliation("Model", req.Namespace, "error")
			return ctrl.Result{}, err
		}
	}

	var lastSpec v1alpha1.ModelSpec
	hasBaseline, err := readLastApplied(&obj, &lastSpec)
	if err != nil {
		logger.Error(err, "failed to decode last-applied spec", "model", obj.Name)
		metrics.RecordReconciliation("Model", req.Namespace, "error")
		return ctrl.Result{}, err
	}
	if !hasBaseline {
		metrics.RecordReconciliation("Model", req.Namespace, "success")
		return ctrl.Result{}, writeLastApplied(ctx, r.Client, &obj, obj.Spec, "Model")
	}

	d, err := diff.Compute(lastSpec, obj.Spec)
	if err != nil {
		metrics.RecordReconciliation("Model", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	model, err := resources.NewModel(ctx, r.Client, r.Config, req.Namespace, obj.Name, "")
	if err != nil {
		metrics.RecordReconciliation("Model", req.Namespace, "error")
		return ctrl.Result{}, err
	}

	clone, err := model.UpdateHandler(ctx, d)
	if outcome := classify.Classify(err); outcome != classify.Success && outcome != classify.Ignore {
		metrics.RecordReconciliation("Model", req.Namespace, "error")
		if outcome == classify.Permanent {
			_ = model.SetState(ctx, v1alpha1.ModelStateFailed)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if clone != nil {
		r.notifyState(clone.ObjectName(), req.Namespace, string(v1alpha1.ModelStateCreating))
	}

	metrics.RecordReconciliation("Model", req.Namespace, "success")
	return ctrl.Result{}, writeLastApplied(ctx, r.Client, &obj, obj.Spec, "Model")
}

// reconcileDelete runs Model.DeleteHandler and, once any breadcrumb
// finalizers naming a ready successor are cleared, removes the protection
// finalizer so the object can actually disappear.
func (r *ModelReconciler) reconcileDelete(ctx context.Context, obj *v1alpha1.Model) (ctrl.Result, error) {
	if !controllerutil.ContainsFinalizer(obj, resources.ModelFinalizer) {
		return ctrl.Result{}, nil
	}

	model, err := resources.NewModel(ctx, r.Client, r.Config, obj.Namespace, obj.Name, "")
	if err != nil {
		return ctrl.Result{}, err
	}
	if err := model.DeleteHandler(ctx); err != nil {
		metrics.RecordReconciliation("Model", obj.Namespace, "error")
		return ctrl.Result{}, err
	}

	remaining := make([]string, 0, len(obj.Finalizers))
	pending := false
	for _, f := range obj.Finalizers {
		if f == resources.ModelFinalizer {
			continue
		}
		ready, err := resources.ModelSuccessorReady(ctx, r.Client, r.Config, obj.Namespace, f)
		if err != nil {
			return ctrl.Result{}, err
		}
		if !ready {
			remaining = append(remaining, f)
			pending = true
			continue
		}
	}

	if pending {
		return ctrl.Result{RequeueAfter: 5 * time.Second}, nil
	}

	obj.Finalizers = remaining
	controllerutil.RemoveFinalizer(obj, resources.ModelFinalizer)
	if err := r.Update(ctx, obj); err != nil {
		return ctrl.Result{}, err
	}
	metrics.RecordReconciliation("Model", obj.Namespace, "success")
	r.notifyState(obj.Name, obj.Namespace, string(v1alpha1.ModelStateDeleting))
	return ctrl.Result{}, nil
}

func (r *ModelReconciler) notifyState(name, namespace, state string) {
	if r.Notify == nil {
		return
	}
	r.Notify.ModelState(namespace, name, state)
}

// SetupWithManager registers the reconciler with the Manager.
func (r *ModelReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.Model{}).
		WithOptions(controllerOptions()).
		Complete(r)
}

// ModelHealthReconciler runs a periodic readiness sweep over Models bound to
// a config, setting status.state=available once the Deployment is fully
// rolled out, or status.state=failed once cfg.HealthDaemon.ReadyWindow has
// elapsed since creation without becoming ready. Grounded on the
// self-requeuing idiom of controller/controllers/hibernation_controller.go.
type ModelHealthReconciler struct {
	client.Client
	Scheme *runtime.Scheme
	Config config.Config
	Notify *notify.Publisher
}

func (r *ModelHealthReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	var obj v1alpha1.Model
	if err := r.Get(ctx, req.NamespacedName, &obj); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}
	if !obj.DeletionTimestamp.IsZero() {
		return ctrl.Result{}, nil
	}
	if obj.Status.EndpointConfigVersion == "" {
		// Dormant base object: no Deployment exists yet, nothing to check.
		return ctrl.Result{}, nil
	}
	if obj.Status.State == v1alpha1.ModelStateAvailable || obj.Status.State == v1alpha1.ModelStateFailed {
		return ctrl.Result{}, nil
	}

	dep, err := collaborators.NewModelDeployment(ctx, r.Client, obj.Name, obj.Namespace)
	if err != nil {
		return ctrl.Result{}, err
	}

	model, err := resources.NewModel(ctx, r.Client, r.Config, obj.Namespace, obj.Name, "")
	if err != nil {
		return ctrl.Result{}, err
	}

	switch {
	case dep.Present() && dep.Ready():
		logger.Info("model deployment ready", "model", obj.Name)
		metrics.RecordHealthDaemonCheck(obj.Namespace, "ready")
		if err := model.SetState(ctx, v1alpha1.ModelStateAvailable); err != nil {
			return ctrl.Result{}, err
		}
		r.notifyState(obj.Name, obj.Namespace, string(v1alpha1.ModelStateAvailable))
	case time.Since(obj.CreationTimestamp.Time) > r.readyWindow():
		logger.Info("model deployment never became ready within the window", "model", obj.Name, "window", r.readyWindow())
		metrics.RecordHealthDaemonCheck(obj.Namespace, "failed")
		if err := model.SetState(ctx, v1alpha1.ModelStateFailed); err != nil {
			return ctrl.Result{}, err
		}
		r.notifyState(obj.Name, obj.Namespace, string(v1alpha1.ModelStateFailed))
	default:
		logger.V(1).Info("model deployment not ready yet", "model", obj.Name)
		metrics.RecordHealthDaemonCheck(obj.Namespace, "waiting")
	}

	r.recordModelStates(ctx, obj.Namespace)

	return ctrl.Result{RequeueAfter: r.interval()}, nil
}

// recordModelStates refreshes the per-state Model gauge for a namespace.
// Best-effort: a failed list leaves the previous gauge values in place.
func (r *ModelHealthReconciler) recordModelStates(ctx context.Context, namespace string) {
	var list v1alpha1.ModelList
	if err := orchestrator.List(ctx, r.Client, &list, client.InNamespace(namespace)); err != nil {
		return
	}
	counts := map[v1alpha1.ModelState]int{}
	for _, m := range list.Items {
		counts[m.Status.State]++
	}
	for _, state := range []v1alpha1.ModelState{
		v1alpha1.ModelStateCreating,
		v1alpha1.ModelStateUpdating,
		v1alpha1.ModelStateAvailable,
		v1alpha1.ModelStateDeleting,
		v1alpha1.ModelStateFailed,
	} {
		metrics.RecordModelState(string(state), namespace, float64(counts[state]))
	}
}

func (r *ModelHealthReconciler) interval() time.Duration {
	if r.Config.HealthDaemon.Interval > 0 {
		return r.Config.HealthDaemon.Interval
	}
	return 10 * time.Second
}

func (r *ModelHealthReconciler) readyWindow() time.Duration {
	if r.Config.HealthDaemon.ReadyWindow > 0 {
		return r.Config.HealthDaemon.ReadyWindow
	}
	return 5 * time.Minute
}

func (r *ModelHealthReconciler) notifyState(name, namespace, state string) {
	if r.Notify == nil {
		return
	}
	r.Notify.ModelState(namespace, name, state)
}

// SetupWithManager registers the health daemon with the Manager under its
// own controller name — the main Model reconciler already claims the
// default "model" name for this kind.
func (r *ModelHealthReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&v1alpha1.Model{}).
		Named("model-health").
		WithOptions(controllerOptions()).
		Complete(r)
}
