// Package main is the entry point for the ML-serving Kubernetes controller.
//
// This controller manages the lifecycle of the ML-serving custom resources:
//   - Model: a single served artifact (image, command, storage)
//   - EndpointConfig: a weighted set of Models routed behind one mesh host
//   - Endpoint: the externally reachable binding of a host to an EndpointConfig
//
// Architecture:
//   - ModelReconciler: spec updates and deletion for Model objects
//   - ModelHealthReconciler: periodic readiness sweep, drives status.state
//   - EndpointConfigReconciler: membership/weight updates and deletion
//   - EndpointReconciler: full create/update/delete, including config swaps
//
// Deployment:
//   The controller runs as a Kubernetes Deployment with:
//   - Leader election for high availability
//   - Health and readiness probes
//   - Prometheus metrics endpoint on :8080
//   - Health probes on :8081
package main

import (
	"flag"
	"os"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	_ "k8s.io/client-go/plugin/pkg/client/auth"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	meshv1beta1 "github.com/bdobrica/K8SMLEndpoints/api/meshv1beta1"
	v1alpha1 "github.com/bdobrica/K8SMLEndpoints/api/v1alpha1"
	"github.com/bdobrica/K8SMLEndpoints/internal/config"
	"github.com/bdobrica/K8SMLEndpoints/internal/controllers"
	"github.com/bdobrica/K8SMLEndpoints/internal/notify"
)

var (
	// scheme defines the runtime scheme used by the controller. It includes
	// standard Kubernetes types, the ML-serving custom resources, and the
	// mesh routing kinds they generate.
	scheme = runtime.NewScheme()

	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1alpha1.AddToScheme(scheme))
	utilruntime.Must(meshv1beta1.AddToScheme(scheme))
}

func main() {
	var metricsAddr string
	var enableLeaderElection bool
	var probeAddr string
	var configPath string

	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flag.StringVar(&configPath, "config", getEnv("ML_CONFIG_PATH", ""), "Path to a YAML config overlay.")

	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load configuration")
		os.Exit(1)
	}

	publisher, err := notify.NewPublisher(cfg.NATS)
	if err != nil {
		setupLog.Error(err, "unable to create NATS publisher")
		setupLog.Info("continuing without NATS - status transitions will not be published")
		publisher = nil
	} else if publisher != nil {
		defer publisher.Close()
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,

		Metrics: metricsserver.Options{
			BindAddress: metricsAddr,
		},

		HealthProbeBindAddress: probeAddr,

		LeaderElection:   enableLeaderElection,
		LeaderElectionID: "mlendpoints.io",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	if err = (&controllers.ModelReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Config: cfg,
		Notify: publisher,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Model")
		os.Exit(1)
	}

	if err = (&controllers.ModelHealthReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Config: cfg,
		Notify: publisher,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "ModelHealth")
		os.Exit(1)
	}

	if err = (&controllers.EndpointConfigReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Config: cfg,
		Notify: publisher,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "EndpointConfig")
		os.Exit(1)
	}

	if err = (&controllers.EndpointReconciler{
		Client: mgr.GetClient(),
		Scheme: mgr.GetScheme(),
		Config: cfg,
		Notify: publisher,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Endpoint")
		os.Exit(1)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
