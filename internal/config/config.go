// Package config holds the controller's tunables: the CRD group/version
// settings, the mesh ingress selector, the model-init image, default storage
// root, health-daemon timings, and the optional NATS side-channel.
//
// Configuration can be provided via:
//   - A YAML file (path from --config or ML_CONFIG_PATH)
//   - Environment variables (highest precedence)
//
// No command-line flag overrides an individual Config field.
package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bdobrica/K8SMLEndpoints/internal/classify"
)

// Config is the controller's full runtime configuration.
type Config struct {
	// Group is the configured API group of the three ML custom kinds.
	// Default "blue.intranet". It is loaded and validated only: the kinds are
	// always registered and watched under the fixed api/v1alpha1.GroupVersion,
	// so another value here does not change the group the controller uses.
	Group string `yaml:"group"`

	// Version is the configured API version of the ML custom kinds. Default
	// "v1alpha1". Like Group, it does not change api/v1alpha1.GroupVersion.
	Version string `yaml:"version"`

	// MeshGroup/MeshVersion name the mesh routing kinds. They are loaded and
	// defaulted only: the mesh kinds are always registered under the fixed
	// api/meshv1beta1.GroupVersion.
	MeshGroup   string `yaml:"meshGroup"`
	MeshVersion string `yaml:"meshVersion"`

	// IngressSelector is the label value Gateways use to select the
	// mesh's ingress pods. Default "ingressgateway".
	IngressSelector string `yaml:"ingressSelector"`

	// ModelInitImage is the init-container image that downloads artifacts
	// into the mounted volume.
	ModelInitImage string `yaml:"modelInitImage"`

	// DefaultStoragePath is used when an EndpointConfig entry omits path.
	DefaultStoragePath string `yaml:"defaultStoragePath"`

	// HealthDaemon tunes the periodic Model readiness daemon.
	HealthDaemon HealthDaemonConfig `yaml:"healthDaemon"`

	// NATS configures the optional status-notification side channel.
	NATS NATSConfig `yaml:"nats"`
}

// HealthDaemonConfig tunes the periodic per-Model readiness check.
type HealthDaemonConfig struct {
	// Interval between readiness checks. Default 10s.
	Interval time.Duration `yaml:"interval"`

	// ReadyWindow is the bounded window a Model has to first become ready
	// before the daemon marks it failed. Default 5m, per the ≥5 minute
	// recommendation.
	ReadyWindow time.Duration `yaml:"readyWindow"`
}

// NATSConfig configures the optional event-bus publisher. The publisher is
// best-effort: a disabled or unreachable NATS server never blocks
// reconciliation — the cluster store is the only state reconciliation
// depends on.
type NATSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// Defaults returns the baseline configuration before file/env/flag overlays.
func Defaults() Config {
	return Config{
		Group:              "blue.intranet",
		Version:            "v1alpha1",
		MeshGroup:          "networking.istio.io",
		MeshVersion:        "v1beta1",
		IngressSelector:    "ingressgateway",
		ModelInitImage:     "quay.io/bdobrica/ml-operator-tools:model-init-latest",
		DefaultStoragePath: "/mnt/nfs/models",
		HealthDaemon: HealthDaemonConfig{
			Interval:    10 * time.Second,
			ReadyWindow: 5 * time.Minute,
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
	}
}

// Load reads path (if non-empty) as a YAML overlay on top of Defaults, then
// applies environment-variable overrides, then validates the result.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("ML_GROUP"); v != "" {
		cfg.Group = v
	}
	if v := os.Getenv("ML_VERSION"); v != "" {
		cfg.Version = v
	}
	if v := os.Getenv("MODEL_INIT_IMAGE"); v != "" {
		cfg.ModelInitImage = v
	}
	if v := os.Getenv("DEFAULT_STORAGE_PATH"); v != "" {
		cfg.DefaultStoragePath = v
	}
	if v := os.Getenv("HEALTH_DAEMON_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HealthDaemon.Interval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
	if v := os.Getenv("NATS_USER"); v != "" {
		cfg.NATS.User = v
	}
	if v := os.Getenv("NATS_PASSWORD"); v != "" {
		cfg.NATS.Password = v
	}
}

// Validate fills in any remaining zero-values and rejects malformed config.
func (c *Config) Validate() error {
	if c.Group == "" || c.Version == "" {
		return classify.ErrMalformedSpec
	}
	if c.MeshGroup == "" {
		c.MeshGroup = "networking.istio.io"
	}
	if c.MeshVersion == "" {
		c.MeshVersion = "v1beta1"
	}
	if c.IngressSelector == "" {
		c.IngressSelector = "ingressgateway"
	}
	if c.HealthDaemon.Interval <= 0 {
		c.HealthDaemon.Interval = 10 * time.Second
	}
	if c.HealthDaemon.ReadyWindow <= 0 {
		c.HealthDaemon.ReadyWindow = 5 * time.Minute
	}
	return nil
}
