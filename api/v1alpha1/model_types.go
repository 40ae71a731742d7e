package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// ModelState enumerates the lifecycle states surfaced on Model.status.state.
type ModelState string

const (
	ModelStateCreating  ModelState = "creating"
	ModelStateUpdating  ModelState = "updating"
	ModelStateAvailable ModelState = "available"
	ModelStateDeleting  ModelState = "deleting"
	ModelStateFailed    ModelState = "failed"
)

// ModelSpec describes a deployable model image plus artifact.
type ModelSpec struct {
	// Image is the container reference serving the model.
	// +kubebuilder:validation:Required
	Image string `json:"image"`

	// Artifact is the URL of the model archive downloaded by the init container.
	// +optional
	Artifact string `json:"artifact,omitempty"`

	// Command overrides the serving container's entrypoint.
	// +optional
	Command []string `json:"command,omitempty"`

	// Args overrides the serving container's arguments.
	// +optional
	Args []string `json:"args,omitempty"`

	// Instances is the desired pod replica count.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=1
	Instances int32 `json:"instances,omitempty"`

	// CPUs is the CPU request/limit for the serving container (e.g. "100m").
	// +optional
	CPUs string `json:"cpus,omitempty"`

	// Memory is the memory request/limit for the serving container (e.g. "100Mi").
	// +optional
	Memory string `json:"memory,omitempty"`

	// Size is the PersistentVolume capacity for the downloaded artifact (e.g. "1Gi").
	// +optional
	Size string `json:"size,omitempty"`

	// Path is the hostPath root under which the artifact is stored.
	// +optional
	Path string `json:"path,omitempty"`
}

// ModelStatus is the observed state of a Model.
type ModelStatus struct {
	// Endpoint is the name of the Endpoint this model currently serves, if any.
	// +optional
	Endpoint string `json:"endpoint,omitempty"`

	// EndpointConfig is the logical EndpointConfig name this model belongs to.
	// +optional
	EndpointConfig string `json:"endpointConfig,omitempty"`

	// EndpointConfigVersion is the physical object-name of the active EndpointConfig clone.
	// +optional
	EndpointConfigVersion string `json:"endpointConfigVersion,omitempty"`

	// Model is the logical model family name (object-name without the version suffix).
	// +optional
	Model string `json:"model,omitempty"`

	// Version is the version suffix, empty for the unversioned base object.
	// +optional
	Version string `json:"version,omitempty"`

	// State is the current lifecycle state.
	// +optional
	State ModelState `json:"state,omitempty"`

	// LastTransitionTime records when State last changed.
	// +optional
	LastTransitionTime *metav1.Time `json:"lastTransitionTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Image",type=string,JSONPath=`.spec.image`
// +kubebuilder:printcolumn:name="Model",type=string,JSONPath=`.status.model`
// +kubebuilder:printcolumn:name="Version",type=string,JSONPath=`.status.version`
// +kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Model is the Schema for the models API.
type Model struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   ModelSpec   `json:"spec,omitempty"`
	Status ModelStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// ModelList contains a list of Model.
type ModelList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Model `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Model{}, &ModelList{})
}
