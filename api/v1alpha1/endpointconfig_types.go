package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// EndpointConfigState enumerates the lifecycle states surfaced on EndpointConfig.status.state.
type EndpointConfigState string

const (
	EndpointConfigStateCreating  EndpointConfigState = "creating"
	EndpointConfigStateUpdating  EndpointConfigState = "updating"
	EndpointConfigStateAvailable EndpointConfigState = "available"
	EndpointConfigStateDeleting  EndpointConfigState = "deleting"
	EndpointConfigStateFailed    EndpointConfigState = "failed"
)

// ModelRef is one weighted entry of an EndpointConfig's model bag.
type ModelRef struct {
	// Model is the logical Model name this entry references.
	// +kubebuilder:validation:Required
	Model string `json:"model"`

	// Weight is a relative traffic weight; sum across entries need not be 100.
	// +kubebuilder:validation:Minimum=0
	Weight int32 `json:"weight"`

	// CPUs is the CPU request/limit passed through to the cloned Model.
	// +optional
	CPUs string `json:"cpus,omitempty"`

	// Memory is the memory request/limit passed through to the cloned Model.
	// +optional
	Memory string `json:"memory,omitempty"`

	// Instances is the replica count passed through to the cloned Model.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=1
	Instances int32 `json:"instances,omitempty"`

	// Size is the storage capacity passed through to the cloned Model.
	// +optional
	Size string `json:"size,omitempty"`

	// Path is the hostPath root passed through to the cloned Model.
	// +optional
	Path string `json:"path,omitempty"`
}

// EndpointConfigSpec is the desired state of an EndpointConfig.
type EndpointConfigSpec struct {
	// Models is the ordered, weighted bag of model references.
	// +kubebuilder:validation:MinItems=1
	Models []ModelRef `json:"models"`
}

// EndpointConfigStatus is the observed state of an EndpointConfig.
type EndpointConfigStatus struct {
	// Endpoint is the name of the Endpoint this config is attached to, if any.
	// +optional
	Endpoint string `json:"endpoint,omitempty"`

	// EndpointConfig is the logical EndpointConfig name (object-name without version suffix).
	// +optional
	EndpointConfig string `json:"endpointConfig,omitempty"`

	// Version is the version suffix of this clone, empty for the unversioned base object.
	// +optional
	Version string `json:"version,omitempty"`

	// ModelVersions is parallel to spec.models: the physical object-name of each cloned Model.
	// +optional
	ModelVersions []string `json:"modelVersions,omitempty"`

	// State is the current lifecycle state.
	// +optional
	State EndpointConfigState `json:"state,omitempty"`

	// LastTransitionTime records when State last changed.
	// +optional
	LastTransitionTime *metav1.Time `json:"lastTransitionTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Endpoint",type=string,JSONPath=`.status.endpoint`
// +kubebuilder:printcolumn:name="Version",type=string,JSONPath=`.status.version`
// +kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// EndpointConfig is the Schema for the endpointconfigs API.
type EndpointConfig struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   EndpointConfigSpec   `json:"spec,omitempty"`
	Status EndpointConfigStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// EndpointConfigList contains a list of EndpointConfig.
type EndpointConfigList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []EndpointConfig `json:"items"`
}

func init() {
	SchemeBuilder.Register(&EndpointConfig{}, &EndpointConfigList{})
}
