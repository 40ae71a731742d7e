package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// EndpointState enumerates the lifecycle states surfaced on Endpoint.status.state.
type EndpointState string

const (
	EndpointStateCreating  EndpointState = "creating"
	EndpointStateUpdating  EndpointState = "updating"
	EndpointStateAvailable EndpointState = "available"
	EndpointStateDeleting  EndpointState = "deleting"
	EndpointStateFailed    EndpointState = "failed"
)

// EndpointSpec is the desired state of an Endpoint.
type EndpointSpec struct {
	// Config is the logical EndpointConfig name served at Host.
	// +kubebuilder:validation:Required
	Config string `json:"config"`

	// Host is the DNS name traffic is routed for.
	// +kubebuilder:validation:Required
	Host string `json:"host"`
}

// EndpointStatus is the observed state of an Endpoint.
type EndpointStatus struct {
	// EndpointConfigVersion is the physical object-name of the active EndpointConfig clone.
	// +optional
	EndpointConfigVersion string `json:"endpointConfigVersion,omitempty"`

	// State is the current lifecycle state.
	// +optional
	State EndpointState `json:"state,omitempty"`

	// LastTransitionTime records when State last changed.
	// +optional
	LastTransitionTime *metav1.Time `json:"lastTransitionTime,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Host",type=string,JSONPath=`.spec.host`
// +kubebuilder:printcolumn:name="Config",type=string,JSONPath=`.spec.config`
// +kubebuilder:printcolumn:name="State",type=string,JSONPath=`.status.state`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Endpoint is the Schema for the endpoints API.
type Endpoint struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   EndpointSpec   `json:"spec,omitempty"`
	Status EndpointStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// EndpointList contains a list of Endpoint.
type EndpointList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Endpoint `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Endpoint{}, &EndpointList{})
}
