package meshv1beta1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Destination is one weighted target of an HTTP route.
type Destination struct {
	Host string `json:"host"`
	Port uint32 `json:"port"`
}

// RouteDestination pairs a Destination with its relative traffic weight.
type RouteDestination struct {
	Destination Destination `json:"destination"`
	Weight      int32       `json:"weight"`
}

// HTTPRoute is one `http` element of a VirtualService: a weighted list of
// destinations. The controller only ever emits exactly one HTTPRoute.
type HTTPRoute struct {
	Route []RouteDestination `json:"route"`
}

// VirtualServiceSpec is the desired state of a VirtualService.
type VirtualServiceSpec struct {
	Gateways []string    `json:"gateways"`
	Hosts    []string    `json:"hosts"`
	HTTP     []HTTPRoute `json:"http"`
}

// +kubebuilder:object:root=true

// VirtualService is the Schema for the virtualservices API (networking.istio.io/v1beta1).
type VirtualService struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec VirtualServiceSpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// VirtualServiceList contains a list of VirtualService.
type VirtualServiceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []VirtualService `json:"items"`
}

func init() {
	SchemeBuilder.Register(&VirtualService{}, &VirtualServiceList{})
}
