package meshv1beta1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// GatewaySelector pins a Gateway to the pods that implement the mesh's
// ingress. The controller never sets anything but the standard ingress label.
type GatewaySelector struct {
	Istio string `json:"istio"`
}

// GatewayPort describes one listener on a Gateway.
type GatewayPort struct {
	Number   uint32 `json:"number"`
	Name     string `json:"name"`
	Protocol string `json:"protocol"`
}

// GatewayServer is one server block: a listen port plus the hosts it serves.
type GatewayServer struct {
	Port  GatewayPort `json:"port"`
	Hosts []string    `json:"hosts"`
}

// GatewaySpec is the desired state of a Gateway.
type GatewaySpec struct {
	Selector GatewaySelector `json:"selector"`
	Servers  []GatewayServer `json:"servers"`
}

// +kubebuilder:object:root=true

// Gateway is the Schema for the gateways API (networking.istio.io/v1beta1).
type Gateway struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec GatewaySpec `json:"spec,omitempty"`
}

// +kubebuilder:object:root=true

// GatewayList contains a list of Gateway.
type GatewayList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []Gateway `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Gateway{}, &GatewayList{})
}
