// Package meshv1beta1 contains minimal API Schema definitions for the two mesh
// routing kinds this controller depends on (Gateway, VirtualService). It does
// not attempt to mirror the full upstream Istio API surface — only the
// fields the routing contract actually needs.
// +kubebuilder:object:generate=true
// +groupName=networking.istio.io
package meshv1beta1

import (
	"k8s.io/apimachinery/pkg/runtime/schema"
	"sigs.k8s.io/controller-runtime/pkg/scheme"
)

var (
	// GroupVersion is group version used to register these objects.
	GroupVersion = schema.GroupVersion{Group: "networking.istio.io", Version: "v1beta1"}

	// SchemeBuilder is used to add go types to the GroupVersionKind scheme
	SchemeBuilder = &scheme.Builder{GroupVersion: GroupVersion}

	// AddToScheme adds the types in this group-version to the given scheme.
	AddToScheme = SchemeBuilder.AddToScheme
)
