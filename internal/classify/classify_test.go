package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestClassify(t *testing.T) {
	gr := schema.GroupResource{Group: "blue.intranet", Resource: "models"}

	cases := []struct {
		name string
		err  error
		want Outcome
	}{
		{"nil is success", nil, Success},
		{"not found is ignore", apierrors.NewNotFound(gr, "m1"), Ignore},
		{"conflict is retryable", apierrors.NewConflict(gr, "m1", errors.New("x")), Retryable},
		{"invalid is permanent", apierrors.NewInvalid(schema.GroupKind{Group: "blue.intranet", Kind: "Model"}, "m1", nil), Permanent},
		{"no active config is ignore", ErrNoActiveEndpointConfig, Ignore},
		{"storage shrink is ignore", ErrStorageShrink, Ignore},
		{"unknown error is retryable", errors.New("boom"), Retryable},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}
