package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_KnownStatuses(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"none", StatusNone},
		{"minor", StatusMinor},
		{"important", StatusImportant},
		{"unknown", StatusUnknown},
		{" Important ", StatusImportant},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, badges[tt.want], For(tt.in))
		})
	}
}

func TestFor_IsTotal(t *testing.T) {
	defined := map[string]bool{}
	for _, b := range badges {
		defined[b.Text+"|"+b.Color] = true
	}
	assert.Len(t, defined, 4, "badges must be distinct")

	for _, in := range []string{"", "critical", "NONE?", "null", "🤷", "minor minor"} {
		b := For(in)
		assert.True(t, defined[b.Text+"|"+b.Color], "input %q produced undefined badge %+v", in, b)
	}
	assert.Equal(t, badges[StatusUnknown], For("critical"))
}
