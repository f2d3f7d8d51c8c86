package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"plain", "  plumbers in Austin ", "plumbers in Austin"},
		{"maps search path", "https://www.google.com/maps/search/coffee+shops+near+Austin/@30.26,-97.74,12z", "coffee shops near Austin"},
		{"maps escaped path", "https://www.google.com/maps/search/dentists%20chicago", "dentists chicago"},
		{"maps q param", "https://maps.google.com/maps?q=bakery+in+Paris", "bakery in Paris"},
		{"no scheme", "google.com/maps/search/florists", "florists"},
		{"maps place link", "https://www.google.com/maps/place/Acme/@1,2,3z", "https://www.google.com/maps/place/Acme/@1,2,3z"},
		{"not maps", "https://acme.com/maps/search/x", "https://acme.com/maps/search/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizeQuery(tt.query))
		})
	}
}
