package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerr "github.com/shpitdev/contact-reveal/pkg/errors"
)

func TestNormalizeIdentifier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"https://www.linkedin.com/in/ada-lovelace/", "https://www.linkedin.com/in/ada-lovelace"},
		{"  linkedin.com/in/ada?utm_source=x#top ", "https://linkedin.com/in/ada"},
		{"http://WWW.LinkedIn.com/pub/grace/1/2/3", "https://www.linkedin.com/pub/grace/1/2/3"},
		{"https://www.linkedin.com/sales/lead/ACwAAA,NAME", "https://www.linkedin.com/sales/lead/ACwAAA,NAME"},
		{"uk.linkedin.com/in/alan", "https://uk.linkedin.com/in/alan"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			got, err := NormalizeIdentifier(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIdentifier_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"",
		"   ",
		"https://example.com/in/ada",
		"https://www.linkedin.com/company/acme",
		"https://www.linkedin.com/in/",
		"https://notlinkedin.com/in/ada",
	} {
		_, err := NormalizeIdentifier(in)
		require.Error(t, err, in)
		assert.Equal(t, rerr.CodeRequestInvalid, rerr.CodeOf(err), in)
	}
}
