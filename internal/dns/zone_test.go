package dns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchZone(t *testing.T) {
	tests := []struct {
		name   string
		record string
		zones  []string
		want   string
		found  bool
	}{
		{
			name:   "most specific wins",
			record: "_acme-challenge.www.sub.example.com",
			zones:  []string{"example.com", "sub.example.com", "other.com"},
			want:   "sub.example.com",
			found:  true,
		},
		{
			name:   "order of candidates does not matter",
			record: "_acme-challenge.www.sub.example.com",
			zones:  []string{"sub.example.com", "example.com"},
			want:   "sub.example.com",
			found:  true,
		},
		{
			name:   "record equal to zone",
			record: "example.com",
			zones:  []string{"example.com"},
			want:   "example.com",
			found:  true,
		},
		{
			name:   "case and trailing dot ignored",
			record: "_acme-challenge.WWW.Example.COM.",
			zones:  []string{"example.com."},
			want:   "example.com.",
			found:  true,
		},
		{
			name:   "label boundary respected",
			record: "_acme-challenge.notexample.com",
			zones:  []string{"example.com"},
			found:  false,
		},
		{
			name:   "no candidates",
			record: "www.example.com",
			zones:  nil,
			found:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := MatchZone(tt.record, tt.zones)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBestZone(t *testing.T) {
	candidates := map[string]string{
		"example.com":     "zone-1",
		"sub.example.com": "zone-2",
	}

	name, id, err := BestZone("_acme-challenge.a.sub.example.com", candidates)
	require.NoError(t, err)
	assert.Equal(t, "sub.example.com", name)
	assert.Equal(t, "zone-2", id)

	_, _, err = BestZone("www.example.org", candidates)
	assert.ErrorIs(t, err, ErrZoneNotFound)
	assert.Len(t, candidates, 2)
}

func TestBestZoneTieIsDeterministic(t *testing.T) {
	candidates := map[string]int{
		"Example.com":  1,
		"example.com.": 2,
	}
	for i := 0; i < 20; i++ {
		name, id, err := BestZone("www.example.com", candidates)
		require.NoError(t, err)
		assert.Equal(t, "Example.com", name)
		assert.Equal(t, 1, id)
	}
}
