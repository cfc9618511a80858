package cloudflare

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go_certagent/internal/dns"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudflareProvider(t *testing.T) {
	var created map[string]interface{}
	deleted := ""

	mux := http.NewServeMux()
	mux.HandleFunc("/zones", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		if r.URL.Query().Get("page") == "1" {
			_, _ = w.Write([]byte(`{"success":true,"result":[{"id":"z1","name":"example.com"}],"result_info":{"page":1,"total_pages":2}}`))
			return
		}
		_, _ = w.Write([]byte(`{"success":true,"result":[{"id":"z2","name":"sub.example.com"}],"result_info":{"page":2,"total_pages":2}}`))
	})
	mux.HandleFunc("/zones/z1/dns_records", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
		_, _ = w.Write([]byte(`{"success":true,"result":{"id":"rec-1"}}`))
	})
	mux.HandleFunc("/zones/z1/dns_records/rec-1", func(w http.ResponseWriter, r *http.Request) {
		deleted = r.URL.Path
		_, _ = w.Write([]byte(`{"success":true,"result":{"id":"rec-1"}}`))
	})
	mux.HandleFunc("/zones/z1/dns_records/gone", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"errors":[{"code":81044,"message":"Record does not exist."}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewCloudflareProvider("", "secret").WithBaseURL(srv.URL)
	ctx := context.Background()

	zones, err := p.Zones(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"example.com": "z1", "sub.example.com": "z2"}, zones)

	ref, err := p.CreateRecord(ctx, "z1", dns.Record{Type: "TXT", Name: "_acme-challenge.example.com", Value: "v"})
	require.NoError(t, err)
	assert.Equal(t, "rec-1", ref.ID)
	assert.Equal(t, "_acme-challenge.example.com", created["name"])
	assert.EqualValues(t, 120, created["ttl"])

	require.NoError(t, p.DeleteRecord(ctx, ref))
	assert.Equal(t, "/zones/z1/dns_records/rec-1", deleted)

	err = p.DeleteRecord(ctx, dns.RecordRef{ZoneID: "z1", ID: "gone"})
	assert.ErrorIs(t, err, dns.ErrRecordNotFound)
}

func TestFormatErrors(t *testing.T) {
	assert.Equal(t, "unknown error", formatErrors(nil))
	assert.Equal(t, "[[1003] bad]", formatErrors([]CloudflareError{{Code: 1003, Message: "bad"}}))
}
