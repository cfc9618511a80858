package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go_certagent/internal/dns"
)

const (
	cloudflareAPIBase = "https://api.cloudflare.com/client/v4"
	requestTimeout    = 10 * time.Second
	zonesPerPage      = 50
)

// CloudflareProvider implements dns.Provider for Cloudflare API
type CloudflareProvider struct {
	email    string
	apiToken string
	baseURL  string
	client   *http.Client
}

// NewCloudflareProvider creates a new Cloudflare DNS provider.
// With an email the token is used as a global API key, otherwise as a scoped bearer token.
func NewCloudflareProvider(email, apiToken string) *CloudflareProvider {
	return &CloudflareProvider{
		email:    email,
		apiToken: apiToken,
		baseURL:  cloudflareAPIBase,
		client: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// WithBaseURL points the provider at another API endpoint
func (p *CloudflareProvider) WithBaseURL(base string) *CloudflareProvider {
	p.baseURL = strings.TrimSuffix(base, "/")
	return p
}

// CloudflareRecord represents a Cloudflare DNS record (API response)
type CloudflareRecord struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
}

// CloudflareZone represents a Cloudflare zone (API response)
type CloudflareZone struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// CloudflareResponse represents a Cloudflare API response
type CloudflareResponse struct {
	Success    bool              `json:"success"`
	Errors     []CloudflareError `json:"errors"`
	Result     json.RawMessage   `json:"result"`
	ResultInfo *struct {
		Page       int `json:"page"`
		TotalPages int `json:"total_pages"`
	} `json:"result_info,omitempty"`
}

// CloudflareError represents a Cloudflare API error
type CloudflareError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Zones lists all zones visible to the credentials
func (p *CloudflareProvider) Zones(ctx context.Context) (map[string]string, error) {
	zones := make(map[string]string)
	for page := 1; ; page++ {
		endpoint := fmt.Sprintf("%s/zones?per_page=%d&page=%d", p.baseURL, zonesPerPage, page)
		cfResp, err := p.do(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}

		var result []CloudflareZone
		if err := json.Unmarshal(cfResp.Result, &result); err != nil {
			return nil, fmt.Errorf("failed to parse result: %w", err)
		}
		for _, z := range result {
			zones[z.Name] = z.ID
		}

		if cfResp.ResultInfo == nil || page >= cfResp.ResultInfo.TotalPages {
			break
		}
	}
	return zones, nil
}

// CreateRecord creates a new DNS record
func (p *CloudflareProvider) CreateRecord(ctx context.Context, zoneID string, record dns.Record) (dns.RecordRef, error) {
	endpoint := fmt.Sprintf("%s/zones/%s/dns_records", p.baseURL, url.PathEscape(zoneID))

	ttl := record.TTL
	if ttl <= 0 {
		ttl = 120
	}
	payload := map[string]interface{}{
		"type":    record.Type,
		"name":    record.Name,
		"content": record.Value,
		"ttl":     ttl,
	}

	cfResp, err := p.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return dns.RecordRef{}, fmt.Errorf("failed to create record: %w", err)
	}

	var createdRecord CloudflareRecord
	if err := json.Unmarshal(cfResp.Result, &createdRecord); err != nil {
		return dns.RecordRef{}, fmt.Errorf("failed to parse result: %w", err)
	}

	return dns.RecordRef{ZoneID: zoneID, ID: createdRecord.ID, Record: record}, nil
}

// DeleteRecord deletes a DNS record by its provider-specific ID
// Returns dns.ErrRecordNotFound if the record doesn't exist
func (p *CloudflareProvider) DeleteRecord(ctx context.Context, ref dns.RecordRef) error {
	endpoint := fmt.Sprintf("%s/zones/%s/dns_records/%s", p.baseURL, url.PathEscape(ref.ZoneID), url.PathEscape(ref.ID))
	_, err := p.do(ctx, http.MethodDelete, endpoint, nil)
	return err
}

func (p *CloudflareProvider) do(ctx context.Context, method, endpoint string, payload interface{}) (*CloudflareResponse, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if p.email != "" {
		req.Header.Set("X-Auth-Email", p.email)
		req.Header.Set("X-Auth-Key", p.apiToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+p.apiToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && method == http.MethodDelete {
		return nil, dns.ErrRecordNotFound
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var cfResp CloudflareResponse
	if err := json.Unmarshal(respBody, &cfResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if !cfResp.Success {
		// 81044 / 81043: record not found
		for _, e := range cfResp.Errors {
			if e.Code == 81044 || e.Code == 81043 {
				return nil, dns.ErrRecordNotFound
			}
		}
		return nil, fmt.Errorf("cloudflare API error: %s", formatErrors(cfResp.Errors))
	}

	return &cfResp, nil
}

// formatErrors formats Cloudflare API errors into a readable string
func formatErrors(errors []CloudflareError) string {
	if len(errors) == 0 {
		return "unknown error"
	}

	var errMsgs []string
	for _, e := range errors {
		errMsgs = append(errMsgs, fmt.Sprintf("[%d] %s", e.Code, e.Message))
	}

	return fmt.Sprintf("%v", errMsgs)
}
