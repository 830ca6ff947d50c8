// Copyright 2026 The Pebbleworks Authors
// SPDX-License-Identifier: Apache-2.0

// Package cloudflare is a minimal client for the Cloudflare v4 API,
// covering the DNS record operations the tool dispatches. Failures
// map onto the wire error vocabulary: HTTP 401/403 become auth
// errors, 429 becomes a retryable RATE_LIMITED honoring Retry-After,
// API-level failures become ext/CF_API_ERROR with the joined
// "[code] message" list, and a create colliding with an existing
// record becomes in/RECORD_EXISTS.
package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pebbleworks/cf/lib/pebble"
)

// APIBase is the Cloudflare v4 API root.
const APIBase = "https://api.cloudflare.com/client/v4"

// recordExistsCode is Cloudflare's API error code for a duplicate
// record on create.
const recordExistsCode = 81057

// Client talks to one zone with one bearer token.
type Client struct {
	// BaseURL defaults to [APIBase]; tests point it at a local server.
	BaseURL string

	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client

	zoneID string
	token  string
}

// NewClient returns a client for the given zone.
func NewClient(zoneID, token string) *Client {
	return &Client{
		BaseURL:    APIBase,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		zoneID:     zoneID,
		token:      token,
	}
}

// Record is one DNS record as the API returns it.
type Record struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
	Proxied bool   `json:"proxied"`
	TTL     int    `json:"ttl"`
}

// envelope is the v4 API response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Result  json.RawMessage `json:"result"`
	Errors  []apiError      `json:"errors"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// joinErrors formats the API error list as "[code] message, ...".
func joinErrors(errors []apiError) string {
	parts := make([]string, len(errors))
	for i, e := range errors {
		parts[i] = fmt.Sprintf("[%d] %s", e.Code, e.Message)
	}
	return strings.Join(parts, ", ")
}

// FQDN resolves a record name against its domain: "@" and the domain
// itself mean the apex, anything else is prefixed.
func FQDN(name, domain string) string {
	if name == "@" || name == domain {
		return domain
	}
	return name + "." + domain
}

// ListRecords returns all DNS records in the zone.
func (c *Client) ListRecords(ctx context.Context) ([]Record, error) {
	env, err := c.do(ctx, http.MethodGet, "/zones/"+c.zoneID+"/dns_records", nil)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(env.Result, &records); err != nil {
		return nil, pebble.Ext("CF_API_ERROR", fmt.Sprintf("unexpected record list shape: %v", err))
	}
	return records, nil
}

// FindByName returns the records matching one fully qualified name.
// An empty slice means the name does not exist.
func (c *Client) FindByName(ctx context.Context, fqdn string) ([]Record, error) {
	path := "/zones/" + c.zoneID + "/dns_records?name=" + url.QueryEscape(fqdn)
	env, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var records []Record
	if err := json.Unmarshal(env.Result, &records); err != nil {
		return nil, pebble.Ext("CF_API_ERROR", fmt.Sprintf("unexpected record list shape: %v", err))
	}
	return records, nil
}

// CreateA creates an A record with automatic TTL. A collision with an
// existing record is an input error (RECORD_EXISTS), not an external
// failure.
func (c *Client) CreateA(ctx context.Context, name, ip, comment string, proxied bool) (Record, error) {
	body := map[string]any{
		"type":    "A",
		"name":    name,
		"content": ip,
		"ttl":     1,
		"proxied": proxied,
		"comment": comment,
	}
	env, err := c.do(ctx, http.MethodPost, "/zones/"+c.zoneID+"/dns_records", body)
	if err != nil {
		var record *pebble.Error
		if asAPIError(err, &record) && isRecordExists(record) {
			return Record{}, pebble.Input("RECORD_EXISTS", "DNS record already exists")
		}
		return Record{}, err
	}
	var created Record
	if err := json.Unmarshal(env.Result, &created); err != nil {
		return Record{}, pebble.Ext("CF_API_ERROR", fmt.Sprintf("unexpected record shape: %v", err))
	}
	return created, nil
}

// DeleteRecord deletes a record by id.
func (c *Client) DeleteRecord(ctx context.Context, recordID string) error {
	_, err := c.do(ctx, http.MethodDelete, "/zones/"+c.zoneID+"/dns_records/"+recordID, nil)
	return err
}

// do issues one API call and unwraps the response envelope.
func (c *Client) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, pebble.Sys("INTERNAL", fmt.Sprintf("encoding request body: %v", err))
		}
		reader = bytes.NewReader(data)
	}

	request, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, pebble.Sys("INTERNAL", fmt.Sprintf("building request: %v", err))
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.HTTPClient.Do(request)
	if err != nil {
		return nil, pebble.Classify(err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusUnauthorized || response.StatusCode == http.StatusForbidden:
		return nil, pebble.Auth("AUTH_FAILED",
			fmt.Sprintf("Cloudflare API rejected the token (HTTP %d)", response.StatusCode))
	case response.StatusCode == http.StatusTooManyRequests:
		retryAfter := 5
		if header := response.Header.Get("Retry-After"); header != "" {
			if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
				retryAfter = seconds
			}
		}
		return nil, pebble.Ext("RATE_LIMITED", "Cloudflare API rate limit reached").
			WithRetryAfter(retryAfter)
	}

	var env envelope
	if err := json.NewDecoder(response.Body).Decode(&env); err != nil {
		return nil, pebble.Ext("CF_API_ERROR", fmt.Sprintf("parsing Cloudflare response: %v", err))
	}
	if !env.Success {
		apiErr := pebble.Ext("CF_API_ERROR", joinErrors(env.Errors))
		apiErr.Details = map[string]any{"errors": env.Errors}
		return nil, apiErr
	}
	return &env, nil
}

// asAPIError extracts the structured error, if any.
func asAPIError(err error, target **pebble.Error) bool {
	record, ok := err.(*pebble.Error)
	if !ok {
		return false
	}
	*target = record
	return true
}

// isRecordExists checks an API failure for the duplicate-record
// condition, by code or by message.
func isRecordExists(record *pebble.Error) bool {
	if record.Code != "CF_API_ERROR" {
		return false
	}
	if strings.Contains(record.Message, "already exists") {
		return true
	}
	errors, ok := record.Details["errors"].([]apiError)
	if !ok {
		return false
	}
	for _, e := range errors {
		if e.Code == recordExistsCode {
			return true
		}
	}
	return false
}
