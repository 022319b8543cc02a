// Package edgeapi is a thin typed client for the zone control plane's
// changelist API. It exposes the handful of primitives the orchestrator
// needs: create/get/delete a changelist, stage record changes into it,
// submit it, and read zone activation status.
package edgeapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-logr/logr"
)

// Client issues typed control-plane operations through a Doer.
type Client struct {
	doer Doer
	log  logr.Logger
}

// NewClient wraps a Doer with the typed operation surface.
func NewClient(doer Doer, log logr.Logger) *Client {
	return &Client{doer: doer, log: log}
}

// CreateChangelist opens a fresh staging area for the zone. The control
// plane answers 409 when one already exists.
func (c *Client) CreateChangelist(ctx context.Context, zone string) (*Changelist, error) {
	query := url.Values{"zone": []string{zone}}
	data, err := c.doer.Do(ctx, http.MethodPost, "/changelists", query, nil)
	if err != nil {
		return nil, err
	}
	var cl Changelist
	if err := json.Unmarshal(data, &cl); err != nil {
		return nil, fmt.Errorf("edgeapi: decode changelist: %w", err)
	}
	if cl.Zone == "" {
		cl.Zone = zone
	}
	c.log.V(1).Info("created changelist", "zone", zone, "changeTag", cl.ChangeTag)
	return &cl, nil
}

// GetChangelist reads the zone's current staging area. Returns ErrNotFound
// when none exists.
func (c *Client) GetChangelist(ctx context.Context, zone string) (*Changelist, error) {
	data, err := c.doer.Do(ctx, http.MethodGet, "/changelists/"+zone, nil, nil)
	if err != nil {
		return nil, err
	}
	var cl Changelist
	if err := json.Unmarshal(data, &cl); err != nil {
		return nil, fmt.Errorf("edgeapi: decode changelist: %w", err)
	}
	return &cl, nil
}

// DeleteChangelist discards the zone's staging area. Callers treat
// ErrNotFound as already-discarded.
func (c *Client) DeleteChangelist(ctx context.Context, zone string) error {
	_, err := c.doer.Do(ctx, http.MethodDelete, "/changelists/"+zone, nil, nil)
	if err != nil {
		return err
	}
	c.log.V(1).Info("deleted changelist", "zone", zone)
	return nil
}

// AddRecordSetChange appends one staged operation to the zone's changelist.
// Operations are applied in the order added.
func (c *Client) AddRecordSetChange(ctx context.Context, zone string, change RecordSetChange) error {
	_, err := c.doer.Do(ctx, http.MethodPost, "/changelists/"+zone+"/recordsets/add-change", nil, change)
	return err
}

// ListRecordSetChanges returns the operations currently staged in the
// zone's changelist, in staging order.
func (c *Client) ListRecordSetChanges(ctx context.Context, zone string) ([]RecordSetChange, error) {
	data, err := c.doer.Do(ctx, http.MethodGet, "/changelists/"+zone+"/recordsets", nil, nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		RecordSets []RecordSetChange `json:"recordSets"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("edgeapi: decode staged changes: %w", err)
	}
	return parsed.RecordSets, nil
}

// SubmitChangelist submits the staged set as one atomic unit and returns the
// tracking request id. The remote side retires the changelist on acceptance.
func (c *Client) SubmitChangelist(ctx context.Context, zone, comment string, checks SafetyChecks) (string, error) {
	body := struct {
		Comment string `json:"comment"`
		SafetyChecks
	}{Comment: comment, SafetyChecks: checks}

	data, err := c.doer.Do(ctx, http.MethodPost, "/changelists/"+zone+"/submit", nil, body)
	if err != nil {
		return "", err
	}
	var parsed struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("edgeapi: decode submit response: %w", err)
	}
	if parsed.RequestID == "" {
		return "", fmt.Errorf("edgeapi: submit response missing requestId")
	}
	c.log.Info("submitted changelist", "zone", zone, "requestId", parsed.RequestID)
	return parsed.RequestID, nil
}

// GetZoneStatus reads the zone's activation state and propagation progress.
func (c *Client) GetZoneStatus(ctx context.Context, zone string) (*ZoneStatus, error) {
	data, err := c.doer.Do(ctx, http.MethodGet, "/zones/"+zone+"/status", nil, nil)
	if err != nil {
		return nil, err
	}
	var zs ZoneStatus
	if err := json.Unmarshal(data, &zs); err != nil {
		return nil, fmt.Errorf("edgeapi: decode zone status: %w", err)
	}
	return &zs, nil
}

// GetRecordSet reads the live value set for one name/type pair. Returns
// ErrNotFound when the record set does not exist.
func (c *Client) GetRecordSet(ctx context.Context, zone, name, rtype string) (*RecordSet, error) {
	query := url.Values{
		"name": []string{name},
		"type": []string{rtype},
	}
	data, err := c.doer.Do(ctx, http.MethodGet, "/zones/"+zone+"/recordset", query, nil)
	if err != nil {
		return nil, err
	}
	var rs RecordSet
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("edgeapi: decode record set: %w", err)
	}
	return &rs, nil
}
