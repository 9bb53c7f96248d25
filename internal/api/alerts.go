package api

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
)

// GetAlerts fetches the snapshot of every alert visible to identity.
func (c *Client) GetAlerts(ctx context.Context, identity string) (*Snapshot, error) {
	const op = "get alerts"

	body, err := c.doWithRetry(ctx, op, http.MethodGet, "/alertes/employe/"+url.PathEscape(identity), nil, nil)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var alerts []APIAlert
		if err := decode(op, trimmed, &alerts); err != nil {
			return nil, err
		}
		return &Snapshot{Alerts: alerts, Total: len(alerts)}, nil
	}

	var resp AlertsResponse
	if err := decode(op, trimmed, &resp); err != nil {
		return nil, err
	}
	if resp.Total < len(resp.Alertes) {
		resp.Total = len(resp.Alertes)
	}
	return &Snapshot{Alerts: resp.Alertes, Total: resp.Total}, nil
}

// MarkRead marks one alert read. A missing alert is a KindNotFound error.
func (c *Client) MarkRead(ctx context.Context, id string) error {
	_, err := c.doWithRetry(ctx, "mark read", http.MethodPatch, "/alertes/"+url.PathEscape(id)+"/lu", nil, nil)
	return err
}

// DeleteAlert deletes one alert. Deleting a missing alert succeeds.
func (c *Client) DeleteAlert(ctx context.Context, id string) error {
	_, err := c.doWithRetry(ctx, "delete alert", http.MethodDelete, "/alertes/"+url.PathEscape(id), nil, nil)
	if IsNotFound(err) {
		c.logger.Debug("alert already deleted", "id", id)
		return nil
	}
	return err
}

// CreateAlert creates an alert. An empty UserID creates a global alert.
// Creation is not idempotent and is never retried.
func (c *Client) CreateAlert(ctx context.Context, req CreateAlertRequest) (*APIAlert, error) {
	const op = "create alert"

	body, err := c.doRequest(ctx, op, http.MethodPost, "/alertes", nil, req)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	var created APIAlert
	if err := decode(op, body, &created); err != nil {
		return nil, err
	}
	return &created, nil
}
