package purpleair

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// GroupResponse is the positional snapshot returned by
// GET /groups/{id}/members. Each data row is zipped against Fields by the
// normalizer to recover named values.
type GroupResponse struct {
	Fields []string `json:"fields"`
	Data   [][]any  `json:"data"`
}

// GroupFields is the field list requested for group snapshots.
var GroupFields = []string{"sensor_index", "name", "latitude", "longitude", "last_seen", "pm2.5", "temperature", "humidity", "pressure"}

// CreateGroup creates a temporary remote group used for batch reads and
// returns its id.
func (c *Client) CreateGroup(ctx context.Context, name string) (int64, error) {
	body, err := c.post(ctx, "/groups", url.Values{"name": {name}})
	if err != nil {
		return 0, err
	}

	var resp struct {
		GroupID int64 `json:"group_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("unmarshal group: %w", err)
	}
	if resp.GroupID == 0 {
		return 0, fmt.Errorf("create group: no group_id in response")
	}
	return resp.GroupID, nil
}

// AddMember adds one sensor to a group, passing its read key for private
// sensors.
func (c *Client) AddMember(ctx context.Context, groupID int64, sensorID, readKey string) error {
	form := url.Values{"sensor_index": {sensorID}}
	if readKey != "" {
		form.Set("sensor_read_key", readKey)
	}
	_, err := c.post(ctx, fmt.Sprintf("/groups/%d/members", groupID), form)
	return err
}

// FetchGroup reads a positional snapshot of every member in the group.
func (c *Client) FetchGroup(ctx context.Context, groupID int64) (*GroupResponse, []byte, error) {
	groupLabel := strconv.FormatInt(groupID, 10)
	q := url.Values{}
	q.Set("fields", joinFields(GroupFields))

	body, err := c.get(ctx, groupLabel, "group", fmt.Sprintf("/groups/%d/members", groupID), q)
	if err != nil {
		return nil, nil, err
	}

	var data GroupResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal group snapshot: %w", err)
	}
	return &data, body, nil
}

// DeleteGroup removes a remote group. Harvest defers this as soon as the
// group exists so a failed read never orphans a group on the API side.
func (c *Client) DeleteGroup(ctx context.Context, groupID int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/groups/%d", c.baseURL, groupID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete group %d: %w", groupID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("delete group %d: status %d: %s", groupID, resp.StatusCode, truncateBody(b))
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("post %s: status %d: %s", path, resp.StatusCode, truncateBody(body))
	}
	return body, nil
}
