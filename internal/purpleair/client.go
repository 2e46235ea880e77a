package purpleair

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/airshed/airshed/internal/httputil"
	"github.com/airshed/airshed/internal/metrics"
	"github.com/airshed/airshed/internal/models"
)

const DefaultBaseURL = "https://api.purpleair.com/v1"

// FetchError is the typed failure returned for any transport-level error or
// non-2xx response. Callers treat it as "skip this sensor, continue others".
type FetchError struct {
	SensorID string
	Status   int
	Err      error
}

func (e *FetchError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("sensor %s: status %d: %v", e.SensorID, e.Status, e.Err)
	}
	return fmt.Sprintf("sensor %s: %v", e.SensorID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client wraps outbound calls to the PurpleAir API. It performs no retries:
// retry and backoff policy belongs to the callers driving the pipeline.
type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func New(apiKey string) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		client:  httputil.NewClient(),
	}
}

// NewWithBaseURL is used by tests to point the client at a local server.
func NewWithBaseURL(apiKey, baseURL string) *Client {
	c := New(apiKey)
	c.baseURL = baseURL
	return c
}

// CurrentResponse is the single-sensor snapshot returned by GET /sensors/{id}.
type CurrentResponse struct {
	DataTimeStamp int64      `json:"data_time_stamp"`
	Sensor        SensorInfo `json:"sensor"`
}

type SensorInfo struct {
	SensorIndex int64    `json:"sensor_index"`
	Name        string   `json:"name"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	LastSeen    *int64   `json:"last_seen"`
	PM25        *float64 `json:"pm2.5"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Pressure    *float64 `json:"pressure"`
}

// HistoryResponse is the time-bucketed series returned by
// GET /sensors/{id}/history. Data rows are positional and aligned by index
// to TimeStamps; each row carries the requested fields in request order.
type HistoryResponse struct {
	TimeStamps []int64      `json:"time_stamps"`
	Data       [][]*float64 `json:"data"`
}

// HistoryFields is the field list requested for historical series, in the
// positional order the API echoes back in each data row.
var HistoryFields = []string{"pm2.5", "temperature", "humidity", "pressure"}

// FetchCurrent issues one request for a sensor's current reading. Private
// sensors require their read key as a query parameter.
func (c *Client) FetchCurrent(ctx context.Context, sensor models.Sensor) (*CurrentResponse, []byte, error) {
	q := url.Values{}
	if sensor.ReadKey != "" {
		q.Set("read_key", sensor.ReadKey)
	}

	body, err := c.get(ctx, sensor.SensorID, "current", fmt.Sprintf("/sensors/%s", sensor.SensorID), q)
	if err != nil {
		return nil, nil, err
	}

	var data CurrentResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, nil, &FetchError{SensorID: sensor.SensorID, Err: fmt.Errorf("unmarshal current: %w", err)}
	}
	return &data, body, nil
}

// FetchHistory requests a time-bounded series averaged into buckets of
// bucketSeconds (3600 = hourly averages).
func (c *Client) FetchHistory(ctx context.Context, sensor models.Sensor, start, end time.Time, bucketSeconds int) (*HistoryResponse, []byte, error) {
	q := url.Values{}
	q.Set("start_timestamp", strconv.FormatInt(start.Unix(), 10))
	q.Set("end_timestamp", strconv.FormatInt(end.Unix(), 10))
	q.Set("average", strconv.Itoa(bucketSeconds))
	q.Set("fields", joinFields(HistoryFields))
	if sensor.ReadKey != "" {
		q.Set("read_key", sensor.ReadKey)
	}

	body, err := c.get(ctx, sensor.SensorID, "history", fmt.Sprintf("/sensors/%s/history", sensor.SensorID), q)
	if err != nil {
		return nil, nil, err
	}

	var data HistoryResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, nil, &FetchError{SensorID: sensor.SensorID, Err: fmt.Errorf("unmarshal history: %w", err)}
	}
	return &data, body, nil
}

func joinFields(fields []string) string {
	out := ""
	for i, f := range fields {
		if i > 0 {
			out += ","
		}
		out += f
	}
	return out
}

func (c *Client) get(ctx context.Context, sensorID, endpoint, path string, q url.Values) ([]byte, error) {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &FetchError{SensorID: sensorID, Err: err}
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.APICallsTotal.WithLabelValues(sensorID, endpoint, "error").Inc()
		return nil, &FetchError{SensorID: sensorID, Err: fmt.Errorf("fetch %s: %w", endpoint, err)}
	}
	defer resp.Body.Close()

	metrics.APICallsTotal.WithLabelValues(sensorID, endpoint, strconv.Itoa(resp.StatusCode)).Inc()
	metrics.APILatency.WithLabelValues(sensorID, endpoint).Observe(time.Since(started).Seconds())

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &FetchError{SensorID: sensorID, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{
			SensorID: sensorID,
			Status:   resp.StatusCode,
			Err:      fmt.Errorf("fetch %s: %s", endpoint, truncateBody(body)),
		}
	}

	return body, nil
}

func truncateBody(body []byte) string {
	const max = 512
	if len(body) <= max {
		return string(body)
	}
	return string(body[:max]) + "...(truncated)"
}
