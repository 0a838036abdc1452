package patient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"patient-imaging-api/utils"

	"github.com/gojektech/heimdall/v6"
	"github.com/gojektech/heimdall/v6/httpclient"
)

// Client is the HTTP Directory and SummaryRecorder backed by the patient
// record service.
type Client struct {
	uri    string
	client *httpclient.Client
}

func NewClient(uri string, timeout time.Duration, retryCount int) *Client {
	backoff := heimdall.NewConstantBackoff(100*time.Millisecond, 50*time.Millisecond)
	return &Client{
		uri: uri,
		client: httpclient.NewClient(
			httpclient.WithHTTPTimeout(timeout),
			httpclient.WithRetrier(heimdall.NewRetrier(backoff)),
			httpclient.WithRetryCount(retryCount),
		),
	}
}

func (c *Client) patientURL(patientID string, parts ...string) string {
	u := fmt.Sprintf("%s/patients/%s", c.uri, url.PathEscape(patientID))
	for _, part := range parts {
		u += "/" + part
	}
	return u
}

// Exists maps 200 to true and 404 to false; anything else is an error.
func (c *Client) Exists(ctx context.Context, patientID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.patientURL(patientID), nil)
	if err != nil {
		return false, err
	}
	res, err := c.client.Do(req)
	if res != nil {
		defer res.Body.Close()
	}
	if err != nil {
		utils.LogError(err)
		return false, err
	}

	switch res.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, fmt.Errorf("bad status: %s", res.Status)
}

func (c *Client) RecordExamination(ctx context.Context, summary Summary) error {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(summary); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.patientURL(summary.PatientID, "summary"), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.client.Do(req)
	if res != nil {
		defer res.Body.Close()
	}
	if err != nil {
		return err
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("bad status: %s", res.Status)
	}
	utils.LogDebug("patient summary recorded %s", summary.String())
	return nil
}
