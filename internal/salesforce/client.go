package salesforce

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

	"forcebackup/internal/errors"
	"forcebackup/internal/logging"
)

// DefaultAPIVersion is the REST API version used when none is configured.
const DefaultAPIVersion = "v59.0"

// Config holds connection settings for a Salesforce org.
type Config struct {
	// InstanceURL is the org's base URL, e.g. https://myorg.my.salesforce.com
	InstanceURL string
	// AccessToken is a valid session token. The client never refreshes it;
	// an expired token ends the run.
	AccessToken string
	// APIVersion overrides DefaultAPIVersion when set, e.g. "v59.0".
	APIVersion string
	// Timeout applies per HTTP request. Zero means 120s.
	Timeout time.Duration
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.InstanceURL == "" {
		return errors.NewAppError(errors.ErrorTypeValidation, "instance URL is required", nil)
	}
	if !strings.HasPrefix(c.InstanceURL, "https://") && !strings.HasPrefix(c.InstanceURL, "http://") {
		return errors.NewAppError(errors.ErrorTypeValidation,
			fmt.Sprintf("instance URL must include a scheme: %s", c.InstanceURL), nil)
	}
	if c.AccessToken == "" {
		return errors.NewAppError(errors.ErrorTypeValidation, "access token is required", nil)
	}
	return nil
}

// Client is a thin REST client for a single org session. One instance is
// shared by every component of a run; it is safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	apiVersion string
	httpClient *http.Client
	logger     *logging.Logger
	classifier *errors.ErrorClassifier
}

// NewClient creates a client for the given org.
func NewClient(config Config, logger *logging.Logger) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	apiVersion := config.APIVersion
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	timeout := config.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}

	return &Client{
		baseURL:    strings.TrimRight(config.InstanceURL, "/"),
		token:      config.AccessToken,
		apiVersion: apiVersion,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		classifier: errors.NewErrorClassifier(),
	}, nil
}

// APIVersion returns the API version in use.
func (c *Client) APIVersion() string {
	return c.apiVersion
}

// RestPath builds a path under /services/data/<version>/.
func (c *Client) RestPath(parts ...string) string {
	return "/services/data/" + c.apiVersion + "/" + strings.Join(parts, "/")
}

func (c *Client) do(ctx context.Context, method, path string, contentType string, body io.Reader) (*http.Response, error) {
	u := path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		u = c.baseURL + path
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeValidation, "failed to build API request", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(start)
	if err != nil {
		c.logger.LogAPIRequest(method, logging.SanitizeURL(path), 0, duration, err)
		return nil, c.classifier.ClassifyError(err)
	}

	c.logger.LogAPIRequest(method, logging.SanitizeURL(path), resp.StatusCode, duration, nil)
	return resp, nil
}

// checkResponse classifies non-2xx responses and drains the body.
func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	resp.Body.Close()
	return c.classifier.ClassifyHTTPStatus(resp.StatusCode, string(body))
}

// GetJSON performs a GET request and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewAppError(errors.ErrorTypeUnknown, "failed to decode API response", err)
	}
	return nil
}

// PostJSON performs a POST request with a JSON body and decodes the response.
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPost, path, in, out)
}

// PatchJSON performs a PATCH request with a JSON body and decodes the response.
func (c *Client) PatchJSON(ctx context.Context, path string, in, out interface{}) error {
	return c.sendJSON(ctx, http.MethodPatch, path, in, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return errors.NewAppError(errors.ErrorTypeValidation, "failed to encode request payload", err)
		}
		body = bytes.NewReader(payload)
	}

	resp, err := c.do(ctx, method, path, "application/json", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewAppError(errors.ErrorTypeUnknown, "failed to decode API response", err)
	}
	return nil
}

// PutCSV uploads a CSV body, used for ingest job data.
func (c *Client) PutCSV(ctx context.Context, path string, body io.Reader) error {
	resp, err := c.do(ctx, http.MethodPut, path, "text/csv", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkResponse(resp)
}

// Stream performs a GET request and returns the raw body for streaming
// consumption. The caller must close the body.
func (c *Client) Stream(ctx context.Context, path string) (io.ReadCloser, http.Header, error) {
	resp, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, nil, err
	}
	if err := c.checkResponse(resp); err != nil {
		return nil, nil, err
	}
	return resp.Body, resp.Header, nil
}

// QueryResult is a page of a SOQL query response.
type QueryResult struct {
	TotalSize      int                      `json:"totalSize"`
	Done           bool                     `json:"done"`
	NextRecordsURL string                   `json:"nextRecordsUrl"`
	Records        []map[string]interface{} `json:"records"`
}

// Query runs a SOQL query through the REST query endpoint, following
// nextRecordsUrl pagination until all records are collected.
func (c *Client) Query(ctx context.Context, soql string) ([]map[string]interface{}, error) {
	path := c.RestPath("query") + "?q=" + url.QueryEscape(soql)

	var records []map[string]interface{}
	for {
		var page QueryResult
		if err := c.GetJSON(ctx, path, &page); err != nil {
			return nil, err
		}
		records = append(records, page.Records...)
		if page.Done || page.NextRecordsURL == "" {
			break
		}
		path = page.NextRecordsURL
	}
	return records, nil
}

// QueryCount runs a COUNT() query and returns the total.
func (c *Client) QueryCount(ctx context.Context, object, whereClause string) (int64, error) {
	soql := "SELECT COUNT() FROM " + object
	if whereClause != "" {
		soql += " WHERE " + whereClause
	}
	var page QueryResult
	if err := c.GetJSON(ctx, c.RestPath("query")+"?q="+url.QueryEscape(soql), &page); err != nil {
		return 0, err
	}
	return int64(page.TotalSize), nil
}

// GetRecord fetches selected fields of a single record.
func (c *Client) GetRecord(ctx context.Context, object, id string, fields []string) (map[string]interface{}, error) {
	path := c.RestPath("sobjects", object, id)
	if len(fields) > 0 {
		path += "?fields=" + url.QueryEscape(strings.Join(fields, ","))
	}
	var record map[string]interface{}
	if err := c.GetJSON(ctx, path, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// APILimit is the remaining/maximum pair reported by the limits endpoint.
type APILimit struct {
	Max       int `json:"Max"`
	Remaining int `json:"Remaining"`
}

// Limits fetches the org's API limits. Used to warn before large runs.
func (c *Client) Limits(ctx context.Context) (map[string]APILimit, error) {
	var limits map[string]APILimit
	if err := c.GetJSON(ctx, c.RestPath("limits"), &limits); err != nil {
		return nil, err
	}
	return limits, nil
}

// DescribeField is one field entry of a describe response.
type DescribeField struct {
	Name              string   `json:"name"`
	Label             string   `json:"label"`
	Type              string   `json:"type"`
	Length            int      `json:"length"`
	Nillable          bool     `json:"nillable"`
	Unique            bool     `json:"unique"`
	ExternalID        bool     `json:"externalId"`
	IDLookup          bool     `json:"idLookup"`
	NameField         bool     `json:"nameField"`
	Createable        bool     `json:"createable"`
	Updateable        bool     `json:"updateable"`
	Calculated        bool     `json:"calculated"`
	AutoNumber        bool     `json:"autoNumber"`
	DefaultedOnCreate bool     `json:"defaultedOnCreate"`
	ReferenceTo       []string `json:"referenceTo"`
	RelationshipName  string   `json:"relationshipName"`
}

// DescribeResult is the subset of a describe response the tool consumes.
type DescribeResult struct {
	Name       string          `json:"name"`
	Label      string          `json:"label"`
	Queryable  bool            `json:"queryable"`
	Createable bool            `json:"createable"`
	Updateable bool            `json:"updateable"`
	Custom     bool            `json:"custom"`
	KeyPrefix  string          `json:"keyPrefix"`
	Fields     []DescribeField `json:"fields"`
}

// DescribeObject fetches an object's describe metadata.
func (c *Client) DescribeObject(ctx context.Context, object string) (*DescribeResult, error) {
	var result DescribeResult
	if err := c.GetJSON(ctx, c.RestPath("sobjects", object, "describe"), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GlobalDescribeEntry is one object entry of the global describe response.
type GlobalDescribeEntry struct {
	Name      string `json:"name"`
	Queryable bool   `json:"queryable"`
	Custom    bool   `json:"custom"`
}

// ListObjects returns the names of all queryable objects in the org.
func (c *Client) ListObjects(ctx context.Context) ([]string, error) {
	var result struct {
		Sobjects []GlobalDescribeEntry `json:"sobjects"`
	}
	if err := c.GetJSON(ctx, c.RestPath("sobjects"), &result); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(result.Sobjects))
	for _, obj := range result.Sobjects {
		if obj.Queryable {
			names = append(names, obj.Name)
		}
	}
	return names, nil
}

// OrgID queries the org's identifier, recorded in backup manifests.
func (c *Client) OrgID(ctx context.Context) (string, error) {
	records, err := c.Query(ctx, "SELECT Id FROM Organization")
	if err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", errors.NewAppError(errors.ErrorTypeUnknown, "organization query returned no rows", nil)
	}
	id, _ := records[0]["Id"].(string)
	return id, nil
}
