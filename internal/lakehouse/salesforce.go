package lakehouse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultSalesforceAPIVersion is used when the client has no API version.
const DefaultSalesforceAPIVersion = "v59.0"

// MaxSalesforcePages bounds how many nextRecordsUrl pages one query follows.
const MaxSalesforcePages = 20

// ErrSalesforceNotConfigured is returned when no instance or token is set.
var ErrSalesforceNotConfigured = errors.New("salesforce is not configured: set salesforce.instance_url and SALESFORCE_ACCESS_TOKEN")

// SalesforceClient runs SOQL through the Salesforce REST query resource.
type SalesforceClient struct {
	InstanceURL string
	Token       string
	APIVersion  string
	HTTP        *http.Client
}

// NewSalesforceClient returns a client, or nil when instanceURL or token is empty.
func NewSalesforceClient(instanceURL, token, apiVersion string) *SalesforceClient {
	if instanceURL == "" || token == "" {
		return nil
	}
	if apiVersion == "" {
		apiVersion = DefaultSalesforceAPIVersion
	}
	return &SalesforceClient{
		InstanceURL: strings.TrimRight(instanceURL, "/"),
		Token:       token,
		APIVersion:  apiVersion,
		HTTP:        &http.Client{Timeout: 60 * time.Second},
	}
}

// SalesforceResult is the outcome of one SOQL query.
type SalesforceResult struct {
	Status    string           `json:"status"`
	SOQL      string           `json:"soql"`
	Object    string           `json:"object_name,omitempty"`
	TotalSize int64            `json:"total_size"`
	RowCount  int              `json:"row_count"`
	Records   []map[string]any `json:"records"`
	Truncated bool             `json:"truncated"`
}

// Query runs soql and follows pagination up to MaxSalesforcePages, or
// until maxRows records have been read when maxRows is positive.
func (c *SalesforceClient) Query(ctx context.Context, soql string, maxRows int) (*SalesforceResult, error) {
	res := &SalesforceResult{Status: "success", SOQL: soql, Records: []map[string]any{}}

	next := fmt.Sprintf("/services/data/%s/query?q=%s", c.APIVersion, url.QueryEscape(soql))
	for page := 0; next != ""; page++ {
		if page == MaxSalesforcePages {
			res.Truncated = true
			break
		}
		body, err := c.get(ctx, next)
		if err != nil {
			return nil, err
		}
		doc := gjson.ParseBytes(body)
		res.TotalSize = doc.Get("totalSize").Int()
		for _, rec := range doc.Get("records").Array() {
			res.Records = append(res.Records, recordFields(rec))
			if maxRows > 0 && len(res.Records) >= maxRows {
				res.Truncated = int64(len(res.Records)) < res.TotalSize
				res.RowCount = len(res.Records)
				return res, nil
			}
		}
		next = ""
		if !doc.Get("done").Bool() {
			next = doc.Get("nextRecordsUrl").String()
		}
	}
	res.RowCount = len(res.Records)
	return res, nil
}

func (c *SalesforceClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.InstanceURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("salesforce request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read salesforce response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("salesforce %s: %s", resp.Status, salesforceError(body))
	}
	return body, nil
}

// salesforceError renders the REST error array as "CODE: message".
func salesforceError(body []byte) string {
	first := gjson.GetBytes(body, "0")
	if first.Exists() && first.Get("message").Exists() {
		return first.Get("errorCode").String() + ": " + first.Get("message").String()
	}
	return strings.TrimSpace(string(body))
}

// recordFields converts a record to a map without its "attributes" metadata.
func recordFields(rec gjson.Result) map[string]any {
	fields := map[string]any{}
	rec.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "attributes" {
			return true
		}
		if value.IsObject() {
			fields[key.String()] = recordFields(value)
		} else {
			fields[key.String()] = value.Value()
		}
		return true
	})
	return fields
}

type salesforceArgs struct {
	SOQL       string `json:"soql" jsonschema_description:"SOQL query"`
	ObjectName string `json:"object_name,omitempty" jsonschema_description:"Salesforce object the query reads, for bookkeeping"`
	MaxRows    int    `json:"max_rows,omitempty" jsonschema:"minimum=1,default=1000"`
}

func (k *Toolkit) salesforceQuery(ctx context.Context, in salesforceArgs) (any, error) {
	if k.env.Salesforce == nil {
		return nil, ErrSalesforceNotConfigured
	}
	if strings.TrimSpace(in.SOQL) == "" {
		return nil, fmt.Errorf("soql is required")
	}
	maxRows := in.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	res, err := k.env.Salesforce.Query(ctx, in.SOQL, maxRows)
	if err != nil {
		return nil, err
	}
	res.Object = in.ObjectName
	k.env.Logger.Debug().Str("object", in.ObjectName).Int("rows", res.RowCount).Msg("salesforce query")
	return res, nil
}
