package devops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/httpclient"
)

const (
	maxResponseBodyBytes = 1 << 20

	apiVersion         = "7.0"
	commentsAPIVersion = "7.0-preview.3"
)

type ClientOptions struct {
	// OrgURL is the organization base URL, e.g. https://dev.azure.com/acme.
	OrgURL              string
	Project             string
	PersonalAccessToken string
	HTTPDoer            httpclient.Doer
	RetryOptions        httpclient.Options
}

// Client talks to the work-tracking service for one organization/project.
// Credentials are fixed at construction and never mutated afterwards.
type Client struct {
	orgURL     string
	project    string
	authHeader string
	client     *httpclient.Client
	redactor   httpclient.Redactor
}

func NewClient(options ClientOptions) (*Client, error) {
	orgURL, err := normalizeOrgURL(options.OrgURL)
	if err != nil {
		return nil, err
	}

	project := strings.TrimSpace(options.Project)
	if project == "" {
		return nil, &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid work item client options: project must be set",
		}
	}

	token := strings.TrimSpace(options.PersonalAccessToken)
	if token == "" {
		return nil, &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid work item client options: personal access token must be set",
		}
	}

	// PAT auth uses basic credentials with an empty user name.
	authSecret := ":" + token
	authHeader := "Basic " + base64.StdEncoding.EncodeToString([]byte(authSecret))
	redactor := httpclient.NewRedactor(token, authSecret, authHeader)

	return &Client{
		orgURL:     orgURL,
		project:    project,
		authHeader: authHeader,
		client:     httpclient.New(options.HTTPDoer, options.RetryOptions),
		redactor:   redactor,
	}, nil
}

// Verify checks credentials and project visibility before any item is
// touched.
func (c *Client) Verify(ctx context.Context) error {
	if c == nil {
		return &Error{Code: ErrorCodeInvalidInput, Message: "work item client is nil"}
	}

	resourcePath := "/_apis/projects/" + url.PathEscape(c.project)
	return c.doJSON(ctx, http.MethodGet, resourcePath, nil, "", nil, []int{http.StatusOK}, nil)
}

// QueryWorkItemIDs executes a WIQL query and returns the matching item
// identifiers in the order the service reports them.
func (c *Client) QueryWorkItemIDs(ctx context.Context, wiql string) ([]int, error) {
	if c == nil {
		return nil, &Error{Code: ErrorCodeInvalidInput, Message: "work item client is nil"}
	}

	trimmed := strings.TrimSpace(wiql)
	if trimmed == "" {
		return nil, &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid query request: wiql must be set",
			redactor:   c.redactor,
		}
	}

	resourcePath := "/" + url.PathEscape(c.project) + "/_apis/wit/wiql"
	var response wiqlAPIResponse
	if err := c.doJSON(ctx, http.MethodPost, resourcePath, wiqlAPIRequest{Query: trimmed}, "", nil, []int{http.StatusOK}, &response); err != nil {
		return nil, err
	}

	ids := make([]int, 0, len(response.WorkItems))
	for _, ref := range response.WorkItems {
		ids = append(ids, ref.ID)
	}
	return ids, nil
}

// GetWorkItem fetches the full field set for one item. A missing item
// yields an error matched by IsNotFound.
func (c *Client) GetWorkItem(ctx context.Context, id int) (WorkItem, error) {
	if c == nil {
		return WorkItem{}, &Error{Code: ErrorCodeInvalidInput, Message: "work item client is nil"}
	}
	if id <= 0 {
		return WorkItem{}, &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid work item id",
			redactor:   c.redactor,
		}
	}

	resourcePath := "/" + url.PathEscape(c.project) + "/_apis/wit/workitems/" + strconv.Itoa(id)
	var response workItemAPIResponse
	if err := c.doJSON(ctx, http.MethodGet, resourcePath, nil, "", nil, []int{http.StatusOK}, &response); err != nil {
		return WorkItem{}, err
	}

	return c.mapWorkItem(response), nil
}

// GetComments returns the item's discussion thread, oldest first.
func (c *Client) GetComments(ctx context.Context, id int) ([]Comment, error) {
	if c == nil {
		return nil, &Error{Code: ErrorCodeInvalidInput, Message: "work item client is nil"}
	}

	resourcePath := "/" + url.PathEscape(c.project) + "/_apis/wit/workItems/" + strconv.Itoa(id) + "/comments"
	query := url.Values{}
	query.Set("order", "asc")

	var response commentsAPIResponse
	if err := c.doJSON(ctx, http.MethodGet, resourcePath, nil, "", queryWithVersion(query, commentsAPIVersion), []int{http.StatusOK}, &response); err != nil {
		return nil, err
	}

	comments := make([]Comment, 0, len(response.Comments))
	for _, item := range response.Comments {
		comments = append(comments, Comment{
			Text:        item.Text,
			CreatedBy:   identityDisplay(item.CreatedBy),
			CreatedDate: strings.TrimSpace(item.CreatedDate),
			URL:         strings.TrimSpace(item.URL),
		})
	}
	return comments, nil
}

// MarkMigrated replaces the item's tag field with the merged tag set and
// appends a discussion note in a single update call.
func (c *Client) MarkMigrated(ctx context.Context, id int, tags []string, note string) error {
	if c == nil {
		return &Error{Code: ErrorCodeInvalidInput, Message: "work item client is nil"}
	}

	operations := make([]patchOperation, 0, 2)
	if merged := strings.TrimSpace(strings.Join(tags, "; ")); merged != "" {
		operations = append(operations, patchOperation{Op: "add", Path: "/fields/System.Tags", Value: merged})
	}
	if trimmedNote := strings.TrimSpace(note); trimmedNote != "" {
		operations = append(operations, patchOperation{Op: "add", Path: "/fields/System.History", Value: trimmedNote})
	}
	if len(operations) == 0 {
		return nil
	}

	resourcePath := "/" + url.PathEscape(c.project) + "/_apis/wit/workitems/" + strconv.Itoa(id)
	return c.doJSON(ctx, http.MethodPatch, resourcePath, operations, "application/json-patch+json", nil, []int{http.StatusOK}, nil)
}

// WorkItemWebURL is the browser-facing URL for an item id.
func (c *Client) WorkItemWebURL(id int) string {
	if c == nil {
		return ""
	}
	return c.orgURL + "/" + url.PathEscape(c.project) + "/_workitems/edit/" + strconv.Itoa(id)
}

func (c *Client) mapWorkItem(response workItemAPIResponse) WorkItem {
	fields := response.Fields

	item := WorkItem{
		ID:                 response.ID,
		Title:              strings.TrimSpace(fields.Title),
		Type:               strings.TrimSpace(fields.WorkItemType),
		State:              strings.TrimSpace(fields.State),
		Description:        fields.Description,
		ReproSteps:         fields.ReproSteps,
		SystemInfo:         fields.SystemInfo,
		AcceptanceCriteria: fields.AcceptanceCriteria,
		Tags:               splitTags(fields.Tags),
		CreatedBy:          identityDisplay(fields.CreatedBy),
		CreatedDate:        strings.TrimSpace(fields.CreatedDate),
		ChangedBy:          identityDisplay(fields.ChangedBy),
		ChangedDate:        strings.TrimSpace(fields.ChangedDate),
		AreaPath:           strings.TrimSpace(fields.AreaPath),
		IterationPath:      strings.TrimSpace(fields.IterationPath),
		WebURL:             c.WorkItemWebURL(response.ID),
	}

	if fields.AssignedTo != nil {
		item.Assignee = &Identity{
			DisplayName: strings.TrimSpace(fields.AssignedTo.DisplayName),
			UniqueName:  strings.TrimSpace(fields.AssignedTo.UniqueName),
		}
	}

	return item
}

func (c *Client) doJSON(ctx context.Context, method string, resourcePath string, payload any, contentType string, query url.Values, expectedStatusCodes []int, out any) error {
	if len(expectedStatusCodes) == 0 {
		expectedStatusCodes = []int{http.StatusOK}
	}

	var requestBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &Error{
				Code:       ErrorCodeRequestEncode,
				ReasonCode: contracts.ReasonCodeValidationFailed,
				Message:    "failed to encode work item request payload",
				Err:        err,
				redactor:   c.redactor,
			}
		}
		requestBody = bytes.NewReader(encoded)
	}

	endpoint, err := c.endpointFor(resourcePath, query)
	if err != nil {
		return &Error{
			Code:       ErrorCodeRequestBuild,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "failed to build work item request URL",
			Err:        err,
			redactor:   c.redactor,
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, requestBody)
	if err != nil {
		return &Error{
			Code:       ErrorCodeRequestBuild,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "failed to build work item request",
			Err:        err,
			redactor:   c.redactor,
		}
	}

	req.Header.Set("Accept", "application/json")
	if payload != nil {
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Authorization", c.authHeader)

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{
			Code:       ErrorCodeTransport,
			ReasonCode: contracts.ReasonCodeTransportError,
			Message:    "failed to execute work item request",
			Err:        err,
			redactor:   c.redactor,
		}
	}
	defer resp.Body.Close()

	responseBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if readErr != nil {
		return &Error{
			Code:       ErrorCodeTransport,
			ReasonCode: contracts.ReasonCodeTransportError,
			StatusCode: resp.StatusCode,
			Message:    "failed to read work item response body",
			Err:        readErr,
			redactor:   c.redactor,
		}
	}

	if !containsStatus(expectedStatusCodes, resp.StatusCode) {
		return c.statusError(resp.StatusCode, responseBody)
	}

	if out == nil || len(responseBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(responseBody, out); err != nil {
		return &Error{
			Code:       ErrorCodeResponseDecode,
			ReasonCode: contracts.ReasonCodeTransportError,
			StatusCode: resp.StatusCode,
			Message:    "failed to decode work item response body",
			Err:        err,
			redactor:   c.redactor,
		}
	}

	return nil
}

func (c *Client) statusError(statusCode int, body []byte) error {
	detail := extractAPIErrorMessage(body)
	if detail == "" {
		detail = strings.ToLower(http.StatusText(statusCode))
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return &Error{
			Code:       ErrorCodeAuthFailed,
			ReasonCode: contracts.ReasonCodeAuthFailed,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("work item authentication failed with status %d: %s", statusCode, detail),
			redactor:   c.redactor,
		}
	case statusCode == http.StatusNotFound:
		return &Error{
			Code:       ErrorCodeNotFound,
			ReasonCode: contracts.ReasonCodeItemNotFound,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("work item not found: %s", detail),
			redactor:   c.redactor,
		}
	default:
		return &Error{
			Code:       ErrorCodeUnexpectedStatus,
			ReasonCode: contracts.ReasonCodeTransportError,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("work item request failed with status %d: %s", statusCode, detail),
			redactor:   c.redactor,
		}
	}
}

func (c *Client) endpointFor(resourcePath string, query url.Values) (string, error) {
	trimmedPath := "/" + strings.TrimLeft(strings.TrimSpace(resourcePath), "/")
	parsed, err := url.Parse(c.orgURL)
	if err != nil {
		return "", err
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/") + trimmedPath
	if query == nil {
		query = url.Values{}
	}
	if query.Get("api-version") == "" {
		query.Set("api-version", apiVersion)
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func normalizeOrgURL(orgURL string) (string, error) {
	trimmed := strings.TrimSpace(orgURL)
	if trimmed == "" {
		return "", &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid work item client options: organization URL must be set",
		}
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid work item client options: organization URL is malformed",
			Err:        err,
		}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid work item client options: organization URL must include scheme and host",
		}
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

func queryWithVersion(query url.Values, version string) url.Values {
	if query == nil {
		query = url.Values{}
	}
	query.Set("api-version", version)
	return query
}

func identityDisplay(ref *identityRef) string {
	if ref == nil {
		return ""
	}
	if value := strings.TrimSpace(ref.DisplayName); value != "" {
		return value
	}
	return strings.TrimSpace(ref.UniqueName)
}

func splitTags(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}

	parts := strings.Split(trimmed, ";")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func containsStatus(statusCodes []int, statusCode int) bool {
	for _, candidate := range statusCodes {
		if candidate == statusCode {
			return true
		}
	}
	return false
}

func extractAPIErrorMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.Message)
}
