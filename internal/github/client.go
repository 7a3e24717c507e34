package github

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

	"github.com/pat/workitem-migrate/internal/contracts"
	"github.com/pat/workitem-migrate/internal/httpclient"
)

const (
	maxResponseBodyBytes = 1 << 20

	// The bulk-import endpoint is only served under this preview media type.
	importAcceptHeader  = "application/vnd.github.golden-comet-preview+json"
	defaultAcceptHeader = "application/vnd.github+json"

	DefaultBaseURL = "https://api.github.com"
)

type ClientOptions struct {
	BaseURL      string
	Owner        string
	Repo         string
	Token        string
	HTTPDoer     httpclient.Doer
	RetryOptions httpclient.Options
}

// Client talks to the issue-tracking service for one repository.
type Client struct {
	baseURL    string
	owner      string
	repo       string
	authHeader string
	client     *httpclient.Client
	// submitClient never retries: the import endpoint is not idempotent
	// and a replay could create the issue twice.
	submitClient *httpclient.Client
	redactor     httpclient.Redactor
}

func NewClient(options ClientOptions) (*Client, error) {
	baseURL := strings.TrimSpace(options.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	normalized, err := normalizeBaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	owner := strings.TrimSpace(options.Owner)
	if owner == "" {
		return nil, &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid issue client options: owner must be set",
		}
	}

	repo := strings.TrimSpace(options.Repo)
	if repo == "" {
		return nil, &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid issue client options: repository must be set",
		}
	}

	token := strings.TrimSpace(options.Token)
	if token == "" {
		return nil, &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid issue client options: token must be set",
		}
	}

	authHeader := "token " + token
	redactor := httpclient.NewRedactor(token, authHeader)

	submitOptions := options.RetryOptions
	submitOptions.MaxAttempts = 1

	return &Client{
		baseURL:      normalized,
		owner:        owner,
		repo:         repo,
		authHeader:   authHeader,
		client:       httpclient.New(options.HTTPDoer, options.RetryOptions),
		submitClient: httpclient.New(options.HTTPDoer, submitOptions),
		redactor:     redactor,
	}, nil
}

// Verify checks credentials and repository visibility.
func (c *Client) Verify(ctx context.Context) error {
	if c == nil {
		return &Error{Code: ErrorCodeInvalidInput, Message: "issue client is nil"}
	}
	return c.doJSON(ctx, http.MethodGet, c.repoPath(""), defaultAcceptHeader, nil, []int{http.StatusOK}, nil)
}

// StartImport submits one issue payload to the asynchronous import
// endpoint, exactly once.
func (c *Client) StartImport(ctx context.Context, request ImportRequest) (ImportJob, error) {
	if c == nil {
		return ImportJob{}, &Error{Code: ErrorCodeInvalidInput, Message: "issue client is nil"}
	}
	if strings.TrimSpace(request.Issue.Title) == "" {
		return ImportJob{}, &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid import request: issue title must be set",
			redactor:   c.redactor,
		}
	}

	var response importAPIResponse
	err := c.doJSONWith(ctx, c.submitClient, http.MethodPost, c.repoPath("/import/issues"), importAcceptHeader, request, []int{http.StatusOK, http.StatusCreated, http.StatusAccepted}, &response)
	if err != nil {
		return ImportJob{}, err
	}

	statusURL := strings.TrimSpace(response.URL)
	if parsed, parseErr := url.Parse(statusURL); parseErr != nil || statusURL == "" || parsed.Scheme == "" || parsed.Host == "" {
		return ImportJob{}, &Error{
			Code:       ErrorCodeSubmission,
			ReasonCode: contracts.ReasonCodeSubmissionFailed,
			Message:    "import submission returned no usable job status URL",
			redactor:   c.redactor,
		}
	}

	return ImportJob{StatusURL: statusURL}, nil
}

// CheckImport observes the job status endpoint once. HTTP 404 means the
// job is not yet visible and is reported as an observation, not an error.
func (c *Client) CheckImport(ctx context.Context, job ImportJob) (StatusObservation, error) {
	if c == nil {
		return StatusObservation{}, &Error{Code: ErrorCodeInvalidInput, Message: "issue client is nil"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.StatusURL, nil)
	if err != nil {
		return StatusObservation{}, &Error{
			Code:       ErrorCodeRequestBuild,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "failed to build import status request",
			Err:        err,
			redactor:   c.redactor,
		}
	}
	req.Header.Set("Accept", importAcceptHeader)
	req.Header.Set("Authorization", c.authHeader)

	resp, err := c.client.Do(req)
	if err != nil {
		return StatusObservation{}, &Error{
			Code:       ErrorCodeTransport,
			ReasonCode: contracts.ReasonCodeTransportError,
			Message:    "failed to execute import status request",
			Err:        err,
			redactor:   c.redactor,
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if readErr != nil {
		return StatusObservation{}, &Error{
			Code:       ErrorCodeTransport,
			ReasonCode: contracts.ReasonCodeTransportError,
			StatusCode: resp.StatusCode,
			Message:    "failed to read import status response",
			Err:        readErr,
			redactor:   c.redactor,
		}
	}

	observation := StatusObservation{HTTPStatus: resp.StatusCode}
	if resp.StatusCode == http.StatusNotFound {
		return observation, nil
	}
	if resp.StatusCode != http.StatusOK {
		return StatusObservation{}, c.statusError(resp.StatusCode, body)
	}

	var response importAPIResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return StatusObservation{}, &Error{
			Code:       ErrorCodeResponseDecode,
			ReasonCode: contracts.ReasonCodeTransportError,
			StatusCode: resp.StatusCode,
			Message:    "failed to decode import status response",
			Err:        err,
			redactor:   c.redactor,
		}
	}

	observation.Status = strings.TrimSpace(response.Status)
	observation.IssueURL = strings.TrimSpace(response.IssueURL)
	observation.FailureDetail = formatImportErrors(response.Errors)
	return observation, nil
}

// AddAssignees adds the mapped logins to a created issue.
func (c *Client) AddAssignees(ctx context.Context, issueNumber int, assignees []string) error {
	if c == nil {
		return &Error{Code: ErrorCodeInvalidInput, Message: "issue client is nil"}
	}
	if issueNumber <= 0 || len(assignees) == 0 {
		return &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid assignee request",
			redactor:   c.redactor,
		}
	}

	payload := map[string]any{"assignees": assignees}
	resourcePath := c.repoPath("/issues/" + strconv.Itoa(issueNumber) + "/assignees")
	return c.doJSON(ctx, http.MethodPost, resourcePath, defaultAcceptHeader, payload, []int{http.StatusCreated, http.StatusOK}, nil)
}

// CloseIssue moves a created issue to the closed state.
func (c *Client) CloseIssue(ctx context.Context, issueNumber int) error {
	if c == nil {
		return &Error{Code: ErrorCodeInvalidInput, Message: "issue client is nil"}
	}
	if issueNumber <= 0 {
		return &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid issue number",
			redactor:   c.redactor,
		}
	}

	payload := map[string]string{"state": "closed"}
	resourcePath := c.repoPath("/issues/" + strconv.Itoa(issueNumber))
	return c.doJSON(ctx, http.MethodPatch, resourcePath, defaultAcceptHeader, payload, []int{http.StatusOK}, nil)
}

// IssueNumberFromURL extracts the issue number from an issue API or web
// URL ending in /issues/<number>.
func IssueNumberFromURL(issueURL string) (int, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(issueURL), "/")
	if trimmed == "" {
		return 0, fmt.Errorf("issue URL is empty")
	}

	slash := strings.LastIndex(trimmed, "/")
	if slash < 0 || !strings.HasSuffix(trimmed[:slash], "/issues") {
		return 0, fmt.Errorf("issue URL %q has no issue number", issueURL)
	}

	number, err := strconv.Atoi(trimmed[slash+1:])
	if err != nil || number <= 0 {
		return 0, fmt.Errorf("issue URL %q has no issue number", issueURL)
	}
	return number, nil
}

func (c *Client) repoPath(suffix string) string {
	return "/repos/" + url.PathEscape(c.owner) + "/" + url.PathEscape(c.repo) + suffix
}

func (c *Client) doJSON(ctx context.Context, method string, resourcePath string, accept string, payload any, expectedStatusCodes []int, out any) error {
	return c.doJSONWith(ctx, c.client, method, resourcePath, accept, payload, expectedStatusCodes, out)
}

func (c *Client) doJSONWith(ctx context.Context, client *httpclient.Client, method string, resourcePath string, accept string, payload any, expectedStatusCodes []int, out any) error {
	var requestBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return &Error{
				Code:       ErrorCodeRequestEncode,
				ReasonCode: contracts.ReasonCodeValidationFailed,
				Message:    "failed to encode issue request payload",
				Err:        err,
				redactor:   c.redactor,
			}
		}
		requestBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+resourcePath, requestBody)
	if err != nil {
		return &Error{
			Code:       ErrorCodeRequestBuild,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "failed to build issue request",
			Err:        err,
			redactor:   c.redactor,
		}
	}

	req.Header.Set("Accept", accept)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", c.authHeader)

	resp, err := client.Do(req)
	if err != nil {
		return &Error{
			Code:       ErrorCodeTransport,
			ReasonCode: contracts.ReasonCodeTransportError,
			Message:    "failed to execute issue request",
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
			Message:    "failed to read issue response body",
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
			Message:    "failed to decode issue response body",
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

	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		return &Error{
			Code:       ErrorCodeAuthFailed,
			ReasonCode: contracts.ReasonCodeAuthFailed,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("issue authentication failed with status %d: %s", statusCode, detail),
			redactor:   c.redactor,
		}
	}

	return &Error{
		Code:       ErrorCodeUnexpectedStatus,
		ReasonCode: contracts.ReasonCodeTransportError,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("issue request failed with status %d: %s", statusCode, detail),
		redactor:   c.redactor,
	}
}

func normalizeBaseURL(baseURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid issue client options: base URL is malformed",
			Err:        err,
		}
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", &Error{
			Code:       ErrorCodeInvalidInput,
			ReasonCode: contracts.ReasonCodeValidationFailed,
			Message:    "invalid issue client options: base URL must include scheme and host",
		}
	}

	parsed.Path = strings.TrimRight(parsed.Path, "/")
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return parsed.String(), nil
}

func formatImportErrors(apiErrors []importAPIError) string {
	if len(apiErrors) == 0 {
		return ""
	}

	parts := make([]string, 0, len(apiErrors))
	for _, apiError := range apiErrors {
		segment := strings.TrimSpace(apiError.Code)
		if field := strings.TrimSpace(apiError.Field); field != "" {
			segment = field + ": " + segment
		}
		if value := strings.TrimSpace(apiError.Value); value != "" {
			segment += " (" + value + ")"
		}
		if segment != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "; ")
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
