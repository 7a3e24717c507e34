package github

// ImportRequest is the payload for the asynchronous bulk-import endpoint.
type ImportRequest struct {
	Issue    ImportIssue     `json:"issue"`
	Comments []ImportComment `json:"comments,omitempty"`
}

type ImportIssue struct {
	Title  string   `json:"title"`
	Body   string   `json:"body"`
	Labels []string `json:"labels,omitempty"`
}

type ImportComment struct {
	Body string `json:"body"`
}

// ImportJob is the submission handle; only the status URL matters to the
// poller.
type ImportJob struct {
	StatusURL string
}

// StatusObservation is one raw poll of the job status endpoint. The
// poller's transition function interprets it; the adapter does not.
type StatusObservation struct {
	HTTPStatus    int
	Status        string
	IssueURL      string
	FailureDetail string
}

type importAPIResponse struct {
	ID       int              `json:"id"`
	Status   string           `json:"status"`
	URL      string           `json:"url"`
	IssueURL string           `json:"issue_url"`
	Errors   []importAPIError `json:"errors"`
}

type importAPIError struct {
	Location string `json:"location"`
	Resource string `json:"resource"`
	Field    string `json:"field"`
	Value    string `json:"value"`
	Code     string `json:"code"`
}
