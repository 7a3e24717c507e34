package devops

// Identity is a source-service user reference.
type Identity struct {
	DisplayName string
	UniqueName  string
}

// WorkItem is the explicit schema populated once at fetch time. Optional
// string fields are absent when empty; the assignee is absent when nil.
// Nothing downstream reads the raw field bag.
type WorkItem struct {
	ID                 int
	Title              string
	Type               string
	State              string
	Description        string
	ReproSteps         string
	SystemInfo         string
	AcceptanceCriteria string
	Assignee           *Identity
	Tags               []string
	CreatedBy          string
	CreatedDate        string
	ChangedBy          string
	ChangedDate        string
	AreaPath           string
	IterationPath      string

	// WebURL is the browser-facing work item URL, used for audit links.
	WebURL string
}

// Comment is one entry of a work item's discussion thread.
type Comment struct {
	Text        string
	CreatedBy   string
	CreatedDate string
	URL         string
}

// WorkItemRef is a selector result; only the ID participates in migration.
type WorkItemRef struct {
	ID    int
	Title string
}

type workItemAPIResponse struct {
	ID     int              `json:"id"`
	Fields workItemFieldBag `json:"fields"`
}

// workItemFieldBag maps the service's namespaced field references onto
// typed fields exactly once, at decode time.
type workItemFieldBag struct {
	Title              string       `json:"System.Title"`
	WorkItemType       string       `json:"System.WorkItemType"`
	State              string       `json:"System.State"`
	Description        string       `json:"System.Description"`
	ReproSteps         string       `json:"Microsoft.VSTS.TCM.ReproSteps"`
	SystemInfo         string       `json:"Microsoft.VSTS.TCM.SystemInfo"`
	AcceptanceCriteria string       `json:"Microsoft.VSTS.Common.AcceptanceCriteria"`
	AssignedTo         *identityRef `json:"System.AssignedTo"`
	Tags               string       `json:"System.Tags"`
	CreatedBy          *identityRef `json:"System.CreatedBy"`
	CreatedDate        string       `json:"System.CreatedDate"`
	ChangedBy          *identityRef `json:"System.ChangedBy"`
	ChangedDate        string       `json:"System.ChangedDate"`
	AreaPath           string       `json:"System.AreaPath"`
	IterationPath      string       `json:"System.IterationPath"`
}

type identityRef struct {
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
}

type wiqlAPIRequest struct {
	Query string `json:"query"`
}

type wiqlAPIResponse struct {
	WorkItems []wiqlWorkItemRef `json:"workItems"`
}

type wiqlWorkItemRef struct {
	ID int `json:"id"`
}

type commentsAPIResponse struct {
	Count    int                  `json:"count"`
	Comments []commentAPIResponse `json:"comments"`
}

type commentAPIResponse struct {
	Text        string       `json:"text"`
	CreatedBy   *identityRef `json:"createdBy"`
	CreatedDate string       `json:"createdDate"`
	URL         string       `json:"url"`
}

type patchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}
