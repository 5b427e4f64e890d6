package jira

// jiraEvent is the inbound webhook payload. Jira webhooks nest the ticket
// under "issue"; the pipeline's normalized events use the flat fields.
type jiraEvent struct {
	TenantID string     `json:"tenant_id"`
	Issue    *jiraIssue `json:"issue,omitempty"`

	TicketID    string `json:"ticket_id,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type jiraIssue struct {
	Key    string     `json:"key"`
	Fields jiraFields `json:"fields"`
}

type jiraFields struct {
	Summary     string       `json:"summary"`
	Description string       `json:"description"`
	Created     string       `json:"created"`
	Status      jiraNamedRef `json:"status"`
	Priority    jiraNamedRef `json:"priority"`
	Reporter    jiraReporter `json:"reporter"`
}

type jiraNamedRef struct {
	Name string `json:"name"`
}

type jiraReporter struct {
	DisplayName string `json:"displayName"`
}
