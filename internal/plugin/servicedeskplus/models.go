package servicedeskplus

// sdpEvent is the inbound webhook payload. Custom triggers nest the ticket
// under "request"; the pipeline's normalized events use the flat fields.
type sdpEvent struct {
	TenantID string      `json:"tenant_id"`
	Request  *sdpRequest `json:"request,omitempty"`

	TicketID    string `json:"ticket_id,omitempty"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type sdpRequest struct {
	ID          string       `json:"id"`
	Subject     string       `json:"subject"`
	Description string       `json:"description"`
	Status      sdpNamedRef  `json:"status"`
	Priority    sdpNamedRef  `json:"priority"`
	Requester   sdpNamedRef  `json:"requester"`
	CreatedTime sdpTimeValue `json:"created_time"`
}

type sdpNamedRef struct {
	Name string `json:"name"`
}

type sdpTimeValue struct {
	Value string `json:"value"`
}
