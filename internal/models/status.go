package models

// Status is the lifecycle state of a queue object.
type Status string

// Lifecycle states persisted in Redis, Postgres and ClickHouse.
const (
	StatusReceived   Status = "RECEIVED"
	StatusValidating Status = "VALIDATING"
	StatusInvalid    Status = "INVALID"
	StatusEnriching  Status = "ENRICHING"
	StatusProcessing Status = "PROCESSING"
	StatusComplete   Status = "COMPLETE"
)

// Outcome is set only once an object reaches a terminal status.
type Outcome string

const (
	OutcomeNone    Outcome = ""
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusReceived,
	StatusValidating,
	StatusInvalid,
	StatusEnriching,
	StatusProcessing,
	StatusComplete,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusReceived, StatusValidating, StatusInvalid, StatusEnriching, StatusProcessing, StatusComplete:
		return true
	}
	return false
}

// Valid reports whether o is a known outcome or absent.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeNone, OutcomeSuccess, OutcomeFailure:
		return true
	}
	return false
}

// Display carries presentation attributes for an enum value.
type Display struct {
	Label string `json:"label"`
	Color string `json:"color"`
	Icon  string `json:"icon"`
}

// Display maps every status to its badge. Unknown values render neutral.
func (s Status) Display() Display {
	switch s {
	case StatusReceived:
		return Display{Label: "Received", Color: "blue", Icon: "inbox"}
	case StatusValidating:
		return Display{Label: "Validating", Color: "yellow", Icon: "search"}
	case StatusInvalid:
		return Display{Label: "Invalid", Color: "red", Icon: "x-circle"}
	case StatusEnriching:
		return Display{Label: "Enriching", Color: "purple", Icon: "sparkles"}
	case StatusProcessing:
		return Display{Label: "Processing", Color: "orange", Icon: "cog"}
	case StatusComplete:
		return Display{Label: "Complete", Color: "green", Icon: "check-circle"}
	}
	return Display{Label: string(s), Color: "gray", Icon: "question"}
}

// Display maps every outcome to its badge.
func (o Outcome) Display() Display {
	switch o {
	case OutcomeSuccess:
		return Display{Label: "Success", Color: "green", Icon: "check"}
	case OutcomeFailure:
		return Display{Label: "Failure", Color: "red", Icon: "x"}
	case OutcomeNone:
		return Display{Label: "-", Color: "gray", Icon: "minus"}
	}
	return Display{Label: string(o), Color: "gray", Icon: "question"}
}
