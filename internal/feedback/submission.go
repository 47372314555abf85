package feedback

import (
	"strconv"
	"time"
)

// Submission is one persisted feedback record. Only the fields below are
// ever stored; anything else in a client payload is dropped. Optional
// fields are nil when the client left them empty.
type Submission struct {
	ID        string `json:"id" bson:"id"`
	Timestamp string `json:"timestamp" bson:"timestamp"`

	FullName   string `json:"fullName" bson:"fullName"`
	Department string `json:"department" bson:"department"`
	Telegram   string `json:"telegram" bson:"telegram"`

	Integration        *string `json:"integration" bson:"integration"`
	Welcomed           *string `json:"welcomed" bson:"welcomed"`
	WhyWelcomed        *string `json:"whyWelcomed" bson:"whyWelcomed"`
	Ideas              *string `json:"ideas" bson:"ideas"`
	Skills             *string `json:"skills" bson:"skills"`
	HasProblems        *string `json:"hasProblems" bson:"hasProblems"`
	ProblemDetails     *string `json:"problemDetails" bson:"problemDetails"`
	MemberIssue        *string `json:"memberIssue" bson:"memberIssue"`
	MemberIssueDetails *string `json:"memberIssueDetails" bson:"memberIssueDetails"`
	LeaderIssue        *string `json:"leaderIssue" bson:"leaderIssue"`
	LeaderIssueDetails *string `json:"leaderIssueDetails" bson:"leaderIssueDetails"`
	OfficeIssue        *string `json:"officeIssue" bson:"officeIssue"`
	OfficeIssueDetails *string `json:"officeIssueDetails" bson:"officeIssueDetails"`
	Rating             *string `json:"rating" bson:"rating"`
	OtherComments      *string `json:"otherComments" bson:"otherComments"`
}

// Build validates payload and, when it passes, returns a sanitized,
// allow-listed Submission stamped with a fresh id and the time now.
// A rejected payload yields a *ValidationError.
func Build(payload map[string]any, now time.Time) (Submission, error) {
	if errs := Validate(payload); len(errs) > 0 {
		return Submission{}, &ValidationError{Messages: errs}
	}

	id, err := NewID(now)
	if err != nil {
		return Submission{}, err
	}

	return Submission{
		ID:        id,
		Timestamp: FormatTimestamp(now),

		FullName:   Sanitize(payload["fullName"]),
		Department: Sanitize(payload["department"]),
		Telegram:   Sanitize(payload["telegram"]),

		Integration:        choice(payload["integration"]),
		Welcomed:           choice(payload["welcomed"]),
		WhyWelcomed:        text(payload["whyWelcomed"]),
		Ideas:              text(payload["ideas"]),
		Skills:             text(payload["skills"]),
		HasProblems:        choice(payload["hasProblems"]),
		ProblemDetails:     text(payload["problemDetails"]),
		MemberIssue:        choice(payload["memberIssue"]),
		MemberIssueDetails: text(payload["memberIssueDetails"]),
		LeaderIssue:        choice(payload["leaderIssue"]),
		LeaderIssueDetails: text(payload["leaderIssueDetails"]),
		OfficeIssue:        choice(payload["officeIssue"]),
		OfficeIssueDetails: text(payload["officeIssueDetails"]),
		Rating:             choice(payload["rating"]),
		OtherComments:      text(payload["otherComments"]),
	}, nil
}

// text sanitizes an optional free-text value; empty or non-string input is
// stored as nil.
func text(v any) *string {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	out := Sanitize(s)
	return &out
}

// choice accepts the scalar shapes an enum-like form control can produce
// and stores them as sanitized text. Objects and arrays are dropped.
func choice(v any) *string {
	switch t := v.(type) {
	case string:
		return text(t)
	case bool:
		if !t {
			return nil
		}
		return text(strconv.FormatBool(t))
	case float64:
		if t == 0 {
			return nil
		}
		return text(strconv.FormatFloat(t, 'f', -1, 64))
	default:
		return nil
	}
}
