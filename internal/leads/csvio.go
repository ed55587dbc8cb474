package leads

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// LeadColumns is the header of a leads CSV file.
var LeadColumns = []string{
	"business_name",
	"contact_number",
	"contact_name",
	"business_type",
	"company_size",
	"current_challenges",
	"best_call_time",
	"status",
}

var requiredLeadColumns = []string{"business_name", "contact_number"}

// ResultColumns is the header of a results CSV file.
var ResultColumns = append(append([]string{}, LeadColumns...),
	"call_status",
	"interest_level",
	"prospect_objections",
	"scheduled_meeting",
	"meeting_datetime",
	"next_action",
	"agent_notes",
	"failure_reason",
	"end_reason",
	"analysis_degraded",
	"call_duration",
	"conversation_length",
	"user_responses",
	"agent_responses",
	"call_date",
	"call_sid",
	"token",
)

// MissingColumnsError reports required CSV columns absent from a header.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return "missing required columns: " + strings.Join(e.Columns, ", ")
}

// SampleLeads are written by the leads template.
var SampleLeads = []Lead{
	{
		BusinessName: "Joe's Pizza Palace",
		Phone:        "+15551234567",
		ContactName:  "Joe Martinez",
		Category:     "Restaurant",
		SizeTier:     "Small",
		Challenges:   "Phone orders during busy hours",
		BestCallTime: "14:00-16:00",
		Status:       StatusPending,
	},
	{
		BusinessName: "TechStart Solutions",
		Phone:        "+15559876543",
		ContactName:  "Sarah Chen",
		Category:     "Technology Consulting",
		SizeTier:     "Medium",
		Challenges:   "Customer support scalability",
		BestCallTime: "10:00-12:00",
		Status:       StatusPending,
	},
	{
		BusinessName: "Green Valley Dental",
		Phone:        "+15555678901",
		ContactName:  "Dr. Michael Brown",
		Category:     "Healthcare",
		SizeTier:     "Small",
		Challenges:   "Appointment scheduling and reminders",
		BestCallTime: "12:00-14:00",
		Status:       StatusPending,
	},
}

// ReadLeadsCSV parses a leads file. Unknown columns are ignored and a missing
// status column means pending.
func ReadLeadsCSV(r io.Reader) ([]Lead, error) {
	rows, index, err := readTable(r, requiredLeadColumns)
	if err != nil {
		return nil, err
	}
	out := make([]Lead, 0, len(rows))
	for i, row := range rows {
		l, err := leadFromRow(row, index)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, l)
	}
	return out, nil
}

// WriteLeadsCSV writes leads with the LeadColumns header.
func WriteLeadsCSV(w io.Writer, in []Lead) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(LeadColumns); err != nil {
		return err
	}
	for _, l := range in {
		if err := cw.Write(leadRow(l)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTemplate writes the sample leads file offered for download.
func WriteTemplate(w io.Writer) error {
	return WriteLeadsCSV(w, SampleLeads)
}

// ReadResultsCSV parses a results file written by WriteResultsCSV.
func ReadResultsCSV(r io.Reader) ([]Result, error) {
	rows, index, err := readTable(r, []string{"contact_number", "call_status"})
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(rows))
	for i, row := range rows {
		res, err := resultFromRow(row, index)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, res)
	}
	return out, nil
}

// WriteResultsCSV writes results with the ResultColumns header.
func WriteResultsCSV(w io.Writer, in []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ResultColumns); err != nil {
		return err
	}
	return writeResultRows(cw, in)
}

func appendResultRows(w io.Writer, in []Result) error {
	return writeResultRows(csv.NewWriter(w), in)
}

func writeResultRows(cw *csv.Writer, in []Result) error {
	for _, r := range in {
		if err := cw.Write(resultRow(r)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func readTable(r io.Reader, required []string) ([][]string, map[string]int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, &MissingColumnsError{Columns: required}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	var missing []string
	for _, col := range required {
		if _, ok := index[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, nil, &MissingColumnsError{Columns: missing}
	}
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read csv rows: %w", err)
	}
	return rows, index, nil
}

func field(row []string, index map[string]int, name string) string {
	i, ok := index[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func leadFromRow(row []string, index map[string]int) (Lead, error) {
	status, err := ParseStatus(field(row, index, "status"))
	if err != nil {
		return Lead{}, err
	}
	return NormalizeLead(Lead{
		BusinessName: field(row, index, "business_name"),
		Phone:        field(row, index, "contact_number"),
		ContactName:  field(row, index, "contact_name"),
		Category:     field(row, index, "business_type"),
		SizeTier:     field(row, index, "company_size"),
		Challenges:   field(row, index, "current_challenges"),
		BestCallTime: field(row, index, "best_call_time"),
		Status:       status,
	}), nil
}

func leadRow(l Lead) []string {
	return []string{
		l.BusinessName,
		l.Phone,
		l.ContactName,
		l.Category,
		l.SizeTier,
		l.Challenges,
		l.BestCallTime,
		string(l.Status),
	}
}

func resultRow(r Result) []string {
	o := r.Outcome
	return append(leadRow(r.Lead),
		o.CallStatus,
		o.InterestLevel,
		strings.Join(o.Objections, ";"),
		strconv.FormatBool(o.ScheduledMeeting),
		o.MeetingTime,
		o.NextAction,
		o.Notes,
		o.FailureReason,
		o.EndReason,
		strconv.FormatBool(o.AnalysisDegraded),
		strconv.Itoa(o.DurationSeconds),
		strconv.Itoa(o.ConversationLength),
		strconv.Itoa(o.UserResponses),
		strconv.Itoa(o.AgentResponses),
		r.CallDate.UTC().Format(time.RFC3339Nano),
		r.CallSID,
		r.Token,
	)
}

func resultFromRow(row []string, index map[string]int) (Result, error) {
	l, err := leadFromRow(row, index)
	if err != nil {
		return Result{}, err
	}
	res := Result{
		Lead:    l,
		CallSID: field(row, index, "call_sid"),
		Token:   field(row, index, "token"),
		Outcome: Outcome{
			CallStatus:    field(row, index, "call_status"),
			InterestLevel: field(row, index, "interest_level"),
			Objections:    splitObjections(field(row, index, "prospect_objections")),
			MeetingTime:   field(row, index, "meeting_datetime"),
			NextAction:    field(row, index, "next_action"),
			Notes:         field(row, index, "agent_notes"),
			FailureReason: field(row, index, "failure_reason"),
			EndReason:     field(row, index, "end_reason"),
		},
	}
	res.Outcome.ScheduledMeeting = parseBool(field(row, index, "scheduled_meeting"))
	res.Outcome.AnalysisDegraded = parseBool(field(row, index, "analysis_degraded"))
	res.Outcome.DurationSeconds = parseInt(field(row, index, "call_duration"))
	res.Outcome.ConversationLength = parseInt(field(row, index, "conversation_length"))
	res.Outcome.UserResponses = parseInt(field(row, index, "user_responses"))
	res.Outcome.AgentResponses = parseInt(field(row, index, "agent_responses"))
	if raw := field(row, index, "call_date"); raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return Result{}, fmt.Errorf("call_date: %w", err)
		}
		res.CallDate = ts
	}
	return res, nil
}

func splitObjections(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}

func parseInt(raw string) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return n
}
