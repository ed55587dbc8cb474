package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
)

var ErrAnalysisUnavailable = errors.New("call analysis unavailable")

// Analyzer classifies a finished conversation.
type Analyzer interface {
	Analyze(ctx context.Context, transcript string, lead leads.Lead) (leads.Outcome, error)
}

type objection struct {
	name     string
	keywords []string
	concern  string
	response string
}

// objectionOrder fixes the order objections are reported in.
var objectionOrder = []objection{
	{
		name:     "cost",
		keywords: []string{"expensive", "cost", "price", "afford", "budget", "money", "fee"},
		concern:  "worried about implementation costs or monthly fees",
		response: "I understand cost is important. Most businesses find that AI voice agents pay for themselves within the first month through increased efficiency and reduced staffing costs. We can start with a pilot program to prove ROI before full implementation.",
	},
	{
		name:     "technology",
		keywords: []string{"technical", "complicated", "reliable", "work", "break", "glitch"},
		concern:  "concerned about technical complexity or reliability",
		response: "That's a common concern. Our system is designed to be plug-and-play with your existing phone system. We handle all the technical setup, and the system runs on enterprise-grade infrastructure with 99.9% uptime.",
	},
	{
		name:     "replacement",
		keywords: []string{"replace", "fire", "job", "staff", "employee", "human"},
		concern:  "worried about replacing human staff",
		response: "AI voice agents don't replace your team, they enhance them. Your staff can focus on high-value tasks while the AI handles routine calls, inquiries, and scheduling. Many clients find their team becomes more productive and happier.",
	},
	{
		name:     "customization",
		keywords: []string{"specific", "unique", "custom", "different", "special"},
		concern:  "unsure if it can handle their specific business needs",
		response: "Every business is unique, which is why our AI agents are fully customizable. We train them on your specific processes, terminology, and business rules. That's exactly what we'd discuss in our implementation meeting.",
	},
	{
		name:     "trust",
		keywords: []string{"customers", "people", "prefer", "human", "real person", "robot"},
		concern:  "concerned customers might not like talking to AI",
		response: "Our AI agents are incredibly natural. We can set them up to identify themselves as AI assistants, or blend seamlessly with your team. Customer satisfaction typically increases due to faster response times and consistency.",
	},
}

var objectionPlaybook = func() map[string]objection {
	m := make(map[string]objection, len(objectionOrder))
	for _, o := range objectionOrder {
		m[o.name] = o
	}
	return m
}()

var (
	positiveIndicators = []string{
		"yes", "sure", "okay", "interested", "sounds good", "let's do it",
		"when", "available", "schedule", "meeting", "call", "discuss",
	}
	negativeIndicators = []string{
		"no", "not interested", "not now", "maybe later", "think about it",
		"not ready", "too busy", "call back",
	}
	timeIndicators = []string{
		"monday", "tuesday", "wednesday", "thursday", "friday",
		"morning", "afternoon", "evening", "am", "pm",
		"next week", "this week", "tomorrow",
	}
)

// MeetingIntent is the keyword reading of the customer's willingness to meet.
type MeetingIntent struct {
	MeetingInterest bool     `json:"meeting_interest"`
	InterestLevel   string   `json:"interest_level"`
	TimeMentioned   bool     `json:"time_mentioned"`
	ExtractedTimes  []string `json:"extracted_times"`
}

// ExtractMeetingIntent scores positive, negative and time phrases. Phrases
// match on word boundaries.
func ExtractMeetingIntent(text string) MeetingIntent {
	words := tokenize(text)
	hasPositive := containsAny(words, positiveIndicators)
	hasNegative := containsAny(words, negativeIndicators)

	var times []string
	for _, ind := range timeIndicators {
		if containsPhrase(words, ind) {
			times = append(times, ind)
		}
	}

	intent := MeetingIntent{
		MeetingInterest: hasPositive && !hasNegative,
		TimeMentioned:   len(times) > 0,
		ExtractedTimes:  times,
	}
	switch {
	case hasPositive && !hasNegative && intent.TimeMentioned:
		intent.InterestLevel = leads.InterestHigh
	case hasPositive && !hasNegative:
		intent.InterestLevel = leads.InterestMedium
	case hasNegative:
		intent.InterestLevel = leads.InterestLow
	default:
		intent.InterestLevel = leads.InterestUncertain
	}
	return intent
}

// DetectObjections returns every objection type whose keywords appear.
func DetectObjections(text string) []string {
	words := tokenize(text)
	var out []string
	for _, o := range objectionOrder {
		if containsAny(words, o.keywords) {
			out = append(out, o.name)
		}
	}
	return out
}

// KeywordAnalyzer classifies conversations with fixed keyword lists. It never
// fails and backs the model-based analyzer.
type KeywordAnalyzer struct{}

func (KeywordAnalyzer) Analyze(_ context.Context, transcript string, lead leads.Lead) (leads.Outcome, error) {
	customer := CustomerText(transcript)

	status := leads.CallNoAnswer
	if strings.TrimSpace(customer) != "" {
		status = leads.CallAnswered
	}

	intent := ExtractMeetingIntent(customer)
	objections := DetectObjections(customer)

	category := orDefault(lead.Category, "business")
	notes := fmt.Sprintf("Called %s (%s). ", lead.DisplayName(), category)
	switch {
	case intent.MeetingInterest:
		notes += "Successfully scheduled follow-up meeting. "
	case intent.InterestLevel == leads.InterestHigh:
		notes += "High interest expressed, needs follow-up. "
	case intent.InterestLevel == leads.InterestMedium:
		notes += "Some interest shown, may need nurturing. "
	default:
		notes += "Low interest or not ready at this time. "
	}
	if len(objections) > 0 {
		notes += "Objections raised: " + strings.Join(objections, ", ") + ". "
	}

	return leads.Outcome{
		CallStatus:       status,
		InterestLevel:    intent.InterestLevel,
		Objections:       objections,
		ScheduledMeeting: intent.MeetingInterest,
		MeetingTime:      strings.Join(intent.ExtractedTimes, " "),
		NextAction:       NextAction(intent.MeetingInterest, intent.InterestLevel),
		Notes:            strings.TrimSpace(notes),
	}, nil
}

// NextAction maps a classification onto the follow-up step.
func NextAction(scheduled bool, interest string) string {
	switch {
	case scheduled:
		return leads.ActionScheduleMeeting
	case interest == leads.InterestHigh || interest == leads.InterestMedium:
		return leads.ActionFollowUp
	default:
		return leads.ActionArchive
	}
}

// CustomerText keeps only the customer's lines of a flattened transcript. A
// transcript without speaker prefixes is returned unchanged.
func CustomerText(transcript string) string {
	var (
		out      []string
		prefixed bool
	)
	for _, line := range strings.Split(transcript, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Customer:"):
			prefixed = true
			out = append(out, strings.TrimSpace(strings.TrimPrefix(line, "Customer:")))
		case strings.HasPrefix(line, "Agent:"):
			prefixed = true
		}
	}
	if !prefixed {
		return transcript
	}
	return strings.Join(out, "\n")
}

func tokenize(text string) []string {
	return strings.FieldsFunc(fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

func containsAny(words []string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(words, p) {
			return true
		}
	}
	return false
}

func containsPhrase(words []string, phrase string) bool {
	parts := strings.Fields(phrase)
	if len(parts) == 0 {
		return false
	}
	for i := 0; i+len(parts) <= len(words); i++ {
		match := true
		for j, p := range parts {
			if words[i+j] != p {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
