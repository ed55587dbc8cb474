package sales

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
	"github.com/Gireeshbd/ai-sales-agent/internal/policy"
)

// textGenerator is the single model call the analyzer needs.
type textGenerator interface {
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

type genaiGenerator struct {
	client *genai.Client
	model  string
}

func (g *genaiGenerator) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.1),
	})
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// GeminiAnalyzer asks a Gemini model to classify the conversation.
type GeminiAnalyzer struct {
	gen textGenerator
}

// NewGeminiAnalyzer builds an analyzer backed by the Gemini API.
func NewGeminiAnalyzer(ctx context.Context, apiKey, model string) (*GeminiAnalyzer, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: no api key", ErrAnalysisUnavailable)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiAnalyzer{gen: &genaiGenerator{client: client, model: model}}, nil
}

type modelOutcome struct {
	CallStatus       string   `json:"call_status"`
	InterestLevel    string   `json:"interest_level"`
	Objections       []string `json:"prospect_objections"`
	ScheduledMeeting bool     `json:"scheduled_meeting"`
	MeetingTime      string   `json:"meeting_datetime"`
	NextAction       string   `json:"next_action"`
	Notes            string   `json:"agent_notes"`
}

const analysisInstructions = `You review transcripts of outbound sales calls offering AI voice agents to small businesses.
Classify the call and reply with one JSON object with these fields:
  call_status: "answered" or "no_answer"
  interest_level: "high", "medium", "low" or "uncertain"
  prospect_objections: array drawn from "cost", "technology", "replacement", "customization", "trust"
  scheduled_meeting: true only if the customer agreed to a follow-up meeting
  meeting_datetime: the agreed time in the customer's words, or ""
  next_action: "schedule_meeting", "follow_up" or "archive"
  agent_notes: two sentences summarising the call for the sales team`

func (a *GeminiAnalyzer) Analyze(ctx context.Context, transcript string, lead leads.Lead) (leads.Outcome, error) {
	transcript, _ = policy.RedactTranscript(transcript)
	prompt := fmt.Sprintf("%s\n\nLead: %s (%s, %s). Known challenges: %s.\n\nTranscript:\n%s",
		analysisInstructions,
		lead.DisplayName(),
		orDefault(lead.Category, "unknown industry"),
		orDefault(lead.SizeTier, "unknown size"),
		orDefault(lead.Challenges, "none recorded"),
		transcript,
	)
	raw, err := a.gen.GenerateJSON(ctx, prompt)
	if err != nil {
		return leads.Outcome{}, fmt.Errorf("%w: %v", ErrAnalysisUnavailable, err)
	}
	return parseModelOutcome(raw)
}

func parseModelOutcome(raw string) (leads.Outcome, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var m modelOutcome
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &m); err != nil {
		return leads.Outcome{}, fmt.Errorf("%w: decode model reply: %v", ErrAnalysisUnavailable, err)
	}

	out := leads.Outcome{
		CallStatus:       oneOf(m.CallStatus, leads.CallAnswered, leads.CallAnswered, leads.CallNoAnswer),
		InterestLevel:    oneOf(m.InterestLevel, leads.InterestUncertain, leads.InterestHigh, leads.InterestMedium, leads.InterestLow, leads.InterestUncertain),
		ScheduledMeeting: m.ScheduledMeeting,
		MeetingTime:      strings.TrimSpace(m.MeetingTime),
		Notes:            strings.TrimSpace(m.Notes),
	}
	for _, o := range m.Objections {
		o = strings.ToLower(strings.TrimSpace(o))
		if _, ok := objectionPlaybook[o]; ok {
			out.Objections = append(out.Objections, o)
		}
	}
	out.NextAction = oneOf(m.NextAction, NextAction(out.ScheduledMeeting, out.InterestLevel),
		leads.ActionScheduleMeeting, leads.ActionFollowUp, leads.ActionArchive)
	return out, nil
}

func oneOf(v, fallback string, allowed ...string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return fallback
}

// FallbackAnalyzer tries primary first and falls back on error.
type FallbackAnalyzer struct {
	primary  Analyzer
	fallback Analyzer
}

func NewFallbackAnalyzer(primary, fallback Analyzer) *FallbackAnalyzer {
	return &FallbackAnalyzer{primary: primary, fallback: fallback}
}

func (a *FallbackAnalyzer) Analyze(ctx context.Context, transcript string, lead leads.Lead) (leads.Outcome, error) {
	if a.primary == nil {
		if a.fallback == nil {
			return leads.Outcome{}, ErrAnalysisUnavailable
		}
		return a.fallback.Analyze(ctx, transcript, lead)
	}
	out, err := a.primary.Analyze(ctx, transcript, lead)
	if err == nil {
		return out, nil
	}
	if a.fallback == nil || ctx.Err() != nil {
		return leads.Outcome{}, err
	}
	out, fallbackErr := a.fallback.Analyze(ctx, transcript, lead)
	if fallbackErr != nil {
		return leads.Outcome{}, fmt.Errorf("primary analyzer error: %w; fallback analyzer error: %v", err, fallbackErr)
	}
	return out, nil
}
