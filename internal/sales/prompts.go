package sales

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
)

// ValueProposition is the industry-specific pitch material.
type ValueProposition struct {
	PainPoints []string
	Benefits   []string
	ROIExample string
}

const defaultIndustry = "Default"

var industryValueProps = map[string]ValueProposition{
	"Restaurant": {
		PainPoints: []string{"phone orders during rush", "staff multitasking", "order accuracy"},
		Benefits: []string{
			"Handle unlimited phone orders simultaneously",
			"Never miss a call during busy hours",
			"Accurate order taking with integrated POS",
			"24/7 availability for late-night orders",
		},
		ROIExample: "A typical restaurant can increase order volume by 30% and reduce order errors by 80%",
	},
	"Healthcare": {
		PainPoints: []string{"appointment scheduling", "patient inquiries", "after-hours calls"},
		Benefits: []string{
			"Automated appointment scheduling and reminders",
			"Handle patient inquiries with medical protocols",
			"24/7 emergency triage and routing",
			"Reduce administrative burden on staff",
		},
		ROIExample: "Medical practices report 40% reduction in no-shows and 60% less admin time",
	},
	"E-commerce": {
		PainPoints: []string{"customer support scalability", "order inquiries", "return processing"},
		Benefits: []string{
			"Scale customer support without hiring",
			"Instant order status and tracking info",
			"Automated return and exchange processing",
			"Multilingual customer support",
		},
		ROIExample: "E-commerce businesses see 50% reduction in support costs and 24/7 availability",
	},
	"Real Estate": {
		PainPoints: []string{"lead qualification", "property inquiries", "showing scheduling"},
		Benefits: []string{
			"Qualify leads automatically 24/7",
			"Provide instant property information",
			"Schedule showings and follow-ups",
			"Never miss a potential buyer call",
		},
		ROIExample: "Real estate agents increase qualified leads by 60% and close more deals",
	},
	"Technology Consulting": {
		PainPoints: []string{"client onboarding", "support scalability", "project inquiries"},
		Benefits: []string{
			"Streamline client onboarding process",
			"Scale technical support efficiently",
			"Qualify project inquiries automatically",
			"Consistent brand communication",
		},
		ROIExample: "Tech consultants report 40% faster onboarding and 3x more qualified leads",
	},
	defaultIndustry: {
		PainPoints: []string{"phone coverage", "customer service", "operational efficiency"},
		Benefits: []string{
			"24/7 professional phone coverage",
			"Consistent customer service experience",
			"Reduce operational overhead",
			"Scale without hiring additional staff",
		},
		ROIExample: "Businesses typically see 30-50% cost reduction compared to human staff",
	},
}

// Casers carry state and are not safe for concurrent use, so each call
// builds its own.
func lower(s string) string { return cases.Lower(language.English).String(s) }
func fold(s string) string  { return cases.Fold().String(s) }

// ValuePropositionFor matches the category case-insensitively and falls back
// to the generic pitch.
func ValuePropositionFor(category string) ValueProposition {
	key := fold(strings.TrimSpace(category))
	for name, vp := range industryValueProps {
		if fold(name) == key {
			return vp
		}
	}
	return industryValueProps[defaultIndustry]
}

// Prompts renders the lines and prompts the agent speaks from.
type Prompts struct {
	AgentName   string
	CompanyName string
}

func (p Prompts) agent() string {
	if p.AgentName == "" {
		return "Alex"
	}
	return p.AgentName
}

func (p Prompts) company() string {
	if p.CompanyName == "" {
		return "VoiceAI Solutions"
	}
	return p.CompanyName
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}

// OpeningLine is spoken once when the conversation starts.
func (p Prompts) OpeningLine(lead leads.Lead) string {
	return fmt.Sprintf("Hi, this is %s from %s. May I speak with %s?",
		p.agent(), p.company(), orDefault(lead.ContactName, "the decision maker"))
}

// OpeningPrompt frames the first exchange of the call.
func (p Prompts) OpeningPrompt(lead leads.Lead) string {
	contact := orDefault(lead.ContactName, "there")
	business := orDefault(lead.BusinessName, "your business")
	return fmt.Sprintf(`You are %[1]s, a professional AI voice agent specialist calling %[2]s at %[3]s.

Your goal is to have a natural, consultative conversation about how AI voice agents can benefit their business.

OPENING: "Hi %[2]s, this is %[1]s from %[4]s. I hope I'm not catching you at a bad time. I'm reaching out because I noticed %[3]s could really benefit from some of the AI voice agent solutions we've been implementing for businesses like yours. Do you have just a couple minutes to explore how this could help streamline your operations?"

Keep the opening conversational and ask for permission to continue. If they say they're busy, offer to call back at a better time and ask when would work best.`,
		p.agent(), contact, business, p.company())
}

// SystemPrompt carries the business context and conversation strategy.
func (p Prompts) SystemPrompt(lead leads.Lead) string {
	business := orDefault(lead.BusinessName, "your business")
	category := orDefault(lead.Category, defaultIndustry)
	size := orDefault(lead.SizeTier, "unknown")
	challenges := orDefault(lead.Challenges, "general operational challenges")
	contact := orDefault(lead.ContactName, "there")
	vp := ValuePropositionFor(category)

	var benefits strings.Builder
	for _, b := range vp.Benefits {
		benefits.WriteString("• " + b + "\n")
	}

	return fmt.Sprintf(`You are %[1]s, an expert AI voice agent consultant. You're speaking with %[2]s from %[3]s, a %[4]s %[5]s business.

BUSINESS CONTEXT:
- Business: %[3]s (%[6]s)
- Size: %[7]s
- Known challenges: %[8]s
- Contact: %[2]s

CONVERSATION STRATEGY:
1. Build rapport and show understanding of their industry
2. Reference their specific challenges: %[8]s
3. Present relevant AI voice agent benefits
4. Handle objections naturally and consultatively
5. Guide toward scheduling an implementation discussion

INDUSTRY-SPECIFIC VALUE PROPOSITIONS for %[6]s:
%[9]s
ROI EXAMPLE: %[10]s

CONVERSATION GUIDELINES:
- Keep responses conversational and natural (this will be spoken aloud)
- Listen actively and acknowledge their specific concerns
- Don't be pushy, be consultative and helpful
- Reference their business name and situation specifically
- If they show interest, guide toward scheduling a call to discuss implementation
- If they have objections, address them thoughtfully
- Avoid technical jargon and speak in business benefits
- Ask open-ended questions to understand their needs better

GOAL: If they show interest, say something like: "It sounds like this could really help %[3]s. Would you be open to a brief 15-minute call where we can dive deeper into exactly how this would work for your specific situation? I can show you some examples from other %[5]s businesses we've helped."

If they agree, ask about their availability this week or next week and get specific time preferences.

Remember: Be natural, helpful, and focus on their business needs. This is a conversation, not a pitch.`,
		p.agent(), contact, business,
		lower(size), lower(category),
		category, size, challenges,
		benefits.String(), vp.ROIExample)
}

// FullSystemPrompt is the system prompt followed by the opening guidance,
// the pair handed to the voice pipeline.
func (p Prompts) FullSystemPrompt(lead leads.Lead) string {
	return p.SystemPrompt(lead) + "\n\n" + p.OpeningPrompt(lead)
}

// ObjectionResponse returns the suggested answer to a detected objection, or
// "" for an unknown type.
func (p Prompts) ObjectionResponse(objection string, lead leads.Lead) string {
	o, ok := objectionPlaybook[objection]
	if !ok {
		return ""
	}
	return fmt.Sprintf("I understand you're %s. %s For %s specifically, this could be a great fit because of your current challenges with %s.",
		o.concern, o.response,
		orDefault(lead.BusinessName, "your business"),
		orDefault(lead.Challenges, "operational efficiency"))
}
