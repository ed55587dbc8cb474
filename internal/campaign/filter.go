package campaign

import (
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/Gireeshbd/ai-sales-agent/internal/config"
	"github.com/Gireeshbd/ai-sales-agent/internal/leads"
)

// Filter narrows the pending leads a run dials. Empty lists match everything;
// MaxCalls <= 0 means no cap.
type Filter struct {
	Categories []string `json:"business_types,omitempty"`
	SizeTiers  []string `json:"company_sizes,omitempty"`
	MaxCalls   int      `json:"max_calls,omitempty"`
}

// Apply keeps input order. Category and size matching ignore case.
func (f Filter) Apply(in []leads.Lead) []leads.Lead {
	folder := cases.Fold()
	categories := foldSet(folder, f.Categories)
	sizes := foldSet(folder, f.SizeTiers)

	out := make([]leads.Lead, 0, len(in))
	for _, l := range in {
		if categories != nil && !categories[folder.String(strings.TrimSpace(l.Category))] {
			continue
		}
		if sizes != nil && !sizes[folder.String(strings.TrimSpace(l.SizeTier))] {
			continue
		}
		out = append(out, l)
	}
	if f.MaxCalls > 0 && len(out) > f.MaxCalls {
		out = out[:f.MaxCalls]
	}
	return out
}

func foldSet(folder cases.Caser, values []string) map[string]bool {
	var set map[string]bool
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if set == nil {
			set = make(map[string]bool, len(values))
		}
		set[folder.String(v)] = true
	}
	return set
}

// Hours is the window in which calls may be placed. Both ends are inclusive
// to the second. A start after the end wraps past midnight.
type Hours struct {
	Start    config.Clock
	End      config.Clock
	Location *time.Location
}

func (h Hours) Contains(t time.Time) bool {
	if h.Location != nil {
		t = t.In(h.Location)
	}
	secs := t.Hour()*3600 + t.Minute()*60 + t.Second()
	start, end := h.Start.Seconds(), h.End.Seconds()
	if start <= end {
		return secs >= start && secs <= end
	}
	return secs >= start || secs <= end
}

func (h Hours) String() string {
	zone := "local"
	if h.Location != nil {
		zone = h.Location.String()
	}
	return h.Start.String() + "-" + h.End.String() + " " + zone
}
