package assistant

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bttk/calendar-assistant/pkg/model"
	"github.com/samber/lo"
)

// HistoryInPrompt is how many recent chat messages are given to the model.
const HistoryInPrompt = 5

// TaskPrompt is the user message for a task run.
func TaskPrompt(tasks []model.StoredTask) string {
	var b strings.Builder
	b.WriteString("Schedule these tasks:\n\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s: %s (Priority: %s)\n", t.Title, t.Context.Prompt, t.Context.PriorityOrDefault())
	}
	b.WriteString("\nReview calendar, find optimal time slots, and create the events.")
	return b.String()
}

// ContextInjection renders the user context and the most recent chat
// messages. history is newest first, as returned by the store.
func ContextInjection(uc model.UserContext, history []model.ChatMessage) string {
	var b strings.Builder
	b.WriteString("\nUser Context:\n")
	fmt.Fprintf(&b, "- Preferences: [%s]\n", strings.Join(uc.Preferences, ", "))
	if len(uc.Context) > 0 {
		if raw, err := json.Marshal(uc.Context); err == nil {
			fmt.Fprintf(&b, "- Context: %s\n", raw)
		}
	}
	if uc.CalendarURL != "" {
		fmt.Fprintf(&b, "- Calendar: %s\n", uc.CalendarURL)
	}

	b.WriteString("\nRecent Chat History:\n")
	recent := lo.Subset(history, 0, HistoryInPrompt)
	for i := len(recent) - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "- %s\n", recent[i].Message)
	}
	return b.String()
}
