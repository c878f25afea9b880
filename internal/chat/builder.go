// Package chat builds the message sequence sent upstream for one turn by
// splicing staged insertions into a snapshot of the conversation history.
package chat

import (
	"sort"

	"github.com/fluxaster/FluxChat/internal/models"
)

// Merge splices the staged insertions into a copy of history and returns the
// result. The input history is never mutated.
//
// An insertion with depth d over a history of length N lands at index N-d,
// clamped to [0, N]; every position is computed against the original history
// indices so overlapping insertions cannot shift each other. Insertions that
// target the same position keep their staging order and end up consecutive,
// immediately before the message that occupied that index.
func Merge(history []models.Message, insertions []models.Insertion) []models.Message {
	n := len(history)
	if len(insertions) == 0 {
		out := make([]models.Message, n)
		copy(out, history)
		return out
	}

	type slot struct {
		pos int
		msg models.Message
	}
	slots := make([]slot, 0, len(insertions))
	for _, ins := range insertions {
		pos := n - ins.Depth
		if pos < 0 {
			pos = 0
		}
		if pos > n {
			pos = n
		}
		slots = append(slots, slot{pos: pos, msg: ins.Message()})
	}
	// Stable keeps staging order for insertions sharing a position.
	sort.SliceStable(slots, func(i, j int) bool { return slots[i].pos < slots[j].pos })

	out := make([]models.Message, 0, n+len(slots))
	next := 0
	for pos := 0; pos <= n; pos++ {
		for next < len(slots) && slots[next].pos == pos {
			out = append(out, slots[next].msg)
			next++
		}
		if pos < n {
			out = append(out, history[pos])
		}
	}
	return out
}

// BuildMessages constructs the full message array for an upstream call:
// optional system prompt, merged history and insertions, then the new user
// message. The system prompt is skipped when the history already opens with
// an identical system message.
func BuildMessages(system string, history []models.Message, insertions []models.Insertion, userInput string) []models.Message {
	messages := make([]models.Message, 0, len(history)+len(insertions)+2)
	if needSystem(system, history) {
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: system})
	}
	messages = append(messages, Merge(history, insertions)...)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: userInput})
	return messages
}

func needSystem(system string, history []models.Message) bool {
	if system == "" {
		return false
	}
	if len(history) > 0 && history[0].Role == models.RoleSystem && history[0].Content == system {
		return false
	}
	return true
}
