package processor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"oakci/internal/store"
)

// taskPayload is the subset of TaskCreate/TaskUpdate tool input the plan
// synthesizer reads. Blocks and BlockedBy replace the dependency lists;
// AddBlocks and AddBlockedBy extend them.
type taskPayload struct {
	ID           string   `json:"id"`
	TaskID       string   `json:"taskId"`
	Subject      string   `json:"subject"`
	Content      string   `json:"content"`
	Description  string   `json:"description"`
	Status       string   `json:"status"`
	Blocks       []string `json:"blocks"`
	BlockedBy    []string `json:"blockedBy"`
	AddBlocks    []string `json:"addBlocks"`
	AddBlockedBy []string `json:"addBlockedBy"`
}

// synthesizePlan derives a plan document from task-tracking tool calls in a
// batch. Returns "" when the batch carries no task activity, or when no
// TaskCreate named a task, since updates alone cannot reconstruct a plan
// worth keeping.
func synthesizePlan(activities []store.Activity) string {
	type task struct {
		id, subject, status string
		blocks, blockedBy   []string
	}
	byID := make(map[string]*task)
	var order []string
	named := false

	for _, a := range activities {
		if a.ToolName != "TaskCreate" && a.ToolName != "TaskUpdate" {
			continue
		}
		var payload taskPayload
		if err := json.Unmarshal([]byte(a.ToolInput), &payload); err != nil {
			continue
		}
		id := payload.ID
		if id == "" {
			id = payload.TaskID
		}
		if id == "" {
			id = strconv.Itoa(len(order) + 1)
		}
		t, exists := byID[id]
		if !exists {
			t = &task{id: id, status: "pending"}
			byID[id] = t
			order = append(order, id)
		}
		subject := payload.Subject
		if subject == "" {
			subject = payload.Content
		}
		if subject == "" {
			subject = payload.Description
		}
		if subject != "" {
			t.subject = firstLine(subject)
			if a.ToolName == "TaskCreate" && strings.TrimSpace(subject) != "" {
				named = true
			}
		}
		if payload.Status != "" {
			t.status = payload.Status
		}
		if len(payload.Blocks) > 0 {
			t.blocks = payload.Blocks
		}
		if len(payload.BlockedBy) > 0 {
			t.blockedBy = payload.BlockedBy
		}
		t.blocks = appendMissing(t.blocks, payload.AddBlocks)
		t.blockedBy = appendMissing(t.blockedBy, payload.AddBlockedBy)
	}
	if len(order) == 0 || !named {
		return ""
	}

	// Task references come as ids or 1-based ordinals; render both as the
	// target's ordinal so one task list reads consistently.
	ordinal := make(map[string]int, len(order))
	for i, id := range order {
		ordinal[id] = i + 1
	}
	render := func(ref string) string {
		if n, ok := ordinal[ref]; ok {
			return strconv.Itoa(n)
		}
		if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(order) {
			return strconv.Itoa(n)
		}
		return ref
	}

	// A task's blocked set is its own blocks list plus the inverse of every
	// other task that declares it as a blocker.
	blocked := make(map[int][]string, len(order))
	for _, id := range order {
		t := byID[id]
		n := ordinal[id]
		for _, ref := range t.blocks {
			blocked[n] = appendMissing(blocked[n], []string{render(ref)})
		}
		for _, ref := range t.blockedBy {
			if m, ok := ordinal[ref]; ok {
				blocked[m] = appendMissing(blocked[m], []string{strconv.Itoa(n)})
			} else if m, err := strconv.Atoi(ref); err == nil && m >= 1 && m <= len(order) {
				blocked[m] = appendMissing(blocked[m], []string{strconv.Itoa(n)})
			}
		}
	}

	var b strings.Builder
	b.WriteString("# Task Plan\n\n")
	for i, id := range order {
		t := byID[id]
		subject := t.subject
		if subject == "" {
			subject = "(untitled task)"
		}
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, t.status, subject)
		var deps []string
		if refs := blocked[i+1]; len(refs) > 0 {
			deps = append(deps, fmt.Sprintf("#%d blocks: %s", i+1, strings.Join(refs, ", ")))
		}
		if len(t.blockedBy) > 0 {
			rendered := make([]string, len(t.blockedBy))
			for j, ref := range t.blockedBy {
				rendered[j] = render(ref)
			}
			deps = append(deps, "blocked by: "+strings.Join(rendered, ", "))
		}
		if len(deps) > 0 {
			b.WriteString(" (" + strings.Join(deps, "; ") + ")")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// appendMissing appends the refs not already present, preserving order.
func appendMissing(dst []string, refs []string) []string {
	for _, ref := range refs {
		present := false
		for _, have := range dst {
			if have == ref {
				present = true
				break
			}
		}
		if !present {
			dst = append(dst, ref)
		}
	}
	return dst
}
