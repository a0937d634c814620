// ABOUTME: Tests for inbound classification, command parsing and token helpers
// ABOUTME: Table-driven checks of the small parsers the engine relies on

package bot

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/2389/taskbot/internal/store"
)

func strPtr(s string) *string { return &s }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   Inbound
		want Event
		ok   bool
	}{
		{
			name: "text",
			in:   Inbound{ConversationID: "telegram:1", Text: strPtr("hi")},
			want: TextEvent{Conversation: "telegram:1", Text: "hi"},
			ok:   true,
		},
		{
			name: "callback wins over text",
			in:   Inbound{ConversationID: "telegram:1", Text: strPtr("hi"), CallbackToken: strPtr("task_1")},
			want: CallbackEvent{Conversation: "telegram:1", Token: "task_1"},
			ok:   true,
		},
		{
			name: "empty callback token is still a callback",
			in:   Inbound{ConversationID: "telegram:1", CallbackToken: strPtr("")},
			want: CallbackEvent{Conversation: "telegram:1", Token: ""},
			ok:   true,
		},
		{name: "blank text", in: Inbound{ConversationID: "telegram:1", Text: strPtr("  \n")}},
		{name: "no payload", in: Inbound{ConversationID: "telegram:1"}},
		{name: "no conversation", in: Inbound{Text: strPtr("hi")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"/login", "/login", true},
		{"  /LOGIN  ", "/login", true},
		{"/tasks@taskbot", "/tasks", true},
		{"/start deep-link-payload", "/start", true},
		{"login", "", false},
		{"/", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := parseCommand(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestParseHours(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"4", 4, true},
		{" 4.5 ", 4.5, true},
		{"2,25", 2.25, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"NaN", 0, false},
		{"Inf", 0, false},
		{"four", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		got, ok := parseHours(tt.text)
		assert.Equal(t, tt.ok, ok, tt.text)
		assert.Equal(t, tt.want, got, tt.text)
	}
}

func TestParseID(t *testing.T) {
	id, ok := parseID("task_42", TokenTaskPrefix)
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"task_", "task_abc", "task_0", "task_-3", "task_1.5"} {
		_, ok := parseID(bad, TokenTaskPrefix)
		assert.False(t, ok, bad)
	}
}

func TestTokensFitTransportLimit(t *testing.T) {
	var buttons []Button
	buttons = append(buttons, statusButtons()...)
	buttons = append(buttons, tagButtons()...)
	buttons = append(buttons, taskDetailButtons()...)
	buttons = append(buttons, addTaskButton())
	buttons = append(buttons, taskButton(&store.Task{ID: 9223372036854775807, Title: "max"}))

	for _, b := range buttons {
		assert.LessOrEqual(t, len(b.Token), MaxTokenBytes, b.Token)
	}
}

func TestRenderTask(t *testing.T) {
	end := "2026-03-04"
	est := 3.5
	task := &store.Task{
		ID:             5,
		Title:          "Ship it",
		Tag:            store.TagIssue,
		Status:         store.StatusCompleted,
		StartDate:      "2026-03-01",
		EndDate:        &end,
		EstimatedHours: &est,
	}

	want := "Task #5: Ship it\n" +
		"Description: -\n" +
		"Tag: Issue\n" +
		"Sprint: Sprint 2 not found\n" +
		"Status: Completed\n" +
		"Start date: 2026-03-01\n" +
		"End date: 2026-03-04\n" +
		"Estimated hours: 3.5\n" +
		"Actual hours: -"
	assert.Equal(t, want, renderTask(task, "Sprint 2 not found"))
}

func TestRenderComments_UnknownAuthor(t *testing.T) {
	task := &store.Task{Title: "Ship it"}
	got := renderComments(task, []*store.Comment{{Content: "orphan"}})
	assert.Equal(t, "Comments on \"Ship it\":\n[Unknown]: orphan", got)
}
