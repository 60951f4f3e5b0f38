package slackconn

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/slack-go/slack"
)

func testForm() FormOptions {
	return FormOptions{
		Title:           "Data Request",
		Greeting:        "Tell us what you need.",
		MinDaysUntilDue: 3,
		Categories: map[string]string{
			"etl":       "ETL Pipeline",
			"analytics": "Analytics",
			"dashboard": "Dashboard",
		},
	}
}

func inputBlock(t *testing.T, view slack.ModalViewRequest, blockID string) *slack.InputBlock {
	t.Helper()
	for _, b := range view.Blocks.BlockSet {
		if in, ok := b.(*slack.InputBlock); ok && in.BlockID == blockID {
			return in
		}
	}
	t.Fatalf("block %s not found", blockID)
	return nil
}

func TestBuildIntakeViewLayout(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	view := BuildIntakeView(testForm(), now)

	if view.CallbackID != intakeCallbackID {
		t.Errorf("unexpected callback id %q", view.CallbackID)
	}
	if view.Title.Text != "Data Request" {
		t.Errorf("unexpected title %q", view.Title.Text)
	}

	// Greeting section plus five inputs.
	if got := len(view.Blocks.BlockSet); got != 6 {
		t.Fatalf("expected 6 blocks, got %d", got)
	}

	title := inputBlock(t, view, blockTitle)
	if el, ok := title.Element.(*slack.PlainTextInputBlockElement); !ok || el.ActionID != actionTitle {
		t.Errorf("title block should carry a plain text input with action %q", actionTitle)
	}
	if title.Optional {
		t.Error("title must be required")
	}

	links := inputBlock(t, view, blockLinks)
	if !links.Optional {
		t.Error("links must be optional")
	}

	details := inputBlock(t, view, blockDetails)
	el, ok := details.Element.(*slack.PlainTextInputBlockElement)
	if !ok {
		t.Fatalf("details element is %T", details.Element)
	}
	if !el.Multiline || el.MinLength != 10 {
		t.Errorf("details should be multiline with min length 10, got multiline=%v min=%d", el.Multiline, el.MinLength)
	}
}

func TestBuildIntakeViewDueDate(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	view := BuildIntakeView(testForm(), now)

	due := inputBlock(t, view, blockDueDate)
	picker, ok := due.Element.(*slack.DatePickerBlockElement)
	if !ok {
		t.Fatalf("due date element is %T", due.Element)
	}
	if picker.ActionID != actionDueDate {
		t.Errorf("unexpected action id %q", picker.ActionID)
	}
	if picker.InitialDate != "2024-03-04" {
		t.Errorf("expected initial date 3 days out, got %q", picker.InitialDate)
	}
}

func TestCategoryOptionsSorted(t *testing.T) {
	opts := categoryOptions(testForm().Categories)
	if len(opts) != 3 {
		t.Fatalf("expected 3 options, got %d", len(opts))
	}
	wantValues := []string{"analytics", "dashboard", "etl"}
	for i, want := range wantValues {
		if opts[i].Value != want {
			t.Errorf("option %d: expected value %q, got %q", i, want, opts[i].Value)
		}
	}
	if opts[2].Text.Text != "ETL Pipeline" {
		t.Errorf("expected display text, got %q", opts[2].Text.Text)
	}
}

func TestSubmissionPayload(t *testing.T) {
	raw := json.RawMessage(`{
		"type": "view_submission",
		"user": {"id": "U42"},
		"view": {"state": {"values": {"input_one": {"title": {"value": "Fix dashboard"}}}}}
	}`)

	payload, err := submissionPayload(raw)
	if err != nil {
		t.Fatalf("submission payload: %v", err)
	}
	user, ok := payload["user"].(map[string]any)
	if !ok || user["id"] != "U42" {
		t.Errorf("expected raw user map, got %v", payload["user"])
	}

	if _, err := submissionPayload(nil); err == nil {
		t.Error("expected error for empty payload")
	}
	if _, err := submissionPayload(json.RawMessage("not json")); err == nil {
		t.Error("expected error for malformed payload")
	}
}
