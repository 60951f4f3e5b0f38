package slackconn

import (
	"sort"
	"time"

	"github.com/slack-go/slack"
)

// Block and action IDs of the intake modal. The field mapping configuration
// references these through flattened view-state paths, so they are part of
// the external contract and must stay stable.
const (
	blockTitle   = "input_one"
	blockType    = "input_two"
	blockLinks   = "input_three"
	blockDetails = "input_four"
	blockDueDate = "input_five"

	actionTitle   = "title"
	actionType    = "request_type"
	actionLinks   = "important_links"
	actionDetails = "request_details"
	actionDueDate = "duedate"
)

// BuildIntakeView assembles the request modal from form options. The due
// date picker is pre-filled MinDaysUntilDue days out from now.
func BuildIntakeView(form FormOptions, now time.Time) slack.ModalViewRequest {
	title := form.Title
	if title == "" {
		title = "New Request"
	}

	var blocks []slack.Block
	if form.Greeting != "" {
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject(slack.MarkdownType, form.Greeting, false, false),
			nil, nil,
		))
	}

	titleInput := slack.NewPlainTextInputBlockElement(nil, actionTitle)
	blocks = append(blocks, slack.NewInputBlock(
		blockTitle,
		slack.NewTextBlockObject(slack.PlainTextType, prompt(form.TitlePrompt, "Request title"), false, false),
		nil,
		titleInput,
	))

	typeSelect := slack.NewOptionsMultiSelectBlockElement(
		slack.MultiOptTypeStatic,
		slack.NewTextBlockObject(slack.PlainTextType, "Select all that apply", false, false),
		actionType,
		categoryOptions(form.Categories)...,
	)
	blocks = append(blocks, slack.NewInputBlock(
		blockType,
		slack.NewTextBlockObject(slack.PlainTextType, "Request type", false, false),
		nil,
		typeSelect,
	))

	linksInput := slack.NewURLTextInputBlockElement(nil, actionLinks)
	linksBlock := slack.NewInputBlock(
		blockLinks,
		slack.NewTextBlockObject(slack.PlainTextType, prompt(form.LinkPrompt, "Relevant links"), false, false),
		nil,
		linksInput,
	)
	linksBlock.Optional = true
	blocks = append(blocks, linksBlock)

	detailsInput := slack.NewPlainTextInputBlockElement(nil, actionDetails)
	detailsInput.Multiline = true
	detailsInput.MinLength = 10
	blocks = append(blocks, slack.NewInputBlock(
		blockDetails,
		slack.NewTextBlockObject(slack.PlainTextType, prompt(form.DetailsPrompt, "What do you need?"), false, false),
		nil,
		detailsInput,
	))

	datePicker := slack.NewDatePickerBlockElement(actionDueDate)
	datePicker.InitialDate = now.AddDate(0, 0, form.MinDaysUntilDue).Format("2006-01-02")
	blocks = append(blocks, slack.NewInputBlock(
		blockDueDate,
		slack.NewTextBlockObject(slack.PlainTextType, prompt(form.DueDatePrompt, "When do you need it by?"), false, false),
		nil,
		datePicker,
	))

	return slack.ModalViewRequest{
		Type:       slack.VTModal,
		CallbackID: intakeCallbackID,
		Title:      slack.NewTextBlockObject(slack.PlainTextType, title, false, false),
		Submit:     slack.NewTextBlockObject(slack.PlainTextType, "Submit", false, false),
		Close:      slack.NewTextBlockObject(slack.PlainTextType, "Cancel", false, false),
		Blocks:     slack.Blocks{BlockSet: blocks},
	}
}

// categoryOptions renders the configured category map as select options in
// stable value order.
func categoryOptions(categories map[string]string) []*slack.OptionBlockObject {
	values := make([]string, 0, len(categories))
	for v := range categories {
		values = append(values, v)
	}
	sort.Strings(values)

	opts := make([]*slack.OptionBlockObject, 0, len(values))
	for _, v := range values {
		display := categories[v]
		if display == "" {
			display = v
		}
		opts = append(opts, slack.NewOptionBlockObject(
			v,
			slack.NewTextBlockObject(slack.PlainTextType, display, false, false),
			nil,
		))
	}
	return opts
}

func prompt(configured, fallback string) string {
	if configured != "" {
		return configured
	}
	return fallback
}
