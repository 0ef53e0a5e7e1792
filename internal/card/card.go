// Package card holds the interactive ask-me-anything card template and
// the field names it submits. The action IDs below are an exact-format
// contract between the template and the command router; changing one
// without the other silently breaks card routing.
package card

import (
	_ "embed"
	"encoding/json"
)

// Field names as they arrive in a card submission's field map.
const (
	FieldName        = "card_custom_name_field"
	FieldChoice      = "card_custom_choice_selected"
	FieldDescription = "card_custom_description_field"
)

// ChoiceAskAI is the sentinel choice value that routes the description
// text to the inference backend.
const ChoiceAskAI = "#aimsg"

// SubmitActionID identifies the card's submit button.
const SubmitActionID = "card_submit_pressed"

//go:embed template.json
var templateJSON []byte

type template struct {
	Blocks json.RawMessage `json:"blocks"`
}

// Blocks returns the card body as raw Block Kit blocks, ready to attach
// to an outbound message.
func Blocks() json.RawMessage {
	var t template
	if err := json.Unmarshal(templateJSON, &t); err != nil {
		// The template is compiled in; a parse failure is a build defect.
		panic("card: invalid embedded template: " + err.Error())
	}
	return t.Blocks
}
