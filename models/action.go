package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action type discriminators.
const (
	ActionClick        = "click"
	ActionClickAt      = "click_at"
	ActionKeyPress     = "key_press"
	ActionKeyDown      = "key_down"
	ActionKeyUp        = "key_up"
	ActionTypeText     = "type_text"
	ActionHotkey       = "hotkey"
	ActionWait         = "wait"
	ActionWaitRandom   = "wait_random"
	ActionMouseDown    = "mouse_down"
	ActionMouseUp      = "mouse_up"
	ActionMoveMouse    = "move_mouse"
	ActionMoveMouseRel = "move_mouse_rel"
	ActionDragTo       = "drag_to"
	ActionScroll       = "scroll"
	ActionWaitForImage = "wait_for_image"
	ActionClickImage   = "click_image"
	ActionIf           = "if"
)

// Mouse buttons accepted by mouse actions. Empty defaults to left.
const (
	ButtonLeft   = "left"
	ButtonMiddle = "middle"
	ButtonRight  = "right"
)

// Action is one executable step. Type selects the variant; only the fields
// that variant declares are meaningful. Optional numeric fields are pointers
// so the validator can tell absent from zero.
type Action struct {
	Type string `json:"type"`

	// Mouse fields
	X      *int   `json:"x,omitempty"`
	Y      *int   `json:"y,omitempty"`
	DX     *int   `json:"dx,omitempty"`
	DY     *int   `json:"dy,omitempty"`
	Button string `json:"button,omitempty"`
	Amount *int   `json:"amount,omitempty"`

	// Keyboard fields
	Key  string  `json:"key,omitempty"`
	Text *string `json:"text,omitempty"`
	Keys KeyList `json:"keys,omitempty"`

	// Timing fields (milliseconds)
	DurationMS *int `json:"duration_ms,omitempty"`
	IntervalMS *int `json:"interval_ms,omitempty"`
	TimeoutMS  *int `json:"timeout_ms,omitempty"`
	MinMS      *int `json:"min_ms,omitempty"`
	MaxMS      *int `json:"max_ms,omitempty"`

	// Image check fields (wait_for_image, click_image, if check=image)
	Value      string   `json:"value,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Region     []int    `json:"region,omitempty"`

	// Conditional fields (if)
	Check   string   `json:"check,omitempty"`
	OnTrue  []Action `json:"on_true,omitempty"`
	OnFalse []Action `json:"on_false,omitempty"`

	// PostAction runs immediately after the main effect and is counted as
	// its own step. It may itself carry a post_action.
	PostAction *Action `json:"post_action,omitempty"`
}

// ButtonOrDefault returns the action's button, defaulting to left.
func (a *Action) ButtonOrDefault() string {
	if a.Button == "" {
		return ButtonLeft
	}
	return a.Button
}

// KeyList is a hotkey combo. Macro documents may spell it either as a list
// ("keys": ["ctrl", "c"]) or as a combo string ("keys": "ctrl+c"); both
// decode to the list form and re-encode as a list.
type KeyList []string

func (k *KeyList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*k = list
		return nil
	}

	var combo string
	if err := json.Unmarshal(data, &combo); err != nil {
		return fmt.Errorf("keys must be a string or a list of strings")
	}

	var keys []string
	for _, part := range strings.Split(strings.ReplaceAll(combo, ",", "+"), "+") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	*k = keys
	return nil
}
