package macro

import (
	"encoding/json"
	"fmt"

	"macrostudio/models"
)

// ErrorKind classifies why a document was rejected.
type ErrorKind string

const (
	UnsupportedSchema ErrorKind = "unsupported_schema"
	UnknownActionType ErrorKind = "unknown_action_type"
	MissingField      ErrorKind = "missing_field"
	OutOfRange        ErrorKind = "out_of_range"
)

// ValidationError reports a single rejection. Validation stops at the first
// problem; a malformed post_action or branch fails the whole document.
type ValidationError struct {
	Kind   ErrorKind
	Path   string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Path, e.Detail)
}

func errMissing(path, detail string) error {
	return &ValidationError{Kind: MissingField, Path: path, Detail: detail}
}

func errRange(path, detail string) error {
	return &ValidationError{Kind: OutOfRange, Path: path, Detail: detail}
}

// Parse decodes and validates a raw macro document.
func Parse(raw []byte) (*models.MacroDefinition, error) {
	var def models.MacroDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("macro document is not valid JSON: %w", err)
	}
	if err := Validate(&def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks a decoded document against the schema. It has no side
// effects; a definition that passes is safe to hand to the engine as-is.
func Validate(def *models.MacroDefinition) error {
	if def.SchemaVersion != models.SchemaVersion {
		return &ValidationError{
			Kind:   UnsupportedSchema,
			Path:   "schema_version",
			Detail: fmt.Sprintf("got %d, want %d", def.SchemaVersion, models.SchemaVersion),
		}
	}

	if def.Name == "" {
		return errMissing("name", "macro name is required")
	}

	if def.Hotkeys.StartStop != "" {
		if _, err := ParseCombo(def.Hotkeys.StartStop); err != nil {
			return errRange("hotkeys.start_stop", "not a valid key combo")
		}
	}
	if def.Hotkeys.Stop != "" {
		if _, err := ParseCombo(def.Hotkeys.Stop); err != nil {
			return errRange("hotkeys.stop", "not a valid key combo")
		}
	}

	if def.Settings.Repeat < 0 {
		return errRange("settings.repeat", "must be >= 0")
	}
	if def.Settings.MaxSteps < 1 {
		return errRange("settings.max_steps", "must be >= 1")
	}

	if def.Actions == nil {
		return errMissing("actions", "action list is required")
	}

	return validateActions(def.Actions, "actions")
}

func validateActions(actions []models.Action, path string) error {
	for i := range actions {
		if err := validateAction(&actions[i], fmt.Sprintf("%s[%d]", path, i)); err != nil {
			return err
		}
	}
	return nil
}

func validateAction(a *models.Action, path string) error {
	if a.Type == "" {
		return errMissing(path+".type", "action type is required")
	}

	if err := validateVariant(a, path); err != nil {
		return err
	}

	if a.PostAction != nil {
		return validateAction(a.PostAction, path+".post_action")
	}
	return nil
}

func validateVariant(a *models.Action, path string) error {
	switch a.Type {
	case models.ActionClick:
		return nil

	case models.ActionClickAt:
		return requirePoint(a, path)

	case models.ActionKeyPress, models.ActionKeyDown, models.ActionKeyUp:
		if a.Key == "" {
			return errMissing(path+".key", "key is required")
		}
		return nil

	case models.ActionTypeText:
		if a.Text == nil {
			return errMissing(path+".text", "text is required")
		}
		return nonNegative(a.IntervalMS, path+".interval_ms")

	case models.ActionHotkey:
		if len(a.Keys) == 0 {
			return errMissing(path+".keys", "at least one key is required")
		}
		if _, err := NormalizeCombo(a.Keys); err != nil {
			return errRange(path+".keys", "not a valid key combo")
		}
		return nil

	case models.ActionWait:
		if a.DurationMS == nil {
			return errMissing(path+".duration_ms", "duration_ms is required")
		}
		return nonNegative(a.DurationMS, path+".duration_ms")

	case models.ActionWaitRandom:
		if a.MinMS == nil {
			return errMissing(path+".min_ms", "min_ms is required")
		}
		if a.MaxMS == nil {
			return errMissing(path+".max_ms", "max_ms is required")
		}
		if err := nonNegative(a.MinMS, path+".min_ms"); err != nil {
			return err
		}
		return nonNegative(a.MaxMS, path+".max_ms")

	case models.ActionMouseDown, models.ActionMouseUp:
		if (a.X == nil) != (a.Y == nil) {
			return errMissing(path, "x and y must be provided together")
		}
		return nil

	case models.ActionMoveMouse:
		if err := requirePoint(a, path); err != nil {
			return err
		}
		return nonNegative(a.DurationMS, path+".duration_ms")

	case models.ActionMoveMouseRel:
		if a.DX == nil {
			return errMissing(path+".dx", "dx is required")
		}
		if a.DY == nil {
			return errMissing(path+".dy", "dy is required")
		}
		return nonNegative(a.DurationMS, path+".duration_ms")

	case models.ActionDragTo:
		if err := requirePoint(a, path); err != nil {
			return err
		}
		return nonNegative(a.DurationMS, path+".duration_ms")

	case models.ActionScroll:
		if a.Amount == nil {
			return errMissing(path+".amount", "amount is required")
		}
		return nil

	case models.ActionWaitForImage, models.ActionClickImage:
		return validateImageCheck(a, path)

	case models.ActionIf:
		if a.Check == "" {
			return errMissing(path+".check", "check is required")
		}
		if a.Check != "image" {
			return errRange(path+".check", fmt.Sprintf("unsupported check %q", a.Check))
		}
		if err := validateImageCheck(a, path); err != nil {
			return err
		}
		if err := validateActions(a.OnTrue, path+".on_true"); err != nil {
			return err
		}
		return validateActions(a.OnFalse, path+".on_false")

	default:
		return &ValidationError{
			Kind:   UnknownActionType,
			Path:   path + ".type",
			Detail: fmt.Sprintf("unknown action type %q", a.Type),
		}
	}
}

func validateImageCheck(a *models.Action, path string) error {
	if a.Value == "" {
		return errMissing(path+".value", "image reference is required")
	}
	if a.Confidence != nil && (*a.Confidence < 0 || *a.Confidence > 1) {
		return errRange(path+".confidence", "must be between 0 and 1")
	}
	if a.Region != nil {
		if len(a.Region) != 4 {
			return errRange(path+".region", "must be [x, y, w, h]")
		}
		if a.Region[2] < 0 || a.Region[3] < 0 {
			return errRange(path+".region", "width and height must be >= 0")
		}
	}
	if err := nonNegative(a.TimeoutMS, path+".timeout_ms"); err != nil {
		return err
	}
	return nonNegative(a.IntervalMS, path+".interval_ms")
}

func requirePoint(a *models.Action, path string) error {
	if a.X == nil {
		return errMissing(path+".x", "x is required")
	}
	if a.Y == nil {
		return errMissing(path+".y", "y is required")
	}
	return nil
}

// nonNegative rejects a present-but-negative timing field.
func nonNegative(v *int, path string) error {
	if v != nil && *v < 0 {
		return errRange(path, "must be >= 0")
	}
	return nil
}
