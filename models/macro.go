package models

// SchemaVersion is the only macro document schema this build understands.
const SchemaVersion = 1

// Hotkeys are the key combos the UI binds for run control. They travel with
// the document so a macro keeps its bindings across machines.
type Hotkeys struct {
	StartStop string `json:"start_stop"`
	Stop      string `json:"stop"`
}

// MacroSettings control the repeat policy and the safety cap.
// Repeat 0 means repeat until externally stopped. MaxSteps is a hard ceiling
// on total actions executed across all repeats and must be at least 1.
type MacroSettings struct {
	Repeat   int `json:"repeat"`
	MaxSteps int `json:"max_steps"`
}

// MacroDefinition is a validated macro document. Once handed to the engine
// for a run it is never mutated.
type MacroDefinition struct {
	SchemaVersion int           `json:"schema_version"`
	Name          string        `json:"name"`
	Hotkeys       Hotkeys       `json:"hotkeys"`
	Settings      MacroSettings `json:"settings"`
	Actions       []Action      `json:"actions"`
}

// Macro is a stored library entry: a validated document plus catalog fields.
type Macro struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Definition  *MacroDefinition `json:"definition"`
	CreatedAt   int64            `json:"created_at"`
	UpdatedAt   int64            `json:"updated_at"`
}
