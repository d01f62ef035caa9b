package executor

import (
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// ErrUnknownAction is returned for action names or types the executor does
// not handle.
var ErrUnknownAction = errors.New("unknown action")

// Action is one step of an automation script. The set of actions is closed:
// only the types in this file implement it.
type Action interface {
	// Name is the script name of the action, e.g. "click".
	Name() string
	isAction()
}

// Click clicks the element matching Selector.
type Click struct {
	Selector string
}

// TypeText replaces the contents of an input with Text.
type TypeText struct {
	Selector string
	Text     string
}

// Hover moves the pointer over an element.
type Hover struct {
	Selector string
}

// CaptureArtifact screenshots an element (or the viewport when Selector is
// empty) into the artifact store. An empty Key generates one.
type CaptureArtifact struct {
	Selector string
	Key      string
}

// FillForm types each value into the input matching its selector key.
// Fields are filled in selector order.
type FillForm struct {
	Fields map[string]string
}

// Navigate loads URL in the current tab.
type Navigate struct {
	URL string
}

// RunScript evaluates a JavaScript function expression.
type RunScript struct {
	Script string
}

// WaitFor waits until Selector is visible. Without a selector it sleeps for
// Timeout.
type WaitFor struct {
	Selector string
	Timeout  time.Duration
}

// ReadText returns the visible text of an element.
type ReadText struct {
	Selector string
}

// ReadAttribute returns one attribute of an element.
type ReadAttribute struct {
	Selector  string
	Attribute string
}

func (Click) Name() string           { return "click" }
func (TypeText) Name() string        { return "type" }
func (Hover) Name() string           { return "hover" }
func (CaptureArtifact) Name() string { return "capture" }
func (FillForm) Name() string        { return "fill" }
func (Navigate) Name() string        { return "navigate" }
func (RunScript) Name() string       { return "script" }
func (WaitFor) Name() string         { return "wait" }
func (ReadText) Name() string        { return "read_text" }
func (ReadAttribute) Name() string   { return "read_attribute" }

func (Click) isAction()           {}
func (TypeText) isAction()        {}
func (Hover) isAction()           {}
func (CaptureArtifact) isAction() {}
func (FillForm) isAction()        {}
func (Navigate) isAction()        {}
func (RunScript) isAction()       {}
func (WaitFor) isAction()         {}
func (ReadText) isAction()        {}
func (ReadAttribute) isAction()   {}

// scriptAction is the JSON form of an action.
type scriptAction struct {
	Type      string            `json:"action"`             // click, type, hover, capture, fill, navigate, script, wait, read_text, read_attribute
	Selector  string            `json:"selector,omitempty"` // CSS selector for the target element
	Text      string            `json:"text,omitempty"`     // Text to type (for type action)
	URL       string            `json:"url,omitempty"`      // URL for navigate action
	Duration  int               `json:"wait,omitempty"`     // Wait duration in ms
	Fields    map[string]string `json:"fields,omitempty"`   // selector -> value for fill
	Attribute string            `json:"attribute,omitempty"`
	Script    string            `json:"script,omitempty"`
	Key       string            `json:"key,omitempty"` // Artifact key for capture
}

// ParseActions decodes a JSON array of actions.
func ParseActions(data []byte) ([]Action, error) {
	var raw []scriptAction
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse actions: %w", err)
	}

	actions := make([]Action, 0, len(raw))
	for i, r := range raw {
		a, err := r.toAction()
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

func (r scriptAction) toAction() (Action, error) {
	needSelector := func(a Action) (Action, error) {
		if r.Selector == "" {
			return nil, fmt.Errorf("%s requires a selector", r.Type)
		}
		return a, nil
	}

	switch r.Type {
	case "click":
		return needSelector(Click{Selector: r.Selector})
	case "type":
		return needSelector(TypeText{Selector: r.Selector, Text: r.Text})
	case "hover":
		return needSelector(Hover{Selector: r.Selector})
	case "capture":
		return CaptureArtifact{Selector: r.Selector, Key: r.Key}, nil
	case "fill":
		if len(r.Fields) == 0 {
			return nil, fmt.Errorf("fill requires fields")
		}
		return FillForm{Fields: r.Fields}, nil
	case "navigate":
		if r.URL == "" {
			return nil, fmt.Errorf("navigate requires a url")
		}
		return Navigate{URL: r.URL}, nil
	case "script":
		if r.Script == "" {
			return nil, fmt.Errorf("script requires a script")
		}
		return RunScript{Script: r.Script}, nil
	case "wait":
		return WaitFor{Selector: r.Selector, Timeout: time.Duration(r.Duration) * time.Millisecond}, nil
	case "read_text", "text":
		return needSelector(ReadText{Selector: r.Selector})
	case "read_attribute", "attribute":
		if r.Attribute == "" {
			return nil, fmt.Errorf("read_attribute requires an attribute")
		}
		return needSelector(ReadAttribute{Selector: r.Selector, Attribute: r.Attribute})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, r.Type)
	}
}
