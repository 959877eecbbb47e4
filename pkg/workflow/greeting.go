package workflow

import (
	"encoding/json"
	"fmt"

	"renderflow/pkg/activity"
	"renderflow/pkg/core"
)

// TypeGreeting names the minimal demonstration workflow: one activity,
// one signal, one query.
const TypeGreeting = "greeting"

// GreetingInput starts a greeting run.
type GreetingInput struct {
	Name string `json:"name"`
}

// GreetingResult is the terminal output of a greeting run.
type GreetingResult struct {
	Greeting string `json:"greeting"`
}

// Greeting greets a name via the say-hello activity. The set_suffix
// signal replaces the suffix appended to the greeting in query answers
// and in the final result; get_state returns the current greeting.
type Greeting struct {
	name     string
	suffix   string
	greeting string
}

// NewGreeting is the factory registered under TypeGreeting.
func NewGreeting() Logic {
	return &Greeting{suffix: "!"}
}

func (g *Greeting) Run(wctx *Context, input []byte) ([]byte, error) {
	var in GreetingInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, core.Validation("input", err.Error())
	}
	if in.Name == "" {
		return nil, core.Validation("name", "must not be empty")
	}
	wctx.Update(func() { g.name = in.Name })

	raw, err := wctx.Execute(activity.GreetName, activity.GreetInput{Name: in.Name})
	if err != nil {
		return nil, err
	}
	var out activity.GreetOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	wctx.Update(func() { g.greeting = out.Greeting })

	var result GreetingResult
	wctx.Update(func() { result.Greeting = g.greeting + g.suffix })
	return json.Marshal(result)
}

func (g *Greeting) HandleSignal(name string, payload []byte) error {
	switch name {
	case "set_suffix":
		var suffix string
		if err := json.Unmarshal(payload, &suffix); err != nil {
			return core.Validation("payload", err.Error())
		}
		g.suffix = suffix
		return nil
	default:
		return fmt.Errorf("%w: %s", core.ErrUnknownSignal, name)
	}
}

func (g *Greeting) HandleQuery(name string) (any, error) {
	switch name {
	case "get_state":
		if g.greeting == "" {
			return fmt.Sprintf("waiting to greet %s", g.name), nil
		}
		return g.greeting + g.suffix, nil
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnknownQuery, name)
	}
}
