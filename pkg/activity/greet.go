package activity

import (
	"encoding/json"
	"fmt"
	"time"
)

// GreetName is the registry name of the greeting activity.
const GreetName = "say-hello"

// GreetInput is the input of the greeting activity.
type GreetInput struct {
	Name string `json:"name"`
}

// GreetOutput is the result of the greeting activity.
type GreetOutput struct {
	Greeting string `json:"greeting"`
}

// Greet simulates a short unit of work that reports progress via
// heartbeat before producing the greeting.
func Greet(actx *Context, input []byte) ([]byte, error) {
	var in GreetInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("greet: decode input: %w", err)
	}

	const steps = 3
	for i := 1; i <= steps; i++ {
		actx.Heartbeat(fmt.Sprintf("processing step %d/%d", i, steps))
		select {
		case <-actx.Context().Done():
			return nil, actx.Context().Err()
		case <-time.After(10 * time.Millisecond):
		}
	}

	// The caller workflow appends its own suffix.
	return json.Marshal(GreetOutput{Greeting: fmt.Sprintf("Hello, %s", in.Name)})
}
