package activity

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"renderflow/pkg/core"
)

// ProbeName is the registry name of the health-probe activity.
const ProbeName = "health-probe"

// ProbeInput names the resource to probe. Targets that look like URLs
// are probed over HTTP; anything else is resolved by the prober.
type ProbeInput struct {
	Target string `json:"target"`
}

// ProbeOutput reports the observed status of one target.
type ProbeOutput struct {
	Target string `json:"target"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Prober answers whether a named resource is healthy.
type Prober interface {
	Probe(actx *Context, target string) error
}

// HTTPProber probes URL targets with a GET and treats any 2xx as
// healthy. Network failures are transient and retried per policy.
type HTTPProber struct {
	Client *http.Client
}

// NewHTTPProber creates a prober with a bounded request timeout.
func NewHTTPProber(timeout time.Duration) *HTTPProber {
	return &HTTPProber{Client: &http.Client{Timeout: timeout}}
}

func (p *HTTPProber) Probe(actx *Context, target string) error {
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		return core.Validation("target", fmt.Sprintf("%q is not a probeable URL", target))
	}

	req, err := http.NewRequestWithContext(actx.Context(), http.MethodGet, target, nil)
	if err != nil {
		return core.Validation("target", err.Error())
	}

	resp, err := p.Client.Do(req)
	if err != nil {
		return core.Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return core.Transient(fmt.Errorf("unhealthy status %d", resp.StatusCode))
	}
	return nil
}

// ProbeFunc adapts a plain function to the Prober interface.
type ProbeFunc func(actx *Context, target string) error

func (f ProbeFunc) Probe(actx *Context, target string) error {
	return f(actx, target)
}

// NewProbe builds the health-probe activity around a prober.
func NewProbe(prober Prober) Func {
	return func(actx *Context, input []byte) ([]byte, error) {
		var in ProbeInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("probe: decode input: %w", err)
		}

		if err := prober.Probe(actx, in.Target); err != nil {
			return nil, err
		}
		return json.Marshal(ProbeOutput{Target: in.Target, Status: "ok"})
	}
}
