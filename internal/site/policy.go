package site

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/l0p7/hnedge/internal/config"
	"github.com/l0p7/hnedge/internal/expr"
	"github.com/l0p7/hnedge/internal/runtime"
)

type classPolicy struct {
	policy runtime.Policy
	bypass *expr.Program
}

// Policies is an immutable, compiled set of per-class freshness policies.
type Policies struct {
	classes map[string]classPolicy
}

// CompilePolicies validates and compiles the configured policy classes,
// including their bypass expressions.
func CompilePolicies(env *expr.Environment, cfg map[string]config.PolicyConfig) (*Policies, error) {
	set := &Policies{classes: make(map[string]classPolicy, len(cfg))}
	for name, pc := range cfg {
		class := classPolicy{policy: runtime.Policy{
			Namespace: name,
			TTL:       pc.TTL(),
			Stale:     pc.Stale(),
		}}
		if source := strings.TrimSpace(pc.Bypass); source != "" {
			if env == nil {
				return nil, fmt.Errorf("site: policy %s: bypass requires an expression environment", name)
			}
			program, err := env.Compile(source)
			if err != nil {
				return nil, fmt.Errorf("site: policy %s: %w", name, err)
			}
			class.bypass = &program
		}
		set.classes[name] = class
	}
	return set, nil
}

// Names lists the compiled classes in sorted order.
func (p *Policies) Names() []string {
	names := make([]string, 0, len(p.classes))
	for name := range p.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// For returns the policy of class for r. Bypass is set when the class's
// expression matches; an expression that fails to evaluate does not bypass.
func (p *Policies) For(class string, r *http.Request, logger *slog.Logger) runtime.Policy {
	cp, ok := p.classes[class]
	if !ok {
		// Unknown classes are served uncached rather than with a guessed window.
		return runtime.Policy{Namespace: class, Bypass: true}
	}
	policy := cp.policy
	if cp.bypass != nil {
		matched, err := cp.bypass.Match(r)
		if err != nil {
			logger.Warn("bypass expression failed",
				slog.String("policy", class),
				slog.String("expression", cp.bypass.Source()),
				slog.Any("error", err),
			)
		}
		policy.Bypass = matched
	}
	return policy
}
