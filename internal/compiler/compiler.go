// Package compiler turns one route definition into a CompiledRoute: the
// request predicate, the policy chain and the parsed target, published
// under the route identifier.
package compiler

import (
	"net/url"
	"strings"

	"github.com/vyrodovalexey/routegw/internal/policy"
	"github.com/vyrodovalexey/routegw/internal/predicate"
	"github.com/vyrodovalexey/routegw/internal/route"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// CompiledRoute is the immutable, executable form of a definition.
type CompiledRoute struct {
	ID           string
	DefinitionID string
	Predicate    *predicate.Predicate
	Chain        *policy.Chain
	TargetURI    *url.URL
	Order        int
}

// IsForward reports whether the target is served by a local handler.
func (r *CompiledRoute) IsForward() bool {
	return r.TargetURI.Scheme == util.ForwardScheme
}

// Compiler combines the predicate and policy compilers.
type Compiler struct {
	predicates *predicate.Compiler
	policies   *policy.Compiler
}

// New creates a Compiler.
func New(predicates *predicate.Compiler, policies *policy.Compiler) *Compiler {
	if predicates == nil {
		predicates = predicate.NewCompiler()
	}
	if policies == nil {
		policies = policy.NewCompiler(policy.DefaultSettings())
	}
	return &Compiler{predicates: predicates, policies: policies}
}

// Compile builds the CompiledRoute for def. It has no side effects, so the
// same definition always yields an equivalent route.
func (c *Compiler) Compile(def *route.Definition) (*CompiledRoute, error) {
	if def == nil {
		return nil, util.NewDefinitionError("", "definition", "", "definition is nil")
	}
	key := def.Key()
	if key == "" {
		return nil, util.NewDefinitionError("", "routeIdentifier", "", "route has neither identifier nor id")
	}
	if strings.TrimSpace(def.Path) == "" {
		return nil, util.NewDefinitionError(key, "path", def.Path, "path is required")
	}

	target, err := util.ValidateTargetURI(def.TargetURI)
	if err != nil {
		return nil, util.NewDefinitionErrorWithCause(key, "targetUri", def.TargetURI, "invalid target", err)
	}

	pred, err := c.predicates.Compile(def)
	if err != nil {
		return nil, err
	}

	chain, err := c.policies.Compile(def)
	if err != nil {
		return nil, err
	}

	return &CompiledRoute{
		ID:           key,
		DefinitionID: def.ID,
		Predicate:    pred,
		Chain:        chain,
		TargetURI:    target,
		Order:        def.Order,
	}, nil
}
