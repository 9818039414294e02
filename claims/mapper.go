// Package claims maps validated identity claims onto customer roles.
package claims

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/iiif-auth-server/internal/utils"
)

// Behaviour decides what happens to a claim value missing from the mapping.
type Behaviour string

const (
	// BehaviourUnknown is the zero value and grants nothing.
	BehaviourUnknown Behaviour = ""
	// BehaviourUseClaim grants the claim value itself as a role.
	BehaviourUseClaim Behaviour = "UseClaim"
	// BehaviourFallback grants the policy's fallback mapping.
	BehaviourFallback Behaviour = "Fallback"
	// BehaviourThrow treats an unmapped value as a failure.
	BehaviourThrow Behaviour = "Throw"
)

// Policy describes how one claim type translates into roles.
type Policy struct {
	ClaimType             string
	Mapping               map[string][]string
	UnknownValueBehaviour Behaviour
	FallbackMapping       []string
}

// Result is the outcome of mapping. Roles is only meaningful when Success.
type Result struct {
	Success bool
	Roles   []string
}

var unsuccessful = Result{}

// Map applies the policy to claims. It never panics; any internal failure is
// reported as an unsuccessful result.
func (p Policy) Map(claims jwt.MapClaims) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("claim_type", p.ClaimType).Msg("Recovered from panic while mapping claims")
			result = unsuccessful
		}
	}()

	raw, ok := claims[p.ClaimType]
	if !ok || raw == nil {
		log.Debug().Str("claim_type", p.ClaimType).Msg("Claim not present")
		return unsuccessful
	}

	values := claimValues(raw)
	if len(values) == 0 {
		return unsuccessful
	}

	var mapped []string
	found := false
	for _, v := range values {
		if roles, ok := p.Mapping[v]; ok {
			found = true
			mapped = append(mapped, roles...)
		}
	}
	if found {
		return Result{Success: true, Roles: mapped}
	}

	switch p.UnknownValueBehaviour {
	case BehaviourUseClaim:
		return Result{Success: true, Roles: []string{values[0]}}
	case BehaviourFallback:
		roles := p.FallbackMapping
		if roles == nil {
			roles = []string{}
		}
		return Result{Success: true, Roles: roles}
	default:
		log.Debug().Str("claim_type", p.ClaimType).Str("behaviour", string(p.UnknownValueBehaviour)).Msg("Unmapped claim value")
		return unsuccessful
	}
}

// claimValues flattens a claim into its string values. Arrays contribute
// their string elements in order.
func claimValues(raw interface{}) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []string:
		return v
	case []interface{}:
		return utils.ToStringSlice(v)
	case map[string]interface{}:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}
