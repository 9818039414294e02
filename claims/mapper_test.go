package claims_test

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/iiif-auth-server/claims"
	"github.com/stretchr/testify/require"
)

const (
	staffRole   = "https://api.dlcs.io/customers/2/roles/staff"
	readerRole  = "https://api.dlcs.io/customers/2/roles/reader"
	defaultRole = "https://api.dlcs.io/customers/2/roles/default"
)

func policy(behaviour claims.Behaviour) claims.Policy {
	return claims.Policy{
		ClaimType: "dlcs-type",
		Mapping: map[string][]string{
			"staff":  {staffRole, readerRole},
			"reader": {readerRole},
		},
		UnknownValueBehaviour: behaviour,
		FallbackMapping:       []string{defaultRole},
	}
}

func TestPolicy_Map(t *testing.T) {
	tests := []struct {
		name        string
		policy      claims.Policy
		claims      jwt.MapClaims
		wantSuccess bool
		wantRoles   []string
	}{
		{
			name:   "missing claim",
			policy: policy(claims.BehaviourUseClaim),
			claims: jwt.MapClaims{"sub": "123"},
		},
		{
			name:        "mapped value",
			policy:      policy(claims.BehaviourThrow),
			claims:      jwt.MapClaims{"dlcs-type": "staff"},
			wantSuccess: true,
			wantRoles:   []string{staffRole, readerRole},
		},
		{
			name:        "unmapped with UseClaim",
			policy:      policy(claims.BehaviourUseClaim),
			claims:      jwt.MapClaims{"dlcs-type": "visitor"},
			wantSuccess: true,
			wantRoles:   []string{"visitor"},
		},
		{
			name:        "unmapped with Fallback",
			policy:      policy(claims.BehaviourFallback),
			claims:      jwt.MapClaims{"dlcs-type": "visitor"},
			wantSuccess: true,
			wantRoles:   []string{defaultRole},
		},
		{
			name: "unmapped with Fallback and no fallback roles",
			policy: claims.Policy{
				ClaimType:             "dlcs-type",
				UnknownValueBehaviour: claims.BehaviourFallback,
			},
			claims:      jwt.MapClaims{"dlcs-type": "visitor"},
			wantSuccess: true,
			wantRoles:   []string{},
		},
		{
			name:   "unmapped with Throw",
			policy: policy(claims.BehaviourThrow),
			claims: jwt.MapClaims{"dlcs-type": "visitor"},
		},
		{
			name:   "unmapped with Unknown",
			policy: policy(claims.BehaviourUnknown),
			claims: jwt.MapClaims{"dlcs-type": "visitor"},
		},
		{
			name:        "array claim unions mapped values",
			policy:      policy(claims.BehaviourThrow),
			claims:      jwt.MapClaims{"dlcs-type": []interface{}{"visitor", "reader"}},
			wantSuccess: true,
			wantRoles:   []string{readerRole},
		},
		{
			name:        "array claim with no mapped values uses first element",
			policy:      policy(claims.BehaviourUseClaim),
			claims:      jwt.MapClaims{"dlcs-type": []interface{}{"visitor", "guest"}},
			wantSuccess: true,
			wantRoles:   []string{"visitor"},
		},
		{
			name: "numeric claim is stringified",
			policy: claims.Policy{
				ClaimType: "level",
				Mapping:   map[string][]string{"3": {staffRole}},
			},
			claims:      jwt.MapClaims{"level": float64(3)},
			wantSuccess: true,
			wantRoles:   []string{staffRole},
		},
		{
			name:   "empty string claim",
			policy: policy(claims.BehaviourUseClaim),
			claims: jwt.MapClaims{"dlcs-type": ""},
		},
		{
			name:   "nil claims",
			policy: policy(claims.BehaviourUseClaim),
			claims: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.policy.Map(tt.claims)
			require.Equal(t, tt.wantSuccess, result.Success)
			if tt.wantSuccess {
				require.Equal(t, tt.wantRoles, result.Roles)
			} else {
				require.Empty(t, result.Roles)
			}
		})
	}
}
