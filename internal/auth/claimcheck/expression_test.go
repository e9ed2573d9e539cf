package claimcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avabearer/internal/auth/bearer"
)

func TestExpression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		expr    string
		payload map[string]any
		allowed bool
	}{
		{
			name:    "equality",
			expr:    `claims.tenant == "acme"`,
			payload: map[string]any{"tenant": "acme"},
			allowed: true,
		},
		{
			name:    "membership",
			expr:    `"admin" in claims.roles`,
			payload: map[string]any{"roles": []any{"user", "admin"}},
			allowed: true,
		},
		{
			name:    "has macro",
			expr:    `has(claims.act) && claims.act.sub == "svc"`,
			payload: map[string]any{"act": map[string]any{"sub": "svc"}},
			allowed: true,
		},
		{
			name:    "numeric",
			expr:    `claims.level >= 3.0`,
			payload: map[string]any{"level": float64(2)},
		},
		{
			name:    "absent claim",
			expr:    `claims.tenant == "acme"`,
			payload: map[string]any{},
		},
		{
			name:    "dyn non-bool result",
			expr:    `claims.tenant`,
			payload: map[string]any{"tenant": "acme"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			check, err := Expression(tt.expr, "denied")
			require.NoError(t, err)

			err = check(tt.payload)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			var be *bearer.Error
			require.ErrorAs(t, err, &be)
			assert.Equal(t, bearer.KindInvalidToken, be.Kind)
			assert.Equal(t, "denied", be.Description())
		})
	}
}

func TestExpression_CompileErrors(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{
		`claims.tenant ==`,
		`"a" + 1`,
		`1 + 2`,
		`unknown.value`,
	} {
		_, err := Expression(expr, "")
		assert.Error(t, err, expr)
	}

	assert.Panics(t, func() { MustExpression(`1 +`, "") })
}

func TestExpression_DefaultMessage(t *testing.T) {
	t.Parallel()

	check := MustExpression(`claims.tenant == "acme"`, "")
	err := check(map[string]any{"tenant": "globex"})
	require.Error(t, err)
	assert.Equal(t, `Claims do not satisfy "claims.tenant == \"acme\""`, err.Error())
	assert.ErrorIs(t, check(nil), bearer.ErrUnauthorized)
}
