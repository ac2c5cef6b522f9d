package consensus

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionText(t *testing.T) {
	cases := []struct {
		name string
		d    Decision
		want string
	}{
		{
			name: "executed",
			d:    Decision{Order: OrderAttack, Yes: 3, Outcome: Executed},
			want: "Execute order: attack! Non-faulty nodes in the system - 4 out of 4 quorum suggest attack",
		},
		{
			name: "not executed",
			d:    Decision{Order: OrderRetreat, Faulty: 1, Yes: 1, No: 2, Outcome: NotExecuted},
			want: "Execute order: cannot be determined - 1 faulty node in the system - 2 out of 4 quorum suggest not to retreat",
		},
		{
			name: "refused",
			d:    Decision{Order: OrderAttack, Faulty: 2, Total: 4, Outcome: Refused},
			want: "Execute order: cannot be determined - not enough generals in the system! 2 faulty nodes in the system - 2 out of 4 quorum not consistent",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.d.String())
		})
	}
}

func TestOutcomeJSON(t *testing.T) {
	b, err := json.Marshal(Decision{Outcome: NotExecuted})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"outcome":"not-executed"`)

	var d Decision
	require.NoError(t, json.Unmarshal(b, &d))
	assert.Equal(t, NotExecuted, d.Outcome)
	assert.Error(t, json.Unmarshal([]byte(`{"outcome":"maybe"}`), &d))
}

func TestMajorityIsStrict(t *testing.T) {
	assert.True(t, majority([]bool{true, true, false}))
	assert.False(t, majority([]bool{true, false}))
	assert.False(t, majority(nil))
}
