package selection

import (
	"encoding/json"
	"math/rand"
	"slices"
	"testing"

	"github.com/leapstack-labs/datamanager/internal/notifier"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ToggleItem(t *testing.T) {
	tr := New(nil)

	tr.ToggleItem(1)
	tr.ToggleItem(2)
	assert.True(t, tr.IsSelected(1))
	assert.True(t, tr.IsSelected(2))
	assert.False(t, tr.IsSelected(3))
	assert.Equal(t, 2, tr.Count(100))

	tr.ToggleItem(1)
	assert.False(t, tr.IsSelected(1))
	assert.Equal(t, []int64{2}, tr.List())
}

func TestTracker_SelectAllExcludes(t *testing.T) {
	tr := New(nil)
	tr.ToggleItem(5)

	tr.ToggleSelectedAll()
	assert.True(t, tr.All())
	assert.Empty(t, tr.List(), "flipping all clears the inclusion list")
	assert.True(t, tr.IsSelected(5))
	assert.Equal(t, 10, tr.Count(10))

	tr.ToggleItem(7)
	assert.False(t, tr.IsSelected(7))
	assert.Equal(t, 9, tr.Count(10))

	tr.ToggleSelectedAll()
	assert.False(t, tr.All())
	assert.Empty(t, tr.List(), "flipping back clears the exclusion list")
	assert.False(t, tr.IsSelected(7))
	assert.True(t, tr.Empty())
}

func TestTracker_DualityHoldsForRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 50; run++ {
		tr := New(nil)
		flipAt := rng.Intn(20)
		for step := 0; step < 20; step++ {
			if step == flipAt {
				tr.ToggleSelectedAll()
				require.Empty(t, tr.List())
			} else {
				tr.ToggleItem(int64(rng.Intn(8)))
			}

			all, list := tr.All(), tr.List()
			for id := int64(0); id < 8; id++ {
				want := slices.Contains(list, id)
				if all {
					want = !want
				}
				require.Equal(t, want, tr.IsSelected(id), "run %d step %d id %d", run, step, id)
			}
		}
	}
}

func TestTracker_Clear(t *testing.T) {
	tr := New(nil)
	tr.ToggleSelectedAll()
	tr.ToggleItem(3)

	tr.Clear()
	assert.Equal(t, State{}, tr.State())
	assert.Equal(t, 0, tr.Count(50))
}

func TestTracker_NotifiesEveryMutation(t *testing.T) {
	n := notifier.New()
	var got []State
	n.On(func(e notifier.Event) {
		got = append(got, e.Payload.(State))
	}, notifier.TaskSelectionChanged)

	tr := New(n)
	tr.ToggleItem(1)
	tr.ToggleSelectedAll()
	tr.Clear()

	require.Len(t, got, 3)
	assert.Equal(t, State{List: []int64{1}}, got[0])
	assert.Equal(t, State{All: true}, got[1])
	assert.Equal(t, State{}, got[2])
}

func TestPayload_JSON(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  string
	}{
		{"none", State{}, `{"all": false, "included": []}`},
		{"included", State{List: []int64{1, 2}}, `{"all": false, "included": [1, 2]}`},
		{"all", State{All: true}, `{"all": true, "excluded": []}`},
		{"all but", State{All: true, List: []int64{9}}, `{"all": true, "excluded": [9]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := json.Marshal(FromState(tt.state, nil).Payload())
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(out))

			var p Payload
			require.NoError(t, json.Unmarshal(out, &p))
			assert.Equal(t, tt.state.All, p.State().All)
			assert.ElementsMatch(t, tt.state.List, p.State().List)
		})
	}
}
