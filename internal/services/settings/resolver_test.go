package settings

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func difficultyTree(current int) Tree {
	return Tree{
		Settings: []Setting{
			{
				Name:    "difficulty",
				Values:  map[int]string{0: "Easy", 1: "Normal", 2: "Hard"},
				Current: current,
			},
			{
				Name:    "Hard Mode Bonus",
				Values:  map[int]string{0: "Off", 1: "On"},
				Current: 0,
				Readonly: Readonly{Predicate: &Predicate{
					Name:   "Difficulty",
					Values: []int{2},
				}},
			},
			{
				Name:    "Continue",
				Values:  map[int]string{0: "Off", 1: "On"},
				Current: 1,
				Readonly: Readonly{Predicate: &Predicate{
					Name:   "DIFFICULTY",
					Values: []int{2},
					Negate: true,
				}},
			},
		},
	}
}

func TestVisible_FixedFlags(t *testing.T) {
	tree := Tree{Settings: []Setting{
		{Name: "a", Values: map[int]string{0: "x"}},
		{Name: "b", Values: map[int]string{0: "x"}, Readonly: Readonly{Fixed: true}},
	}}

	assert.True(t, Visible(tree.Settings[0], tree))
	assert.False(t, Visible(tree.Settings[1], tree))
}

func TestVisible_PredicateCaseInsensitive(t *testing.T) {
	hard := difficultyTree(2)
	assert.True(t, Visible(hard.Settings[1], hard), "predicate 'Difficulty' must resolve against 'difficulty'")
	assert.False(t, Visible(hard.Settings[2], hard), "negated predicate hides when value matches")

	normal := difficultyTree(1)
	assert.False(t, Visible(normal.Settings[1], normal))
	assert.True(t, Visible(normal.Settings[2], normal))
}

func TestVisible_UnresolvableFailsClosed(t *testing.T) {
	tree := Tree{Settings: []Setting{
		{
			Name:   "orphan",
			Values: map[int]string{0: "x"},
			Readonly: Readonly{Predicate: &Predicate{
				Name:   "does not exist",
				Values: []int{0},
				Negate: true,
			}},
		},
	}}

	assert.NotPanics(t, func() {
		assert.False(t, Visible(tree.Settings[0], tree))
	})
}

func TestVisible_Idempotent(t *testing.T) {
	tree := difficultyTree(2)
	for _, s := range tree.Settings {
		first := Visible(s, tree)
		second := Visible(s, tree)
		assert.Equal(t, first, second, s.Name)
	}
}

func TestVisibleSettings_ReevaluatesAfterSiblingChange(t *testing.T) {
	tree := difficultyTree(0)
	names := func() []string {
		var out []string
		for _, s := range VisibleSettings(tree) {
			out = append(out, s.Name)
		}
		return out
	}

	assert.Equal(t, []string{"difficulty", "Continue"}, names())

	require.NoError(t, tree.SetCurrent("Difficulty", 2))
	assert.Equal(t, []string{"difficulty", "Hard Mode Bonus"}, names())
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StateMissing, Classify(Tree{}))

	allHidden := Tree{Settings: []Setting{
		{Name: "a", Values: map[int]string{0: "x"}, Readonly: Readonly{Fixed: true}},
		{Name: "b", Values: map[int]string{0: "x"}, Readonly: Readonly{Predicate: &Predicate{Name: "a", Values: []int{1}}}},
	}}
	assert.Equal(t, StateNoEditable, Classify(allHidden))

	assert.Equal(t, StateEditable, Classify(difficultyTree(1)))
	assert.NotEqual(t, Classify(Tree{}), Classify(allHidden))
}

func TestReadonlyJSON(t *testing.T) {
	var s Setting
	require.NoError(t, json.Unmarshal([]byte(`{
		"name": "Continue",
		"values": {"0": "Off", "1": "On"},
		"current": 1,
		"readonly": {"name": "difficulty", "values": [2], "negate": true}
	}`), &s))
	require.NotNil(t, s.Readonly.Predicate)
	assert.Equal(t, "difficulty", s.Readonly.Predicate.Name)
	assert.True(t, s.Readonly.Predicate.Negate)
	assert.Equal(t, "On", s.Values[1])

	var fixed Setting
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","values":{"0":"a"},"current":0,"readonly":true}`), &fixed))
	assert.Nil(t, fixed.Readonly.Predicate)
	assert.True(t, fixed.Readonly.Fixed)

	var absent Setting
	require.NoError(t, json.Unmarshal([]byte(`{"name":"x","values":{"0":"a"},"current":0}`), &absent))
	assert.False(t, absent.Readonly.Fixed)
	assert.Nil(t, absent.Readonly.Predicate)

	out, err := json.Marshal(Readonly{Predicate: &Predicate{Name: "a", Values: []int{1}}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","values":[1],"negate":false}`, string(out))

	var bad Setting
	assert.Error(t, json.Unmarshal([]byte(`{"readonly":"yes"}`), &bad))
}

func TestTreeValidate(t *testing.T) {
	tree := difficultyTree(1)
	assert.NoError(t, tree.Validate())

	tree.Settings[0].Current = 7
	assert.Error(t, tree.Validate())

	assert.Error(t, tree.SetCurrent("difficulty", 9))
	assert.Error(t, tree.SetCurrent("nope", 0))
}

func TestCollectionYAML(t *testing.T) {
	doc := `
serial: BAAA
system:
  settings: []
game:
  settings:
    - name: Difficulty
      values: {0: Easy, 1: Normal, 2: Hard}
      current: 1
      readonly: false
    - name: Hard Mode Timer
      values: {0: "30s", 1: "60s"}
      current: 0
      readonly:
        name: difficulty
        values: [0, 1]
    - name: Region Lock
      values: {0: "Off"}
      current: 0
      readonly: true
`
	var c Collection
	require.NoError(t, yaml.Unmarshal([]byte(doc), &c))
	require.NoError(t, c.Validate())
	require.Len(t, c.Game.Settings, 3)

	assert.Equal(t, "Hard", c.Game.Settings[0].Values[2])
	require.NotNil(t, c.Game.Settings[1].Readonly.Predicate)
	assert.Equal(t, []int{0, 1}, c.Game.Settings[1].Readonly.Predicate.Values)
	assert.True(t, c.Game.Settings[2].Readonly.Fixed)

	assert.True(t, Visible(c.Game.Settings[1], c.Game))
	require.NoError(t, c.Game.SetCurrent("DIFFICULTY", 2))
	assert.False(t, Visible(c.Game.Settings[1], c.Game))

	assert.Equal(t, StateMissing, Classify(c.System))

	out, err := yaml.Marshal(c)
	require.NoError(t, err)
	var back Collection
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, c.Game.Settings[1].Readonly, back.Game.Settings[1].Readonly)
}
