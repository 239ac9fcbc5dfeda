package rulepack

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const commutePack = `
name: commute
description: rides home
rules:
  - key: uber
    type: merchant
    value: Uber
    category: Transportation
  - key: evening
    type: time
    value: evening
    category: Transportation
    weight: 0.4
composites:
  - key: uber-evening
    operator: and
    category: Transportation
    weight: 1.5
    components: [uber, evening]
`

func TestParse(t *testing.T) {
	pack, err := Parse(strings.NewReader(commutePack))
	require.NoError(t, err)

	assert.Equal(t, "commute", pack.Name)
	require.Len(t, pack.Rules, 2)
	assert.Equal(t, "merchant", pack.Rules[0].Type)
	assert.InDelta(t, 0.4, pack.Rules[1].Weight, 1e-9)
	require.Len(t, pack.Composites, 1)
	assert.Equal(t, []string{"uber", "evening"}, pack.Composites[0].Components)
	assert.Equal(t, []string{"Transportation"}, pack.Categories())
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{
			name:    "empty document",
			doc:     "",
			wantMsg: "empty document",
		},
		{
			name:    "unknown field",
			doc:     "name: x\nrules:\n  - type: merchant\n    value: a\n    category: b\n    confidence: 2\n",
			wantMsg: "confidence",
		},
		{
			name:    "unknown rule type",
			doc:     "name: x\nrules:\n  - type: fuzzy\n    value: a\n    category: b\n",
			wantMsg: "rules[0]",
		},
		{
			name:    "missing category",
			doc:     "name: x\nrules:\n  - type: merchant\n    value: a\n",
			wantMsg: "category is required",
		},
		{
			name:    "duplicate key",
			doc:     "name: x\nrules:\n  - {key: a, type: merchant, value: a, category: b}\n  - {key: a, type: keyword, value: c, category: b}\n",
			wantMsg: `duplicate key "a"`,
		},
		{
			name:    "forward reference",
			doc:     "name: x\nrules:\n  - {key: a, type: merchant, value: a, category: b}\ncomposites:\n  - {key: c1, operator: OR, category: b, components: [a, c2]}\n  - {key: c2, operator: OR, category: b, components: [a, c1]}\n",
			wantMsg: `unknown component "c2"`,
		},
		{
			name:    "bad operator",
			doc:     "name: x\nrules:\n  - {key: a, type: merchant, value: a, category: b}\ncomposites:\n  - {operator: NAND, category: b, components: [a]}\n",
			wantMsg: "composites[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPack)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "commute.yaml")
	require.NoError(t, os.WriteFile(path, []byte(commutePack), 0o600))

	pack, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "commute", pack.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSystemPack(t *testing.T) {
	pack := SystemPack()
	require.NoError(t, pack.Check())

	var buf bytes.Buffer
	require.NoError(t, pack.Write(&buf))

	parsed, err := Parse(&buf)
	require.NoError(t, err, "exported packs can be imported again")
	assert.Len(t, parsed.Rules, len(pack.Rules))
	assert.Len(t, parsed.Composites, len(pack.Composites))
	assert.Contains(t, pack.Categories(), CategoryIncome)
}
