package output_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/grainql/internal/cli/output"
	"github.com/leapstack-labs/grainql/internal/cli/testutil"
)

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    output.Mode
		wantErr bool
	}{
		{"", output.ModeAuto, false},
		{"text", output.ModeText, false},
		{"md", output.ModeMarkdown, false},
		{"json", output.ModeJSON, false},
		{"yaml", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := output.ParseMode(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEffectiveMode(t *testing.T) {
	assert.Equal(t, output.ModeText, testutil.NewTestRenderer(output.ModeAuto, true).EffectiveMode())
	assert.Equal(t, output.ModeMarkdown, testutil.NewTestRenderer(output.ModeAuto, false).EffectiveMode())
	assert.Equal(t, output.ModeJSON, testutil.NewTestRenderer(output.ModeJSON, true).EffectiveMode())
}

func TestTable_Markdown(t *testing.T) {
	r := testutil.NewTestRenderer(output.ModeMarkdown, false)
	r.Header(1, "Results")
	r.Table([]string{"name", "total"}, [][]any{{"toys", 14.0}, {"games", nil}})

	out := r.Output()
	testutil.AssertNoANSI(t, out)
	testutil.AssertValidMarkdown(t, out)
	assert.Contains(t, out, "# Results")
	assert.Contains(t, out, "| name | total |")
	assert.Contains(t, out, "| toys | 14 |")
	assert.Contains(t, out, "NULL")
}

func TestTable_TextWithoutTTY(t *testing.T) {
	r := testutil.NewTestRenderer(output.ModeText, false)
	r.Success("compiled")
	r.StatusLine("orders", "failed", "boom")
	r.Table([]string{"a"}, [][]any{{1}})

	out := r.Output()
	testutil.AssertNoANSI(t, out)
	assert.Contains(t, out, "✓ compiled")
	assert.Contains(t, out, "✗ orders boom")
	assert.Contains(t, out, "┌")
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "NULL", output.FormatValue(nil))
	assert.Equal(t, "abc", output.FormatValue([]byte("abc")))
	assert.Equal(t, "0.1", output.FormatValue(0.1))
	assert.Equal(t, "10.25", output.FormatValue(decimal.RequireFromString("10.25")))
	assert.Equal(t, "7", output.FormatValue(int64(7)))
}

func TestJSON(t *testing.T) {
	r := testutil.NewTestRenderer(output.ModeJSON, false)
	require.NoError(t, r.JSON(map[string]int{"n": 1}))
	assert.JSONEq(t, `{"n": 1}`, r.Output())
}
