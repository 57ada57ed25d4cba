package recipients

import (
	"fmt"
	"strings"
	"testing"

	"github.com/onemorebsmith/spl-airdrop/src/model"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// test addresses are valid when they start with "w"
func testValidator(address string) error {
	if !strings.HasPrefix(address, "w") {
		return errors.New("not a wallet")
	}
	return nil
}

func opts() Options {
	return Options{Validator: testValidator}
}

func TestFromList_SharedAmount(t *testing.T) {
	set, err := FromList("w1\n\n  w2  \nbogus\nw3\n", "2.5", opts())
	require.NoError(t, err)

	assert.Equal(t, []string{"w1", "w2", "w3"}, set.Addresses())
	for _, e := range set.Entries {
		assert.True(t, e.Amount.Equal(decimal.RequireFromString("2.5")))
	}
	require.Len(t, set.Warnings, 1)
	assert.Equal(t, 4, set.Warnings[0].Line)
	assert.Equal(t, "bogus", set.Warnings[0].Address)
	assert.False(t, set.CustomAmounts)
	assert.True(t, set.Total().Equal(decimal.RequireFromString("7.5")))
}

func TestFromList_RejectsBadSharedAmount(t *testing.T) {
	for _, amount := range []string{"", "0", "-1", "abc"} {
		_, err := FromList("w1", amount, opts())
		require.Error(t, err, amount)
		assert.True(t, errors.Is(err, model.ErrValidation), amount)
	}
}

func TestFromList_EmptyIsValidationError(t *testing.T) {
	_, err := FromList("\n  \nnope\n", "1", opts())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))
	assert.Contains(t, err.Error(), "at least one recipient")
}

func TestFromList_CeilingFailsWholeBuild(t *testing.T) {
	var lines []string
	for i := 0; i < MaxRecipients+1; i++ {
		lines = append(lines, fmt.Sprintf("w%d", i))
	}
	_, err := FromList(strings.Join(lines, "\n"), "1", opts())
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))
	assert.Contains(t, err.Error(), "max 500")

	set, err := FromList(strings.Join(lines[:MaxRecipients], "\n"), "1", opts())
	require.NoError(t, err)
	assert.Len(t, set.Entries, MaxRecipients)
}

func TestFromList_CustomCeiling(t *testing.T) {
	o := opts()
	o.MaxRecipients = 2
	_, err := FromList("w1\nw2\nw3", "1", o)
	require.Error(t, err)
}

// Duplicates are dispatched once per occurrence unless the caller opts into rejection.
func TestDuplicateAddressesAreKeptByDefault(t *testing.T) {
	set, err := FromList("w1\nw2\nw1", "1", opts())
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2", "w1"}, set.Addresses())
	assert.Empty(t, set.Warnings)
}

func TestDuplicateAddressesRejectedWhenConfigured(t *testing.T) {
	o := opts()
	o.Duplicates = DuplicatesReject
	set, err := FromList("w1\nw2\nw1", "1", o)
	require.NoError(t, err)
	assert.Equal(t, []string{"w1", "w2"}, set.Addresses())
	require.Len(t, set.Warnings, 1)
	assert.Equal(t, 3, set.Warnings[0].Line)
	assert.Contains(t, set.Warnings[0].Reason, "duplicate of line 1")
}

func TestFromCSV_PerRowAmounts(t *testing.T) {
	input := strings.Join([]string{
		"Address,Amount",
		"w1,100",
		"w2, 0.5",
		"bad,10",
		"w3,0",
		"w4,-3",
		"w5,abc",
		"w6",
		"",
		"w7,7",
	}, "\n")
	set, err := FromCSV(strings.NewReader(input), "", opts())
	require.NoError(t, err)

	assert.Equal(t, []string{"w1", "w2", "w7"}, set.Addresses())
	assert.True(t, set.CustomAmounts)
	assert.True(t, set.Entries[1].Amount.Equal(decimal.RequireFromString("0.5")))

	reasons := map[string]string{}
	for _, w := range set.Warnings {
		reasons[w.Address] = w.Reason
	}
	assert.Len(t, reasons, 5)
	assert.Contains(t, reasons["bad"], "invalid address")
	assert.Contains(t, reasons["w3"], "non-positive")
	assert.Contains(t, reasons["w4"], "non-positive")
	assert.Contains(t, reasons["w5"], "invalid amount")
	assert.Equal(t, "missing amount", reasons["w6"])
}

func TestFromCSV_DefaultAmountFillsGaps(t *testing.T) {
	set, err := FromCSV(strings.NewReader("w1\nw2,3\n"), "1.5", opts())
	require.NoError(t, err)
	require.Len(t, set.Entries, 2)
	assert.True(t, set.Entries[0].Amount.Equal(decimal.RequireFromString("1.5")))
	assert.True(t, set.Entries[1].Amount.Equal(decimal.RequireFromString("3")))
	assert.True(t, set.CustomAmounts)
}

func TestFromCSV_NoAmountsAtAll(t *testing.T) {
	set, err := FromCSV(strings.NewReader("w1\nw2\n"), "4", opts())
	require.NoError(t, err)
	assert.False(t, set.CustomAmounts)
}

func TestDemoCSVParses(t *testing.T) {
	set, err := FromCSV(strings.NewReader(DemoCSV()), "", Options{})
	require.NoError(t, err)
	assert.Len(t, set.Entries, 5)
	assert.True(t, set.CustomAmounts)
	assert.True(t, set.Total().Equal(decimal.NewFromInt(1075)))
}
