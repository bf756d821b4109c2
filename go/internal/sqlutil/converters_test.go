package sqlutil

import (
	"testing"

	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func TestNumericText(t *testing.T) {
	d := decimal.RequireFromString("2490000.50")
	text := ToNumericText(&d)
	check.NotNil(t, text)

	back, err := FromNullNumericText(text)
	check.NoError(t, err)
	check.True(t, back.Equal(d))

	none, err := FromNullNumericText(nil)
	check.NoError(t, err)
	check.Nil(t, none)

	_, err = FromNumericText("not-a-number")
	check.Error(t, err)
}

func TestNullText(t *testing.T) {
	check.Nil(t, ToNullText(""))
	check.Equal(t, "ops", FromNullText(ToNullText("ops")))
	check.Equal(t, "", FromNullText(nil))
}
