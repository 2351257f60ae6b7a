package localize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConvert_FixedTable(t *testing.T) {
	instant := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	lagos := Convert("Africa/Lagos", instant)
	assert.Equal(t, 13, lagos.Hour())
	assert.True(t, lagos.Equal(instant))

	kolkata := Convert("Asia/Kolkata", instant)
	assert.Equal(t, 17, kolkata.Hour())
	assert.Equal(t, 30, kolkata.Minute())
}

func TestConvert_FallsBackToTZDatabase(t *testing.T) {
	if _, err := time.LoadLocation("America/New_York"); err != nil {
		t.Skip("tz database not available")
	}
	instant := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	local := Convert("America/New_York", instant)
	assert.Equal(t, 7, local.Hour())
	assert.True(t, Valid("America/New_York"))
}

func TestConvert_UnknownZoneIsUTC(t *testing.T) {
	instant := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	for _, tz := range []string{"", "Mars/Olympus_Mons"} {
		local := Convert(tz, instant)
		assert.Equal(t, 12, local.Hour(), tz)
		assert.False(t, Valid(tz), tz)
	}
	assert.False(t, Valid("Mars/Olympus_Mons"))
}
