package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func at(hh, mm int) time.Time {
	return time.Date(2026, 7, 31, hh, mm, 0, 0, time.Local)
}

func TestDefinition_InWindow_NoTimesAlwaysActive(t *testing.T) {
	d := Definition{}
	assert.True(t, d.InWindow(at(3, 0)))
}

func TestDefinition_InWindow_SameDayWindow(t *testing.T) {
	d := Definition{StartTime: "12:00", EndTime: "12:05"}
	assert.True(t, d.InWindow(at(12, 0)))
	assert.True(t, d.InWindow(at(12, 5)))
	assert.False(t, d.InWindow(at(12, 6)))
	assert.False(t, d.InWindow(at(11, 59)))
}

func TestDefinition_InWindow_CrossesMidnight(t *testing.T) {
	d := Definition{StartTime: "22:00", EndTime: "06:00"}
	assert.True(t, d.InWindow(at(23, 30)))
	assert.True(t, d.InWindow(at(4, 0)))
	assert.False(t, d.InWindow(at(9, 0)))
}

func TestDefinition_Clamped_FloorsOffSeconds(t *testing.T) {
	d := Definition{OffSeconds: 0.1}.Clamped()
	assert.Equal(t, MinOffSeconds, d.OffSeconds)

	d2 := Definition{OffSeconds: 5}.Clamped()
	assert.Equal(t, 5.0, d2.OffSeconds)
}
