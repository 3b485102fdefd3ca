package rawlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTableAndColumn(t *testing.T) {
	tbl := NewTable([]string{" Tool ", "Date", "Loaves_Baked"},
		[]string{"OVEN_01", "2024-01-01", " 480 "},
		[]string{"OVEN_02", "2024-01-01"},
	)

	assert.Len(t, tbl.Rows, 2)
	assert.Equal(t, "480", tbl.Rows[0]["Loaves_Baked"])
	_, present := tbl.Rows[1]["Loaves_Baked"]
	assert.False(t, present)

	col, ok := tbl.Column("unit_id", "tool")
	assert.True(t, ok)
	assert.Equal(t, "Tool", col)

	_, ok = tbl.Column("proxy_value")
	assert.False(t, ok)

	var nilTable *Table
	_, ok = nilTable.Column("unit_id")
	assert.False(t, ok)
}
