package applescript

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thingsmcp/thingsmcp/engine/core"
)

func TestParser_ParseWriteResult(t *testing.T) {
	p := NewParser()
	t.Run("Should extract the id from an ok sentinel", func(t *testing.T) {
		id, err := p.ParseWriteResult("ok:ABC-123\n")
		require.NoError(t, err)
		assert.Equal(t, "ABC-123", id)
	})
	t.Run("Should classify a missing entity as NotFound", func(t *testing.T) {
		_, err := p.ParseWriteResult(`err:Can't get to do id "nope"`)
		assert.Equal(t, core.CodeNotFound, core.CodeOf(err))
	})
	t.Run("Should classify other failures as BackendError", func(t *testing.T) {
		_, err := p.ParseWriteResult("err:something broke")
		assert.Equal(t, core.CodeBackendError, core.CodeOf(err))
	})
	t.Run("Should treat unclassified output as ParseError, never success", func(t *testing.T) {
		_, err := p.ParseWriteResult("execution finished")
		assert.Equal(t, core.CodeParse, core.CodeOf(err))
	})
	t.Run("Should reject an ok sentinel without an id", func(t *testing.T) {
		_, err := p.ParseWriteResult("ok:")
		assert.Equal(t, core.CodeParse, core.CodeOf(err))
	})
}

func TestParser_ParseTable(t *testing.T) {
	p := NewParser()
	t.Run("Should parse tab-delimited rows positionally", func(t *testing.T) {
		out := "A1\tBuy milk\topen\n" + "A2\tCall mom\tcompleted\n"
		records, warnings := p.ParseTable(out, []string{"id", "title", "status"})
		require.Len(t, records, 2)
		assert.Empty(t, warnings)
		assert.Equal(t, "Buy milk", records[0]["title"])
		assert.Equal(t, "completed", records[1]["status"])
	})
	t.Run("Should skip rows with the wrong field count and warn", func(t *testing.T) {
		out := "A1\tBuy milk\n" + "broken row\n"
		records, warnings := p.ParseTable(out, []string{"id", "title"})
		assert.Len(t, records, 1)
		assert.Len(t, warnings, 1)
	})
	t.Run("Should coerce missing value to nil", func(t *testing.T) {
		records, _ := p.ParseTable("A1\tmissing value\n", []string{"id", "notes"})
		require.Len(t, records, 1)
		assert.Nil(t, records[0]["notes"])
	})
	t.Run("Should normalize isodate output unchanged", func(t *testing.T) {
		records, _ := p.ParseTable("A1\t2024-03-15T14:30:00\n", []string{"id", "due_date"})
		require.Len(t, records, 1)
		assert.Equal(t, "2024-03-15T14:30:00", records[0]["due_date"])
	})
	t.Run("Should split tag strings on commas", func(t *testing.T) {
		records, _ := p.ParseTable("A1\turgent,work\n", []string{"id", "tags"})
		require.Len(t, records, 1)
		assert.Equal(t, []string{"urgent", "work"}, records[0]["tags"])
	})
}

func TestParser_ParseRecords(t *testing.T) {
	p := NewParser()
	t.Run("Should preserve commas and colons inside quoted strings", func(t *testing.T) {
		records, warnings := p.ParseRecords(`{name:"Buy: milk, eggs", notes:"line"}`)
		require.Len(t, records, 1)
		assert.Empty(t, warnings)
		assert.Equal(t, "Buy: milk, eggs", records[0]["title"])
	})
	t.Run("Should parse brace-delimited tag lists", func(t *testing.T) {
		records, _ := p.ParseRecords(`{name:"x", tag names:{"urgent", "deep, work"}}`)
		require.Len(t, records, 1)
		assert.Equal(t, []string{"urgent", "deep, work"}, records[0]["tags"])
	})
	t.Run("Should normalize long-form dates to ISO", func(t *testing.T) {
		records, _ := p.ParseRecords(`{name:"x", due date:date "Friday, March 15, 2024 at 2:30:00 PM"}`)
		require.Len(t, records, 1)
		assert.Equal(t, "2024-03-15T14:30:00", records[0]["due_date"])
	})
	t.Run("Should coerce missing value to nil", func(t *testing.T) {
		records, _ := p.ParseRecords(`{name:"x", notes:missing value}`)
		require.Len(t, records, 1)
		assert.Nil(t, records[0]["notes"])
	})
	t.Run("Should recover from malformed input with a warning", func(t *testing.T) {
		records, warnings := p.ParseRecords(`{name:"unterminated`)
		assert.Len(t, warnings, 1)
		require.Len(t, records, 1)
	})
	t.Run("Should parse one record per line", func(t *testing.T) {
		records, _ := p.ParseRecords("{name:\"a\"}\n{name:\"b\"}\n")
		assert.Len(t, records, 2)
	})
}

func TestSplitTags(t *testing.T) {
	t.Run("Should split on commas outside quotes only", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b, c"}, SplitTags(`a,"b, c"`))
	})
	t.Run("Should drop empties and trim", func(t *testing.T) {
		assert.Equal(t, []string{"a", "b"}, SplitTags(" a ,, b "))
	})
	t.Run("Should return nil for an empty string", func(t *testing.T) {
		assert.Nil(t, SplitTags(""))
	})
}

func TestToTodo(t *testing.T) {
	t.Run("Should map canonical fields onto the entity", func(t *testing.T) {
		todo := ToTodo(Record{
			"id":       "A1",
			"title":    "Buy milk",
			"status":   "completed",
			"tags":     []string{"urgent"},
			"due_date": "2024-03-15T00:00:00",
		})
		assert.Equal(t, "A1", todo.ID)
		assert.Equal(t, core.StatusCompleted, todo.Status)
		assert.Equal(t, []string{"urgent"}, todo.Tags)
		assert.Equal(t, "2024-03-15T00:00:00", todo.DueDate)
	})
	t.Run("Should default unknown status to open", func(t *testing.T) {
		todo := ToTodo(Record{"id": "A1"})
		assert.Equal(t, core.StatusOpen, todo.Status)
	})
}
