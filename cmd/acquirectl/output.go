package main

import (
	"encoding/json"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
)

const (
	outputTable = "table"
	outputJSON  = "json"
)

// render writes v as indented JSON, or builds and renders a table.
func (c *cli) render(v interface{}, build func(table.Writer)) error {
	switch c.output {
	case outputJSON:
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputTable, "":
		t := table.NewWriter()
		t.SetOutputMirror(c.out)
		t.SetStyle(table.StyleLight)
		build(t)
		t.Render()
		return nil
	default:
		return fmt.Errorf("unknown output format %q", c.output)
	}
}
