package store

import (
	"strings"

	"github.com/ziadkadry99/flowtrace/internal/db"
	"github.com/ziadkadry99/flowtrace/internal/event"
)

// column is one payload column of a table. Integer columns scan into int64,
// everything else into string.
type column struct {
	name    string
	integer bool
}

// table describes how one source kind maps onto one SQL table.
type table struct {
	name      string
	kind      event.SourceKind
	sessioned bool
	columns   []column
	encode    func(event.Payload) []any
	decode    func(vals []any) event.Payload
}

// Family groups the tables that one collector family writes.
type Family struct {
	Schema db.Schema
	tables []table
}

// Name returns the store name, which is also its database file stem.
func (f Family) Name() string { return f.Schema.Name }

// Kinds lists the source kinds a family stores.
func (f Family) Kinds() []event.SourceKind {
	kinds := make([]event.SourceKind, len(f.tables))
	for i, t := range f.tables {
		kinds[i] = t.kind
	}
	return kinds
}

// insertSQL returns the insert statement for t. Placeholders follow the
// argument order Insert builds: timestamp, session_id when the table has
// one, then the encoded payload columns.
func insertSQL(t table) string {
	cols := []string{"timestamp"}
	if t.sessioned {
		cols = append(cols, "session_id")
	}
	for _, c := range t.columns {
		cols = append(cols, c.name)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return "INSERT INTO " + t.name + " (" + strings.Join(cols, ", ") + ") VALUES (" + marks + ")"
}

func text(names ...string) []column {
	cols := make([]column, len(names))
	for i, n := range names {
		cols[i] = column{name: n}
	}
	return cols
}

func str(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func num(v any) int {
	if n, ok := v.(int64); ok {
		return int(n)
	}
	return 0
}

var navigationTable = table{
	name:      "navigation",
	kind:      event.KindNavigation,
	sessioned: true,
	columns:   text("url", "title"),
	encode: func(p event.Payload) []any {
		v := p.(event.Navigation)
		return []any{v.URL, v.Title}
	},
	decode: func(vals []any) event.Payload {
		return event.Navigation{URL: str(vals[0]), Title: str(vals[1])}
	},
}

var interactionTable = table{
	name:      "interaction",
	kind:      event.KindElementInteraction,
	sessioned: true,
	columns:   text("action", "element_tag", "element_id", "element_name", "element_type", "element_value"),
	encode: func(p event.Payload) []any {
		v := p.(event.Interaction)
		return []any{v.Action, v.ElementTag, v.ElementID, v.ElementName, v.ElementType, v.ElementValue}
	},
	decode: func(vals []any) event.Payload {
		return event.Interaction{
			Action:       str(vals[0]),
			ElementTag:   str(vals[1]),
			ElementID:    str(vals[2]),
			ElementName:  str(vals[3]),
			ElementType:  str(vals[4]),
			ElementValue: str(vals[5]),
		}
	},
}

var keystrokeTable = table{
	name:      "keystroke",
	kind:      event.KindKeystroke,
	sessioned: true,
	columns:   text("key", "app", "window_title"),
	encode: func(p event.Payload) []any {
		v := p.(event.Keystroke)
		return []any{v.Key, v.App, v.WindowTitle}
	},
	decode: func(vals []any) event.Payload {
		return event.Keystroke{Key: str(vals[0]), App: str(vals[1]), WindowTitle: str(vals[2])}
	},
}

var mouseTable = table{
	name:      "mouse",
	kind:      event.KindMouse,
	sessioned: true,
	columns: []column{
		{name: "event_type"},
		{name: "x", integer: true},
		{name: "y", integer: true},
		{name: "app"},
		{name: "window_title"},
	},
	encode: func(p event.Payload) []any {
		v := p.(event.Mouse)
		return []any{v.EventType, v.X, v.Y, v.App, v.WindowTitle}
	},
	decode: func(vals []any) event.Payload {
		return event.Mouse{
			EventType:   str(vals[0]),
			X:           num(vals[1]),
			Y:           num(vals[2]),
			App:         str(vals[3]),
			WindowTitle: str(vals[4]),
		}
	},
}

var spreadsheetTable = table{
	name:      "spreadsheet",
	kind:      event.KindSpreadsheet,
	sessioned: true,
	columns:   text("workbook", "worksheet", "cell", "value", "formula", "action"),
	encode: func(p event.Payload) []any {
		v := p.(event.Spreadsheet)
		return []any{v.Workbook, v.Worksheet, v.Cell, v.Value, v.Formula, v.Action}
	},
	decode: func(vals []any) event.Payload {
		return event.Spreadsheet{
			Workbook:  str(vals[0]),
			Worksheet: str(vals[1]),
			Cell:      str(vals[2]),
			Value:     str(vals[3]),
			Formula:   str(vals[4]),
			Action:    str(vals[5]),
		}
	},
}

var documentTable = table{
	name:      "document",
	kind:      event.KindDocument,
	sessioned: true,
	columns: []column{
		{name: "file_path"},
		{name: "file_name"},
		{name: "action"},
		{name: "page", integer: true},
		{name: "form_field"},
	},
	encode: func(p event.Payload) []any {
		v := p.(event.Document)
		return []any{v.FilePath, v.FileName, v.Action, v.Page, v.FormField}
	},
	decode: func(vals []any) event.Payload {
		return event.Document{
			FilePath:  str(vals[0]),
			FileName:  str(vals[1]),
			Action:    str(vals[2]),
			Page:      num(vals[3]),
			FormField: str(vals[4]),
		}
	},
}

var screenFrameTable = table{
	name:      "screen_frame",
	kind:      event.KindScreenFrame,
	sessioned: true,
	columns:   text("path", "app", "window_title"),
	encode: func(p event.Payload) []any {
		v := p.(event.ScreenFrame)
		return []any{v.Path, v.App, v.WindowTitle}
	},
	decode: func(vals []any) event.Payload {
		return event.ScreenFrame{Path: str(vals[0]), App: str(vals[1]), WindowTitle: str(vals[2])}
	},
}

var applicationLogTable = table{
	name:    "application_log",
	kind:    event.KindApplicationLog,
	columns: text("level", "message", "source_name"),
	encode: func(p event.Payload) []any {
		v := p.(event.AppLog)
		return []any{v.Level, v.Message, v.SourceName}
	},
	decode: func(vals []any) event.Payload {
		return event.AppLog{Level: str(vals[0]), Message: str(vals[1]), SourceName: str(vals[2])}
	},
}

var (
	// Browser is the browser interaction recorder's store.
	Browser = Family{
		Schema: db.BrowserSchema,
		tables: []table{navigationTable, interactionTable},
	}

	// Desktop is the desktop/system activity recorder's store.
	Desktop = Family{
		Schema: db.DesktopSchema,
		tables: []table{keystrokeTable, mouseTable, spreadsheetTable, documentTable, screenFrameTable},
	}

	// AppLog holds lines tailed from bot application logs.
	AppLog = Family{
		Schema: db.AppLogSchema,
		tables: []table{applicationLogTable},
	}

	// Families lists every store family in correlation order.
	Families = []Family{Browser, Desktop, AppLog}
)

// FamilyFor returns the family that stores events of the given kind.
func FamilyFor(kind event.SourceKind) (Family, bool) {
	for _, f := range Families {
		for _, t := range f.tables {
			if t.kind == kind {
				return f, true
			}
		}
	}
	return Family{}, false
}
