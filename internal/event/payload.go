package event

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the source-specific body of an event. The set of
// implementations is closed: one struct per SourceKind.
type Payload interface {
	Kind() SourceKind
	// Fields exposes the descriptive text used by the inference passes.
	Fields() Fields
	isPayload()
}

// Fields is the kind-independent view of a payload.
type Fields struct {
	App    string // active application or executable
	Window string // window title
	URL    string
	Title  string // page, workbook or document name
	Action string // action type (navigate, click, type, edit, ...)
	Text   string // remaining free text (element ids, keys, values, messages)
}

// Join concatenates every non-empty field, separated by spaces.
func (f Fields) Join() string {
	parts := make([]string, 0, 6)
	for _, s := range []string{f.App, f.Window, f.URL, f.Title, f.Action, f.Text} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Navigation is a page load recorded by the browser recorder.
type Navigation struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

func (Navigation) Kind() SourceKind { return KindNavigation }
func (Navigation) isPayload()       {}
func (p Navigation) Fields() Fields {
	return Fields{URL: p.URL, Title: p.Title, Action: "navigate"}
}

// Interaction is a click, input, change or submit on a page element.
type Interaction struct {
	Action       string `json:"action"`
	ElementTag   string `json:"element_tag,omitempty"`
	ElementID    string `json:"element_id,omitempty"`
	ElementName  string `json:"element_name,omitempty"`
	ElementType  string `json:"element_type,omitempty"`
	ElementValue string `json:"element_value,omitempty"`
}

func (Interaction) Kind() SourceKind { return KindElementInteraction }
func (Interaction) isPayload()       {}
func (p Interaction) Fields() Fields {
	return Fields{
		Action: p.Action,
		Text:   joinNonEmpty(p.ElementTag, p.ElementID, p.ElementName, p.ElementType),
	}
}

// Keystroke is a single key press observed by the desktop recorder.
type Keystroke struct {
	Key         string `json:"key"`
	App         string `json:"app,omitempty"`
	WindowTitle string `json:"window_title,omitempty"`
}

func (Keystroke) Kind() SourceKind { return KindKeystroke }
func (Keystroke) isPayload()       {}
func (p Keystroke) Fields() Fields {
	return Fields{App: p.App, Window: p.WindowTitle, Action: "type", Text: p.Key}
}

// Mouse is a click or scroll observed by the desktop recorder.
type Mouse struct {
	EventType   string `json:"event_type"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	App         string `json:"app,omitempty"`
	WindowTitle string `json:"window_title,omitempty"`
}

func (Mouse) Kind() SourceKind { return KindMouse }
func (Mouse) isPayload()       {}
func (p Mouse) Fields() Fields {
	return Fields{App: p.App, Window: p.WindowTitle, Action: p.EventType}
}

// Spreadsheet is a cell-level change in a workbook.
type Spreadsheet struct {
	Workbook  string `json:"workbook"`
	Worksheet string `json:"worksheet,omitempty"`
	Cell      string `json:"cell,omitempty"`
	Value     string `json:"value,omitempty"`
	Formula   string `json:"formula,omitempty"`
	Action    string `json:"action,omitempty"`
}

func (Spreadsheet) Kind() SourceKind { return KindSpreadsheet }
func (Spreadsheet) isPayload()       {}
func (p Spreadsheet) Fields() Fields {
	return Fields{
		App:    "spreadsheet",
		Title:  joinNonEmpty(p.Workbook, p.Worksheet),
		Action: p.Action,
		Text:   joinNonEmpty(p.Cell, p.Formula),
	}
}

// Document is an open, read or form-fill action on a document.
type Document struct {
	FilePath  string `json:"file_path,omitempty"`
	FileName  string `json:"file_name"`
	Action    string `json:"action,omitempty"`
	Page      int    `json:"page,omitempty"`
	FormField string `json:"form_field,omitempty"`
}

func (Document) Kind() SourceKind { return KindDocument }
func (Document) isPayload()       {}
func (p Document) Fields() Fields {
	return Fields{App: "document", Title: p.FileName, Action: p.Action, Text: p.FormField}
}

// AppLog is one line of a bot's application log.
type AppLog struct {
	Level      string `json:"level,omitempty"`
	Message    string `json:"message"`
	SourceName string `json:"source_name,omitempty"`
}

func (AppLog) Kind() SourceKind { return KindApplicationLog }
func (AppLog) isPayload()       {}
func (p AppLog) Fields() Fields {
	return Fields{Action: "log", Text: p.Message}
}

// ScreenFrame references a captured screenshot on disk.
type ScreenFrame struct {
	Path        string `json:"path"`
	App         string `json:"app,omitempty"`
	WindowTitle string `json:"window_title,omitempty"`
}

func (ScreenFrame) Kind() SourceKind { return KindScreenFrame }
func (ScreenFrame) isPayload()       {}
func (p ScreenFrame) Fields() Fields {
	return Fields{App: p.App, Window: p.WindowTitle, Action: "capture"}
}

// DecodePayload decodes the JSON body of an event of the given kind.
func DecodePayload(kind SourceKind, raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindNavigation:
		var v Navigation
		err = json.Unmarshal(raw, &v)
		p = v
	case KindElementInteraction:
		var v Interaction
		err = json.Unmarshal(raw, &v)
		p = v
	case KindKeystroke:
		var v Keystroke
		err = json.Unmarshal(raw, &v)
		p = v
	case KindMouse:
		var v Mouse
		err = json.Unmarshal(raw, &v)
		p = v
	case KindSpreadsheet:
		var v Spreadsheet
		err = json.Unmarshal(raw, &v)
		p = v
	case KindDocument:
		var v Document
		err = json.Unmarshal(raw, &v)
		p = v
	case KindApplicationLog:
		var v AppLog
		err = json.Unmarshal(raw, &v)
		p = v
	case KindScreenFrame:
		var v ScreenFrame
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", ErrMalformedEvent, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decoding %s payload: %v", ErrMalformedEvent, kind, err)
	}
	return p, nil
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return strings.Join(out, " ")
}
