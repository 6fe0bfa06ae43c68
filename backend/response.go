package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"strdash/core"
)

// tableSchema describes the columns/rows payload shared by the query
// endpoints. Cells must be JSON scalars.
const tableSchema = `{
  "type": "object",
  "required": ["columns", "rows"],
  "properties": {
    "columns": {"type": "array", "items": {"type": "string"}},
    "rows": {
      "type": "array",
      "items": {
        "type": "array",
        "items": {"type": ["string", "number", "boolean", "null"]}
      }
    }
  }
}`

var tableSchemaLoader = gojsonschema.NewStringLoader(tableSchema)

// Response is a decoded backend JSON body. It is produced once at the
// HTTP boundary; callers read typed fields from it.
type Response struct {
	Success bool
	Message string

	endpoint string
	fields   map[string]json.RawMessage
}

func decodeResponse(endpoint string, body []byte) (*Response, error) {
	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &Error{Kind: KindDecode, Endpoint: endpoint, Err: err}
	}

	r := &Response{endpoint: endpoint, fields: fields}
	raw, ok := fields["success"]
	if !ok {
		return nil, &Error{Kind: KindDecode, Endpoint: endpoint, Message: "response has no success flag"}
	}
	if err := json.Unmarshal(raw, &r.Success); err != nil {
		return nil, &Error{Kind: KindDecode, Endpoint: endpoint, Message: "success flag is not a boolean", Err: err}
	}
	r.Message = r.String("message")
	return r, nil
}

// Err converts a success:false response into a KindBusiness error.
func (r *Response) Err() error {
	if r.Success {
		return nil
	}
	return &Error{Kind: KindBusiness, Endpoint: r.endpoint, Message: r.Message}
}

// Has reports whether the body carries a non-null field.
func (r *Response) Has(name string) bool {
	raw, ok := r.fields[name]
	return ok && !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Field decodes a named field into dst. Numbers decode as json.Number
// when dst is an interface.
func (r *Response) Field(name string, dst any) error {
	raw, ok := r.fields[name]
	if !ok {
		return fmt.Errorf("field %q not present", name)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return &Error{Kind: KindDecode, Endpoint: r.endpoint, Message: "field " + name, Err: err}
	}
	return nil
}

// String returns a scalar field as a string, or "" when absent or null.
func (r *Response) String(name string) string {
	var v any
	if !r.Has(name) || r.Field(name, &v) != nil {
		return ""
	}
	return core.ScalarString(v)
}

// Int returns an integral field, or 0 when absent or not a number.
func (r *Response) Int(name string) int64 {
	var n json.Number
	if !r.Has(name) || r.Field(name, &n) != nil {
		return 0
	}
	i, err := n.Int64()
	if err != nil {
		return 0
	}
	return i
}

// Table returns the columns/rows payload. A body without columns yields
// an empty table, since dependent endpoints omit them when nothing
// matched. A malformed payload is a KindDecode error.
func (r *Response) Table() (*core.Table, error) {
	return r.TableField("")
}

// TableField is Table for a payload nested under name. An empty name
// selects the top-level columns/rows.
func (r *Response) TableField(name string) (*core.Table, error) {
	columns, rows, err := r.tableParts(name)
	if err != nil {
		return nil, err
	}
	if columns == nil {
		return &core.Table{Columns: []string{}, Rows: [][]any{}}, nil
	}
	if rows == nil {
		rows = json.RawMessage("[]")
	}

	doc := fmt.Sprintf(`{"columns":%s,"rows":%s}`, columns, rows)
	result, err := gojsonschema.Validate(tableSchemaLoader, gojsonschema.NewStringLoader(doc))
	if err != nil {
		return nil, &Error{Kind: KindDecode, Endpoint: r.endpoint, Message: "table payload", Err: err}
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, &Error{Kind: KindDecode, Endpoint: r.endpoint, Message: "table payload: " + strings.Join(msgs, "; ")}
	}

	t := &core.Table{}
	dec := json.NewDecoder(strings.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(t); err != nil {
		return nil, &Error{Kind: KindDecode, Endpoint: r.endpoint, Message: "table payload", Err: err}
	}
	if t.Rows == nil {
		t.Rows = [][]any{}
	}
	if err := t.Validate(); err != nil {
		return nil, &Error{Kind: KindDecode, Endpoint: r.endpoint, Message: "table payload", Err: err}
	}
	return t, nil
}

func (r *Response) tableParts(name string) (columns, rows json.RawMessage, err error) {
	if name == "" {
		if r.Has("columns") {
			columns = r.fields["columns"]
		}
		if r.Has("rows") {
			rows = r.fields["rows"]
		}
		return columns, rows, nil
	}
	if !r.Has(name) {
		return nil, nil, nil
	}
	var nested struct {
		Columns json.RawMessage `json:"columns"`
		Rows    json.RawMessage `json:"rows"`
	}
	if err := json.Unmarshal(r.fields[name], &nested); err != nil {
		return nil, nil, &Error{Kind: KindDecode, Endpoint: r.endpoint, Message: "field " + name, Err: err}
	}
	if len(nested.Columns) == 0 || string(nested.Columns) == "null" {
		return nil, nil, nil
	}
	if string(nested.Rows) == "null" {
		nested.Rows = nil
	}
	return nested.Columns, nested.Rows, nil
}
