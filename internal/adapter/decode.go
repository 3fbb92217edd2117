// decode.go turns a raw HTTP response body into a slice of generic
// field maps, according to a store.ResponseShape's declared format.
// Supports json/keyValue/csv, plus an xml mode (using
// github.com/xml-comp/etree) for vendors whose status/balance
// endpoints return XML.
package adapter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xml-comp/etree"
	"github.com/nexnum/provider-core/internal/store"
)

// Row is one decoded record: a flat field-name -> raw-value map,
// selected from the response according to ResponseShape.Fields.
type Row map[string]string

// Decode dispatches on shape.Format.
func Decode(body []byte, shape store.ResponseShape) ([]Row, error) {
	switch shape.Format {
	case "", "json":
		return decodeJSON(body, shape)
	case "keyValue":
		return decodeKeyValue(body, shape)
	case "csv":
		return decodeCSV(body, shape)
	case "xml":
		return decodeXML(body, shape)
	default:
		return nil, fmt.Errorf("unsupported response format %q", shape.Format)
	}
}

func decodeJSON(body []byte, shape store.ResponseShape) ([]Row, error) {
	var root interface{}
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("failed to parse json response: %w", err)
	}

	list := root
	if shape.ListPath != "" {
		v, err := jsonPath(root, shape.ListPath)
		if err != nil {
			return nil, err
		}
		list = v
	}

	items, ok := list.([]interface{})
	if !ok {
		// A single object response (e.g. getBalance) is treated as one row.
		if m, ok := list.(map[string]interface{}); ok {
			items = []interface{}{m}
		} else {
			return nil, fmt.Errorf("response at path %q is not a list or object", shape.ListPath)
		}
	}

	rows := make([]Row, 0, len(items))
	for _, item := range items {
		row := make(Row, len(shape.Fields))
		for field, path := range shape.Fields {
			v, err := jsonPath(item, path)
			if err != nil {
				continue // field absent on this row: leave unset, caller decides default
			}
			row[field] = stringify(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// jsonPath resolves a dotted path like "data.prices" against a decoded
// JSON value. Array indices are not supported; list navigation happens
// via ListPath at the top of decodeJSON only.
func jsonPath(v interface{}, path string) (interface{}, error) {
	if path == "" || path == "." {
		return v, nil
	}
	cur := v
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot descend into %q: not an object", part)
		}
		next, ok := m[part]
		if !ok {
			return nil, fmt.Errorf("field %q not present", part)
		}
		cur = next
	}
	return cur, nil
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return trimFloat(t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%g", f)
	return s
}

// decodeKeyValue parses one "key<delim>value" pair per line, the
// convention several legacy SMS-activation vendors use for plain-text
// responses. The separator is shape.Delimiter, ":" when unset.
func decodeKeyValue(body []byte, shape store.ResponseShape) ([]Row, error) {
	delim := shape.Delimiter
	if delim == "" {
		delim = ":"
	}
	text := strings.TrimSpace(string(body))
	fields := make(map[string]string)
	for _, part := range strings.Split(text, "\n") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, delim, 2)
		if len(kv) != 2 {
			continue
		}
		fields[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}

	row := make(Row, len(shape.Fields))
	for field, key := range shape.Fields {
		if v, ok := fields[key]; ok {
			row[field] = v
		}
	}
	return []Row{row}, nil
}

// decodeCSV treats shape.Fields values as zero-based column indices
// (as strings, e.g. "0", "3").
func decodeCSV(body []byte, shape store.ResponseShape) ([]Row, error) {
	delim := ','
	if shape.Delimiter != "" {
		delim = rune(shape.Delimiter[0])
	}
	r := csv.NewReader(strings.NewReader(string(body)))
	r.Comma = delim
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv response: %w", err)
	}

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row := make(Row, len(shape.Fields))
		for field, idxStr := range shape.Fields {
			idx, err := atoi(idxStr)
			if err != nil || idx < 0 || idx >= len(rec) {
				continue
			}
			row[field] = rec[idx]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func atoi(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("not a column index: %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// decodeXML parses the body as an XML document and selects fields by
// etree element path relative to each selected element (e.g.
// "data/balance"), falling back to an attribute of that name, for
// vendors with XML status endpoints.
func decodeXML(body []byte, shape store.ResponseShape) ([]Row, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("failed to parse xml response: %w", err)
	}

	var elements []*etree.Element
	if shape.ListPath != "" {
		elements = doc.FindElements(shape.ListPath)
	} else {
		elements = []*etree.Element{doc.Root()}
	}

	rows := make([]Row, 0, len(elements))
	for _, el := range elements {
		if el == nil {
			continue
		}
		row := make(Row, len(shape.Fields))
		for field, path := range shape.Fields {
			if target := el.FindElement(path); target != nil {
				row[field] = target.Text()
			} else if attr := el.SelectAttr(path); attr != nil {
				row[field] = attr.Value
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
