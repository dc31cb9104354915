// Package snitch maps the documents of a collection run onto fleet
// entities.
//
// Every document is a JSON object whose "data" member holds the payload;
// some also carry the "environment" they were collected from. Each
// Snitcher reads one document family and writes its subgraph through the
// ingestion session, creating children before reconciling the edges that
// point at them.
package snitch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/roach88/snitch/internal/ingest"
	"github.com/roach88/snitch/internal/propval"
	"github.com/roach88/snitch/internal/run"
)

// Default returns the built-in snitchers in ingestion order. Hosts must
// exist before the per-host families run.
func Default() []ingest.Snitcher {
	return []ingest.Snitcher{
		Environment{},
		Git{},
		Host{},
		Configfile{},
		Pip{},
		Apt{},
		Uservars{},
	}
}

type document struct {
	Environment *run.Environment `json:"environment"`
	Data        json.RawMessage  `json:"data"`
}

// readDocument reads path. The bool is false if the file does not exist.
func readDocument(path string) (document, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return document{}, false, nil
	}
	if err != nil {
		return document{}, false, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return document{}, false, fmt.Errorf("%s: %w", path, err)
	}
	return doc, true, nil
}

// decode decodes the document payload into v, keeping numbers exact.
func (d document) decode(v any) error {
	if len(d.Data) == 0 || string(d.Data) == "null" {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(d.Data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// lookup follows a colon-separated key path through nested objects.
func lookup(m map[string]any, path string) any {
	var cur any = m
	for _, k := range strings.Split(path, ":") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = obj[k]
	}
	return cur
}

// str renders a fact as a property string. Objects and lists become
// canonical JSON.
func str(v any) string {
	n, err := propval.Normalize(v)
	if err != nil {
		return ""
	}
	return propval.String(n)
}

func int64p(v any) *int64 {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return &i
		}
		if f, err := x.Float64(); err == nil {
			i := int64(f)
			return &i
		}
	case string:
		if i, err := strconv.ParseInt(x, 10, 64); err == nil {
			return &i
		}
	}
	return nil
}

func boolp(v any) *bool {
	switch x := v.(type) {
	case bool:
		return &x
	case string:
		if b, err := strconv.ParseBool(x); err == nil {
			return &b
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
