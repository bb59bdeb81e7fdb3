package models

import (
	"fmt"
	"sort"
	"strings"
)

// ParseWarning описывает дефект журнала, который не мешает продолжить работу: отсутствующее поле,
// замененное значением по умолчанию, дубликат индекса, неканонический тег и т.п.
type ParseWarning struct {
	Message string
	Fields  map[string]any
}

func (w ParseWarning) String() string {
	if len(w.Fields) == 0 {
		return w.Message
	}

	keys := make([]string, 0, len(w.Fields))
	for key := range w.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", key, w.Fields[key]))
	}
	return w.Message + " (" + strings.Join(parts, ", ") + ")"
}
