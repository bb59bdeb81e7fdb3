package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	DefaultFormatVersion = "7"
	DefaultDialect       = "postgresql"
	DefaultEntryVersion  = "7"
)

var ErrMalformedJournal = errors.New("malformed journal")

type Entry struct {
	Index       int
	Version     string
	When        Timestamp
	Tag         Tag
	Breakpoints bool

	// Extra - неизвестные поля записи, переносятся без изменений.
	Extra map[string]json.RawMessage
}

type Journal struct {
	Version string
	Dialect string
	Entries []Entry

	Extra map[string]json.RawMessage
}

var (
	journalKeys = []string{"version", "dialect", "entries"}
	entryKeys   = []string{"idx", "version", "when", "tag", "breakpoints"}
)

// ParseJournal разбирает журнал. Ошибка ErrMalformedJournal возвращается, только если документ
// не является объектом или entries не является массивом объектов. Отсутствующие и некорректные
// поля записей заменяются значениями по умолчанию, каждая замена попадает в список предупреждений.
func ParseJournal(data []byte) (*Journal, []ParseWarning, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedJournal, err)
	}
	if raw == nil {
		return nil, nil, fmt.Errorf("%w: document is not an object", ErrMalformedJournal)
	}

	var warnings []ParseWarning
	journal := &Journal{
		Version: decodeField(raw, "version", "", -1, &warnings),
		Dialect: decodeField(raw, "dialect", "", -1, &warnings),
		Extra:   extraFields(raw, journalKeys),
	}

	rawEntries, ok := raw["entries"]
	if !ok {
		warnings = append(warnings, ParseWarning{Message: "journal has no entries key, treating as empty"})
		return journal, warnings, nil
	}

	var entries []map[string]json.RawMessage
	if err := json.Unmarshal(rawEntries, &entries); err != nil {
		return nil, nil, fmt.Errorf("%w: entries: %v", ErrMalformedJournal, err)
	}

	journal.Entries = make([]Entry, 0, len(entries))
	for i, rawEntry := range entries {
		if rawEntry == nil {
			return nil, nil, fmt.Errorf("%w: entry %d is not an object", ErrMalformedJournal, i)
		}

		entry := Entry{
			Index:       decodeField(rawEntry, "idx", 0, i, &warnings),
			Version:     decodeField(rawEntry, "version", DefaultEntryVersion, i, &warnings),
			When:        TimestampFromMillis(decodeField(rawEntry, "when", int64(0), i, &warnings)),
			Breakpoints: decodeField(rawEntry, "breakpoints", false, i, &warnings),
			Extra:       extraFields(rawEntry, entryKeys),
		}

		tag, err := ParseTag(decodeField(rawEntry, "tag", "", i, &warnings))
		if err != nil {
			warnings = append(warnings, ParseWarning{
				Message: "non-canonical tag kept verbatim",
				Fields:  map[string]any{"position": i, "tag": tag.String()},
			})
		}
		entry.Tag = tag

		journal.Entries = append(journal.Entries, entry)
	}

	warnings = append(warnings, journal.Validate()...)
	return journal, warnings, nil
}

func decodeField[T any](raw map[string]json.RawMessage, key string, def T, position int, warnings *[]ParseWarning) T {
	value, ok := raw[key]
	fields := map[string]any{"key": key}
	if position >= 0 {
		fields["position"] = position
	}

	if !ok {
		// в заголовке журнала отсутствие поля допустимо
		if position >= 0 {
			fields["default"] = def
			*warnings = append(*warnings, ParseWarning{Message: "missing field, using default", Fields: fields})
		}
		return def
	}

	var decoded T
	if err := json.Unmarshal(value, &decoded); err != nil {
		fields["default"] = def
		fields["raw"] = string(value)
		*warnings = append(*warnings, ParseWarning{Message: "invalid field value, using default", Fields: fields})
		return def
	}

	return decoded
}

func extraFields(raw map[string]json.RawMessage, known []string) map[string]json.RawMessage {
	var extra map[string]json.RawMessage
	for key, value := range raw {
		isKnown := false
		for _, k := range known {
			if k == key {
				isKnown = true
				break
			}
		}
		if isKnown {
			continue
		}
		if extra == nil {
			extra = make(map[string]json.RawMessage)
		}
		extra[key] = value
	}
	return extra
}

// Validate проверяет инварианты журнала: уникальность индексов и тегов, совпадение префикса
// тега с индексом.
func (j *Journal) Validate() []ParseWarning {
	var warnings []ParseWarning

	indices := make(map[int]string, len(j.Entries))
	tags := mapset.NewThreadUnsafeSet[string]()

	for _, entry := range j.Entries {
		tag := entry.Tag.String()

		if other, ok := indices[entry.Index]; ok {
			warnings = append(warnings, ParseWarning{
				Message: "duplicate index",
				Fields:  map[string]any{"idx": entry.Index, "tag": tag, "other_tag": other},
			})
		} else {
			indices[entry.Index] = tag
		}

		if !tags.Add(tag) {
			warnings = append(warnings, ParseWarning{
				Message: "duplicate tag",
				Fields:  map[string]any{"idx": entry.Index, "tag": tag},
			})
		}

		if entry.Tag.IsCanonical() && !entry.Tag.IsZero() && entry.Tag.Index != entry.Index {
			warnings = append(warnings, ParseWarning{
				Message: "tag prefix does not match index",
				Fields:  map[string]any{"idx": entry.Index, "tag": tag},
			})
		}
	}

	return warnings
}

func (j *Journal) FormatVersionOrDefault() string {
	if j.Version == "" {
		return DefaultFormatVersion
	}
	return j.Version
}

func (j *Journal) DialectOrDefault() string {
	if j.Dialect == "" {
		return DefaultDialect
	}
	return j.Dialect
}

// MaxIndex возвращает максимальный индекс или -1 для пустого журнала.
func (j *Journal) MaxIndex() int {
	maxIndex := -1
	for i := range j.Entries {
		if j.Entries[i].Index > maxIndex {
			maxIndex = j.Entries[i].Index
		}
	}
	return maxIndex
}

func (j *Journal) TagSet() mapset.Set[string] {
	tags := mapset.NewThreadUnsafeSetWithSize[string](len(j.Entries))
	for i := range j.Entries {
		tags.Add(j.Entries[i].Tag.String())
	}
	return tags
}

func (j *Journal) IndexSet() mapset.Set[int] {
	indices := mapset.NewThreadUnsafeSetWithSize[int](len(j.Entries))
	for i := range j.Entries {
		indices.Add(j.Entries[i].Index)
	}
	return indices
}

func (j *Journal) SortByIndex() {
	sort.SliceStable(j.Entries, func(a, b int) bool {
		return j.Entries[a].Index < j.Entries[b].Index
	})
}

func (j *Journal) Clone() *Journal {
	clone := &Journal{
		Version: j.Version,
		Dialect: j.Dialect,
		Entries: make([]Entry, len(j.Entries)),
		Extra:   cloneExtra(j.Extra),
	}
	for i := range j.Entries {
		clone.Entries[i] = j.Entries[i].Clone()
	}
	return clone
}

func (e Entry) Clone() Entry {
	e.Extra = cloneExtra(e.Extra)
	return e
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	clone := make(map[string]json.RawMessage, len(extra))
	for key, value := range extra {
		clone[key] = append(json.RawMessage(nil), value...)
	}
	return clone
}

// Encode возвращает представление журнала на диске: JSON с отступом в два пробела.
func (j *Journal) Encode() ([]byte, error) {
	return json.MarshalIndent(j, "", "  ")
}

func (j *Journal) MarshalJSON() ([]byte, error) {
	var object orderedObject

	if j.Version != "" {
		object.add("version", j.Version)
	}
	if j.Dialect != "" {
		object.add("dialect", j.Dialect)
	}

	entries := j.Entries
	if entries == nil {
		entries = []Entry{}
	}
	object.add("entries", entries)
	object.addExtra(j.Extra)

	return object.bytes()
}

func (e Entry) MarshalJSON() ([]byte, error) {
	var object orderedObject

	object.add("idx", e.Index)
	object.add("version", e.Version)
	object.add("when", e.When)
	object.add("tag", e.Tag.String())
	object.add("breakpoints", e.Breakpoints)
	object.addExtra(e.Extra)

	return object.bytes()
}

// orderedObject пишет JSON-объект с фиксированным порядком ключей.
type orderedObject struct {
	buf bytes.Buffer
	err error
}

func (o *orderedObject) add(key string, value any) {
	if o.err != nil {
		return
	}

	encodedValue, err := json.Marshal(value)
	if err != nil {
		o.err = fmt.Errorf("marshal %s: %w", key, err)
		return
	}
	encodedKey, _ := json.Marshal(key)

	if o.buf.Len() == 0 {
		o.buf.WriteByte('{')
	} else {
		o.buf.WriteByte(',')
	}
	o.buf.Write(encodedKey)
	o.buf.WriteByte(':')
	o.buf.Write(encodedValue)
}

func (o *orderedObject) addExtra(extra map[string]json.RawMessage) {
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		o.add(key, extra[key])
	}
}

func (o *orderedObject) bytes() ([]byte, error) {
	if o.err != nil {
		return nil, o.err
	}
	if o.buf.Len() == 0 {
		return []byte("{}"), nil
	}
	o.buf.WriteByte('}')
	return o.buf.Bytes(), nil
}
