package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrNonCanonicalTag = errors.New("tag is not in NNNN_name form")

// Tag - идентичность миграции вида NNNN_name, общая для записи журнала и файла на диске.
// Неканонический тег хранится дословно, чтобы запись журнала не менялась при чтении и записи.
type Tag struct {
	Index int
	Name  string

	literal string
}

func NewTag(index int, name string) Tag {
	return Tag{Index: index, Name: name}
}

func (t Tag) String() string {
	if t.literal != "" {
		return t.literal
	}
	if t.IsZero() {
		return ""
	}
	return formatTag(t.Index, t.Name)
}

func formatTag(index int, name string) string {
	return fmt.Sprintf("%04d_%s", index, name)
}

func (t Tag) IsZero() bool {
	return t.literal == "" && t.Index == 0 && t.Name == ""
}

func (t Tag) IsCanonical() bool {
	return t.literal == ""
}

// WithIndex возвращает канонический тег с тем же именем и новым индексом.
func (t Tag) WithIndex(index int) Tag {
	tag := Tag{Index: index, Name: t.Name}
	if tag.IsZero() {
		tag.literal = formatTag(index, t.Name)
	}
	return tag
}

func (t Tag) Value() (driver.Value, error) {
	return t.String(), nil
}

func (t *Tag) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*t = Tag{}
	case string:
		*t, _ = ParseTag(v)
	case []byte:
		*t, _ = ParseTag(string(v))
	default:
		return fmt.Errorf("invalid type %T for tag", value)
	}
	return nil
}

// ParseTag разбирает тег по первому "_". Ошибка ErrNonCanonicalTag не мешает использовать
// результат: Index равен -1, если префикс не число, Name - все после первого "_".
func ParseTag(tagString string) (Tag, error) {
	if tagString == "" {
		return Tag{}, nil
	}

	prefix, name, found := strings.Cut(tagString, "_")

	index, err := strconv.Atoi(prefix)
	if err != nil || index < 0 {
		index = -1
	}
	if !found {
		name = ""
	}

	tag := Tag{Index: index, Name: name}
	if !found || index < 0 || formatTag(index, name) != tagString {
		tag.literal = tagString
		return tag, fmt.Errorf("%w: %q", ErrNonCanonicalTag, tagString)
	}
	if tag.IsZero() {
		// "0000_" иначе неотличим от пустого тега
		tag.literal = tagString
	}

	return tag, nil
}

func MustParseTag(tagString string) Tag {
	tag, err := ParseTag(tagString)
	if err != nil {
		panic(err)
	}
	return tag
}
