package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Timestamp в журнале хранится как миллисекунды с начала эпохи.
type Timestamp struct {
	time.Time
}

func TimestampFromMillis(ms int64) Timestamp {
	return Timestamp{Time: time.UnixMilli(ms)}
}

func (c Timestamp) Millis() int64 {
	return c.Time.UnixMilli()
}

func (c Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Millis())
}

func (c *Timestamp) UnmarshalJSON(data []byte) error {
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*c = TimestampFromMillis(ms)
	return nil
}

func (c Timestamp) Value() (driver.Value, error) {
	return c.Time, nil
}

func (c *Timestamp) Scan(value interface{}) error {
	switch v := value.(type) {
	case time.Time:
		*c = Timestamp{Time: v}
	case int64:
		*c = TimestampFromMillis(v)
	case string:
		return c.scanString(v)
	case []byte:
		return c.scanString(string(v))
	case nil:
		*c = Timestamp{}
	default:
		return fmt.Errorf("invalid type %T for timestamp", value)
	}

	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (c *Timestamp) scanString(value string) error {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			*c = Timestamp{Time: parsed}
			return nil
		}
	}
	return fmt.Errorf("invalid timestamp %q", value)
}
