package polymarket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The Gamma API is loose about types: numbers arrive as strings, lists as
// JSON-encoded strings, dates in several layouts or as epoch numbers. The
// flex* types below absorb those variants so rawMarket decodes one way.

// flexBool unmarshals from JSON bool or string ("true"/"false").
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// flexFloat unmarshals from a JSON number or a numeric string.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	*f = flexFloat(n)
	return nil
}

// flexString unmarshals from a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexStrings unmarshals a list given either as a JSON array or as a string
// holding a JSON-encoded array, e.g. "[\"Yes\", \"No\"]". Numeric elements
// are kept in their textual form.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*f = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			*f = nil
			return nil
		}
		data = []byte(s)
	}

	var items []any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&items); err != nil {
		// Single-quoted pseudo-JSON shows up in older payloads.
		alt := bytes.ReplaceAll(data, []byte("'"), []byte(`"`))
		dec = json.NewDecoder(bytes.NewReader(alt))
		dec.UseNumber()
		if err2 := dec.Decode(&items); err2 != nil {
			return fmt.Errorf("invalid list %s: %w", data, err)
		}
	}

	out := make([]string, len(items))
	for i, item := range items {
		switch v := item.(type) {
		case string:
			out[i] = v
		case json.Number:
			out[i] = v.String()
		case nil:
			out[i] = ""
		default:
			out[i] = fmt.Sprint(v)
		}
	}
	*f = out
	return nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// flexTime unmarshals ISO-like strings or unix epoch numbers (seconds or
// milliseconds). Unparseable values decode to the zero time.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	f.Time = time.Time{}
	if isNull(data) {
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		f.Time = fromEpoch(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return nil
	}
	f.Time = parseTime(s)
	return nil
}

func (f flexTime) ptr() *time.Time {
	if f.IsZero() {
		return nil
	}
	t := f.Time
	return &t
}

func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return fromEpoch(n)
	}
	return time.Time{}
}

func fromEpoch(n float64) time.Time {
	if n <= 0 {
		return time.Time{}
	}
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	return time.Unix(int64(n), 0).UTC()
}

func isNull(data []byte) bool {
	return len(data) == 0 || string(data) == "null"
}

// rawMarket is one market as returned by the Gamma /markets endpoints.
type rawMarket struct {
	ID             flexString  `json:"id"`
	ConditionID    string      `json:"conditionId"`
	ConditionIDAlt string      `json:"condition_id"`
	Question       string      `json:"question"`
	Description    string      `json:"description"`
	Category       string      `json:"category"`
	GroupSlug      string      `json:"groupSlug"`
	Outcomes       flexStrings `json:"outcomes"`
	OutcomePrices  flexStrings `json:"outcomePrices"`
	ClobTokenIDs   flexStrings `json:"clobTokenIds"`
	CreatedAt      flexTime    `json:"createdAt"`
	EndDate        flexTime    `json:"endDate"`
	EndDateISO     flexTime    `json:"end_date_iso"`
	ClosedTime     flexTime    `json:"closedTime"`
	Closed         flexBool    `json:"closed"`
	Resolved       flexBool    `json:"resolved"`
	WinningOutcome string      `json:"winning_outcome"`
	Winner         string      `json:"winner"`
	Resolution     string      `json:"resolution"`
	LiquidityNum   flexFloat   `json:"liquidityNum"`
	Liquidity      flexFloat   `json:"liquidity"`
	VolumeNum      flexFloat   `json:"volumeNum"`
	Volume         flexFloat   `json:"volume"`
	Volume24hr     flexFloat   `json:"volume24hr"`
}

// pricePoint is one entry of the CLOB price history.
type pricePoint struct {
	T flexFloat `json:"t"`
	P flexFloat `json:"p"`
}
