package shopify

import (
	"errors"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cast"
)

func errorsAs[T error](err error, target *T) bool {
	return errors.As(err, target)
}

// joinSlice renders a decoded JSON list as a joined string cell.
func joinSlice(items []interface{}, sep string) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, cast.ToString(item))
	}
	return strings.Join(parts, sep)
}

// jsonCell renders any structure as a JSON cell value, "" on nil.
func jsonCell(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// trimFloat formats a float with no trailing zeros (1.5 -> "1.5",
// 150 -> "150").
func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
