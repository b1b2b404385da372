package queue

import (
	"fmt"
	"strconv"
)

func itoa(v int) string { return strconv.Itoa(v) }

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
