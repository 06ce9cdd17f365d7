package logcollection

import (
	"fmt"
	"strings"
	"time"

	"github.com/nleeper/goment"
)

// TimestampFormat is a moment.js date layout such as "YYYY-MM-DD HH:mm Z",
// rendered by goment. Text inside [brackets] is copied verbatim.
type TimestampFormat struct {
	layout string
}

// CompileTimestampFormat checks a moment.js layout once, at configuration time.
func CompileTimestampFormat(layout string) (*TimestampFormat, error) {
	if strings.TrimSpace(layout) == "" {
		return nil, fmt.Errorf("timestamp format cannot be empty")
	}

	open := -1
	for i, char := range layout {
		switch {
		case char == '[' && open < 0:
			open = i
		case char == ']' && open >= 0:
			open = -1
		}
	}
	if open >= 0 {
		return nil, fmt.Errorf("unclosed '[' at offset %d in timestamp format %q", open, layout)
	}

	return &TimestampFormat{layout: layout}, nil
}

func (f *TimestampFormat) Format(t time.Time) string {
	g, err := goment.New(t)
	if err != nil {
		return t.Format(time.RFC3339)
	}
	return g.Format(f.layout)
}

func (f *TimestampFormat) String() string {
	return f.layout
}
