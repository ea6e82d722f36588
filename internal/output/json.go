package output

import (
	"encoding/json"
	"fmt"
	"io"
)

// Format selects how command results are written
type Format string

const (
	TextFormat   Format = "text"
	JSONFormat   Format = "json"
	PrettyFormat Format = "pretty"
)

// ParseFormat validates a --output flag value
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case "", TextFormat:
		return TextFormat, nil
	case JSONFormat, PrettyFormat:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown output format %q (valid: text, json, pretty)", s)
	}
}

// FormatJSON outputs v as JSON followed by a newline
func FormatJSON(v any, writer io.Writer, pretty bool) error {
	var data []byte
	var err error

	if pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	data = append(data, '\n')
	_, err = writer.Write(data)
	if err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}

	return nil
}

// Write emits v in the requested format. text renders the human summary.
func Write(writer io.Writer, format Format, v any, text func(io.Writer) error) error {
	switch format {
	case JSONFormat:
		return FormatJSON(v, writer, false)
	case PrettyFormat:
		return FormatJSON(v, writer, true)
	default:
		return text(writer)
	}
}
