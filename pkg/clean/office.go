package clean

import (
	"context"
	"fmt"
	"strings"
)

// officeMimes are the other office formats of spec.md §4.2 step 3:
// spreadsheet, presentation and XML.
var officeMimes = map[string]bool{
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":   true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.ms-excel":       true,
	"application/vnd.ms-powerpoint":  true,
	"application/xml":                true,
	"text/xml":                       true,
}

// OfficeStrategy is cleaning strategy 3: a best-effort converter
// producing markdown for spreadsheets, presentations and XML. Unlike
// PDF/Word there is no bundled local fallback library in this
// repository's dependency set, so an unreachable converter surfaces as
// a strategy error, which Engine.Clean returns as is: no later strategy
// is tried and the raw content is not passed through.
type OfficeStrategy struct {
	convert *ConvertClient
}

func NewOfficeStrategy(convert *ConvertClient) *OfficeStrategy { return &OfficeStrategy{convert: convert} }

func (o *OfficeStrategy) Name() string { return "office" }

func (o *OfficeStrategy) ShouldHandle(url, mimetype string, content []byte) bool {
	return officeMimes[strings.ToLower(mimetype)]
}

func (o *OfficeStrategy) Clean(ctx context.Context, mimetype string, content []byte) (string, error) {
	md, err := o.convert.Convert(ctx, content, mimetype)
	if err != nil {
		return "", fmt.Errorf("clean: office converter unavailable: %w", err)
	}
	return md, nil
}
