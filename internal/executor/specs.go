package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/dom"
)

// optionSelector matches the clickable choices inside a spec control.
const optionSelector = `button, [role="option"], [role="tab"], [role="radio"], [role="menuitemradio"], li, div[tabindex]`

// ApplyVideoSpecs selects every non-empty option in specs. Each field is
// applied against a fresh snapshot since a selection may re-render the page.
func (e *Executor) ApplyVideoSpecs(ctx context.Context, specs schemas.VideoSpecs) schemas.SpecResult {
	results := schemas.SpecResult{}
	for _, f := range specs.Fields() {
		res := e.applySpec(ctx, f.Field, f.Value)
		if !res.Success {
			e.logger.Debug("Video option not applied.", zap.String("field", string(f.Field)), zap.String("error", res.Error))
		}
		results[f.Field] = res
	}
	return results
}

func (e *Executor) applySpec(ctx context.Context, field schemas.SpecField, value string) schemas.SpecFieldResult {
	if value == "" {
		return schemas.SpecFieldResult{Success: true, Skipped: true}
	}
	desc, ok := e.finder.Descriptor(schemas.SpecRole(field))
	if !ok {
		return schemas.SpecFieldResult{Error: fmt.Sprintf("No picked element for spec: %s", field)}
	}

	snap, err := e.page.Snapshot(ctx)
	if err != nil {
		return schemas.SpecFieldResult{Error: fmt.Sprintf("page snapshot failed: %v", err)}
	}
	m, found := snap.Resolve(desc)
	if !found {
		return schemas.SpecFieldResult{Error: fmt.Sprintf("Spec control not found: %s", field)}
	}

	want := strings.ToLower(value)
	container := snap.Select(m.Node)
	var choice *goquery.Selection
	container.Find(optionSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.Contains(strings.ToLower(strings.TrimSpace(s.Text())), want) {
			choice = s
			return false
		}
		return true
	})
	if choice == nil && strings.Contains(strings.ToLower(strings.TrimSpace(container.Text())), want) {
		// The control itself toggles through values.
		choice = container
	}
	if choice == nil {
		return schemas.SpecFieldResult{Error: fmt.Sprintf("No matching option %q found in spec control: %s", value, field)}
	}

	if err := e.input.Click(ctx, dom.SelectorFor(choice.Get(0))); err != nil {
		return schemas.SpecFieldResult{Error: err.Error()}
	}
	return schemas.SpecFieldResult{Success: true}
}
