package browser

import (
	goruntime "runtime"

	"github.com/chromedp/chromedp"
)

func goosForTest() string { return goruntime.GOOS }

func chromedpDefaults() []chromedp.ExecAllocatorOption {
	return chromedp.DefaultExecAllocatorOptions[:]
}
