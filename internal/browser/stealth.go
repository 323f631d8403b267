package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// maskAutomationScript runs before any page script in documents of a
// launched browser and hides the automation markers Flow can observe.
const maskAutomationScript = `(() => {
  Object.defineProperty(Navigator.prototype, 'webdriver', { get: () => undefined, configurable: true });
  if (!window.chrome) {
    Object.defineProperty(window, 'chrome', { value: { runtime: {} }, configurable: true });
  }
})();`

// maskAutomation installs maskAutomationScript for future documents.
func maskAutomation() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(maskAutomationScript).Do(ctx); err != nil {
			return fmt.Errorf("failed to install automation mask: %w", err)
		}
		return nil
	})
}
