// internal/browser/manager.go
package browser

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"strings"
	"sync"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flow-automator/api/schemas"
	"github.com/xkilldash9x/flow-automator/internal/bridge"
	"github.com/xkilldash9x/flow-automator/internal/config"
	"github.com/xkilldash9x/flow-automator/internal/dom"
	"github.com/xkilldash9x/flow-automator/internal/executor"
	"github.com/xkilldash9x/flow-automator/internal/humanoid"
)

// ErrNoTarget is returned when no open tab matches the target URL.
var ErrNoTarget = errors.New("no Flow tab found")

const (
	startupTimeout = 30 * time.Second
	detachTimeout  = 5 * time.Second
)

// Options are the hooks the orchestrator installs on every attached tab.
type Options struct {
	// OnAttach runs after a new tab is attached, before it is returned.
	OnAttach func(ctx context.Context, caller bridge.Caller)
	// OnPageMessage receives unsolicited messages from the tab.
	OnPageMessage func(caller bridge.Caller, msg schemas.PageMessage)
}

// attachment is everything bound to one target.
type attachment struct {
	id     target.ID
	url    string
	cancel context.CancelFunc
	exec   *executor.Executor
	bridge *bridge.Bridge
}

// Manager owns the browser connection and the per-tab executors.
type Manager struct {
	logger     *zap.Logger
	cfg        config.BrowserConfig
	watcherCfg config.WatcherConfig
	downloads  string
	opts       Options

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu       sync.Mutex
	attached map[target.ID]*attachment
	closed   bool
}

// NewManager launches Chrome (or connects to browser.remote_url) and
// prepares the initial tab.
func NewManager(ctx context.Context, cfg config.Interface, logger *zap.Logger, opts Options) (*Manager, error) {
	m := &Manager{
		logger:     logger.Named("browser_manager"),
		cfg:        cfg.Browser(),
		watcherCfg: cfg.Watcher(),
		opts:       opts,
		attached:   make(map[target.ID]*attachment),
	}
	if dir := cfg.Download().Dir; dir != "" {
		expanded, err := homedir.Expand(dir)
		if err != nil {
			return nil, fmt.Errorf("could not expand download dir %q: %w", dir, err)
		}
		m.downloads = expanded
	}
	if err := m.launch(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) launch(ctx context.Context) error {
	if m.cfg.RemoteURL != "" {
		m.logger.Info("Connecting to running browser.", zap.String("url", m.cfg.RemoteURL))
		m.allocCtx, m.allocCancel = chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), m.cfg.RemoteURL)
	} else {
		m.logger.Info("Launching browser.", zap.Bool("headless", m.cfg.Headless))
		m.allocCtx, m.allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocatorOptions(m.cfg)...)
	}

	var ctxOpts []chromedp.ContextOption
	if m.cfg.Debug {
		ctxOpts = append(ctxOpts, chromedp.WithDebugf(m.logger.Sugar().Debugf))
	}
	m.browserCtx, m.browserCancel = chromedp.NewContext(m.allocCtx, ctxOpts...)

	// The first Run allocates the browser and must use the long-lived context.
	if err := chromedp.Run(m.browserCtx); err != nil {
		m.allocCancel()
		return fmt.Errorf("browser failed to start: %w", err)
	}

	actions := startupActions(m.cfg, m.downloads)
	if len(actions) > 0 {
		startCtx, cancel := CombineContext(m.browserCtx, ctx)
		defer cancel()
		startCtx, cancelTimeout := context.WithTimeout(startCtx, startupTimeout)
		defer cancelTimeout()
		if err := chromedp.Run(startCtx, actions...); err != nil {
			m.logger.Warn("Browser startup actions failed.", zap.Error(err))
		}
	}
	m.logger.Info("Browser ready.")
	return nil
}

// startupActions prepares the first tab: launched browsers get the
// automation mask, downloads are allowed into downloads, and the Flow page
// is opened when configured.
func startupActions(cfg config.BrowserConfig, downloads string) []chromedp.Action {
	var actions []chromedp.Action
	if cfg.RemoteURL == "" {
		actions = append(actions, maskAutomation())
	}
	if downloads != "" {
		actions = append(actions, cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(downloads).
			WithEventsEnabled(true))
	}
	if cfg.OpenTarget {
		actions = append(actions, chromedp.Navigate(cfg.TargetURL))
	}
	return actions
}

// allocatorOptions assembles launch flags: chromedp's defaults, overridden
// by allocatorFlags, plus the configured profile. A later Flag with the same
// name replaces the default and a false value drops the switch.
func allocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	for name, value := range allocatorFlags(cfg, goruntime.GOOS) {
		opts = append(opts, chromedp.Flag(name, value))
	}
	if cfg.UserDataDir != "" {
		if dir, err := homedir.Expand(cfg.UserDataDir); err == nil {
			opts = append(opts, chromedp.UserDataDir(dir))
		}
	}
	return opts
}

// allocatorFlags returns the command line switches for cfg on goos.
func allocatorFlags(cfg config.BrowserConfig, goos string) map[string]interface{} {
	flags := map[string]interface{}{
		"headless":               cfg.Headless,
		"disable-blink-features": "AutomationControlled",
		"enable-automation":      false,
		"hide-scrollbars":        cfg.Headless,
		"mute-audio":             cfg.Headless,
		"disable-popup-blocking": true,
	}
	if cfg.Headless {
		flags["disable-gpu"] = true
	}
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if name == "" {
			continue
		}
		if len(parts) == 2 {
			flags[name] = parts[1]
		} else {
			flags[name] = true
		}
	}
	if goos == "linux" {
		flags["no-sandbox"] = true
		flags["disable-dev-shm-usage"] = true
		flags["disable-setuid-sandbox"] = true
	}
	return flags
}

// Target returns the bridge to the first open Flow tab, attaching to it on
// first use. Attachments for tabs that have closed are released.
func (m *Manager) Target(ctx context.Context) (bridge.Caller, error) {
	listCtx, cancel := CombineContext(m.browserCtx, ctx)
	defer cancel()
	infos, err := chromedp.Targets(listCtx)
	if err != nil {
		return nil, fmt.Errorf("could not list browser targets: %w", err)
	}
	m.prune(infos)

	info := selectTarget(infos, m.cfg.TargetURL)
	if info == nil {
		return nil, ErrNoTarget
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, bridge.ErrClosed
	}
	if a, ok := m.attached[info.TargetID]; ok {
		m.mu.Unlock()
		return a.bridge, nil
	}
	m.mu.Unlock()

	a, err := m.attach(ctx, info)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.attached[info.TargetID]; ok {
		m.mu.Unlock()
		m.release(a, false)
		return existing.bridge, nil
	}
	m.attached[info.TargetID] = a
	m.mu.Unlock()

	if m.opts.OnAttach != nil {
		m.opts.OnAttach(ctx, a.bridge)
	}
	return a.bridge, nil
}

// selectTarget returns the first page whose URL starts with prefix.
func selectTarget(infos []*target.Info, prefix string) *target.Info {
	for _, info := range infos {
		if info == nil || info.Type != "page" {
			continue
		}
		if strings.HasPrefix(info.URL, prefix) {
			return info
		}
	}
	return nil
}

// attach wires page, input, executor and bridge onto one target.
func (m *Manager) attach(ctx context.Context, info *target.Info) (*attachment, error) {
	logger := m.logger.With(zap.String("target", string(info.TargetID)))

	tabCtx, cancel := m.browserCtx, context.CancelFunc(func() {})
	if c := chromedp.FromContext(m.browserCtx); c == nil || c.Target == nil || c.Target.TargetID != info.TargetID {
		tabCtx, cancel = chromedp.NewContext(m.browserCtx, chromedp.WithTargetID(info.TargetID))
		if err := chromedp.Run(tabCtx); err != nil {
			cancel()
			return nil, fmt.Errorf("could not attach to tab: %w", err)
		}
	}

	pg, err := newPage(ctx, tabCtx, logger)
	if err != nil {
		cancel()
		return nil, err
	}
	input := humanoid.New(m.cfg.Humanoid, logger, &cdpExecutor{tab: pg.tab}, nil)
	exec := executor.New(pg, input, dom.NewFinder(nil), m.watcherCfg, logger)
	br := bridge.New(exec, logger)
	exec.SetNotifier(br)
	if m.opts.OnPageMessage != nil {
		br.Listen(func(msg schemas.PageMessage) { m.opts.OnPageMessage(br, msg) })
	}

	logger.Info("Attached to Flow tab.", zap.String("url", info.URL))
	return &attachment{id: info.TargetID, url: info.URL, cancel: cancel, exec: exec, bridge: br}, nil
}

// prune releases attachments whose target is gone.
func (m *Manager) prune(infos []*target.Info) {
	live := make(map[target.ID]bool, len(infos))
	for _, info := range infos {
		if info != nil {
			live[info.TargetID] = true
		}
	}
	var stale []*attachment
	m.mu.Lock()
	for id, a := range m.attached {
		if !live[id] {
			stale = append(stale, a)
			delete(m.attached, id)
		}
	}
	m.mu.Unlock()
	for _, a := range stale {
		m.logger.Info("Flow tab closed, releasing it.", zap.String("target", string(a.id)))
		m.release(a, true)
	}
}

// release stops the executor and bridge. The chromedp context is only
// cancelled when the tab is already gone, since cancelling closes the tab.
func (m *Manager) release(a *attachment, gone bool) {
	ctx, cancel := Detach(m.browserCtx, detachTimeout)
	defer cancel()
	a.exec.Close(ctx)
	a.bridge.Close()
	if gone {
		a.cancel()
	}
}

// Shutdown releases every attachment and closes the browser connection.
// A launched browser exits; a remote one keeps running.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	all := make([]*attachment, 0, len(m.attached))
	for _, a := range m.attached {
		all = append(all, a)
	}
	m.attached = map[target.ID]*attachment{}
	m.mu.Unlock()

	m.logger.Info("Browser manager shutdown initiated.", zap.Int("attached", len(all)))
	for _, a := range all {
		m.release(a, false)
	}

	done := make(chan struct{})
	go func() {
		m.browserCancel()
		m.allocCancel()
		close(done)
	}()
	select {
	case <-done:
		m.logger.Info("Browser manager shut down.")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser shutdown interrupted: %w", ctx.Err())
	}
}
