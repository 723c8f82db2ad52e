package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"
)

// ErrClosed is returned by Render once the session has been closed.
var ErrClosed = errors.New("browser session closed")

// Browser is one rendering session: a playwright driver, a chromium
// instance and a single browser context. Acquire it with New and release
// it with Close.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	context playwright.BrowserContext
	opts    *Options
	logger  *slog.Logger
	closed  bool
}

type Options struct {
	Headless       bool
	Timeout        time.Duration
	SettleDelay    time.Duration
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
	ExtraHeaders   map[string]string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:       true,
		Timeout:        30 * time.Second,
		SettleDelay:    time.Second,
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		ViewportWidth:  1920,
		ViewportHeight: 1200,
		AcceptLanguage: "en-US,en;q=0.9",
		TimezoneID:     "America/New_York",
		Locale:         "en-US",
		ExtraHeaders: map[string]string{
			"Accept": "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		},
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o *Options) withDefaults() *Options {
	def := DefaultOptions()
	out := *o
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.UserAgent == "" {
		out.UserAgent = def.UserAgent
	}
	if out.ViewportWidth == 0 || out.ViewportHeight == 0 {
		out.ViewportWidth, out.ViewportHeight = def.ViewportWidth, def.ViewportHeight
	}
	if out.Locale == "" {
		out.Locale = def.Locale
	}
	if out.TimezoneID == "" {
		out.TimezoneID = def.TimezoneID
	}
	if out.AcceptLanguage == "" {
		out.AcceptLanguage = def.AcceptLanguage
	}
	if out.ExtraHeaders == nil {
		out.ExtraHeaders = def.ExtraHeaders
	}
	return &out
}

func New(opts *Options) (*Browser, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts = opts.withDefaults()

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &opts.Headless,
		Args: []string{
			"--disable-dev-shm-usage",
			"--no-sandbox",
			fmt.Sprintf("--window-size=%d,%d", opts.ViewportWidth, opts.ViewportHeight),
		},
	}

	if opts.ProxyServer != "" {
		launchOpts.Proxy = &playwright.Proxy{
			Server: opts.ProxyServer,
		}
	}

	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	headers := make(map[string]string, len(opts.ExtraHeaders)+1)
	for k, v := range opts.ExtraHeaders {
		headers[k] = v
	}
	headers["Accept-Language"] = opts.AcceptLanguage

	contextOpts := playwright.BrowserNewContextOptions{
		UserAgent:         &opts.UserAgent,
		AcceptDownloads:   playwright.Bool(false),
		JavaScriptEnabled: playwright.Bool(true),
		Locale:            &opts.Locale,
		TimezoneId:        &opts.TimezoneID,
		Viewport: &playwright.Size{
			Width:  opts.ViewportWidth,
			Height: opts.ViewportHeight,
		},
		ExtraHttpHeaders: headers,
	}

	bctx, err := browser.NewContext(contextOpts)
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	return &Browser{
		pw:      pw,
		browser: browser,
		context: bctx,
		opts:    opts,
		logger:  slog.Default().With("component", "browser"),
	}, nil
}

// WithLogger replaces the session logger.
func (b *Browser) WithLogger(logger *slog.Logger) *Browser {
	b.logger = logger.With("component", "browser")
	return b
}

func (b *Browser) NewPage() (playwright.Page, error) {
	page, err := b.context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("failed to create new page: %w", err)
	}

	page.SetDefaultTimeout(float64(b.opts.Timeout.Milliseconds()))

	return page, nil
}

// Render loads url in a fresh page, lets scripts settle and returns the
// serialized DOM. Every failure, including the navigation timeout taken
// from Options.Timeout, comes back as an error; there is no retry.
func (b *Browser) Render(ctx context.Context, url string) (string, error) {
	if b.closed {
		return "", ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	page, err := b.NewPage()
	if err != nil {
		return "", err
	}
	defer page.Close()

	start := time.Now()
	resp, err := page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
		Timeout:   playwright.Float(float64(b.opts.Timeout.Milliseconds())),
	})
	if err != nil {
		return "", fmt.Errorf("failed to navigate to %s: %w", url, err)
	}
	if resp != nil && resp.Status() >= 400 {
		return "", fmt.Errorf("navigation to %s returned status %d", url, resp.Status())
	}

	if b.opts.SettleDelay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(b.opts.SettleDelay):
		}
	}

	html, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to get page content: %w", err)
	}

	b.logger.Debug("rendered page", "url", url, "bytes", len(html), "duration", time.Since(start))
	return html, nil
}

func (b *Browser) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	var errs []error

	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close context: %w", err))
		}
	}

	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close browser: %w", err))
		}
	}

	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop playwright: %w", err))
		}
	}

	return errors.Join(errs...)
}
