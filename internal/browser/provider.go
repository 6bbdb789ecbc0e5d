// Package browser obtains anti-bot cookies by driving a headless Chrome
// through the center's booking page: accept the cookie banner, choose
// "access code already issued", type the three code groups the way a
// person would, submit, then harvest the cookies the page set.
package browser

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/impfbot/impfbot/internal/logger"
	"github.com/impfbot/impfbot/internal/session"
)

// antiBotCookie must be present for the backend to accept API calls.
const antiBotCookie = "bm_sz"

// The page is an Angular app; these match its login form structure.
const (
	bannerButtonXPath = `//html/body/app-root/div/div/div/div[2]/div[2]/div/div[1]/a`
	codePresentXPath  = `/html/body/app-root/div/app-page-its-login/div/div/div[2]/app-its-login-user/div/div/app-corona-vaccination/div[2]/div/div/label[1]/span`
	submitXPath       = `/html/body/app-root/div/app-page-its-login/div/div/div[2]/app-its-login-user/div/div/app-corona-vaccination/div[3]/div/div/div/div[1]/app-corona-vaccination-yes/form[1]/div[2]/button`
)

// codeInputXPaths are the three code-group input fields in form order.
var codeInputXPaths = [3]string{
	`/html/body/app-root/div/app-page-its-login/div/div/div[2]/app-its-login-user/div/div/app-corona-vaccination/div[3]/div/div/div/div[1]/app-corona-vaccination-yes/form[1]/div[1]/label/app-ets-input-code/div/div[1]/label/input`,
	`/html/body/app-root/div/app-page-its-login/div/div/div[2]/app-its-login-user/div/div/app-corona-vaccination/div[3]/div/div/div/div[1]/app-corona-vaccination-yes/form[1]/div[1]/label/app-ets-input-code/div/div[3]/label/input`,
	`/html/body/app-root/div/app-page-its-login/div/div/div[2]/app-its-login-user/div/div/app-corona-vaccination/div[3]/div/div/div/div[1]/app-corona-vaccination-yes/form[1]/div[1]/label/app-ets-input-code/div/div[5]/label/input`,
}

const (
	keyDelay       = 100 * time.Millisecond
	refreshTimeout = 90 * time.Second
)

// Provider drives Chrome against one center's base URL.
type Provider struct {
	baseURL     string
	allocCtx    context.Context
	cancelAlloc context.CancelFunc
	log         logger.Logger
}

var _ session.TokenProvider = (*Provider)(nil)

// NewProvider builds a Provider for the given center base URL.
func NewProvider(baseURL string, log logger.Logger) *Provider {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(1920, 1080),
		chromedp.NoSandbox,
		chromedp.Flag("disable-web-security", true),
		chromedp.Flag("disable-site-isolation-trials", true),
		chromedp.Flag("disable-features", "SameSiteByDefaultCookies,CookiesWithoutSameSiteMustBeSecure"),
		chromedp.Headless,
	)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Provider{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		allocCtx:    allocCtx,
		cancelAlloc: cancelAlloc,
		log:         log,
	}
}

// Close shuts down the browser allocator.
func (p *Provider) Close() {
	p.cancelAlloc()
}

// Cookies walks the login page once and returns the full cookie set the
// page established, or fails if the anti-bot cookie never appeared.
func (p *Provider) Cookies(ctx context.Context, code session.AccessCode, plz string) ([]*http.Cookie, error) {
	p.log.Info("generating browser cookies")

	tabCtx, cancel := chromedp.NewContext(
		p.allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			msg := fmt.Sprintf(format, args...)
			if (strings.Contains(msg, "error") || strings.Contains(msg, "failed")) &&
				!strings.Contains(msg, "cookiePart") &&
				!strings.Contains(msg, "unmarshal event") {
				p.log.Debugf("browser: %s", msg)
			}
		}),
	)
	defer cancel()

	tabCtx, cancel = context.WithTimeout(tabCtx, refreshTimeout)
	defer cancel()

	// Propagate caller cancellation into the tab.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()

	pageURL := fmt.Sprintf("%s/impftermine/service?plz=%s", p.baseURL, plz)

	actions := []chromedp.Action{
		chromedp.Navigate(pageURL),
		chromedp.WaitVisible(bannerButtonXPath, chromedp.BySearch),
		chromedp.Click(bannerButtonXPath, chromedp.BySearch),
		chromedp.WaitVisible(codePresentXPath, chromedp.BySearch),
		chromedp.Click(codePresentXPath, chromedp.BySearch),
	}
	for i, group := range code.Groups() {
		sel := codeInputXPaths[i]
		actions = append(actions,
			chromedp.WaitVisible(sel, chromedp.BySearch),
			chromedp.Click(sel, chromedp.BySearch),
		)
		for _, key := range group {
			actions = append(actions,
				chromedp.SendKeys(sel, string(key), chromedp.BySearch),
				chromedp.Sleep(keyDelay),
			)
		}
	}
	actions = append(actions,
		chromedp.WaitVisible(submitXPath, chromedp.BySearch),
		chromedp.Click(submitXPath, chromedp.BySearch),
		// A small off-element mouse move, like a person overshooting.
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseMoved, 10, 20).Do(ctx)
		}),
		chromedp.Sleep(time.Second),
	)

	var cookies []*http.Cookie
	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		raw, err := network.GetCookies().Do(ctx)
		if err != nil {
			return fmt.Errorf("read cookies: %w", err)
		}
		cookies = convertCookies(raw)
		return nil
	}))

	if err := chromedp.Run(tabCtx, actions...); err != nil {
		return nil, fmt.Errorf("drive login page: %w", err)
	}

	token := findCookie(cookies, antiBotCookie)
	if token == nil {
		return nil, fmt.Errorf("page did not set the %s cookie", antiBotCookie)
	}
	p.log.Info("browser cookie generated", logger.String("token", maskValue(token.Value)))

	return cookies, nil
}

func convertCookies(raw []*network.Cookie) []*http.Cookie {
	cookies := make([]*http.Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			cookie.Expires = time.Unix(int64(c.Expires), 0)
		}
		cookies = append(cookies, cookie)
	}
	return cookies
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func maskValue(value string) string {
	if len(value) <= 6 {
		return "*" + value
	}
	return "*" + value[len(value)-6:]
}
