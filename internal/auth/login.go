// Package auth runs the interactive browser login and hands back the
// session cookies. The rest of the pipeline treats it as a black box that
// either yields credentials or fails.
package auth

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/dkorolev/trademe-shop-scraper/internal/config"
	"github.com/dkorolev/trademe-shop-scraper/internal/session"
)

const loginLinkSelector = "#LoginLink"

// Login opens the marketplace in a real browser, fills the credential form
// and waits for the operator to solve the captcha. Returns the captured
// cookies filtered to the attributes the HTTP session needs.
func Login(cfg config.AuthConfig, baseURL string) ([]session.Cookie, error) {
	logger := slog.Default().With("component", "auth")

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}
	defer pw.Stop()

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	defer browser.Close()

	context, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(session.HeaderProfile()["User-Agent"]),
	})
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	defer context.Close()

	page, err := context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	logger.Info("opening marketplace", "url", baseURL)
	if _, err := page.Goto(baseURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return nil, fmt.Errorf("open site: %w", err)
	}

	loginLink := page.Locator(loginLinkSelector)
	count, err := loginLink.Count()
	if err != nil || count == 0 {
		return nil, fmt.Errorf("login link not found on page")
	}
	if err := loginLink.Click(); err != nil {
		return nil, fmt.Errorf("open login page: %w", err)
	}

	logger.Info("filling credentials")
	if err := page.Locator(`input[name="Email"]`).Fill(cfg.Username); err != nil {
		return nil, fmt.Errorf("fill username: %w", err)
	}
	if err := page.Locator(`input[name="Password"]`).Fill(cfg.Password); err != nil {
		return nil, fmt.Errorf("fill password: %w", err)
	}

	// The captcha has to be solved by hand; give the operator a fixed window
	// to finish signing in.
	logger.Warn("waiting for manual captcha solve and login", "window", cfg.LoginWait)
	time.Sleep(cfg.LoginWait)

	raw, err := context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("no cookies captured after login")
	}

	cookies := make([]session.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, session.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
			Secure: c.Secure,
		})
	}

	logger.Info("login cookies captured", "count", len(cookies))
	return cookies, nil
}
