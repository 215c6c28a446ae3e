// Package browser implements the approval-gated headless browser tool on
// top of playwright.
package browser

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/playwright-community/playwright-go"
)

// Manager lazily starts one headless browser and hands out isolated
// contexts keyed by session id. Cookies and storage never leak across
// sessions.
type Manager struct {
	mu       sync.Mutex
	pw       *playwright.Playwright
	browser  playwright.Browser
	sessions map[string]*session
	logger   *slog.Logger
}

type session struct {
	id   string
	ctx  playwright.BrowserContext
	page playwright.Page
}

// NewManager builds a manager; nothing starts until the first session is
// requested.
func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*session),
		logger:   slog.Default().With("component", "tool.browser"),
	}
}

// ensureBrowser installs the driver if needed and launches the shared
// headless instance. Caller holds m.mu.
func (m *Manager) ensureBrowser() error {
	if m.browser != nil {
		return nil
	}
	if m.pw == nil {
		if err := playwright.Install(&playwright.RunOptions{Verbose: false}); err != nil {
			return fmt.Errorf("install playwright driver: %w", err)
		}
		pw, err := playwright.Run()
		if err != nil {
			return fmt.Errorf("start playwright: %w", err)
		}
		m.pw = pw
	}
	browser, err := m.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	m.browser = browser
	m.logger.Info("headless browser started")
	return nil
}

// Session returns the isolated context for the given id, creating the
// browser and the context on first use.
func (m *Manager) Session(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	if err := m.ensureBrowser(); err != nil {
		return nil, err
	}
	ctx, err := m.browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: 1280, Height: 800},
	})
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	page, err := ctx.NewPage()
	if err != nil {
		ctx.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}
	s := &session{id: id, ctx: ctx, page: page}
	m.sessions[id] = s
	m.logger.Debug("browser session created", "session", id)
	return s, nil
}

// CloseSession tears down one session's context.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.ctx.Close()
		delete(m.sessions, id)
	}
}

// CloseAll tears down every session, the browser and the driver.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		s.ctx.Close()
		delete(m.sessions, id)
	}
	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.pw != nil {
		if err := m.pw.Stop(); err != nil {
			return fmt.Errorf("stop playwright: %w", err)
		}
		m.pw = nil
	}
	return nil
}
