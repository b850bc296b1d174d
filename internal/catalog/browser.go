package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/atakdnz/fridge-order-agent/internal/config"
	"github.com/atakdnz/fridge-order-agent/internal/logging"
)

// session owns the one browser page an adapter drives. All interaction is
// sequential; the orchestrator never issues concurrent operations against it.
type session struct {
	provider Provider
	cfg      config.BrowserConfig
	prov     config.ProviderConfig
	stealthy bool

	state    adapterState
	browser  *rod.Browser
	page     *rod.Page
	launched *launcher.Launcher

	// Web storage restored lazily after the first on-origin navigation.
	pendingStorage *storageSnapshot

	chooser Chooser
	history HistoryProvider
}

// sessionBlob is the serialized authentication state for one provider.
type sessionBlob struct {
	Provider string                      `json:"provider"`
	SavedAt  time.Time                   `json:"saved_at"`
	Cookies  []*proto.NetworkCookieParam `json:"cookies"`
	Storage  storageSnapshot             `json:"storage"`
}

type storageSnapshot struct {
	Local   map[string]string `json:"local"`
	Session map[string]string `json:"session"`
}

// selectorStrategy is one attempt at locating an element. When Text is set
// the element is matched by CSS plus a text regex; plain CSS otherwise.
type selectorStrategy struct {
	CSS  string
	Text string
}

func css(sel string) selectorStrategy        { return selectorStrategy{CSS: sel} }
func byText(sel, re string) selectorStrategy { return selectorStrategy{CSS: sel, Text: re} }

func newSession(provider Provider, cfg config.Config, prov config.ProviderConfig, stealthy bool, chooser Chooser, history HistoryProvider) *session {
	return &session{
		provider: provider,
		cfg:      cfg.Browser,
		prov:     prov,
		stealthy: stealthy,
		chooser:  chooser,
		history:  history,
	}
}

func (s *session) sessionFile() string {
	return filepath.Join(s.cfg.SessionDir, string(s.provider)+"_session.json")
}

// Start launches (or relaunches) the browser, creates the page, and restores
// a persisted session when one exists.
func (s *session) Start(ctx context.Context) error {
	switch s.state {
	case stateClosed:
		return ErrClosed
	case stateStarted:
		return nil
	}

	l := launcher.New().Headless(s.cfg.Headless)
	if s.cfg.ChromeBin != "" {
		l = l.Bin(s.cfg.ChromeBin)
	}
	l = l.
		Set(flags.Flag("disable-blink-features"), "AutomationControlled").
		Set(flags.Flag("disable-dev-shm-usage")).
		Set(flags.Flag("no-sandbox"))

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	s.launched = l

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return fmt.Errorf("connect to browser: %w", err)
	}
	s.browser = browser

	var page *rod.Page
	if s.stealthy {
		page, err = stealth.Page(browser)
	} else {
		page, err = browser.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		_ = browser.Close()
		return fmt.Errorf("create page: %w", err)
	}
	s.page = page

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             s.cfg.ViewportWidth,
		Height:            s.cfg.ViewportHeight,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}).Call(page); err != nil {
		logging.BrowserDebug("[%s] set viewport failed: %v", s.provider, err)
	}
	if s.cfg.UserAgent != "" {
		if err := (proto.NetworkSetUserAgentOverride{
			UserAgent:      s.cfg.UserAgent,
			AcceptLanguage: s.cfg.Locale,
		}).Call(page); err != nil {
			logging.BrowserDebug("[%s] set user agent failed: %v", s.provider, err)
		}
	}
	if s.cfg.TimezoneID != "" {
		if err := (proto.EmulationSetTimezoneOverride{
			TimezoneID: s.cfg.TimezoneID,
		}).Call(page); err != nil {
			logging.BrowserDebug("[%s] set timezone failed: %v", s.provider, err)
		}
	}

	s.state = stateStarted

	if err := s.restoreSession(); err != nil {
		// A broken blob is not fatal; the operator can log in again.
		logging.Get(logging.CategorySession).Warn("[%s] session restore failed: %v", s.provider, err)
	}

	logging.Browser("[%s] browser started (headless=%v stealth=%v)", s.provider, s.cfg.Headless, s.stealthy)
	return nil
}

// Close releases the page and browser. Terminal: the session cannot be
// restarted afterwards.
func (s *session) Close() error {
	if s.state == stateClosed {
		return nil
	}
	s.state = stateClosed

	var err error
	if s.page != nil {
		_ = s.page.Close()
		s.page = nil
	}
	if s.browser != nil {
		err = s.browser.Close()
		s.browser = nil
	}
	if s.launched != nil {
		s.launched.Cleanup()
		s.launched = nil
	}
	logging.Browser("[%s] browser closed", s.provider)
	return err
}

func (s *session) started() bool {
	return s.state == stateStarted
}

// SaveSession snapshots cookies and web storage into the per-provider blob.
func (s *session) SaveSession(ctx context.Context) error {
	if !s.started() {
		return ErrNotStarted
	}

	cookiesRes, err := proto.NetworkGetCookies{}.Call(s.page.Context(ctx))
	if err != nil {
		return fmt.Errorf("get cookies: %w", err)
	}

	params := make([]*proto.NetworkCookieParam, 0, len(cookiesRes.Cookies))
	for _, c := range cookiesRes.Cookies {
		params = append(params, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: c.SameSite,
			Priority: c.Priority,
		})
	}

	blob := sessionBlob{
		Provider: string(s.provider),
		SavedAt:  time.Now(),
		Cookies:  params,
		Storage: storageSnapshot{
			Local:   s.snapshotStorage(ctx, "localStorage"),
			Session: s.snapshotStorage(ctx, "sessionStorage"),
		},
	}

	if err := writeSessionBlob(s.sessionFile(), blob); err != nil {
		return err
	}
	logging.Session("[%s] session saved (%d cookies)", s.provider, len(params))
	return nil
}

// writeSessionBlob persists blob at path, creating the directory as needed.
func writeSessionBlob(path string, blob sessionBlob) error {
	data, err := json.MarshalIndent(blob, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// loadSessionBlob reads the blob at path. A missing file is not an error and
// returns nil.
func loadSessionBlob(path string) (*sessionBlob, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var blob sessionBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, fmt.Errorf("decode session blob: %w", err)
	}
	return &blob, nil
}

// restoreSession loads the persisted blob, sets cookies immediately, and
// defers web storage until the page is on the provider origin.
func (s *session) restoreSession() error {
	blob, err := loadSessionBlob(s.sessionFile())
	if err != nil {
		return err
	}
	if blob == nil {
		logging.Session("[%s] no saved session, starting fresh", s.provider)
		return nil
	}

	if len(blob.Cookies) > 0 {
		if err := s.page.SetCookies(blob.Cookies); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
	}
	if len(blob.Storage.Local) > 0 || len(blob.Storage.Session) > 0 {
		s.pendingStorage = &blob.Storage
	}
	logging.Session("[%s] session restored (%d cookies)", s.provider, len(blob.Cookies))
	return nil
}

func (s *session) snapshotStorage(ctx context.Context, store string) map[string]string {
	js := fmt.Sprintf(`() => {
		try {
			const out = {};
			for (const key of Object.keys(%s)) {
				out[key] = %s.getItem(key);
			}
			return out;
		} catch (e) {
			return {};
		}
	}`, store, store)

	res, err := s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil || res == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return nil
	}
	var out map[string]string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func (s *session) applyPendingStorage(ctx context.Context) {
	if s.pendingStorage == nil {
		return
	}
	snap := s.pendingStorage
	s.pendingStorage = nil

	local, _ := json.Marshal(snap.Local)
	sess, _ := json.Marshal(snap.Session)
	_, _ = s.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS: `(local, session) => {
			try {
				const l = JSON.parse(local || "{}");
				Object.entries(l).forEach(([k, v]) => localStorage.setItem(k, v));
			} catch (e) {}
			try {
				const s = JSON.parse(session || "{}");
				Object.entries(s).forEach(([k, v]) => sessionStorage.setItem(k, v));
			} catch (e) {}
		}`,
		JSArgs:       []interface{}{string(local), string(sess)},
		ByValue:      true,
		AwaitPromise: true,
	})
}

// navigate loads a URL, waits for the load event best-effort, and gives the
// client-side app a moment to settle.
func (s *session) navigate(ctx context.Context, url string, settle time.Duration) error {
	if !s.started() {
		return ErrNotStarted
	}
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout())
	defer cancel()

	page := s.page.Context(navCtx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		logging.BrowserDebug("[%s] wait load timeout for %s: %v", s.provider, url, err)
	}
	s.applyPendingStorage(ctx)
	if settle > 0 {
		sleepCtx(ctx, settle)
	}
	return nil
}

// firstVisible tries each strategy in order and returns the first element
// that exists and is visible within perTry.
func (s *session) firstVisible(ctx context.Context, strategies []selectorStrategy, perTry time.Duration) (*rod.Element, bool) {
	for _, strat := range strategies {
		el, err := s.lookup(ctx, strat, perTry)
		if err != nil {
			continue
		}
		if vis, err := el.Visible(); err == nil && vis {
			return el, true
		}
	}
	return nil, false
}

func (s *session) lookup(ctx context.Context, strat selectorStrategy, perTry time.Duration) (*rod.Element, error) {
	page := s.page.Context(ctx).Timeout(perTry)
	if strat.Text != "" {
		return page.ElementR(strat.CSS, strat.Text)
	}
	return page.Element(strat.CSS)
}

// elements returns the current matches without waiting.
func (s *session) elements(ctx context.Context, selector string) rod.Elements {
	els, err := s.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil
	}
	return els
}

// cardElement tries each strategy inside card and returns the first visible
// match.
func cardElement(card *rod.Element, strategies []selectorStrategy, perTry time.Duration) (*rod.Element, bool) {
	for _, strat := range strategies {
		scoped := card.Timeout(perTry)
		var el *rod.Element
		var err error
		if strat.Text != "" {
			el, err = scoped.ElementR(strat.CSS, strat.Text)
		} else {
			el, err = scoped.Element(strat.CSS)
		}
		if err != nil {
			continue
		}
		if vis, err := el.Visible(); err == nil && vis {
			return el, true
		}
	}
	return nil, false
}

// fieldText tries each strategy inside card and returns the first non-empty
// visible text, or "" when every strategy misses.
func fieldText(card *rod.Element, strategies []selectorStrategy, perTry time.Duration) string {
	for _, strat := range strategies {
		scoped := card.Timeout(perTry)
		var el *rod.Element
		var err error
		if strat.Text != "" {
			el, err = scoped.ElementR(strat.CSS, strat.Text)
		} else {
			el, err = scoped.Element(strat.CSS)
		}
		if err != nil {
			continue
		}
		if vis, err := el.Visible(); err != nil || !vis {
			continue
		}
		if text, err := el.Text(); err == nil {
			if trimmed := strings.TrimSpace(text); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

// clickElement performs a left single click.
func clickElement(el *rod.Element) error {
	return el.Click(proto.InputMouseButtonLeft, 1)
}

// clampIndex applies the documented out-of-range policy: indexes past the
// control set fold back to 0.
func clampIndex(provider Provider, index, total int) int {
	if index >= total || index < 0 {
		logging.Get(logging.CategoryBrowser).Warn(
			"[%s] index %d out of range (only %d controls), using 0", provider, index, total)
		return 0
	}
	return index
}

// parseBadgeCount extracts an integer cart badge, 0 on anything else.
func parseBadgeCount(text string) int {
	trimmed := strings.TrimSpace(text)
	n, err := strconv.Atoi(trimmed)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// truncateName caps a scraped display name at 50 runes.
func truncateName(name string) string {
	name = strings.TrimSpace(name)
	runes := []rune(name)
	if len(runes) > 50 {
		return string(runes[:50])
	}
	return name
}

// sleepCtx sleeps for d or until ctx is done. The fixed delays around cart
// mutation are best-effort settling, not synchronization.
func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// addProductSmart is the shared composed convenience: search, extract,
// choose, add. Chooser failures (or absence) fall back to the first result.
func addProductSmart(ctx context.Context, a Adapter, chooser Chooser, history HistoryProvider, term string, quantity int, preference string) bool {
	if !a.Search(ctx, term) {
		logging.Order("[%s] search failed for %q", a.Provider(), term)
		return false
	}

	candidates := a.ListCandidates(ctx, 10)
	if len(candidates) == 0 {
		logging.Order("[%s] no candidates for %q", a.Provider(), term)
		return false
	}

	selected := 0
	if chooser != nil && len(candidates) > 1 {
		historyContext := ""
		if history != nil {
			historyContext = history.HistoryContext(10)
		}
		selected = chooser.Choose(ctx, candidates, term, preference, historyContext)
		if selected < 0 || selected >= len(candidates) {
			selected = 0
		}
		logging.Policy("[%s] chose #%d (%s) for %q", a.Provider(), selected+1, candidates[selected].DisplayName, term)
	}

	return a.AddByIndex(ctx, selected, quantity)
}
