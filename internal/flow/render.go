package flow

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"twingate/internal/domain"
	"twingate/internal/i18n"
)

const expiresLayout = "2006-01-02 15:04 UTC"

// Button is one inline keyboard button: a callback action or a URL
type Button struct {
	Text    string
	Action  Action
	Payload string
	URL     string
}

// Screen is a message text with its inline keyboard
type Screen struct {
	Text     string
	Keyboard [][]Button
}

// View is everything a render function may read
type View struct {
	Language         string
	FirstName        string
	Status           domain.VerificationStatus
	Mint             *domain.MintRequest
	ChatTitle        string
	DeepLink         string
	DetectedLanguage string
	SupportURL       string
	// Notice is shown above the screen text, e.g. after a language change
	Notice string
}

func (v View) lang() string {
	if v.Language != "" {
		return v.Language
	}
	if v.DetectedLanguage != "" {
		return v.DetectedLanguage
	}
	return i18n.DefaultLanguage
}

func (v View) name() string {
	if v.FirstName != "" {
		return v.FirstName
	}
	return "there"
}

// Renderer turns flow paths into localized screens. It never touches sessions.
type Renderer struct {
	tr *i18n.Translator
}

// NewRenderer creates a renderer over tr
func NewRenderer(tr *i18n.Translator) *Renderer {
	return &Renderer{tr: tr}
}

// Render builds the screen for path
func (r *Renderer) Render(path Path, v View) (Screen, error) {
	var s Screen
	switch path {
	case PathGroupWelcome:
		s = r.groupWelcome(v)
	case PathLanguageSelection:
		s = r.LanguagePicker(v)
	case PathVerificationStart:
		s = r.verificationStart(v)
	case PathVerificationDashboard:
		s = r.verificationDashboard(v)
	case PathMainDashboard:
		s = r.mainDashboard(v)
	default:
		return Screen{}, fmt.Errorf("unknown flow path %q", path)
	}
	if v.Notice != "" {
		s.Text = v.Notice + "\n\n" + s.Text
	}
	return s, nil
}

func (r *Renderer) t(v View, key string, params map[string]string) string {
	return r.tr.T(key, v.lang(), params)
}

func (r *Renderer) btn(v View, key string, action Action, payload string) Button {
	return Button{Text: r.t(v, key, nil), Action: action, Payload: payload}
}

func (r *Renderer) mainMenuRow(v View) []Button {
	return []Button{r.btn(v, "buttons.main_menu", ActionFlow, FlowMain)}
}

func (r *Renderer) groupWelcome(v View) Screen {
	text := r.t(v, "group.welcome", map[string]string{"name": v.name()})
	if v.ChatTitle != "" {
		text += "\n\n" + r.t(v, "group.title_line", map[string]string{"title": v.ChatTitle})
	}
	return Screen{
		Text: text,
		Keyboard: [][]Button{
			{{Text: r.t(v, "buttons.verify_private", nil), URL: v.DeepLink}},
		},
	}
}

// LanguagePicker offers every supported language, marking the detected one
func (r *Renderer) LanguagePicker(v View) Screen {
	text := strings.Join([]string{
		r.t(v, "welcome.title", nil),
		r.t(v, "welcome.intro", map[string]string{"name": v.name()}),
		r.t(v, "welcome.benefits", nil),
		r.t(v, "welcome.choose_language", nil),
	}, "\n\n")

	var rows [][]Button
	for _, l := range r.tr.Supported() {
		label := l.Name
		if l.Code == v.DetectedLanguage {
			label = r.t(v, "language.detected", map[string]string{"language": l.Name})
		}
		rows = append(rows, []Button{{Text: label, Action: ActionLanguage, Payload: l.Code}})
	}
	return Screen{Text: text, Keyboard: rows}
}

func (r *Renderer) levelTitle(v View, level int) string {
	return r.t(v, "verification.level"+strconv.Itoa(level)+".title", nil)
}

func (r *Renderer) levelLines(v View) string {
	st := v.Status
	lines := make([]string, 0, len(domain.Levels))
	for _, level := range domain.Levels {
		mark := "⭕"
		switch {
		case level <= st.VerificationLevel:
			mark = "✅"
		case level == st.CurrentLevel && st.InProgress:
			mark = "⏳"
		case level > st.CurrentLevel:
			mark = "🔒"
		}
		lines = append(lines, r.t(v, "verification.level_line", map[string]string{
			"mark":  mark,
			"level": strconv.Itoa(level),
			"title": r.levelTitle(v, level),
		}))
	}
	return strings.Join(lines, "\n")
}

func (r *Renderer) statusLines(v View) string {
	st := v.Status
	pass := r.t(v, "status.not_passed", nil)
	if st.Passed() {
		pass = r.t(v, "status.passed", nil)
	}
	return strings.Join([]string{
		r.t(v, "dashboard.your_status", nil),
		r.t(v, "dashboard.verification_level", map[string]string{"level": strconv.Itoa(st.VerificationLevel)}),
		r.t(v, "dashboard.humanity_index", map[string]string{"index": strconv.Itoa(st.HumanityIndex)}),
		r.t(v, "dashboard.sbt", map[string]string{"state": r.sbtState(v)}),
		r.t(v, "dashboard.pass_status", map[string]string{"state": pass}),
	}, "\n")
}

func (r *Renderer) sbtState(v View) string {
	switch {
	case minted(v.Mint):
		return r.t(v, "status.minted", nil)
	case v.Status.HasSBT:
		return r.t(v, "status.eligible", nil)
	default:
		return r.t(v, "status.not_minted", nil)
	}
}

func minted(m *domain.MintRequest) bool {
	return m != nil && m.Status == domain.MintCompleted
}

func canMint(v View) bool {
	return v.Status.VerificationLevel >= domain.SBTLevel && !minted(v.Mint)
}

func (r *Renderer) verificationStart(v View) Screen {
	st := v.Status
	text := strings.Join([]string{
		r.t(v, "verification.task_title", nil),
		r.t(v, "verification.task_description", nil),
		r.t(v, "verification.requirement", nil),
		r.t(v, "verification.progress", nil) + "\n" + r.levelLines(v),
		r.t(v, "verification.choose_level", nil),
	}, "\n\n")

	rows := make([][]Button, 0, len(domain.Levels)+2)
	for _, level := range domain.Levels {
		n := strconv.Itoa(level)
		params := map[string]string{"level": n}
		var b Button
		switch {
		case level <= st.VerificationLevel:
			b = Button{Text: r.t(v, "verification.completed_button", params), Action: ActionLevelDone, Payload: n}
		case level == st.CurrentLevel:
			b = Button{Text: r.t(v, "verification.start_button", params), Action: ActionStartLevel, Payload: n}
		default:
			b = Button{Text: r.t(v, "verification.locked_button", params), Action: ActionLevelLocked, Payload: n}
		}
		rows = append(rows, []Button{b})
	}
	if canMint(v) {
		rows = append(rows, []Button{r.btn(v, "buttons.mint_sbt", ActionMintSBT, "")})
	}
	rows = append(rows, r.mainMenuRow(v))

	return Screen{Text: text, Keyboard: rows}
}

func (r *Renderer) nextHint(v View) string {
	switch v.Status.VerificationLevel {
	case 0:
		return r.t(v, "verification.next.new", nil)
	case 1:
		return r.t(v, "verification.next.level1", nil)
	case 2:
		return r.t(v, "verification.next.level2", nil)
	default:
		return r.t(v, "verification.next.done", nil)
	}
}

func (r *Renderer) verificationDashboard(v View) Screen {
	text := strings.Join([]string{
		r.t(v, "verification.dashboard_title", nil),
		r.statusLines(v),
		r.levelLines(v),
		r.nextHint(v),
	}, "\n\n")

	var rows [][]Button
	if !v.Status.AllComplete() {
		rows = append(rows, []Button{r.btn(v, "buttons.continue_verification", ActionFlow, FlowLevels)})
	}
	if v.Status.VerificationLevel >= domain.SBTLevel {
		rows = append(rows, []Button{r.btn(v, "buttons.sbt_management", ActionSBT, "")})
	}
	rows = append(rows, r.mainMenuRow(v))

	return Screen{Text: text, Keyboard: rows}
}

func (r *Renderer) encouragement(v View) string {
	switch {
	case v.Status.Passed():
		return r.t(v, "status.encourage.passed", nil)
	case v.Status.VerificationLevel > 0:
		return r.t(v, "status.encourage.progress", nil)
	default:
		return r.t(v, "status.encourage.new", nil)
	}
}

func (r *Renderer) mainDashboard(v View) Screen {
	text := strings.Join([]string{
		r.t(v, "welcome.back", map[string]string{"name": v.name()}),
		r.statusLines(v),
		r.encouragement(v),
	}, "\n\n")

	rows := [][]Button{
		{r.btn(v, "buttons.dashboard", ActionFlow, FlowDashboard)},
	}
	if !v.Status.AllComplete() {
		rows = append(rows, []Button{r.btn(v, "buttons.continue_verification", ActionFlow, FlowLevels)})
	}
	if v.Status.VerificationLevel >= domain.SBTLevel {
		rows = append(rows, []Button{r.btn(v, "buttons.sbt_management", ActionSBT, "")})
	}
	rows = append(rows, []Button{r.btn(v, "buttons.language_settings", ActionLanguageSettings, "")})

	return Screen{Text: text, Keyboard: rows}
}

// LevelStarted shows the verification link of a running attempt
func (r *Renderer) LevelStarted(v View, attempt domain.Attempt) Screen {
	n := strconv.Itoa(attempt.Level)
	expires := "-"
	if !attempt.ExpiresAt.IsZero() {
		expires = FormatExpiry(attempt.ExpiresAt)
	}
	return Screen{
		Text: r.t(v, "verification.started", map[string]string{"level": n, "expires": expires}),
		Keyboard: [][]Button{
			{{Text: r.t(v, "verification.open_link", nil), URL: attempt.URL}},
			{r.btn(v, "verification.check_status", ActionCheckLevel, n)},
			r.mainMenuRow(v),
		},
	}
}

// LevelCompleted congratulates the user and points at what comes next
func (r *Renderer) LevelCompleted(v View, level int) Screen {
	st := v.Status
	parts := []string{r.t(v, "verification.completed", map[string]string{
		"level":   strconv.Itoa(level),
		"index":   strconv.Itoa(st.HumanityIndex),
		"reached": strconv.Itoa(st.VerificationLevel),
	})}
	if level == domain.SBTLevel {
		parts = append(parts, r.t(v, "verification.sbt_unlocked", nil))
	}
	if st.AllComplete() {
		parts = append(parts, r.t(v, "verification.all_done", nil))
	} else {
		parts = append(parts, r.t(v, "verification.next_available", map[string]string{"level": strconv.Itoa(st.CurrentLevel)}))
	}

	var rows [][]Button
	if !st.AllComplete() {
		rows = append(rows, []Button{r.btn(v, "buttons.continue_verification", ActionFlow, FlowLevels)})
	}
	if canMint(v) {
		rows = append(rows, []Button{r.btn(v, "buttons.mint_sbt", ActionMintSBT, "")})
	}
	rows = append(rows, []Button{r.btn(v, "buttons.dashboard", ActionFlow, FlowDashboard)})

	return Screen{Text: strings.Join(parts, "\n\n"), Keyboard: rows}
}

// LevelFailed lets the user retry a level the backend did not pass
func (r *Renderer) LevelFailed(v View, level int) Screen {
	n := strconv.Itoa(level)
	return Screen{
		Text: r.t(v, "verification.failed", map[string]string{"level": n, "index": strconv.Itoa(v.Status.HumanityIndex)}),
		Keyboard: [][]Button{
			{r.btn(v, "buttons.retry", ActionStartLevel, n)},
			r.mainMenuRow(v),
		},
	}
}

// LevelPending asks the user to check a running attempt again later
func (r *Renderer) LevelPending(v View, level int) Screen {
	return Screen{
		Text: r.t(v, "verification.pending", nil),
		Keyboard: [][]Button{
			{r.btn(v, "verification.check_status", ActionCheckLevel, strconv.Itoa(level))},
			r.mainMenuRow(v),
		},
	}
}

// SBTOverview shows the user's mint eligibility and state
func (r *Renderer) SBTOverview(v View) Screen {
	parts := []string{r.t(v, "sbt.title", nil)}
	var rows [][]Button

	switch {
	case v.Status.VerificationLevel < domain.SBTLevel:
		parts = append(parts, r.t(v, "sbt.locked", nil))
		rows = append(rows, []Button{r.btn(v, "buttons.continue_verification", ActionFlow, FlowLevels)})
	case minted(v.Mint):
		parts = append(parts, r.mintCompletedText(v, v.Mint))
	case v.Mint != nil && v.Mint.Status == domain.MintPending:
		parts = append(parts, r.t(v, "sbt.mint_pending", nil))
		rows = append(rows, []Button{r.btn(v, "buttons.check_mint", ActionCheckMint, "")})
	default:
		parts = append(parts, r.t(v, "sbt.eligible", nil))
		rows = append(rows, []Button{r.btn(v, "buttons.mint_sbt", ActionMintSBT, "")})
	}
	rows = append(rows, r.mainMenuRow(v))

	return Screen{Text: strings.Join(parts, "\n\n"), Keyboard: rows}
}

// MintRequested confirms a newly accepted mint request
func (r *Renderer) MintRequested(v View, m *domain.MintRequest) Screen {
	eta := m.EstimatedMintTime
	if eta == "" {
		eta = r.t(v, "sbt.default_eta", nil)
	}
	return Screen{
		Text: r.t(v, "sbt.mint_requested", map[string]string{
			"id":     m.ID,
			"wallet": m.WalletAddress,
			"eta":    eta,
		}),
		Keyboard: [][]Button{
			{r.btn(v, "buttons.check_mint", ActionCheckMint, "")},
			r.mainMenuRow(v),
		},
	}
}

func (r *Renderer) mintCompletedText(v View, m *domain.MintRequest) string {
	return r.t(v, "sbt.mint_completed", map[string]string{
		"token":   m.TokenID,
		"address": m.SBTAddress,
		"tx":      m.TxHash,
	})
}

// MintStatus reports the latest state of a mint request
func (r *Renderer) MintStatus(v View, m *domain.MintRequest) Screen {
	switch m.Status {
	case domain.MintCompleted:
		return Screen{
			Text:     r.mintCompletedText(v, m),
			Keyboard: [][]Button{r.mainMenuRow(v)},
		}
	case domain.MintFailed:
		return Screen{
			Text: r.t(v, "sbt.mint_failed", nil),
			Keyboard: [][]Button{
				{r.btn(v, "buttons.retry", ActionMintSBT, "")},
				r.mainMenuRow(v),
			},
		}
	default:
		return Screen{
			Text: r.t(v, "sbt.mint_pending", nil),
			Keyboard: [][]Button{
				{r.btn(v, "buttons.check_mint", ActionCheckMint, "")},
				r.mainMenuRow(v),
			},
		}
	}
}

// Help lists the bot commands
func (r *Renderer) Help(v View) Screen {
	return Screen{
		Text:     r.t(v, "help.text", nil),
		Keyboard: [][]Button{r.mainMenuRow(v)},
	}
}

// Notice shows a single localized message with a way back to the menu
func (r *Renderer) Notice(v View, key string) Screen {
	return Screen{
		Text:     r.t(v, key, nil),
		Keyboard: [][]Button{r.mainMenuRow(v)},
	}
}

// GroupNotice shows a single localized message in a group chat
func (r *Renderer) GroupNotice(v View, key string) Screen {
	return Screen{Text: r.t(v, key, nil)}
}

// GroupStats reports a group's interaction and referral counters
func (r *Renderer) GroupStats(v View, g *domain.Group) Screen {
	title := g.Title
	if title == "" {
		title = v.ChatTitle
	}
	return Screen{Text: r.t(v, "group.stats", map[string]string{
		"title":        title,
		"interactions": strconv.Itoa(g.Interactions),
		"referrals":    strconv.Itoa(g.Referrals),
		"registered":   g.CreatedAt.UTC().Format(expiresLayout),
	})}
}

// Error is the fallback screen for anything that went wrong
func (r *Renderer) Error(v View) Screen {
	rows := [][]Button{
		{r.btn(v, "buttons.retry", ActionFlow, FlowRetry)},
	}
	if v.SupportURL != "" {
		rows = append(rows, []Button{{Text: r.t(v, "buttons.support", nil), URL: v.SupportURL}})
	}
	rows = append(rows, r.mainMenuRow(v))
	return Screen{Text: r.t(v, "errors.generic", nil), Keyboard: rows}
}

// FormatExpiry renders an attempt deadline the way screens show it
func FormatExpiry(t time.Time) string {
	return t.UTC().Format(expiresLayout)
}
