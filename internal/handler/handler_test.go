package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"twingate/internal/backend"
	"twingate/internal/domain"
	"twingate/internal/flow"
	"twingate/internal/i18n"
	"twingate/internal/service"
	"twingate/internal/session"
	"twingate/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"
)

const testUserID int64 = 42

type testEnv struct {
	h     *Handler
	store *session.MemoryStore
	api   *testutil.MockBackend
	repo  *testutil.MockGroupRepository
	tr    *i18n.Translator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tr, err := i18n.New()
	require.NoError(t, err)

	store := session.NewMemoryStore(time.Hour)
	api := new(testutil.MockBackend)
	repo := new(testutil.MockGroupRepository)
	logger := testutil.NewTestLogger()

	h := NewHandler(nil, Deps{
		Store:       store,
		Translator:  tr,
		Progress:    service.NewProgressService(store, api, logger, 30*time.Minute),
		SBT:         service.NewSBTService(store, api, logger),
		Groups:      service.NewGroupService(repo, store, logger),
		BotUsername: "twin3bot",
		SupportURL:  "https://t.me/twingate_support",
		Logger:      logger,
	})
	return &testEnv{h: h, store: store, api: api, repo: repo, tr: tr}
}

func privateUpdate() update {
	return update{
		userID:    testUserID,
		username:  "alice",
		firstName: "Alice",
		langCode:  "en",
		chat:      domain.ChatPrivate,
	}
}

func groupUpdate() update {
	u := privateUpdate()
	u.chat = domain.ChatSupergroup
	u.group = domain.Group{ChatID: -100123, Title: "Twin3 Fans", Type: domain.ChatSupergroup}
	return u
}

func (e *testEnv) seed(t *testing.T, completed int, language string) {
	t.Helper()
	s := testutil.NewTestSession(testUserID, completed, time.Now())
	s.Language = language
	_, err := e.store.Update(context.Background(), testUserID, func(cur *domain.Session) error {
		*cur = *s.Clone()
		return nil
	})
	require.NoError(t, err)
}

func (e *testEnv) session(t *testing.T) *domain.Session {
	t.Helper()
	s, err := e.store.Get(context.Background(), testUserID)
	require.NoError(t, err)
	return s
}

func firstButton(s flow.Screen) flow.Button {
	return s.Keyboard[0][0]
}

func TestToMarkup(t *testing.T) {
	screen := flow.Screen{
		Text: "hello",
		Keyboard: [][]flow.Button{
			{{Text: "Open", URL: "https://verify.twin3.test/abc"}},
			{{Text: "Start", Action: flow.ActionStartLevel, Payload: "2"}, {Text: "SBT", Action: flow.ActionSBT}},
		},
	}

	markup := toMarkup(screen)

	require.Len(t, markup.InlineKeyboard, 2)
	assert.Equal(t, "https://verify.twin3.test/abc", markup.InlineKeyboard[0][0].URL)
	require.Len(t, markup.InlineKeyboard[1], 2)
	assert.Equal(t, "start_level", markup.InlineKeyboard[1][0].Unique)
	assert.Equal(t, "2", markup.InlineKeyboard[1][0].Data)
	assert.Equal(t, "sbt", markup.InlineKeyboard[1][1].Unique)
	assert.Empty(t, markup.InlineKeyboard[1][1].Data)
}

func TestNoticeFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
		ok       bool
	}{
		{name: "level ahead", err: &domain.OutOfOrderError{Level: 3, Current: 2}, expected: "verification.out_of_order", ok: true},
		{name: "level behind", err: &domain.OutOfOrderError{Level: 1, Current: 2}, expected: "verification.already_completed", ok: true},
		{name: "no active", err: domain.ErrNoActiveVerification, expected: "verification.no_active", ok: true},
		{name: "not eligible", err: domain.ErrNotEligible, expected: "sbt.not_eligible", ok: true},
		{name: "already minted", err: domain.ErrAlreadyMinted, expected: "sbt.already_minted", ok: true},
		{name: "no mint request", err: domain.ErrNoMintRequest, expected: "sbt.no_request", ok: true},
		{name: "mint in flight", err: domain.ErrMintInFlight, expected: "sbt.in_flight", ok: true},
		{name: "unsupported language", err: domain.ErrUnsupportedLanguage, expected: "language.unsupported", ok: true},
		{name: "corrupt session", err: domain.ErrCorruptSession, ok: false},
		{name: "backend down", err: &backend.APIError{StatusCode: 503}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, ok := noticeFor(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, key)
		})
	}
}

func TestNewUpdate(t *testing.T) {
	b, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)

	group := &tele.Chat{ID: -100123, Type: tele.ChatSuperGroup, Title: "Twin3 Fans"}

	t.Run("private command with payload", func(t *testing.T) {
		c := b.NewContext(tele.Update{Message: &tele.Message{
			Sender:  &tele.User{ID: 7, Username: "bob", FirstName: "Bob", LanguageCode: "ja"},
			Chat:    &tele.Chat{ID: 7, Type: tele.ChatPrivate},
			Text:    "/start verify_-100123",
			Payload: "verify_-100123",
		}})

		u := newUpdate(c)

		assert.Equal(t, int64(7), u.userID)
		assert.Equal(t, "bob", u.username)
		assert.Equal(t, "Bob", u.firstName)
		assert.Equal(t, "ja", u.langCode)
		assert.Equal(t, domain.ChatPrivate, u.chat)
		assert.Equal(t, "verify_-100123", u.payload)
	})

	t.Run("user joined a group", func(t *testing.T) {
		c := b.NewContext(tele.Update{Message: &tele.Message{
			Sender:     &tele.User{ID: 1, FirstName: "Admin"},
			UserJoined: &tele.User{ID: 8, FirstName: "Carol"},
			Chat:       group,
		}})

		u := newUpdate(c)

		assert.Equal(t, int64(8), u.userID)
		assert.Equal(t, "Carol", u.firstName)
		assert.True(t, u.chat.IsGroup())
		assert.Equal(t, int64(-100123), u.group.ChatID)
		assert.Equal(t, "Twin3 Fans", u.group.Title)
	})

	t.Run("callback", func(t *testing.T) {
		c := b.NewContext(tele.Update{Callback: &tele.Callback{
			ID:      "cb1",
			Sender:  &tele.User{ID: 9},
			Message: &tele.Message{Chat: &tele.Chat{ID: 9, Type: tele.ChatPrivate}},
			Data:    "\fstart_level|1",
		}})

		u := newUpdate(c)

		assert.Equal(t, int64(9), u.userID)
		assert.Equal(t, domain.ChatPrivate, u.chat)
		assert.Empty(t, u.payload)
	})
}

func TestRegisterHandlers(t *testing.T) {
	b, err := tele.NewBot(tele.Settings{Offline: true})
	require.NoError(t, err)
	tr, err := i18n.New()
	require.NoError(t, err)

	h := NewHandler(b, Deps{Translator: tr, Logger: testutil.NewTestLogger()})

	assert.NotPanics(t, h.RegisterHandlers)
	assert.Equal(t, defaultUpdateTimeout, h.timeout)
}

func TestDispatchTable_CoversEveryAction(t *testing.T) {
	env := newTestEnv(t)

	actions := []flow.Action{
		flow.ActionLanguage, flow.ActionLanguageSettings, flow.ActionFlow,
		flow.ActionStartLevel, flow.ActionCheckLevel, flow.ActionLevelLocked,
		flow.ActionLevelDone, flow.ActionMintSBT, flow.ActionCheckMint, flow.ActionSBT,
	}
	for _, a := range actions {
		assert.Contains(t, env.h.callbacks, a)
	}
	for _, cmd := range []string{"/start", "/verify", "/status", "/dashboard", "/sbt", "/language", "/help", "/reset", "/groupstats"} {
		assert.Contains(t, env.h.commands, cmd)
	}
}

func TestCmdStart_NewUserPicksLanguage(t *testing.T) {
	env := newTestEnv(t)
	u := privateUpdate()
	u.langCode = "ja"

	out, err := env.h.cmdStart(context.Background(), u)
	require.NoError(t, err)

	require.Len(t, out.screen.Keyboard, len(env.tr.Supported()))
	for _, row := range out.screen.Keyboard {
		assert.Equal(t, flow.ActionLanguage, row[0].Action)
		if row[0].Payload == "ja-JP" {
			assert.Contains(t, row[0].Text, i18n.Name("ja-JP"))
			assert.NotEqual(t, i18n.Name("ja-JP"), row[0].Text)
		}
	}

	s := env.session(t)
	require.NotNil(t, s)
	assert.Empty(t, s.Language)
	assert.Equal(t, "alice", s.Username)
	assert.Equal(t, "Alice", s.FirstName)
}

func TestCmdStart_DeepLinkTracksSource(t *testing.T) {
	env := newTestEnv(t)
	env.repo.On("IncrementReferrals", mock.Anything, int64(-100123)).Return(nil)
	u := privateUpdate()
	u.payload = "verify_-100123"

	_, err := env.h.cmdStart(context.Background(), u)
	require.NoError(t, err)

	assert.Equal(t, "group:-100123", env.session(t).Source)
	env.repo.AssertExpectations(t)
}

func TestCmdStart_GroupWelcome(t *testing.T) {
	tests := []struct {
		name        string
		registerErr error
	}{
		{name: "registered"},
		{name: "registry down still welcomes", registerErr: errors.New("db down")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var registered *domain.Group
			if tt.registerErr == nil {
				registered = &domain.Group{ChatID: -100123, Interactions: 1}
			}
			env.repo.On("Register", mock.Anything, mock.MatchedBy(func(g *domain.Group) bool {
				return g.ChatID == -100123 && g.RegisteredBy == testUserID
			})).Return(registered, tt.registerErr)

			out, err := env.h.cmdStart(context.Background(), groupUpdate())
			require.NoError(t, err)

			assert.Equal(t, "https://t.me/twin3bot?start=verify_-100123", firstButton(out.screen).URL)
			assert.Contains(t, out.screen.Text, "Twin3 Fans")
			assert.Nil(t, env.session(t))
			env.repo.AssertExpectations(t)
		})
	}
}

func TestRouteScreen_GroupTextIsIgnored(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.h.routeScreen(context.Background(), groupUpdate(), flow.CommandNone)

	require.NoError(t, err)
	assert.Empty(t, out.screen.Text)
	env.repo.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestCbLanguage(t *testing.T) {
	env := newTestEnv(t)
	u := privateUpdate()

	out, err := env.h.cbLanguage(context.Background(), u, "zh-TW")
	require.NoError(t, err)

	notice := env.tr.T("language.updated", "zh-TW", map[string]string{"language": i18n.Name("zh-TW")})
	assert.Contains(t, out.screen.Text, notice)
	assert.Equal(t, flow.Button{
		Text:    env.tr.T("verification.start_button", "zh-TW", map[string]string{"level": "1"}),
		Action:  flow.ActionStartLevel,
		Payload: "1",
	}, firstButton(out.screen))
	assert.Equal(t, "zh-TW", env.session(t).Language)
}

func TestCbLanguage_Unsupported(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.h.cbLanguage(context.Background(), privateUpdate(), "xx-XX")

	assert.ErrorIs(t, err, domain.ErrUnsupportedLanguage)
	assert.Nil(t, env.session(t))
}

func TestLevelFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 0, "en-US")
	ctx := context.Background()
	u := privateUpdate()

	env.api.On("StartVerification", mock.Anything, mock.MatchedBy(func(r backend.StartRequest) bool {
		return r.UserID == testUserID && r.Level == 1
	})).Return(&backend.StartResult{
		VerificationURL: "https://verify.twin3.test/l1",
		Token:           "tok-1",
		ExpiresAt:       time.Now().Add(10 * time.Minute),
	}, nil).Once()
	env.api.On("CheckVerificationStatus", mock.Anything, "tok-1").
		Return(&backend.CheckResult{Status: backend.StatusCompleted, HumanityIndex: testutil.IntPtr(80)}, nil).Once()

	out, err := env.h.cbStartLevel(ctx, u, "1")
	require.NoError(t, err)
	assert.Equal(t, "https://verify.twin3.test/l1", firstButton(out.screen).URL)
	assert.Equal(t, flow.ActionCheckLevel, out.screen.Keyboard[1][0].Action)

	out, err = env.h.cbCheckLevel(ctx, u, "1")
	require.NoError(t, err)
	assert.Contains(t, out.screen.Text, "80/255")

	s := env.session(t)
	assert.Equal(t, 1, s.VerificationLevel)
	assert.Equal(t, 2, s.CurrentLevel)

	// verify now opens the dashboard with a way back to the level list
	out, err = env.h.routeCommand(flow.CommandVerify)(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, flow.Button{
		Text:    env.tr.T("buttons.continue_verification", "en-US", nil),
		Action:  flow.ActionFlow,
		Payload: flow.FlowLevels,
	}, firstButton(out.screen))

	// skipping ahead is rejected before any backend call
	_, err = env.h.cbStartLevel(ctx, u, "3")
	key, ok := noticeFor(err)
	assert.True(t, ok)
	assert.Equal(t, "verification.out_of_order", key)

	env.api.AssertExpectations(t)
}

func TestCbCheckLevel_Outcomes(t *testing.T) {
	tests := []struct {
		name         string
		status       string
		expectedText string
		expectedBtn  flow.Action
	}{
		{name: "pending", status: backend.StatusPending, expectedText: "verification.pending", expectedBtn: flow.ActionCheckLevel},
		{name: "failed", status: backend.StatusFailed, expectedBtn: flow.ActionStartLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.seed(t, 0, "en-US")
			ctx := context.Background()
			u := privateUpdate()

			env.api.On("StartVerification", mock.Anything, mock.Anything).Return(&backend.StartResult{
				VerificationURL: "https://verify.twin3.test/l1",
				Token:           "tok-1",
			}, nil)
			env.api.On("CheckVerificationStatus", mock.Anything, "tok-1").
				Return(&backend.CheckResult{Status: tt.status}, nil)

			_, err := env.h.cbStartLevel(ctx, u, "1")
			require.NoError(t, err)

			out, err := env.h.cbCheckLevel(ctx, u, "1")
			require.NoError(t, err)

			if tt.expectedText != "" {
				assert.Equal(t, env.tr.T(tt.expectedText, "en-US", nil), out.screen.Text)
			}
			assert.Equal(t, tt.expectedBtn, firstButton(out.screen).Action)
			assert.Equal(t, "1", firstButton(out.screen).Payload)
		})
	}
}

func TestCbCheckLevel_NoActiveVerification(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 0, "en-US")

	_, err := env.h.cbCheckLevel(context.Background(), privateUpdate(), "1")

	assert.ErrorIs(t, err, domain.ErrNoActiveVerification)
	env.api.AssertNotCalled(t, "CheckVerificationStatus", mock.Anything, mock.Anything)
}

func TestCbStartLevel_InvalidPayload(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.h.cbStartLevel(context.Background(), privateUpdate(), "9")

	require.NoError(t, err)
	assert.Equal(t, outcome{}, out)
	env.api.AssertNotCalled(t, "StartVerification", mock.Anything, mock.Anything)
}

func TestAlerts(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, "zh-TW")
	ctx := context.Background()

	out, err := env.h.cbLevelLocked(ctx, privateUpdate(), "3")
	require.NoError(t, err)
	assert.Equal(t, env.tr.T("verification.locked_alert", "zh-TW", nil), out.alert)
	assert.Empty(t, out.screen.Text)

	out, err = env.h.cbLevelDone(ctx, privateUpdate(), "1")
	require.NoError(t, err)
	assert.Equal(t, env.tr.T("verification.already_completed", "zh-TW", nil), out.alert)
}

func TestMintFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 2, "en-US")
	ctx := context.Background()
	u := privateUpdate()

	env.api.On("RequestSBTMint", mock.Anything, mock.MatchedBy(func(r backend.MintRequest) bool {
		return r.UserID == testUserID && r.Username == "alice" && r.IdempotencyKey != ""
	})).
		Return(&backend.MintResult{MintRequestID: "mint-1", WalletAddress: "0xabc"}, nil).Once()
	env.api.On("CheckMintStatus", mock.Anything, "mint-1").
		Return(&backend.MintStatusResult{Status: backend.StatusCompleted, TokenID: "7", SBTAddress: "0xsbt", TxHash: "0xtx"}, nil).Once()

	out, err := env.h.cmdSBT(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, flow.ActionMintSBT, firstButton(out.screen).Action)

	out, err = env.h.cbMintSBT(ctx, u, "")
	require.NoError(t, err)
	assert.Contains(t, out.screen.Text, "mint-1")
	assert.Contains(t, out.screen.Text, env.tr.T("sbt.default_eta", "en-US", nil))

	out, err = env.h.cbCheckMint(ctx, u, "")
	require.NoError(t, err)
	assert.Contains(t, out.screen.Text, "0xtx")

	_, err = env.h.cbMintSBT(ctx, u, "")
	assert.ErrorIs(t, err, domain.ErrAlreadyMinted)

	env.api.AssertExpectations(t)
}

func TestCbMintSBT_NotEligible(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, "en-US")

	_, err := env.h.cbMintSBT(context.Background(), privateUpdate(), "")

	assert.ErrorIs(t, err, domain.ErrNotEligible)
	env.api.AssertNotCalled(t, "RequestSBTMint", mock.Anything, mock.Anything)
}

func TestCmdSBT_WithoutLanguageShowsPicker(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.h.cmdSBT(context.Background(), privateUpdate())

	require.NoError(t, err)
	assert.Equal(t, flow.ActionLanguage, firstButton(out.screen).Action)
}

func TestCmdReset(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 2, "en-US")

	out, err := env.h.cmdReset(context.Background(), privateUpdate())

	require.NoError(t, err)
	assert.Contains(t, out.screen.Text, env.tr.T("reset.done", "en-US", nil))
	assert.Nil(t, env.session(t))
}

func TestLoad_CorruptSession(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.store.Update(context.Background(), testUserID, func(s *domain.Session) error {
		s.Language = "en-US"
		s.VerificationLevel = 2
		s.CompletedLevels = []int{1}
		return nil
	})
	require.NoError(t, err)

	_, err = env.h.routeScreen(context.Background(), privateUpdate(), flow.CommandStart)

	assert.ErrorIs(t, err, domain.ErrCorruptSession)
	_, ok := noticeFor(err)
	assert.False(t, ok)
}

func TestCbFlow_MainMenu(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, 1, "en-US")

	out, err := env.h.cbFlow(context.Background(), privateUpdate(), flow.FlowMain)

	require.NoError(t, err)
	assert.Equal(t, flow.ActionFlow, firstButton(out.screen).Action)
	assert.Equal(t, flow.FlowDashboard, firstButton(out.screen).Payload)
	assert.Contains(t, out.screen.Text, "Alice")
}

func TestCmdGroupStats(t *testing.T) {
	registered := &domain.Group{
		ChatID:       -100123,
		Title:        "Twin3 Fans",
		Interactions: 12,
		Referrals:    5,
		CreatedAt:    time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}

	tests := []struct {
		name       string
		u          update
		admin      bool
		adminErr   error
		group      *domain.Group
		groupErr   error
		expectGet  bool
		wantErr    bool
		wantText   string
		wantSubstr []string
	}{
		{
			name:     "private chat",
			u:        privateUpdate(),
			wantText: "ℹ️ Use /groupstats inside a group.",
		},
		{
			name:     "not an admin",
			u:        groupUpdate(),
			wantText: "🔒 Only group admins can view group stats.",
		},
		{
			name:     "admin lookup fails",
			u:        groupUpdate(),
			adminErr: errors.New("telegram unavailable"),
			wantErr:  true,
		},
		{
			name:      "group not registered",
			u:         groupUpdate(),
			admin:     true,
			groupErr:  domain.ErrGroupNotFound,
			expectGet: true,
			wantText:  "This group is not registered yet. Add the bot and send /start first.",
		},
		{
			name:       "admin sees counters",
			u:          groupUpdate(),
			admin:      true,
			group:      registered,
			expectGet:  true,
			wantSubstr: []string{"Twin3 Fans", "Interactions: 12", "Referrals: 5", "2024-05-01 09:30 UTC"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			var askedChat, askedUser int64
			env.h.isAdmin = func(chatID, userID int64) (bool, error) {
				askedChat, askedUser = chatID, userID
				return tt.admin, tt.adminErr
			}
			if tt.expectGet {
				env.repo.On("Get", mock.Anything, int64(-100123)).Return(tt.group, tt.groupErr).Once()
			}

			out, err := env.h.cmdGroupStats(context.Background(), tt.u)

			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantText != "" {
				assert.Equal(t, tt.wantText, out.screen.Text)
			}
			for _, sub := range tt.wantSubstr {
				assert.Contains(t, out.screen.Text, sub)
			}
			if tt.u.chat.IsGroup() {
				assert.Equal(t, int64(-100123), askedChat)
				assert.Equal(t, testUserID, askedUser)
				assert.Empty(t, out.screen.Keyboard)
			}
			if !tt.expectGet {
				env.repo.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
			}
			env.repo.AssertExpectations(t)
			assert.Nil(t, env.session(t), "group commands never create sessions")
		})
	}
}
