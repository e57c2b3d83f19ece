package app

import (
	"context"
	"strings"
	"testing"

	"fibo-hedge-bot/internal/alerts"
	"fibo-hedge-bot/internal/exchange/paper"
	"fibo-hedge-bot/internal/state"
)

func TestParseOperatorCommand(t *testing.T) {
	cmd, args, ok := parseOperatorCommand("/Status@fibo_bot btcusdt")
	if !ok {
		t.Fatalf("expected ok")
	}
	if cmd != cmdStatus {
		t.Fatalf("expected status, got %s", cmd)
	}
	if len(args) != 1 || args[0] != "btcusdt" {
		t.Fatalf("unexpected args: %v", args)
	}
	if _, _, ok := parseOperatorCommand("status"); ok {
		t.Fatalf("expected plain text to be ignored")
	}
}

func TestOperatorPauseResumeAudit(t *testing.T) {
	a, store := newTestApp(t, testConfig("BTCUSDT"), paper.New(dec("100"), nil, nil))
	meta := operatorMeta{UserID: 1, ChatID: 2, Raw: "/pause"}

	resp, err := a.handleOperatorCommand(context.Background(), cmdPause, nil, meta)
	if err != nil {
		t.Fatalf("pause error: %v", err)
	}
	if resp != "trading paused" {
		t.Fatalf("unexpected pause response: %s", resp)
	}
	if !a.isPaused() {
		t.Fatalf("expected paused")
	}
	if resp, _ := a.handleOperatorCommand(context.Background(), cmdPause, nil, meta); resp != "trading already paused" {
		t.Fatalf("unexpected second pause response: %s", resp)
	}

	// The pair never opened, so resume opens it.
	meta.Raw = "/resume"
	resp, err = a.handleOperatorCommand(context.Background(), cmdResume, nil, meta)
	if err != nil {
		t.Fatalf("resume error: %v", err)
	}
	if !strings.Contains(resp, "reopened BTCUSDT") {
		t.Fatalf("unexpected resume response: %s", resp)
	}
	if a.isPaused() {
		t.Fatalf("expected resumed")
	}
	audits := 0
	for key := range store.data {
		if strings.HasPrefix(key, "ops:audit:") {
			audits++
		}
	}
	if audits != 3 {
		t.Fatalf("expected 3 audit entries, got %d", audits)
	}
}

func TestOperatorFlattenPausesAndResumeReopens(t *testing.T) {
	ctx := context.Background()
	ex := paper.New(dec("100"), nil, nil)
	a, _ := newTestApp(t, testConfig("BTCUSDT"), ex)
	if err := a.startPair(ctx, a.pairs[0]); err != nil {
		t.Fatalf("start pair: %v", err)
	}
	resp, err := a.handleOperatorCommand(ctx, cmdFlatten, nil, operatorMeta{Raw: "/flatten"})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if !strings.HasPrefix(resp, "flattened BTCUSDT") || !a.isPaused() {
		t.Fatalf("expected flattened and paused, got %q paused=%v", resp, a.isPaused())
	}
	positions, orders, triggers := listed(t, ex, "BTCUSDT")
	if !positions.Empty() || len(orders) != 0 || len(triggers) != 0 {
		t.Fatalf("expected empty account after flatten")
	}

	if _, err := a.handleOperatorCommand(ctx, cmdResume, []string{"btcusdt"}, operatorMeta{Raw: "/resume btcusdt"}); err != nil {
		t.Fatalf("resume: %v", err)
	}
	positions, orders, triggers = listed(t, ex, "BTCUSDT")
	if positions.Long == nil || positions.Short == nil || len(orders) != 2 || len(triggers) != 2 {
		t.Fatalf("expected hedge reopened, got %+v %d %d", positions, len(orders), len(triggers))
	}
}

func TestOperatorFlattenOnePairKeepsOthersTrading(t *testing.T) {
	ctx := context.Background()
	ex := paper.New(dec("100"), nil, nil)
	a, _ := newTestApp(t, testConfig("BTCUSDT", "ETHUSDT"), ex)
	for _, p := range a.pairs {
		if err := a.startPair(ctx, p); err != nil {
			t.Fatalf("start %s: %v", p.engine.Pair(), err)
		}
	}
	resp, err := a.handleOperatorCommand(ctx, cmdFlatten, []string{"btcusdt"}, operatorMeta{Raw: "/flatten btcusdt"})
	if err != nil {
		t.Fatalf("flatten: %v", err)
	}
	if !strings.HasPrefix(resp, "flattened BTCUSDT") || a.isPaused() {
		t.Fatalf("expected single pair flattened without pausing, got %q paused=%v", resp, a.isPaused())
	}
	if btc, _ := a.engine("BTCUSDT"); btc.State().Active {
		t.Fatalf("expected flattened pair inactive")
	}

	// The other pair still reacts: its long take profit fires and is reopened.
	ex.SetPrice("ETHUSDT", dec("100.6"))
	eth := a.pairs[1]
	a.tick(ctx, eth)
	st := eth.engine.State()
	if !st.Active || !st.Long.Open || !st.Long.Entry.Equal(dec("100.6")) {
		t.Fatalf("expected ETHUSDT long reopened at 100.6, got %+v", st.Long)
	}
	positions, _, _ := listed(t, ex, "BTCUSDT")
	if !positions.Empty() {
		t.Fatalf("expected flattened pair to stay flat, got %+v", positions)
	}
}

func TestOperatorStatusAndAudit(t *testing.T) {
	ctx := context.Background()
	ex := paper.New(dec("100"), nil, nil)
	a, _ := newTestApp(t, testConfig("BTCUSDT"), ex)
	if err := a.startPair(ctx, a.pairs[0]); err != nil {
		t.Fatalf("start pair: %v", err)
	}
	resp, err := a.handleOperatorCommand(ctx, cmdStatus, nil, operatorMeta{})
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(resp, "BTCUSDT active=true") || !strings.Contains(resp, "long: size 1 entry 100 level 0") {
		t.Fatalf("unexpected status: %s", resp)
	}
	resp, err = a.handleOperatorCommand(ctx, cmdAudit, nil, operatorMeta{})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if resp != "BTCUSDT: no drift" {
		t.Fatalf("unexpected audit response: %s", resp)
	}
}

func TestOperatorUnknownPairAndCommand(t *testing.T) {
	a, _ := newTestApp(t, testConfig("BTCUSDT"), paper.New(dec("100"), nil, nil))
	if _, err := a.handleOperatorCommand(context.Background(), cmdAudit, []string{"SOLUSDT"}, operatorMeta{}); err == nil {
		t.Fatalf("expected error for unknown pair")
	}
	resp, err := a.handleOperatorCommand(context.Background(), operatorCommand("risk"), nil, operatorMeta{})
	if err != nil || resp != operatorHelpText() {
		t.Fatalf("expected help for unknown command, got %q %v", resp, err)
	}
}

func TestOperatorUpdateFiltersChatAndUser(t *testing.T) {
	a, _ := newTestApp(t, testConfig("BTCUSDT"), paper.New(dec("100"), nil, nil))
	allowed := map[int64]struct{}{42: {}}
	upd := alerts.Update{UpdateID: 1, Message: &alerts.Message{From: &alerts.User{ID: 7}, Chat: &alerts.Chat{ID: 5}, Text: "/pause"}}
	a.handleOperatorUpdate(context.Background(), upd, 5, allowed)
	if a.isPaused() {
		t.Fatalf("expected command from unlisted user ignored")
	}
	upd.Message.From.ID = 42
	upd.Message.Chat.ID = 6
	a.handleOperatorUpdate(context.Background(), upd, 5, allowed)
	if a.isPaused() {
		t.Fatalf("expected command from another chat ignored")
	}
	upd.Message.Chat.ID = 5
	a.handleOperatorUpdate(context.Background(), upd, 5, allowed)
	if !a.isPaused() {
		t.Fatalf("expected command from allowed user applied")
	}
}

func TestOperatorOffsetPersistence(t *testing.T) {
	a, store := newTestApp(t, testConfig("BTCUSDT"), paper.New(dec("100"), nil, nil))
	if got := a.loadOperatorOffset(context.Background()); got != 0 {
		t.Fatalf("expected zero offset, got %d", got)
	}
	a.saveOperatorOffset(context.Background(), 99)
	if store.data[state.OperatorOffsetKey] != "99" {
		t.Fatalf("expected offset saved, got %q", store.data[state.OperatorOffsetKey])
	}
	if got := a.loadOperatorOffset(context.Background()); got != 99 {
		t.Fatalf("expected offset 99, got %d", got)
	}
}
