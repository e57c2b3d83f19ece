package app

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fibo-hedge-bot/internal/alerts"
	"fibo-hedge-bot/internal/hedge"
	"fibo-hedge-bot/internal/state"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type operatorCommand string

const (
	cmdStatus  operatorCommand = "status"
	cmdPause   operatorCommand = "pause"
	cmdResume  operatorCommand = "resume"
	cmdAudit   operatorCommand = "audit"
	cmdFlatten operatorCommand = "flatten"
	cmdHelp    operatorCommand = "help"
)

type operatorHandler func(a *App, ctx context.Context, args []string, meta operatorMeta) (string, error)

var operatorCommands = map[operatorCommand]operatorHandler{
	cmdStatus:  (*App).operatorStatus,
	cmdPause:   (*App).operatorPause,
	cmdResume:  (*App).operatorResume,
	cmdAudit:   (*App).operatorAudit,
	cmdFlatten: (*App).operatorFlatten,
	cmdHelp:    func(*App, context.Context, []string, operatorMeta) (string, error) { return operatorHelpText(), nil },
}

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	Pairs        []string  `json:"pairs,omitempty"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
	Result       string    `json:"result,omitempty"`
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || !a.alerts.Enabled() || !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (operatorCommand, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	name := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address commands as /status@botname.
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return operatorCommand(name), fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd operatorCommand, args []string, meta operatorMeta) (string, error) {
	handler, ok := operatorCommands[cmd]
	if !ok {
		return operatorHelpText(), nil
	}
	return handler(a, ctx, args, meta)
}

// targetEngines resolves an optional pair argument; no argument means
// every pair.
func (a *App) targetEngines(args []string) ([]*hedge.Engine, error) {
	if len(args) == 0 {
		out := make([]*hedge.Engine, 0, len(a.pairs))
		for _, p := range a.pairs {
			out = append(out, p.engine)
		}
		return out, nil
	}
	pair := strings.ToUpper(args[0])
	e, ok := a.engine(pair)
	if !ok {
		return nil, fmt.Errorf("unknown pair %s", pair)
	}
	return []*hedge.Engine{e}, nil
}

func (a *App) operatorStatus(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	engines, err := a.targetEngines(args)
	if err != nil {
		return "", err
	}
	lines := []string{fmt.Sprintf("paused: %t", a.isPaused())}
	for _, e := range engines {
		lines = append(lines, formatState(e.State()))
	}
	return strings.Join(lines, "\n"), nil
}

func formatState(st hedge.State) string {
	leg := func(name string, l hedge.Leg) string {
		if !l.Open {
			return name + ": closed"
		}
		out := fmt.Sprintf("%s: size %s entry %s level %d", name, l.SizePrev, l.Entry, l.Level)
		if l.Exhausted {
			out += " exhausted"
		}
		if l.Capped {
			out += " capped"
		}
		return out
	}
	return strings.Join([]string{
		fmt.Sprintf("%s active=%t needs_audit=%t", st.Pair, st.Active, st.NeedsAudit),
		"  " + leg("long", st.Long),
		"  " + leg("short", st.Short),
	}, "\n")
}

func (a *App) operatorPause(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	before := a.isPaused()
	after := a.setPaused(true)
	a.auditOperatorEvent(ctx, newOperatorEvent(meta, "pause", before, after))
	if before {
		return "trading already paused", nil
	}
	return "trading paused", nil
}

// operatorResume unpauses polling and reopens any pair that was flattened
// by the operator.
func (a *App) operatorResume(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	engines, err := a.targetEngines(args)
	if err != nil {
		return "", err
	}
	before := a.isPaused()
	var reopened []string
	var errs []error
	for _, e := range engines {
		if e.State().Active {
			continue
		}
		if err := e.OpenHedge(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Pair(), err))
		}
		reopened = append(reopened, e.Pair())
	}
	after := a.setPaused(false)
	ev := newOperatorEvent(meta, "resume", before, after)
	ev.Pairs = reopened
	a.auditOperatorEvent(ctx, ev)
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	if len(reopened) > 0 {
		return "trading resumed, reopened " + strings.Join(reopened, ", "), nil
	}
	if !before {
		return "trading already active", nil
	}
	return "trading resumed", nil
}

func (a *App) operatorAudit(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	engines, err := a.targetEngines(args)
	if err != nil {
		return "", err
	}
	var lines []string
	var errs []error
	for _, e := range engines {
		report, err := e.Audit(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Pair(), err))
		}
		if len(report.Repairs) == 0 {
			lines = append(lines, e.Pair()+": no drift")
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", e.Pair(), strings.Join(report.Repairs, "; ")))
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	return strings.Join(lines, "\n"), nil
}

// operatorFlatten closes everything and pauses so the pair stays flat
// until /resume.
func (a *App) operatorFlatten(ctx context.Context, args []string, meta operatorMeta) (string, error) {
	engines, err := a.targetEngines(args)
	if err != nil {
		return "", err
	}
	// A flattened engine is inactive and ignores polls, so a single pair
	// needs no pause; flattening everything pauses the whole loop.
	pauseAll := len(args) == 0
	before := a.isPaused()
	if pauseAll {
		before = a.setPausedReturnPrevious(true)
	}
	var pairs []string
	var errs []error
	for _, e := range engines {
		pairs = append(pairs, e.Pair())
		if err := e.Cleanup(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Pair(), err))
		}
	}
	ev := newOperatorEvent(meta, "flatten", before, a.isPaused())
	ev.Pairs = pairs
	if err := errors.Join(errs...); err != nil {
		ev.Result = err.Error()
		a.auditOperatorEvent(ctx, ev)
		return "", err
	}
	a.auditOperatorEvent(ctx, ev)
	if pauseAll {
		return "flattened " + strings.Join(pairs, ", ") + "; trading paused", nil
	}
	return "flattened " + strings.Join(pairs, ", ") + "; idle until /resume", nil
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status [pair] - hedge state per pair",
		"/pause - stop reacting to position changes",
		"/resume [pair] - resume, reopening flattened pairs",
		"/audit [pair] - run the self-healing audit now",
		"/flatten [pair] - cancel everything and close both sides; without a pair also pauses all pairs",
		"/help - this list",
	}, "\n")
}

func newOperatorEvent(meta operatorMeta, action string, before, after bool) operatorAuditEvent {
	return operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         time.Now().UTC(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		PausedBefore: before,
		PausedAfter:  after,
	}
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}

func (a *App) setPausedReturnPrevious(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	prev := a.paused
	a.paused = paused
	return prev
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, state.OperatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, state.OperatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	key := fmt.Sprintf("ops:audit:%d:%d:%s", time.Now().UTC().UnixNano(), event.UpdateID, uuid.NewString()[:8])
	if err := state.SaveJSON(ctx, a.store, key, event); err != nil {
		a.log.Warn("operator audit record failed", zap.Error(err))
	}
}
