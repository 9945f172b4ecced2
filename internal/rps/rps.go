// Package rps runs rock, paper, scissors matches between two logged-in
// clients. The server hosts at most one match at a time.
package rps

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/parley/internal/audit"
	"github.com/cory-johannsen/parley/internal/protocol"
	"github.com/cory-johannsen/parley/internal/session"
	"github.com/cory-johannsen/parley/internal/timeout"
)

// Choices.
const (
	Rock     = "rock"
	Paper    = "paper"
	Scissors = "scissors"
)

var beats = map[string]string{
	Rock:     Scissors,
	Scissors: Paper,
	Paper:    Rock,
}

// NormalizeChoice lowercases choice and reports whether it is valid.
func NormalizeChoice(choice string) (string, bool) {
	c := strings.ToLower(choice)
	_, ok := beats[c]
	return c, ok
}

// Winner returns 0 if a beats b, 1 if b beats a and -1 on a draw.
//
// Precondition: a and b are normalized, valid choices.
func Winner(a, b string) int {
	switch {
	case a == b:
		return -1
	case beats[a] == b:
		return 0
	default:
		return 1
	}
}

// Game is one match. Its mutex serializes choices, the choice timeout and
// disconnects.
type Game struct {
	mu      sync.Mutex
	players [2]*session.Client
	names   [2]string
	choices [2]string
	ended   bool
	expiry  *timeout.Binding
}

// Players returns the challenger and opponent usernames.
func (g *Game) Players() [2]string { return g.names }

func (g *Game) seat(name string) int {
	for i, n := range g.names {
		if n == name {
			return i
		}
	}
	return -1
}

func (g *Game) complete() bool {
	return g.choices[0] != "" && g.choices[1] != ""
}

// Engine holds the single game slot.
type Engine struct {
	registry      *session.Registry
	choiceTimeout time.Duration
	recorder      audit.Recorder
	logger        *zap.Logger
	now           func() time.Time

	mu     sync.Mutex
	active *Game
}

// NewEngine creates an Engine with an empty slot.
//
// Precondition: registry, recorder and logger must not be nil; choiceTimeout > 0.
func NewEngine(registry *session.Registry, choiceTimeout time.Duration, recorder audit.Recorder, logger *zap.Logger) *Engine {
	return &Engine{
		registry:      registry,
		choiceTimeout: choiceTimeout,
		recorder:      recorder,
		logger:        logger,
		now:           time.Now,
	}
}

// Active returns the running game, or nil.
func (e *Engine) Active() *Game {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// Start opens a match between challenger and the client logged in as
// opponent. On success the challenger is acknowledged and the opponent is
// notified; failures are left to the caller to report.
//
// Postcondition: Returns nil with the slot filled and the choice timeout
// armed, or one of protocol.ErrNotLoggedIn, protocol.ErrOpponentNotFound,
// protocol.ErrInvalidOpponent or a *protocol.GameActiveError with no state
// changed.
func (e *Engine) Start(challenger *session.Client, opponent string) error {
	name := challenger.Username()
	if name == "" {
		return protocol.ErrNotLoggedIn
	}
	opp, ok := e.registry.Lookup(opponent)
	if !ok {
		return protocol.ErrOpponentNotFound
	}
	if opp == challenger {
		return protocol.ErrInvalidOpponent
	}

	e.mu.Lock()
	if e.active != nil {
		players := e.active.names
		e.mu.Unlock()
		return &protocol.GameActiveError{Players: players}
	}
	if !challenger.Alive() || !opp.Alive() {
		e.mu.Unlock()
		return protocol.ErrOpponentNotFound
	}
	g := &Game{
		players: [2]*session.Client{challenger, opp},
		names:   [2]string{name, opponent},
	}
	g.expiry = timeout.Arm(&g.mu, func(*sync.Mutex) bool {
		return g.ended || g.complete()
	}, func(*sync.Mutex) {
		e.expire(g)
	}, e.choiceTimeout)
	e.active = g
	e.mu.Unlock()

	e.logger.Info("game started", zap.String("challenger", name), zap.String("opponent", opponent))
	_ = challenger.Send(protocol.RPSStartResp{Status: protocol.OK()})
	_ = opp.Send(protocol.RPSStart{Username: name})
	return nil
}

// Choose records player's choice. The second valid choice ends the match and
// both players receive RPS_END.
//
// Postcondition: Returns nil, or one of protocol.ErrNotLoggedIn,
// protocol.ErrNoGameActive, protocol.ErrNotAParticipant,
// protocol.ErrInvalidChoice, protocol.ErrChoiceAlreadyMade with no state changed.
func (e *Engine) Choose(player *session.Client, choice string) error {
	name := player.Username()
	if name == "" {
		return protocol.ErrNotLoggedIn
	}
	g := e.Active()
	if g == nil {
		return protocol.ErrNoGameActive
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended {
		return protocol.ErrNoGameActive
	}
	seat := g.seat(name)
	if seat < 0 || g.players[seat] != player {
		return protocol.ErrNotAParticipant
	}
	normalized, ok := NormalizeChoice(choice)
	if !ok {
		return protocol.ErrInvalidChoice
	}
	if g.choices[seat] != "" {
		return protocol.ErrChoiceAlreadyMade
	}
	g.choices[seat] = normalized
	if !g.complete() {
		return nil
	}

	g.expiry.Cancel()
	e.finish(g)
	return nil
}

// finish runs with g.mu held.
func (e *Engine) finish(g *Game) {
	g.ended = true
	e.release(g)

	var winner string
	outcome := audit.OutcomeDraw
	if w := Winner(g.choices[0], g.choices[1]); w >= 0 {
		winner = g.names[w]
		outcome = audit.OutcomeWin
	}
	_ = g.players[0].Send(protocol.RPSEnd{Winner: winner, OpponentChoice: g.choices[1]})
	_ = g.players[1].Send(protocol.RPSEnd{Winner: winner, OpponentChoice: g.choices[0]})

	e.logger.Info("game finished",
		zap.Strings("players", g.names[:]),
		zap.Strings("choices", g.choices[:]),
		zap.String("winner", winner))
	e.record(g, winner, outcome)
}

// expire runs with g.mu held.
func (e *Engine) expire(g *Game) {
	g.ended = true
	e.release(g)

	e.logger.Info("game timed out", zap.Strings("players", g.names[:]))
	e.record(g, "", audit.OutcomeTimeout)

	resp := protocol.RPSChoiceResp{Status: protocol.Fail(protocol.CodeResponseTimeout)}
	_ = g.players[0].Send(resp)
	_ = g.players[1].Send(resp)
}

// OnDisconnect ends the game of a departing player and notifies the other.
func (e *Engine) OnDisconnect(c *session.Client) {
	g := e.Active()
	if g == nil {
		return
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ended {
		return
	}
	var other *session.Client
	switch c {
	case g.players[0]:
		other = g.players[1]
	case g.players[1]:
		other = g.players[0]
	default:
		return
	}

	g.ended = true
	g.expiry.Cancel()
	e.release(g)
	_ = other.Send(protocol.RPSError{Code: protocol.CodeUnexpectedDisconnect})

	e.logger.Info("game abandoned", zap.Strings("players", g.names[:]), zap.String("left", c.Username()))
	e.record(g, "", audit.OutcomeDisconnect)
}

func (e *Engine) release(g *Game) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == g {
		e.active = nil
	}
}

func (e *Engine) record(g *Game, winner, outcome string) {
	e.recorder.Record(audit.Event{
		Kind:        audit.KindGame,
		Actor:       g.names[0],
		Counterpart: g.names[1],
		Subject:     winner,
		Outcome:     outcome,
		At:          e.now(),
	})
}
