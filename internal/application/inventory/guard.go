package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/domain"
)

// GuardState estado de una clave de envío en la guardia.
type GuardState string

const (
	GuardIdle      GuardState = "idle"
	GuardPending   GuardState = "pending"
	GuardCommitted GuardState = "committed"
	GuardReleased  GuardState = "released"
)

// DefaultCommittedTTL tiempo que la guardia recuerda una clave confirmada.
// Pasado ese plazo el token persistido junto al movimiento sigue evitando la doble aplicación.
const DefaultCommittedTTL = 24 * time.Hour

type guardEntry struct {
	state GuardState
	at    time.Time
}

// SubmissionGuard suprime disparos duplicados de un mismo envío lógico (doble clic, reenvío).
// No sustituye al token de idempotencia del libro: solo evita que dos intentos con la
// misma clave lleguen a la vez a la sección atómica.
type SubmissionGuard struct {
	mu           sync.Mutex
	entries      map[string]guardEntry
	committedTTL time.Duration
	now          func() time.Time
	recorder     Recorder
	log          zerolog.Logger
}

// GuardOption configura la guardia.
type GuardOption func(*SubmissionGuard)

// WithGuardClock reemplaza el reloj (tests).
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *SubmissionGuard) { g.now = now }
}

// NewSubmissionGuard construye la guardia. committedTTL <= 0 usa DefaultCommittedTTL.
func NewSubmissionGuard(committedTTL time.Duration, recorder Recorder, log zerolog.Logger, opts ...GuardOption) *SubmissionGuard {
	if committedTTL <= 0 {
		committedTTL = DefaultCommittedTTL
	}
	if recorder == nil {
		recorder = NopRecorder()
	}
	g := &SubmissionGuard{
		entries:      make(map[string]guardEntry),
		committedTTL: committedTTL,
		now:          time.Now,
		recorder:     recorder,
		log:          log.With().Str("component", "submission_guard").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Acquire pasa la clave de Idle o Released a Pending y devuelve el Lease.
// Con la clave en Pending devuelve domain.ErrDuplicateSubmission; con la clave en
// Committed devuelve domain.ErrSubmissionConsumed. Ambos casos se registran en el log.
func (g *SubmissionGuard) Acquire(key string) (*Lease, error) {
	if key == "" {
		return nil, domain.ErrInvalidInput
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[key]
	if ok {
		switch e.state {
		case GuardPending:
			g.recorder.DuplicateSuppressed()
			g.log.Warn().Str("submission_key", key).Msg("envío duplicado suprimido: ya en curso")
			return nil, domain.ErrDuplicateSubmission
		case GuardCommitted:
			if g.now().Sub(e.at) < g.committedTTL {
				g.recorder.DuplicateSuppressed()
				g.log.Warn().Str("submission_key", key).Msg("envío duplicado suprimido: ya confirmado")
				return nil, domain.ErrSubmissionConsumed
			}
		}
	}
	g.entries[key] = guardEntry{state: GuardPending, at: g.now()}
	return &Lease{key: key, guard: g}, nil
}

// State devuelve el estado actual de la clave.
func (g *SubmissionGuard) State(key string) GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok {
		return GuardIdle
	}
	return e.state
}

// Sweep olvida las claves confirmadas o liberadas más antiguas que el TTL. Devuelve cuántas eliminó.
func (g *SubmissionGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	n := 0
	for k, e := range g.entries {
		if e.state != GuardPending && now.Sub(e.at) >= g.committedTTL {
			delete(g.entries, k)
			n++
		}
	}
	return n
}

// Run ejecuta Sweep periódicamente hasta que ctx termine.
func (g *SubmissionGuard) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				g.log.Debug().Int("expired", n).Msg("claves de envío expiradas")
			}
		}
	}
}

func (g *SubmissionGuard) finish(key string, state GuardState) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entries[key]
	if !ok || e.state != GuardPending {
		return
	}
	g.entries[key] = guardEntry{state: state, at: g.now()}
}

// Lease autoriza a su titular a invocar el libro para un envío lógico.
// Commit o Release deben llamarse exactamente una vez; llamadas posteriores no tienen efecto.
type Lease struct {
	key   string
	guard *SubmissionGuard
	once  sync.Once
}

// Key devuelve la clave del envío.
func (l *Lease) Key() string { return l.key }

// Commit marca la clave como consumida: no podrá reutilizarse. Un Lease nil no hace nada.
func (l *Lease) Commit() {
	if l == nil {
		return
	}
	l.once.Do(func() { l.guard.finish(l.key, GuardCommitted) })
}

// Release libera la clave tras un rechazo, fallo o cancelación: se permite reintentar.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() { l.guard.finish(l.key, GuardReleased) })
}
