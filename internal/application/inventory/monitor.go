package inventory

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jhoicas/stock-ledger/internal/domain/entity"
)

// DefaultMonitorBuffer capacidad de la cola de observaciones.
const DefaultMonitorBuffer = 1024

// Observation estado observado alrededor de un movimiento confirmado.
type Observation struct {
	MovementID   string
	ProductID    string
	Direction    entity.Direction
	Quantity     int64
	PreQuantity  int64
	PostQuantity int64
	ActorRef     string
	At           time.Time
}

// Reconcile compara la variación esperada del movimiento con la observada.
func Reconcile(d entity.Direction, quantity, pre, post int64) (expected, actual int64, ok bool) {
	expected = d.Sign() * quantity
	actual = post - pre
	return expected, actual, expected == actual
}

// ReconciliationMonitor verificación posterior al commit. Es solo diagnóstico:
// nunca rechaza ni revierte; si la variación no cuadra emite CorruptionDetected.
type ReconciliationMonitor struct {
	queue     chan Observation
	publisher EventPublisher
	recorder  Recorder
	log       zerolog.Logger
}

// NewReconciliationMonitor construye el monitor. publisher puede ser nil.
func NewReconciliationMonitor(bufferSize int, publisher EventPublisher, recorder Recorder, log zerolog.Logger) *ReconciliationMonitor {
	if bufferSize <= 0 {
		bufferSize = DefaultMonitorBuffer
	}
	if recorder == nil {
		recorder = NopRecorder()
	}
	return &ReconciliationMonitor{
		queue:     make(chan Observation, bufferSize),
		publisher: publisher,
		recorder:  recorder,
		log:       log.With().Str("component", "reconciliation_monitor").Logger(),
	}
}

// Observe encola la observación sin bloquear. Si la cola está llena se descarta y se registra.
func (m *ReconciliationMonitor) Observe(obs Observation) {
	select {
	case m.queue <- obs:
	default:
		m.recorder.MonitorDropped()
		m.log.Warn().
			Str("movement_id", obs.MovementID).
			Str("product_id", obs.ProductID).
			Msg("cola de conciliación llena, observación descartada")
	}
}

// Check verifica una observación y publica los eventos correspondientes.
// Devuelve el diagnóstico si hubo discrepancia.
func (m *ReconciliationMonitor) Check(ctx context.Context, obs Observation) *CorruptionDetected {
	expected, actual, ok := Reconcile(obs.Direction, obs.Quantity, obs.PreQuantity, obs.PostQuantity)

	if m.publisher != nil {
		err := m.publisher.PublishMovementCommitted(ctx, MovementCommitted{
			Type:              EventMovementCommitted,
			MovementID:        obs.MovementID,
			ProductID:         obs.ProductID,
			Direction:         string(obs.Direction),
			Quantity:          obs.Quantity,
			PreviousQuantity:  obs.PreQuantity,
			ResultingQuantity: obs.PostQuantity,
			ActorRef:          obs.ActorRef,
			Timestamp:         obs.At,
		})
		if err != nil {
			m.log.Warn().Err(err).Str("movement_id", obs.MovementID).Msg("publicar movimiento confirmado")
		}
	}
	if ok {
		return nil
	}

	ev := &CorruptionDetected{
		Type:          EventCorruptionDetected,
		MovementID:    obs.MovementID,
		ProductID:     obs.ProductID,
		Direction:     string(obs.Direction),
		Quantity:      obs.Quantity,
		PreQuantity:   obs.PreQuantity,
		PostQuantity:  obs.PostQuantity,
		ExpectedDelta: expected,
		ActualDelta:   actual,
		Timestamp:     time.Now(),
	}
	m.recorder.CorruptionDetected()
	m.log.Error().
		Str("movement_id", ev.MovementID).
		Str("product_id", ev.ProductID).
		Int64("expected_delta", expected).
		Int64("actual_delta", actual).
		Int64("pre_quantity", obs.PreQuantity).
		Int64("post_quantity", obs.PostQuantity).
		Msg("CorruptionDetected: la variación de stock no coincide con el movimiento")
	if m.publisher != nil {
		if err := m.publisher.PublishCorruptionDetected(ctx, *ev); err != nil {
			m.log.Warn().Err(err).Str("movement_id", ev.MovementID).Msg("publicar diagnóstico de conciliación")
		}
	}
	return ev
}

// Start procesa la cola hasta que ctx termine; al terminar vacía lo pendiente.
func (m *ReconciliationMonitor) Start(ctx context.Context) error {
	m.log.Info().Int("buffer", cap(m.queue)).Msg("monitor de conciliación iniciado")
	for {
		select {
		case <-ctx.Done():
			m.drain()
			m.log.Info().Msg("monitor de conciliación detenido")
			return nil
		case obs := <-m.queue:
			m.Check(ctx, obs)
		}
	}
}

func (m *ReconciliationMonitor) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case obs := <-m.queue:
			m.Check(ctx, obs)
		default:
			return
		}
	}
}
