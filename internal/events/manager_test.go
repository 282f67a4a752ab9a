package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_DeliversByType(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var got []*Event
	bus.Subscribe(CycleCompleted, func(e *Event) { got = append(got, e) })

	bus.Publish("cycle", &CycleCompletedData{CycleID: "c1", Trades: 3})
	bus.Publish("cycle", &CycleFailedData{CycleID: "c2"})

	require.Len(t, got, 1)
	assert.Equal(t, CycleCompleted, got[0].Type)
	assert.Equal(t, "cycle", got[0].Module)
	data, ok := got[0].Data.(*CycleCompletedData)
	require.True(t, ok)
	assert.Equal(t, "c1", data.CycleID)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var types []EventType
	bus.SubscribeAll(func(e *Event) { types = append(types, e.Type) })

	bus.Publish("cycle", &StrategyEvaluatedData{StrategyID: "a"})
	bus.Publish("cycle", &StrategyFailedData{StrategyID: "b"})

	assert.Equal(t, []EventType{StrategyEvaluated, StrategyFailed}, types)
}

func TestBus_RecoversFromHandlerPanic(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	delivered := false
	bus.Subscribe(PlanGenerated, func(*Event) { panic("boom") })
	bus.Subscribe(PlanGenerated, func(*Event) { delivered = true })

	assert.NotPanics(t, func() {
		bus.Publish("cycle", &PlanGeneratedData{CycleID: "c1"})
	})
	assert.True(t, delivered)
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(zerolog.Nop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(StrategyEvaluated, func(*Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish("cycle", &StrategyEvaluatedData{})
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, count)
}

func TestManager_EmitLogsEvent(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)
	manager := NewManager(NewBus(zerolog.Nop()), log)

	var received *Event
	manager.Bus().Subscribe(StrategiesExcluded, func(e *Event) { received = e })

	manager.Emit("cycle", &StrategiesExcludedData{CycleID: "c1", Policy: "skip", StrategyIDs: []string{"b"}, Renormalised: true})
	require.NotNil(t, received)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "STRATEGIES_EXCLUDED", entry["event_type"])
	assert.Equal(t, "cycle", entry["module"])
	assert.Equal(t, "events", entry["service"])

	event := entry["event"].(map[string]interface{})
	data := event["data"].(map[string]interface{})
	assert.Equal(t, "skip", data["policy"])
	assert.Equal(t, true, data["renormalised"])
}

func TestManager_EmitError(t *testing.T) {
	manager := NewManager(NewBus(zerolog.Nop()), zerolog.Nop())

	var received *Event
	manager.Bus().Subscribe(ErrorOccurred, func(e *Event) { received = e })
	manager.EmitError("archive", errors.New("upload failed"), map[string]interface{}{"cycle_id": "c1"})

	require.NotNil(t, received)
	data := received.Data.(*ErrorEventData)
	assert.Equal(t, "upload failed", data.Error)
	assert.Equal(t, "c1", data.Context["cycle_id"])
}
