package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversInOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(func(ev Event) { got = append(got, "a:"+ev.Name) })
	unsub := bus.Subscribe(func(ev Event) { got = append(got, "b:"+ev.Name) })

	bus.Publish(Event{Entity: IntentEntity, IntentType: "icmp_v1", Name: "pe1"})
	unsub()
	bus.Publish(Event{Entity: IntentEntity, IntentType: "icmp_v1", Name: "pe2"})

	assert.Equal(t, []string{"a:pe1", "b:pe1", "a:pe2"}, got)
}

func TestNilBusDrops(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() { bus.Publish(Event{}) })
}

func TestRecorderAndAlways(t *testing.T) {
	r := &Recorder{}
	r.Info("i")
	r.Warn("w")
	r.Error("e")
	infos, warns, errs := r.Snapshot()
	assert.Equal(t, []string{"i"}, infos)
	assert.Equal(t, []string{"w"}, warns)
	assert.Equal(t, []string{"e"}, errs)

	ok, err := Always(false).Confirm(context.Background(), "delete?")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, "intent", IntentEntity.String())
}
