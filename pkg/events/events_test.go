package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"waterwatch/pkg/geo"
	"waterwatch/pkg/ontology"
)

func TestEncodeDecode(t *testing.T) {
	valve := ontology.Valve{ValveID: "V1", Location: geo.GeoPoint{Lat: 17.0015, Lng: 78.0}}

	b, id, err := Encode(ValveUpdated{Valve: valve}, "api")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	env, e, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, id, env.ID)
	assert.Equal(t, TypeValveUpdated, env.Type)
	assert.Equal(t, "waterwatch.assets.valve.updated", env.Subject)
	assert.Equal(t, "api", env.Source)

	got, ok := e.(ValveUpdated)
	require.True(t, ok)
	assert.Equal(t, "V1", got.Valve.ValveID)
	assert.False(t, got.Valve.IsOpen)
}

func TestDecode_UnknownType(t *testing.T) {
	b, err := json.Marshal(Envelope{ID: "x", Type: "tank_exploded", Data: json.RawMessage(`{}`)})
	require.NoError(t, err)

	_, _, err = Decode(b)
	assert.ErrorIs(t, err, ErrUnknownType)
}

func TestDecode_Malformed(t *testing.T) {
	_, _, err := Decode([]byte(`{"type":`))
	assert.Error(t, err)

	_, _, err = Decode([]byte(`{"type":"tank_deleted","data":"nope"}`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownType)
}

func TestTriggersRecompute(t *testing.T) {
	tests := []struct {
		event Event
		want  bool
	}{
		{TankUpdated{}, true},
		{TankDeleted{TankID: "T"}, true},
		{ValveUpdated{}, true},
		{ValveDeleted{ValveID: "V"}, true},
		{PipelineUpdated{}, true},
		{PipelineDeleted{PipelineID: 4}, true},
		{TelemetryReceived{}, false},
		{FlowComputed{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.event.Type(), func(t *testing.T) {
			assert.Equal(t, tt.want, TriggersRecompute(tt.event))
		})
	}
}

func TestTelemetrySubjectUsesTank(t *testing.T) {
	e := TelemetryReceived{Reading: ontology.SensorReading{TankID: "north"}}
	assert.Equal(t, "waterwatch.readings.north", e.Subject())
}
