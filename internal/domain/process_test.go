package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDUnmarshalForms(t *testing.T) {
	var simple PID
	require.NoError(t, json.Unmarshal([]byte(`"p1"`), &simple))
	assert.Equal(t, "p1", simple.ID)
	assert.False(t, simple.Complex)

	var complexForm PID
	require.NoError(t, json.Unmarshal([]byte(`{"id":"p2"}`), &complexForm))
	assert.Equal(t, "p2", complexForm.ID)
	assert.True(t, complexForm.Complex)

	var bad PID
	assert.Error(t, json.Unmarshal([]byte(`{"id":""}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestPIDMarshalPreservesForm(t *testing.T) {
	simple, err := json.Marshal(PID{ID: "p1"})
	require.NoError(t, err)
	assert.JSONEq(t, `"p1"`, string(simple))

	structured, err := json.Marshal(PID{ID: "p2", Complex: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"p2"}`, string(structured))
}

func TestProcessIsOwner(t *testing.T) {
	p := Process{ID: "p1", Owners: []string{"alice", "bob"}}
	assert.True(t, p.IsOwner("alice"))
	assert.False(t, p.IsOwner("mallory"))
}
