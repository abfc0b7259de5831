package qwebchannel

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestParseDescriptor(t *testing.T) {
	var d Descriptor
	if err := json.Unmarshal([]byte(backendDescriptor), &d); err != nil {
		t.Fatalf("parse failed: %s", err)
	}

	assert.Equal(t, []MethodInfo{{"add", 6}, {"describe", 7}, {"setChild", 8}}, d.Methods)
	assert.Equal(t, []SignalInfo{{"destroyed", 0}, {"itemAdded", 5}}, d.Signals)
	assert.Equal(t, 5, len(d.Properties))

	title := d.Properties[1]
	assert.Equal(t, 1, title.Index)
	assert.Equal(t, "title", title.Name)
	assert.Equal(t, &SignalInfo{"titleChanged", 2}, title.Notify)
	assert.Equal(t, "hello", title.Value)

	// Still in wire form
	child := d.Properties[2].Value.(map[string]interface{})
	assert.Equal(t, "child1", child["id"])

	assert.Equal(t, true, d.Properties[3].Notify == nil)
	assert.Equal(t, Undefined, d.Properties[4].Value)
	assert.Equal(t, map[string]interface{}{"Red": float64(0), "Green": float64(1)}, d.Enums)
}

func TestParseDescriptorErrors(t *testing.T) {
	bad := []string{
		`[]`,
		`{"methods": [["noIndex"]]}`,
		`{"methods": [[1, 2]]}`,
		`{"signals": [["s", -1]]}`,
		`{"properties": [["zero", "p"]]}`,
		`{"properties": [[0, 1]]}`,
	}
	for _, b := range bad {
		var d Descriptor
		if err := json.Unmarshal([]byte(b), &d); err == nil {
			t.Errorf("descriptor %s parsed without error", b)
		}
	}

	// Missing sections are empty
	var d Descriptor
	assert.Equal(t, nil, json.Unmarshal([]byte(`{}`), &d))
	assert.Equal(t, 0, len(d.Methods))
}

func TestParseDescriptorNotify(t *testing.T) {
	var d Descriptor
	err := json.Unmarshal([]byte(`{"properties": [
		[0, "p", [1, 2], "old"],
		[1, "q", ["notify"], 1],
		[2, "r", [7, 3], 2],
		[3, "s", null, 3]
	]}`), &d)
	assert.Equal(t, nil, err)
	assert.Equal(t, 4, len(d.Properties))

	// Abbreviated "<name>Changed"
	assert.Equal(t, &SignalInfo{"pChanged", 2}, d.Properties[0].Notify)
	assert.Equal(t, "old", d.Properties[0].Value)

	// Unreadable notify entries keep the property
	assert.Equal(t, true, d.Properties[1].Notify == nil)
	assert.Equal(t, float64(1), d.Properties[1].Value)
	assert.Equal(t, true, d.Properties[2].Notify == nil)
	assert.Equal(t, true, d.Properties[3].Notify == nil)
}

func TestIsDestroyedSignal(t *testing.T) {
	for _, name := range []string{"destroyed", "destroyed()", "destroyed(QObject*)"} {
		assert.Equal(t, true, isDestroyedSignal(name))
	}
	assert.Equal(t, false, isDestroyedSignal("destroyedLater"))
}
