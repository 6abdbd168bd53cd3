package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIRValueSealed(t *testing.T) {
	var _ IRValue = IRNull{}
	var _ IRValue = IRString("test")
	var _ IRValue = IRInt(42)
	var _ IRValue = IRFloat(1.5)
	var _ IRValue = IRBool(true)
	var _ IRValue = IRArray{IRString("a"), IRInt(1)}
	var _ IRValue = IRObject{"key": IRString("value")}
}

func TestIRObjectSortedKeys(t *testing.T) {
	obj := IRObject{"a": IRInt(1), "A": IRInt(2), "aa": IRInt(3), "AA": IRInt(4), "Aa": IRInt(5)}
	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aa"}, obj.SortedKeys())
	assert.Empty(t, IRObject{}.SortedKeys())
}

func TestUnmarshalIRValueNumbers(t *testing.T) {
	tests := []struct {
		input    string
		expected IRValue
	}{
		{"1", IRInt(1)},
		{"-7", IRInt(-7)},
		{"9007199254740993", IRInt(9007199254740993)},
		{"1.5", IRFloat(1.5)},
		{"2.0", IRInt(2)},
		{"1e3", IRInt(1000)},
		{"1.25e-2", IRFloat(0.0125)},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := UnmarshalIRValue([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestUnmarshalIRValueNested(t *testing.T) {
	v, err := UnmarshalIRValue([]byte(`{"a":[1,"x",true,null,{"b":2.5}]}`))
	require.NoError(t, err)

	expected := IRObject{
		"a": IRArray{IRInt(1), IRString("x"), IRBool(true), IRNull{}, IRObject{"b": IRFloat(2.5)}},
	}
	assert.Equal(t, expected, v)
}

func TestUnmarshalIRValueRejectsTrailingData(t *testing.T) {
	_, err := UnmarshalIRValue([]byte(`{} {}`))
	require.Error(t, err)
}

func TestIRObjectJSONRoundTrip(t *testing.T) {
	body := IRObject{
		"title": IRString("<b>todo</b>"),
		"count": IRInt(3),
		"ratio": IRFloat(0.25),
		"tags":  IRArray{IRString("a"), IRString("b")},
		"owner": IRObject{"name": IRString("sam"), "admin": IRBool(false)},
		"none":  IRNull{},
	}

	data, err := json.Marshal(body)
	require.NoError(t, err)

	var decoded IRObject
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, body, decoded)
}

func TestIRObjectUnmarshalRejectsNonObject(t *testing.T) {
	var obj IRObject
	err := json.Unmarshal([]byte(`[1,2]`), &obj)
	require.Error(t, err)
}

func TestIRObjectClone(t *testing.T) {
	orig := IRObject{"nested": IRObject{"v": IRInt(1)}, "list": IRArray{IRInt(1)}}
	clone := orig.Clone()

	clone["nested"].(IRObject)["v"] = IRInt(2)
	clone["list"].(IRArray)[0] = IRInt(9)

	assert.Equal(t, IRInt(1), orig["nested"].(IRObject)["v"])
	assert.Equal(t, IRInt(1), orig["list"].(IRArray)[0])
}

func TestToIRObjectFromYAMLStyleMap(t *testing.T) {
	obj, err := ToIRObject(map[string]any{
		"n":    1,
		"f":    2.5,
		"s":    "x",
		"list": []any{true, nil},
	})
	require.NoError(t, err)
	assert.Equal(t, IRObject{
		"n":    IRInt(1),
		"f":    IRFloat(2.5),
		"s":    IRString("x"),
		"list": IRArray{IRBool(true), IRNull{}},
	}, obj)
}

func TestNewIRObjectFromPairs(t *testing.T) {
	obj := NewIRObjectFromPairs(O("name", IRString("cart")), O("count", IRInt(5)))
	assert.Equal(t, IRObject{"name": IRString("cart"), "count": IRInt(5)}, obj)
}
