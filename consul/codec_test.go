package consul

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetaEscapingRoundTrip(t *testing.T) {
	params := map[string]string{
		"version":         "1.0",
		"default.timeout": "3000",
		"a.b.c":           "x",
	}
	escaped := EscapeMeta(params)
	assert.Equal(t, map[string]string{
		"version":          "1.0",
		"default__timeout": "3000",
		"a__b__c":          "x",
	}, escaped)
	for k := range escaped {
		assert.NotContains(t, k, ".")
	}
	assert.Equal(t, params, UnescapeMeta(escaped))

	assert.Nil(t, EscapeMeta(nil))
	assert.NotNil(t, UnescapeMeta(nil))
}

func TestLossyMetaKey(t *testing.T) {
	tests := []struct {
		key   string
		lossy bool
		back  string
	}{
		{key: "default.timeout", lossy: false, back: "default.timeout"},
		{key: "version", lossy: false, back: "version"},
		{key: "a__b", lossy: true, back: "a.b"},
		{key: "x.y__z", lossy: true, back: "x.y.z"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.lossy, LossyMetaKey(tt.key))
			back := UnescapeMetaKey(EscapeMetaKey(tt.key))
			assert.Equal(t, tt.back, back)
			assert.Equal(t, tt.lossy, back != tt.key)
		})
	}
}

func TestBuildTags(t *testing.T) {
	provider := buildTags(&Registration{Protocol: "dubbo", Host: "10.0.0.1", Port: 20880, Path: "com.x.Foo"})
	assert.Equal(t, []string{"protocol=dubbo", "host=10.0.0.1", "path=com.x.Foo", TagProvider}, provider)

	consumer := buildTags(&Registration{Protocol: "consumer", Host: "10.0.0.2", Username: "u", Password: "p"})
	assert.Equal(t, []string{"protocol=consumer", "username=u", "password=p", "host=10.0.0.2", TagConsumer}, consumer)
}

func TestApplyTags(t *testing.T) {
	inst := &Instance{}
	applyTags(inst, []string{
		"protocol=dubbo", "username=u", "password=p=q", "host=10.0.0.1",
		"path=com.x.Foo", TagProvider, "unknown=1", "empty=",
	})
	assert.Equal(t, "dubbo", inst.Protocol)
	assert.Equal(t, "u", inst.Username)
	assert.Equal(t, "p=q", inst.Password)
	assert.Equal(t, "10.0.0.1", inst.Host)
	assert.Equal(t, "com.x.Foo", inst.Path)
}

func TestTTLCheckID(t *testing.T) {
	assert.Equal(t, "service:foo:0", TTLCheckID("foo:0"))
}
